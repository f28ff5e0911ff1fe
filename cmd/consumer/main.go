package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/ClickHouse/clickhouse-go"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/clickhouse"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"OrderListService/internal/config"
	"OrderListService/internal/consumer"
	"OrderListService/internal/repository"
	"OrderListService/pkg/logging"
)

func main() {
	cfg, err := config.LoadConsumer()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("failed to configure logger: %v", err)
	}

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("order-list-consumer"))
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	defer nc.Close()

	db, err := sql.Open("clickhouse", cfg.ClickHouseDSN)
	if err != nil {
		log.Fatalf("failed to connect to ClickHouse: %v", err)
	}
	defer func() { _ = db.Close() }()
	if err := migrateClickhouse(db); err != nil {
		log.Fatalf("failed to apply ClickHouse migrations: %v", err)
	}

	repo := repository.NewClickhouseRepo(db, log.WithField("component", "clickhouse"))
	cons := consumer.NewConsumer(repo, cfg.BatchSize, log.WithField("component", "consumer"))

	// неполные пачки сбрасываются по таймеру
	flushCtx, stopFlusher := context.WithCancel(context.Background())
	flusherDone := make(chan struct{})
	go func() {
		defer close(flusherDone)
		cons.RunFlusher(flushCtx, cfg.FlushInterval)
	}()

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]interface{}{"status": "ok"})
	}).Methods("GET")
	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if !nc.IsConnected() {
			writeStatus(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not ready", "failed": []string{"nats"}})
			return
		}
		if err := db.PingContext(ctx); err != nil {
			writeStatus(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not ready", "failed": []string{"clickhouse"}})
			return
		}
		writeStatus(w, http.StatusOK, map[string]interface{}{"status": "ready", "pending": cons.Pending()})
	}).Methods("GET")
	healthSrv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infof("starting health server on :%s", cfg.Port)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("health server failed: %v", err)
		}
	}()

	sub, err := nc.Subscribe(cfg.NATSSubject, func(msg *nats.Msg) {
		if err := cons.HandleMessage(context.Background(), msg); err != nil {
			log.WithError(err).WithField("subject", msg.Subject).Error("failed to handle message")
		}
	})
	if err != nil {
		log.Fatalf("failed to subscribe to subject %s: %v", cfg.NATSSubject, err)
	}
	log.WithField("subject", cfg.NATSSubject).Info("consumer subscribed")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info("shutting down consumer...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := healthSrv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("health server shutdown failed")
	}
	if err := sub.Unsubscribe(); err != nil {
		log.WithError(err).Warn("failed to unsubscribe")
	}
	stopFlusher()
	<-flusherDone
	// остаток буфера пишем последней пачкой
	if err := cons.Flush(ctx); err != nil {
		log.WithError(err).WithField("pending", cons.Pending()).Error("failed to flush consumer events")
	}
}

func writeStatus(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func migrateClickhouse(db *sql.DB) error {
	driver, err := clickhouse.WithInstance(db, &clickhouse.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://migrations/clickhouse", "clickhouse", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
