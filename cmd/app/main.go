package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"OrderListService/internal/config"
	"OrderListService/internal/identity"
	"OrderListService/internal/repository"
	"OrderListService/internal/service"
	externalHttp "OrderListService/internal/transport/http"
	"OrderListService/pkg/cache"
	"OrderListService/pkg/events"
	"OrderListService/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("failed to configure logger: %v", err)
	}

	// подключаем Postgres
	db, err := sql.Open("postgres", cfg.DB.DSN())
	if err != nil {
		log.Fatalf("failed to connect to Postgres: %v", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.Ping(); err != nil {
		log.Fatalf("failed to ping Postgres: %v", err)
	}
	if err := migratePostgres(db); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}

	// Redis используется только как кэш каталога
	cacheClient := cache.NewRedisClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := cacheClient.Close(); err != nil {
			log.WithError(err).Warn("failed to close Redis client")
		}
	}()

	nc, err := nats.Connect(cfg.NATSURL, nats.Name("order-list-app"))
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}
	publisher := events.NewPublisher(nc, cfg.NATSSubject)

	catalog := service.NewCatalog(repository.NewSKURepository(db), cacheClient, service.CatalogOptions{
		TTL:          cfg.CatalogCacheTTL,
		PreviewLimit: cfg.CatalogPreviewLimit,
		MaxLimit:     cfg.CatalogMaxLimit,
	}, log.WithField("component", "catalog"))
	store := service.NewStore(repository.NewOrderListRepository(db), catalog, publisher, log.WithField("component", "store"))
	controller := service.NewController(store, repository.NewStockRepository(db), publisher, log.WithField("component", "lifecycle"))

	h := externalHttp.NewHandler(store, controller, catalog, log)
	h.AddReadinessCheck("postgres", db.PingContext)
	h.AddReadinessCheck("redis", cacheClient.Ping)
	h.AddReadinessCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New(nc.Status().String())
		}
		return nil
	})

	r := mux.NewRouter()
	r.Use(externalHttp.RequestIDMiddleware)
	r.Use(externalHttp.LoggingMiddleware(log))
	auth := externalHttp.AuthMiddleware(identity.NewProvider(cfg.JWTSecret, cfg.JWTIssuer))
	h.RegisterRoutes(r, auth, externalHttp.NewActorLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))

	// фоновое доведение поступлений, после которых позицию не удалось убрать из списка
	bgCtx, stopBackground := context.WithCancel(context.Background())
	reconcilerDone := make(chan struct{})
	go func() {
		defer close(reconcilerDone)
		controller.RunReconciler(bgCtx, cfg.ReconcileInterval)
	}()

	srvHttp := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infof("starting server at %s", cfg.HTTPAddr)
		if err := srvHttp.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srvHttp.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
	stopBackground()
	<-reconcilerDone

	// дренируем NATS, чтобы не потерять уже отправленные события
	if err := nc.Drain(); err != nil {
		log.WithError(err).Warn("failed to drain NATS connection")
	}
	log.Info("server exited properly")
}

func migratePostgres(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://migrations/postgres", "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
