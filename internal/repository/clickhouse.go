package repository

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"

	"OrderListService/internal/model"
)

// ClickhouseRepo реализует пакетную запись истории изменений списка в ClickHouse
type ClickhouseRepo struct {
	db  *sql.DB
	log logrus.FieldLogger
}

// NewClickhouseRepo создаёт новый репозиторий для ClickHouse
func NewClickhouseRepo(db *sql.DB, log logrus.FieldLogger) *ClickhouseRepo {
	return &ClickhouseRepo{db: db, log: log}
}

// BatchInsertEvents записывает пакет событий в таблицу order_list_events
func (r *ClickhouseRepo) BatchInsertEvents(ctx context.Context, events []model.OrderListEvent) error {
	// clickhouse-go собирает блок из всех Exec подготовленного запроса и отправляет его на Commit
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	r.log.WithField("count", len(events)).Debug("inserting order list events into ClickHouse")
	query := `INSERT INTO order_list_events (EventType, ItemId, SkuId, PartType, Quantity, Ordered, ActorId, EventTime) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer func() { _ = stmt.Close() }()
	for _, e := range events {
		_, err := stmt.ExecContext(ctx,
			string(e.Type), uint64(e.ItemID), e.SKUID, e.PartType,
			uint32(e.Quantity), boolToUInt8(e.Ordered), e.ActorID, e.EventTime,
		)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	r.log.WithField("count", len(events)).Info("order list events stored in ClickHouse")
	return nil
}

// boolToUInt8 конвертирует bool в UInt8 (0/1)
func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
