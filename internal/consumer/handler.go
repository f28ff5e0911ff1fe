package consumer

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"OrderListService/internal/model"
	"OrderListService/pkg/events"
)

// Repo: пакетная запись истории изменений списка (ClickHouse)
type Repo interface {
	BatchInsertEvents(ctx context.Context, events []model.OrderListEvent) error
}

// Consumer копит события из NATS и пишет их в ClickHouse пачками по batchSize.
// Пачка, которую не удалось записать, возвращается в буфер и уходит со следующей попыткой;
// буфер ограничен maxBuffered, самые старые события сверх лимита отбрасываются
type Consumer struct {
	repo        Repo
	batchSize   int
	maxBuffered int
	log         logrus.FieldLogger

	mu     sync.Mutex
	events []model.OrderListEvent
}

// NewConsumer создаёт Consumer с указанным репозиторием и размером пакета
func NewConsumer(repo Repo, batchSize int, log logrus.FieldLogger) *Consumer {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &Consumer{
		repo:        repo,
		batchSize:   batchSize,
		maxBuffered: batchSize * 100,
		log:         log,
		events:      make([]model.OrderListEvent, 0, batchSize),
	}
}

// HandleMessage разбирает сообщение и при заполнении пачки отправляет её в ClickHouse
func (c *Consumer) HandleMessage(ctx context.Context, msg *nats.Msg) error {
	ev, err := events.Decode(msg)
	if err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{"event": ev.Type, "item_id": ev.ItemID}).Debug("order list event received")
	c.mu.Lock()
	c.events = append(c.events, ev)
	if len(c.events) < c.batchSize {
		c.mu.Unlock()
		return nil
	}
	batch := c.take()
	c.mu.Unlock()
	return c.write(ctx, batch)
}

// Flush отправляет всё накопленное
func (c *Consumer) Flush(ctx context.Context) error {
	c.mu.Lock()
	if len(c.events) == 0 {
		c.mu.Unlock()
		return nil
	}
	batch := c.take()
	c.mu.Unlock()
	return c.write(ctx, batch)
}

// Pending: число событий в буфере
func (c *Consumer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// RunFlusher периодически сбрасывает неполную пачку, чтобы редкие события не залёживались
func (c *Consumer) RunFlusher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				c.log.WithError(err).Warn("periodic flush failed")
			}
		}
	}
}

// take забирает буфер; вызывается под c.mu
func (c *Consumer) take() []model.OrderListEvent {
	batch := make([]model.OrderListEvent, len(c.events))
	copy(batch, c.events)
	c.events = c.events[:0]
	return batch
}

func (c *Consumer) write(ctx context.Context, batch []model.OrderListEvent) error {
	err := c.repo.BatchInsertEvents(ctx, batch)
	if err == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	restored := append(batch, c.events...)
	if dropped := len(restored) - c.maxBuffered; dropped > 0 {
		c.log.WithField("dropped", dropped).Error("event buffer overflow, dropping oldest events")
		restored = restored[dropped:]
	}
	c.events = restored
	return err
}
