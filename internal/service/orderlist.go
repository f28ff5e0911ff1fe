package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"OrderListService/internal/apperr"
	"OrderListService/internal/model"
)

// Repo определяет операции над таблицей списка заказов (Postgres).
// Каждый метод выполняет один оператор, предусловия проверяет хранилище
type Repo interface {
	CreateItem(ctx context.Context, in model.NewItem, actor model.Actor, at time.Time) (*model.OrderListItem, error)
	GetItem(ctx context.Context, id int64) (*model.OrderListItem, error)
	ListItems(ctx context.Context, sort model.SortOrder) ([]model.OrderListItem, error)
	SetOrdered(ctx context.Context, id int64, ordered bool, actor model.Actor, at time.Time) (*model.OrderListItem, error)
	RemoveItem(ctx context.Context, id int64) (*model.OrderListItem, error)
}

// SKUResolver: то, что Store нужно от каталога
type SKUResolver interface {
	Lookup(ctx context.Context, ids []string) (map[string]model.SKU, error)
	Forget(ctx context.Context, id string)
}

// EventPublisher публикует подтверждённые изменения списка (NATS)
type EventPublisher interface {
	Publish(ctx context.Context, ev model.OrderListEvent) error
}

// Store: фасад над хранилищем списка заказов без собственного состояния.
// Каждое чтение идёт в БД, возвращаются только подтверждённые хранилищем строки
type Store struct {
	repo    Repo
	catalog SKUResolver
	events  EventPublisher
	log     logrus.FieldLogger
	now     func() time.Time
}

// NewStore создаёт Store
func NewStore(repo Repo, catalog SKUResolver, events EventPublisher, log logrus.FieldLogger) *Store {
	return &Store{repo: repo, catalog: catalog, events: events, log: log, now: time.Now}
}

// ListItems возвращает весь список с заполненными отображаемыми полями
func (s *Store) ListItems(ctx context.Context, opts model.ListOptions) ([]model.OrderListItem, error) {
	switch opts.Sort {
	case model.SortInsertion, model.SortNeedsOrderingFirst:
	default:
		return nil, apperr.Validation("ListItems", "unknown sort order %q", opts.Sort)
	}
	items, err := s.repo.ListItems(ctx, opts.Sort)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.SKUID)
	}
	skus := s.resolve(ctx, ids)
	for i := range items {
		enrich(&items[i], skus)
	}
	return items, nil
}

// GetItem возвращает позицию по id
func (s *Store) GetItem(ctx context.Context, id int64) (*model.OrderListItem, error) {
	it, err := s.repo.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	s.enrichOne(ctx, it)
	return it, nil
}

// CreateItem добавляет позицию в статусе "нужно заказать" и возвращает её:
// 1. Обрезает пробелы и валидирует sku_id, part_type и quantity (если задано, больше нуля)
// 2. Вызывает репозиторий, который проверяет наличие SKU и вставляет строку одним оператором
// 3. При ошибке валидации забывает SKU в кэше каталога: он мог быть удалён, пока лежал в кэше
// 4. Заполняет отображаемые поля и публикует событие created
func (s *Store) CreateItem(ctx context.Context, in model.NewItem, actor model.Actor) (*model.OrderListItem, error) {
	const op = "CreateItem"
	in.SKUID = strings.TrimSpace(in.SKUID)
	in.PartType = strings.TrimSpace(in.PartType)
	if in.SKUID == "" {
		return nil, apperr.Validation(op, "sku id is required")
	}
	if in.PartType == "" {
		return nil, apperr.Validation(op, "part type is required")
	}
	if in.Quantity != nil && *in.Quantity <= 0 {
		return nil, apperr.Validation(op, "quantity must be a positive integer, got %d", *in.Quantity)
	}
	it, err := s.repo.CreateItem(ctx, in, actor, s.now().UTC())
	if err != nil {
		if errors.Is(err, apperr.ErrValidation) {
			// SKU мог быть удалён из каталога, пока оставался в кэше
			s.catalog.Forget(ctx, in.SKUID)
		}
		return nil, err
	}
	s.enrichOne(ctx, it)
	s.publish(ctx, model.EventCreated, *it, actor)
	return it, nil
}

// SetOrdered переводит позицию в ordered или обратно
func (s *Store) SetOrdered(ctx context.Context, id int64, ordered bool, actor model.Actor) (*model.OrderListItem, error) {
	it, err := s.repo.SetOrdered(ctx, id, ordered, actor, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.enrichOne(ctx, it)
	ev := model.EventUnordered
	if ordered {
		ev = model.EventOrdered
	}
	s.publish(ctx, ev, *it, actor)
	return it, nil
}

// RemoveItem безвозвратно удаляет позицию; повторное удаление: NotFound
func (s *Store) RemoveItem(ctx context.Context, id int64, actor model.Actor) error {
	it, err := s.repo.RemoveItem(ctx, id)
	if err != nil {
		return err
	}
	s.publish(ctx, model.EventRemoved, *it, actor)
	return nil
}

// resolve не считает недоступность каталога ошибкой чтения списка:
// позиции показываются с запасной подписью "SKU <id>"
func (s *Store) resolve(ctx context.Context, ids []string) map[string]model.SKU {
	skus, err := s.catalog.Lookup(ctx, ids)
	if err != nil {
		s.log.WithError(err).Warn("sku lookup failed, showing fallback labels")
		return nil
	}
	return skus
}

func (s *Store) enrichOne(ctx context.Context, it *model.OrderListItem) {
	enrich(it, s.resolve(ctx, []string{it.SKUID}))
}

func enrich(it *model.OrderListItem, skus map[string]model.SKU) {
	if sku, ok := skus[it.SKUID]; ok {
		it.Enrich(&sku)
		return
	}
	it.Enrich(nil)
}

// publish не влияет на результат мутации: она уже подтверждена хранилищем
func (s *Store) publish(ctx context.Context, t model.EventType, it model.OrderListItem, actor model.Actor) {
	publishEvent(ctx, s.events, s.log, model.NewEvent(t, it, actor, s.now().UTC()))
}

func publishEvent(ctx context.Context, p EventPublisher, log logrus.FieldLogger, ev model.OrderListEvent) {
	if p == nil {
		return
	}
	// изменение уже зафиксировано: уход клиента не должен терять событие
	if err := p.Publish(context.WithoutCancel(ctx), ev); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"event":   ev.Type,
			"item_id": ev.ItemID,
		}).Warn("failed to publish order list event")
	}
}
