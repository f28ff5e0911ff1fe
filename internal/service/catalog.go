package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"OrderListService/internal/model"
	"OrderListService/pkg/cache"
)

// SKUStore: источник данных каталога (Postgres)
type SKUStore interface {
	FindByIDs(ctx context.Context, ids []string) ([]model.SKU, error)
	List(ctx context.Context, limit int) ([]model.SKU, error)
	Exists(ctx context.Context, id string) (bool, error)
}

// Cache определяет интерфейс кэша каталога (Redis)
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)
	Invalidate(ctx context.Context, keys ...string) error
}

// CatalogOptions: время жизни кэша и границы выдачи каталога
type CatalogOptions struct {
	TTL          time.Duration
	PreviewLimit int
	MaxLimit     int
}

// Catalog разрешает идентификаторы SKU в отображаемые атрибуты.
// Кэш только ускоряет чтение: его ошибки не ломают запрос, а отсутствие SKU не кэшируется
type Catalog struct {
	store SKUStore
	cache Cache
	opts  CatalogOptions
	log   logrus.FieldLogger
}

// NewCatalog создаёт каталог поверх хранилища и кэша
func NewCatalog(store SKUStore, c Cache, opts CatalogOptions, log logrus.FieldLogger) *Catalog {
	if opts.PreviewLimit <= 0 {
		opts.PreviewLimit = 20
	}
	if opts.MaxLimit < opts.PreviewLimit {
		opts.MaxLimit = opts.PreviewLimit
	}
	return &Catalog{store: store, cache: c, opts: opts, log: log}
}

func skuKey(id string) string {
	return "sku:" + id
}

// Lookup возвращает найденные SKU по id:
// 1. Отбрасывает пустые и повторяющиеся id
// 2. Читает все ключи из Redis одним MGET; ошибка кэша не ошибка, просто читаем из хранилища
// 3. Промахи и битые записи дочитывает из Postgres
// 4. Кэширует только найденные SKU, отсутствие не кэшируется
// Отсутствующие id в результат не попадают; ошибкой считается только недоступность хранилища
func (c *Catalog) Lookup(ctx context.Context, ids []string) (map[string]model.SKU, error) {
	result := make(map[string]model.SKU, len(ids))
	seen := make(map[string]struct{}, len(ids))
	keys := make([]string, 0, len(ids))
	unique := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
		keys = append(keys, skuKey(id))
	}
	if len(unique) == 0 {
		return result, nil
	}

	cached, err := c.cache.GetMany(ctx, keys)
	if err != nil {
		c.log.WithError(err).Warn("catalog cache read failed, falling back to store")
		cached = nil
	}
	misses := make([]string, 0, len(unique))
	for _, id := range unique {
		data, ok := cached[skuKey(id)]
		if !ok {
			misses = append(misses, id)
			continue
		}
		var sku model.SKU
		if err := json.Unmarshal(data, &sku); err != nil || sku.ID != id {
			// битая запись: перечитываем из хранилища
			misses = append(misses, id)
			continue
		}
		result[id] = sku
	}
	if len(misses) == 0 {
		return result, nil
	}

	skus, err := c.store.FindByIDs(ctx, misses)
	if err != nil {
		return nil, err
	}
	for _, sku := range skus {
		result[sku.ID] = sku
		c.remember(ctx, skuKey(sku.ID), sku)
	}
	return result, nil
}

// List возвращает первые limit позиций каталога; limit вне (0, MaxLimit] заменяется на PreviewLimit
func (c *Catalog) List(ctx context.Context, limit int) ([]model.SKU, error) {
	if limit <= 0 || limit > c.opts.MaxLimit {
		limit = c.opts.PreviewLimit
	}
	key := fmt.Sprintf("skus:list:%d", limit)
	if data, err := c.cache.Get(ctx, key); err == nil {
		var skus []model.SKU
		if json.Unmarshal(data, &skus) == nil {
			return skus, nil
		}
	} else if err != cache.ErrCacheMiss {
		c.log.WithError(err).Warn("catalog cache read failed, falling back to store")
	}
	skus, err := c.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	c.remember(ctx, key, skus)
	return skus, nil
}

// Exists проверяет наличие SKU напрямую в хранилище
func (c *Catalog) Exists(ctx context.Context, id string) (bool, error) {
	return c.store.Exists(ctx, id)
}

// Forget убирает SKU из кэша, например когда хранилище сообщило, что его больше нет
func (c *Catalog) Forget(ctx context.Context, id string) {
	if err := c.cache.Invalidate(ctx, skuKey(id)); err != nil {
		c.log.WithError(err).WithField("sku_id", id).Warn("catalog cache invalidation failed")
	}
}

func (c *Catalog) remember(ctx context.Context, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, key, data, c.opts.TTL); err != nil {
		c.log.WithError(err).WithField("key", key).Debug("catalog cache write failed")
	}
}
