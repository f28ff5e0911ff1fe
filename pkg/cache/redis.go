// Пакет cache предоставляет обёртку над Redis для кэширования справочных данных
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrCacheMiss возвращается, когда ключа нет в Redis
var ErrCacheMiss = errors.New("cache miss")

// RedisClient: обёртка над *redis.Client с методами, нужными каталогу
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient создаёт RedisClient с заданными опциями подключения
func NewRedisClient(opts *redis.Options) *RedisClient {
	return &RedisClient{client: redis.NewClient(opts)}
}

// Set сохраняет значение под ключом key на время expiration
func (r *RedisClient) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

// Get возвращает значение по ключу или ErrCacheMiss, если ключа нет
func (r *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// GetMany читает несколько ключей одним MGET.
// Результат содержит только найденные ключи; отсутствующие просто не попадают в map
func (r *RedisClient) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	found := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return found, nil
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		// MGET отдаёт nil для отсутствующего ключа
		s, ok := v.(string)
		if !ok {
			continue
		}
		found[keys[i]] = []byte(s)
	}
	return found, nil
}

// Invalidate удаляет ключи из кэша
func (r *RedisClient) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// Ping проверяет доступность Redis, используется в /readyz
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает подключение
func (r *RedisClient) Close() error {
	return r.client.Close()
}
