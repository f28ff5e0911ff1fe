// Пакет config читает настройки сервиса из переменных окружения (и .env, если он есть)
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config: настройки HTTP-сервиса списка заказов
type Config struct {
	HTTPAddr string

	DB DBConfig

	RedisAddr           string
	CatalogCacheTTL     time.Duration
	CatalogPreviewLimit int
	CatalogMaxLimit     int

	NATSURL     string
	NATSSubject string

	JWTSecret []byte
	JWTIssuer string

	ReconcileInterval time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	LogLevel  string
	LogFormat string
}

// DBConfig: параметры подключения к Postgres
type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN собирает строку подключения для lib/pq; спецсимволы в логине и пароле экранируются
func (c DBConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

// ConsumerConfig: настройки консьюмера событий
type ConsumerConfig struct {
	NATSURL       string
	NATSSubject   string
	ClickHouseDSN string
	BatchSize     int
	FlushInterval time.Duration
	Port          string
	LogLevel      string
	LogFormat     string
}

// loadDotEnv подхватывает .env из рабочего каталога; его отсутствие не ошибка
func loadDotEnv() error {
	err := godotenv.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load читает настройки HTTP-сервиса. Некорректные значения возвращаются ошибкой, а не заменяются умолчанием
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	p := &parser{}
	cfg := &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     getEnv("DB_NAME", "appdb"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		CatalogCacheTTL:     p.duration("CATALOG_CACHE_TTL", time.Minute),
		CatalogPreviewLimit: p.positiveInt("CATALOG_PREVIEW_LIMIT", 20),
		CatalogMaxLimit:     p.positiveInt("CATALOG_MAX_LIMIT", 500),
		NATSURL:             getEnv("NATS_URL", "nats://localhost:4222"),
		NATSSubject:         getEnv("NATS_SUBJECT", "orderlist.events"),
		JWTSecret:           []byte(os.Getenv("JWT_SECRET")),
		JWTIssuer:           os.Getenv("JWT_ISSUER"),
		ReconcileInterval:   p.duration("RECONCILE_INTERVAL", 5*time.Minute),
		RateLimitRPS:        p.positiveFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:      p.positiveInt("RATE_LIMIT_BURST", 10),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "text"),
	}
	if p.err != nil {
		return nil, p.err
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, errors.New("JWT_SECRET must be set")
	}
	if cfg.CatalogPreviewLimit > cfg.CatalogMaxLimit {
		return nil, fmt.Errorf("CATALOG_PREVIEW_LIMIT (%d) exceeds CATALOG_MAX_LIMIT (%d)", cfg.CatalogPreviewLimit, cfg.CatalogMaxLimit)
	}
	return cfg, nil
}

// LoadConsumer читает настройки консьюмера
func LoadConsumer() (*ConsumerConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	p := &parser{}
	cfg := &ConsumerConfig{
		NATSURL:       getEnv("NATS_URL", "nats://localhost:4222"),
		NATSSubject:   getEnv("NATS_SUBJECT", "orderlist.events"),
		ClickHouseDSN: os.Getenv("CLICKHOUSE_DSN"),
		BatchSize:     p.positiveInt("BATCH_SIZE", 10),
		FlushInterval: p.duration("FLUSH_INTERVAL", 5*time.Second),
		Port:          getEnv("CONSUMER_PORT", "8081"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
	}
	if p.err != nil {
		return nil, p.err
	}
	if cfg.ClickHouseDSN == "" {
		return nil, errors.New("CLICKHOUSE_DSN must be set")
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// parser запоминает первую ошибку разбора, чтобы Load проверял её один раз
type parser struct {
	err error
}

func (p *parser) fail(key, raw string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s=%q: %w", key, raw, err)
	}
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err == nil && d <= 0 {
		err = errors.New("must be positive")
	}
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return d
}

func (p *parser) positiveInt(key string, def int) int {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err == nil && n <= 0 {
		err = errors.New("must be positive")
	}
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return n
}

func (p *parser) positiveFloat(key string, def float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err == nil && f <= 0 {
		err = errors.New("must be positive")
	}
	if err != nil {
		p.fail(key, raw, err)
		return def
	}
	return f
}
