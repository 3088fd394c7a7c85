// Package config предоставляет загрузку конфигурации из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config содержит полную конфигурацию приложения.
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	MySQL     MySQLConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Webhook   WebhookConfig
	Scheduler SchedulerConfig
	Outbox    OutboxConfig
	Sync      SyncConfig
	Platform  PlatformConfig
	JWT       JWTConfig
	Jaeger    JaegerConfig
	Metrics   MetricsConfig
}

// AppConfig содержит общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"commerce-sync"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// HTTPConfig содержит настройки HTTP сервера.
type HTTPConfig struct {
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Addr возвращает адрес HTTP сервера.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// MySQLConfig содержит настройки подключения к MySQL.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"commerce_sync"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
}

// DSN возвращает строку подключения к MySQL.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig содержит настройки подключения к Redis.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig содержит настройки подключения к Kafka.
type KafkaConfig struct {
	Brokers     []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	EventsTopic string   `env:"KAFKA_EVENTS_TOPIC" envDefault:"commerce.events"`
}

// WebhookConfig содержит настройки приёма webhook от торговой платформы.
// При пустом Secret проверка подписи пропускается — режим для локальной
// разработки. В production профиле Secret обязателен и StrictSignature=true.
type WebhookConfig struct {
	Secret          string        `env:"WEBHOOK_SECRET" envDefault:""`
	StrictSignature bool          `env:"WEBHOOK_STRICT_SIGNATURE" envDefault:"false"`
	MaxRetries      int           `env:"WEBHOOK_MAX_RETRIES" envDefault:"5"`
	RetryBaseDelay  time.Duration `env:"WEBHOOK_RETRY_BASE_DELAY" envDefault:"1s"`
	RateLimit       int           `env:"WEBHOOK_RATE_LIMIT" envDefault:"300"`
	RateLimitWindow time.Duration `env:"WEBHOOK_RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// SchedulerConfig содержит настройки планировщика повторной обработки webhook.
type SchedulerConfig struct {
	Interval    time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"60s"`
	BatchSize   int           `env:"SCHEDULER_BATCH_SIZE" envDefault:"50"`
	Concurrency int           `env:"SCHEDULER_CONCURRENCY" envDefault:"10"`
}

// OutboxConfig содержит настройки диспетчера outbox.
type OutboxConfig struct {
	PollInterval     time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"1s"`
	BatchSize        int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	MaxAttempts      int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"5"`
	CleanupRetention time.Duration `env:"OUTBOX_CLEANUP_RETENTION" envDefault:"168h"` // 7 дней
}

// SyncConfig содержит настройки воркера синхронизации товаров.
type SyncConfig struct {
	Interval    time.Duration `env:"SYNC_INTERVAL" envDefault:"30s"`
	BatchSize   int           `env:"SYNC_BATCH_SIZE" envDefault:"50"`
	MaxAttempts int           `env:"SYNC_MAX_ATTEMPTS" envDefault:"3"`
}

// PlatformConfig содержит настройки исходящего REST клиента торговой платформы.
type PlatformConfig struct {
	BaseURL string        `env:"PLATFORM_BASE_URL" envDefault:"http://localhost:8090"`
	APIKey  string        `env:"PLATFORM_API_KEY" envDefault:""`
	Timeout time.Duration `env:"PLATFORM_TIMEOUT" envDefault:"10s"`
}

// JWTConfig содержит настройки проверки JWT токенов операторов (RS256).
// Сервис только валидирует токены, выдаёт их внешняя система авторизации.
type JWTConfig struct {
	PublicKeyPath string `env:"JWT_PUBLIC_KEY_PATH"`
	Issuer        string `env:"JWT_ISSUER" envDefault:"commerce-sync"`
}

// JaegerConfig содержит настройки трассировки Jaeger.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"false"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"` // OTLP gRPC порт
}

// OTLPEndpoint возвращает OTLP gRPC endpoint для Jaeger.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig содержит настройки Prometheus метрик.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"` // Включить metrics endpoint
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`    // Порт для /metrics
}

// Addr возвращает адрес для Metrics HTTP сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Load загружает конфигурацию из переменных окружения.
// Опционально загружает .env файл, если он существует.
func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файл не найден)
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	return cfg, nil
}

// LoadFromFile загружает конфигурацию из указанного .env файла.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("ошибка загрузки .env файла %s: %w", path, err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	return cfg, nil
}

// IsDevelopment возвращает true, если приложение запущено в development режиме.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true, если приложение запущено в production режиме.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
