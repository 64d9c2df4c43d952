package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/foodoms/internal/messaging/kafka"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса. Все поля скалярные, значения сравнимы через ==.
type Config struct {
	GRPCAddr    string
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	CatalogFile         string

	KafkaBrokers         string
	KafkaOrderTopic      string
	KafkaNotifyTopic     string
	KafkaDeadLetterTopic string

	RedisURL         string
	TrackingCacheTTL time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	StatusPolicy         string
	DefaultPaymentMethod string
	OrderListLimit       int

	NotifyWorkers   int
	NotifyQueueSize int
	NotifyTimeout   time.Duration

	JWTSecret string

	TraceExporter    string
	TraceSampleRatio float64

	LogLevel string
}

// DefaultConfig возвращает настройки для локального запуска на памяти.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                    ":50051",
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		KafkaOrderTopic:             kafka.TopicOrderEvents,
		KafkaNotifyTopic:            kafka.TopicNotifications,
		KafkaDeadLetterTopic:        kafka.TopicDeadLetter,
		TrackingCacheTTL:            30 * time.Second,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            200 * time.Millisecond,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		StatusPolicy:                "permissive",
		DefaultPaymentMethod:        "UPI",
		OrderListLimit:              100,
		NotifyWorkers:               4,
		NotifyQueueSize:             256,
		NotifyTimeout:               5 * time.Second,
		TraceExporter:               "none",
		TraceSampleRatio:            1,
		LogLevel:                    "info",
	}
}

// LoadConfigFromEnv накладывает переменные OMS_* на DefaultConfig.
func LoadConfigFromEnv() (Config, error) {
	return loadConfig(os.LookupEnv)
}

type envLookup func(key string) (string, bool)

func loadConfig(lookup envLookup) (Config, error) {
	cfg := DefaultConfig()
	r := envReader{lookup: lookup}

	r.str("OMS_GRPC_ADDR", &cfg.GRPCAddr)
	r.str("OMS_HTTP_ADDR", &cfg.HTTPAddr)
	r.str("OMS_METRICS_ADDR", &cfg.MetricsAddr)

	r.str("OMS_STORAGE_DRIVER", &cfg.StorageDriver)
	r.str("OMS_POSTGRES_DSN", &cfg.PostgresDSN)
	r.boolean("OMS_POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	r.str("OMS_CATALOG_FILE", &cfg.CatalogFile)

	r.str("OMS_KAFKA_BROKERS", &cfg.KafkaBrokers)
	r.str("OMS_KAFKA_ORDER_TOPIC", &cfg.KafkaOrderTopic)
	r.str("OMS_KAFKA_NOTIFY_TOPIC", &cfg.KafkaNotifyTopic)
	r.str("OMS_KAFKA_DLQ_TOPIC", &cfg.KafkaDeadLetterTopic)

	r.str("OMS_REDIS_URL", &cfg.RedisURL)
	r.duration("OMS_TRACKING_CACHE_TTL", &cfg.TrackingCacheTTL)

	r.duration("OMS_OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	r.integer("OMS_OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	r.integer("OMS_OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	r.duration("OMS_OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)

	r.duration("OMS_IDEMPOTENCY_TTL", &cfg.IdempotencyTTL)
	r.duration("OMS_IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	r.integer("OMS_IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)

	r.str("OMS_STATUS_POLICY", &cfg.StatusPolicy)
	r.str("OMS_DEFAULT_PAYMENT_METHOD", &cfg.DefaultPaymentMethod)
	r.integer("OMS_ORDER_LIST_LIMIT", &cfg.OrderListLimit)

	r.integer("OMS_NOTIFY_WORKERS", &cfg.NotifyWorkers)
	r.integer("OMS_NOTIFY_QUEUE_SIZE", &cfg.NotifyQueueSize)
	r.duration("OMS_NOTIFY_TIMEOUT", &cfg.NotifyTimeout)

	r.str("OMS_JWT_SECRET", &cfg.JWTSecret)

	r.str("OMS_TRACE_EXPORTER", &cfg.TraceExporter)
	r.float("OMS_TRACE_SAMPLE_RATIO", &cfg.TraceSampleRatio)

	r.str("OMS_LOG_LEVEL", &cfg.LogLevel)

	if r.err != nil {
		return Config{}, r.err
	}
	return cfg, nil
}

// envReader читает переменные и запоминает первую ошибку разбора.
type envReader struct {
	lookup envLookup
	err    error
}

func (r *envReader) raw(key string) (string, bool) {
	if r.err != nil {
		return "", false
	}
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *envReader) fail(key, value string, err error) {
	r.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.raw(key); ok {
		*dst = v
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = parsed
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = parsed
}

func (r *envReader) float(key string, dst *float64) {
	v, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = parsed
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := r.raw(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = parsed
}

// kafkaBrokers разбивает список брокеров через запятую.
func (c Config) kafkaBrokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
