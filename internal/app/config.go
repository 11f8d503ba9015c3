package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/storefront/internal/store"
)

// Драйверы хранилища outbox и ключей идемпотентности.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	// DiscountInterval: каждый n-й заказ выдаёт новый код скидки.
	DiscountInterval int
	SeedCatalog      bool
	// CORSAllowOrigins: список origin через запятую; пусто означает «все».
	CORSAllowOrigins string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// KafkaBrokers: адреса брокеров через запятую; пусто отключает Kafka.
	KafkaBrokers  string
	KafkaClientID string
	KafkaTopic    string
	KafkaDLQTopic string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending: порог backlog, после которого health отдаёт degraded.
	OutboxMaxPending int
	// Circuit breaker перед Kafka: число неудач подряд и пауза до пробной публикации.
	OutboxBreakerFailures int
	OutboxBreakerReset    time.Duration

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
	RequireIdempotencyKey       bool
}

// DefaultConfig возвращает базовые настройки: REST на :2000, gRPC на :50051, метрики на :9090.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":2000",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		DiscountInterval: store.DefaultDiscountInterval,
		SeedCatalog:      true,

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		KafkaClientID: "storefront",
		KafkaTopic:    kafka.TopicStoreEvents,
		KafkaDLQTopic: kafka.TopicDeadLetterQueue,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,
		OutboxMaxPending:   1000,

		OutboxBreakerFailures: 5,
		OutboxBreakerReset:    30 * time.Second,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres storage driver requires dsn")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	if c.DiscountInterval <= 0 {
		return fmt.Errorf("discount interval must be positive, got %d", c.DiscountInterval)
	}
	if c.HTTPAddr == "" && c.GRPCAddr == "" {
		return fmt.Errorf("at least one of http or grpc address must be set")
	}
	return nil
}

// KafkaBrokerList разбирает список брокеров.
func (c Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

// CORSOrigins разбирает список разрешённых origin.
func (c Config) CORSOrigins() []string {
	return splitList(c.CORSAllowOrigins)
}

func splitList(value string) []string {
	var result []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
