package kafka

import (
	"encoding/json"
	"time"
)

// Topics для событий магазина.
const (
	TopicStoreEvents     = "storefront.events"
	TopicDeadLetterQueue = "storefront.dlq"
)

// Kafka headers, которыми сопровождается каждое событие.
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateType = "x-aggregate-type"
	HeaderOutboxID      = "x-outbox-id"
)

// StoreEvent: сообщение о событии магазина в Kafka.
type StoreEvent struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}
