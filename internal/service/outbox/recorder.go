package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Envelope: формат payload события магазина в outbox и брокере.
type Envelope struct {
	Type       string         `json:"type"`
	Aggregate  string         `json:"aggregate"`
	ID         string         `json:"aggregate_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Recorder сохраняет доменные события магазина в outbox.
type Recorder struct {
	repo    domain.OutboxRepository
	metrics *metrics.OutboxMetrics
}

// NewRecorder создаёт Recorder поверх outbox-репозитория.
func NewRecorder(repo domain.OutboxRepository, m *metrics.OutboxMetrics) *Recorder {
	return &Recorder{repo: repo, metrics: m}
}

// Record кладёт события в outbox в исходном порядке.
// Ошибка одного события не мешает сохранить остальные.
func (r *Recorder) Record(events []domain.Event) error {
	var errs []error
	for _, event := range events {
		msg, err := ToOutboxMessage(event)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := r.repo.Enqueue(msg); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s: %w", event.Type, err))
			continue
		}
		r.metrics.RecordEnqueued(string(event.Type))
	}
	return errors.Join(errs...)
}

// ToOutboxMessage сериализует событие в сообщение outbox.
func ToOutboxMessage(event domain.Event) (domain.OutboxMessage, error) {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(Envelope{
		Type:       string(event.Type),
		Aggregate:  event.AggregateType,
		ID:         event.AggregateID,
		OccurredAt: occurredAt.UTC(),
		Data:       event.Data,
	})
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	return domain.OutboxMessage{
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     string(event.Type),
		Payload:       payload,
	}, nil
}

var _ domain.EventSink = (*Recorder)(nil)
