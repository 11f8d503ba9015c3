package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// ErrInvalidPayload сообщение в outbox содержит не-JSON payload и не может быть опубликовано.
var ErrInvalidPayload = errors.New("outbox payload is not valid json")

type deliveryOutcome int

const (
	outcomeSent deliveryOutcome = iota
	// брокер недоступен по мнению circuit breaker
	outcomeDeferred
	// ctx отменён, пока шли попытки
	outcomeInterrupted
	// payload испорчен, повторять бессмысленно
	outcomeRejected
	// попытки исчерпаны
	outcomeExhausted
)

// haltsBatch: после такого исхода остальные сообщения пачки ждут следующего прохода.
func (o deliveryOutcome) haltsBatch() bool {
	return o == outcomeDeferred || o == outcomeInterrupted
}

// deliver публикует одно сообщение с экспоненциальной паузой между попытками.
func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) (deliveryOutcome, error) {
	if len(msg.Payload) > 0 && !json.Valid(msg.Payload) {
		return outcomeRejected, ErrInvalidPayload
	}

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return outcomeInterrupted, err
		}

		err := w.publisher.Publish(msg)
		switch {
		case err == nil:
			w.metrics.RecordPublish(metrics.PublishSent)
			return outcomeSent, nil
		case errors.Is(err, ErrCircuitOpen):
			return outcomeDeferred, err
		}
		lastErr = err
		w.metrics.RecordPublish(metrics.PublishRetryError)

		if attempt == w.maxAttempts {
			break
		}
		if err := sleepCtx(ctx, w.retryBackoff(attempt)); err != nil {
			return outcomeInterrupted, fmt.Errorf("retry after %d attempts interrupted: %w", attempt, err)
		}
	}

	return outcomeExhausted, fmt.Errorf("publish failed after %d attempts: %w", w.maxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryBackoff пауза после attempt-й неудачи: base, 2*base, 4*base...
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if w.retryBaseDelay <= 0 {
		return 0
	}

	const maxDuration = time.Duration(1<<63 - 1)
	delay := w.retryBaseDelay
	for i := 1; i < attempt; i++ {
		if delay > maxDuration/2 {
			return maxDuration
		}
		delay *= 2
	}
	return delay
}

// deadLetter формат сообщения в DLQ topic; его же разбирает kafka.DecodeDeadLetter.
type deadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	PublishedAt   string          `json:"dlq_published_at"`
}

func (w *Worker) publishDeadLetter(msg domain.OutboxMessage, cause error) error {
	if w.dlqPublisher == nil {
		return nil
	}

	payload := json.RawMessage(msg.Payload)
	switch {
	case len(payload) == 0:
		payload = json.RawMessage("null")
	case !json.Valid(payload):
		// испорченный payload сохраняем строкой, чтобы его можно было разобрать вручную
		quoted, err := json.Marshal(string(msg.Payload))
		if err != nil {
			return fmt.Errorf("quote dead letter payload: %w", err)
		}
		payload = quoted
	}

	body, err := json.Marshal(deadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		PublishError:  cause.Error(),
		PublishedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	if err := w.dlqPublisher.Publish(domain.OutboxMessage{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       body,
	}); err != nil {
		return fmt.Errorf("publish to dlq: %w", err)
	}
	return nil
}
