package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// HeaderReplayedFrom помечает событие, повторно опубликованное из DLQ.
const HeaderReplayedFrom = "x-replayed-from"

const (
	defaultReplayLimit       = 100
	defaultReplayIdleTimeout = 2 * time.Second
)

// DeadLetter: содержимое payload сообщения в DLQ: исходное событие и причина отказа.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishError  string          `json:"publish_error"`
	PublishedAt   string          `json:"dlq_published_at,omitempty"`
}

// ReplayOptions задаёт параметры переноса DLQ.
type ReplayOptions struct {
	SourceTopic string
	TargetTopic string
	// Limit: максимум сообщений за запуск по всем партициям.
	Limit       int
	IdleTimeout time.Duration
}

// ReplayStats: итог запуска.
type ReplayStats struct {
	Processed int
	Replayed  int
	Skipped   int
}

// DLQReplayer читает DLQ от начала до high-water mark и публикует исходные события в целевой topic.
// Без producer работает в режиме dry-run: кандидаты только логируются.
type DLQReplayer struct {
	consumer sarama.Consumer
	producer *Producer
	opts     ReplayOptions
	logger   *log.Entry
}

// NewDLQReplayer создаёт replayer. Пустые topic'и заменяются на TopicDeadLetterQueue и TopicStoreEvents.
func NewDLQReplayer(consumer sarama.Consumer, producer *Producer, opts ReplayOptions, logger *log.Entry) *DLQReplayer {
	if opts.SourceTopic == "" {
		opts.SourceTopic = TopicDeadLetterQueue
	}
	if opts.TargetTopic == "" {
		opts.TargetTopic = TopicStoreEvents
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultReplayLimit
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultReplayIdleTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "dlq-replayer")
	}
	return &DLQReplayer{consumer: consumer, producer: producer, opts: opts, logger: logger}
}

// Run проходит по всем партициям DLQ.
func (r *DLQReplayer) Run(ctx context.Context) (ReplayStats, error) {
	var total ReplayStats
	if r.consumer == nil {
		return total, errors.New("kafka consumer is required")
	}

	partitions, err := r.consumer.Partitions(r.opts.SourceTopic)
	if err != nil {
		return total, fmt.Errorf("get partitions for topic %s: %w", r.opts.SourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		remaining := r.opts.Limit - total.Processed
		if remaining <= 0 {
			break
		}
		stats, err := r.replayPartition(ctx, partition, remaining)
		total.Processed += stats.Processed
		total.Replayed += stats.Replayed
		total.Skipped += stats.Skipped
		if err != nil {
			return total, err
		}
	}

	r.logger.WithFields(log.Fields{
		"dry_run":   r.producer == nil,
		"processed": total.Processed,
		"replayed":  total.Replayed,
		"skipped":   total.Skipped,
	}).Info("dlq replay finished")
	return total, nil
}

func (r *DLQReplayer) replayPartition(ctx context.Context, partition int32, limit int) (ReplayStats, error) {
	var stats ReplayStats

	pc, err := r.consumer.ConsumePartition(r.opts.SourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return stats, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	// Сообщения, пришедшие после старта, в этот запуск не попадают.
	endOffset := pc.HighWaterMarkOffset()
	idle := time.NewTimer(r.opts.IdleTimeout)
	defer idle.Stop()

	for stats.Processed < limit {
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-idle.C:
			return stats, nil
		case consumerErr, ok := <-pc.Errors():
			if ok && consumerErr != nil {
				return stats, fmt.Errorf("partition %d consumer error: %w", partition, consumerErr)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return stats, nil
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(r.opts.IdleTimeout)

			stats.Processed++
			if err := r.replayMessage(msg); err != nil {
				if errors.Is(err, errMalformedDeadLetter) {
					stats.Skipped++
					r.logger.WithError(err).WithFields(log.Fields{
						"partition": msg.Partition,
						"offset":    msg.Offset,
					}).Warn("skip malformed dlq message")
				} else {
					return stats, err
				}
			} else {
				stats.Replayed++
			}

			if endOffset > 0 && msg.Offset+1 >= endOffset {
				return stats, nil
			}
		}
	}
	return stats, nil
}

func (r *DLQReplayer) replayMessage(msg *sarama.ConsumerMessage) error {
	event, err := DecodeDeadLetter(msg.Value)
	if err != nil {
		return err
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	if r.producer == nil {
		r.logger.WithFields(log.Fields{
			"partition":    msg.Partition,
			"offset":       msg.Offset,
			"event_type":   event.EventType,
			"target_topic": r.opts.TargetTopic,
			"key":          key,
		}).Info("dlq replay candidate")
		return nil
	}

	if err := r.producer.PublishEvent(r.opts.TargetTopic, key, event, map[string]string{
		HeaderEventType:     event.EventType,
		HeaderAggregateType: event.AggregateType,
		HeaderOutboxID:      event.ID,
		HeaderReplayedFrom:  r.opts.SourceTopic,
	}); err != nil {
		return fmt.Errorf("publish replay message: %w", err)
	}
	return nil
}

var errMalformedDeadLetter = errors.New("malformed dead letter")

// DecodeDeadLetter восстанавливает исходное событие из сообщения DLQ.
func DecodeDeadLetter(value []byte) (StoreEvent, error) {
	var wrapper StoreEvent
	if err := json.Unmarshal(value, &wrapper); err != nil {
		return StoreEvent{}, fmt.Errorf("%w: %v", errMalformedDeadLetter, err)
	}

	var letter DeadLetter
	if err := json.Unmarshal(wrapper.Payload, &letter); err != nil {
		return StoreEvent{}, fmt.Errorf("%w: decode payload: %v", errMalformedDeadLetter, err)
	}
	if len(letter.Payload) == 0 || string(letter.Payload) == "null" {
		return StoreEvent{}, fmt.Errorf("%w: original event payload is empty", errMalformedDeadLetter)
	}

	return StoreEvent{
		ID:            firstNonEmpty(letter.OutboxID, wrapper.ID),
		AggregateType: firstNonEmpty(letter.AggregateType, wrapper.AggregateType),
		AggregateID:   firstNonEmpty(letter.AggregateID, wrapper.AggregateID),
		EventType:     firstNonEmpty(letter.EventType, wrapper.EventType),
		Payload:       letter.Payload,
		PublishedAt:   time.Now().UTC(),
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
