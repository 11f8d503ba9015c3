package outbox

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultPollInterval   = 1 * time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) { w.logger = logger }
}

// WithMetrics задаёт метрики воркера.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithDLQPublisher задаёт publisher для событий, которые не удалось доставить.
func WithDLQPublisher(publisher domain.OutboxPublisher) Option {
	return func(w *Worker) { w.dlqPublisher = publisher }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) { w.pollInterval = interval }
}

// WithBatchSize задаёт размер пачки из outbox.
func WithBatchSize(batchSize int) Option {
	return func(w *Worker) { w.batchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток публикации до dead letter.
func WithMaxAttempts(maxAttempts int) Option {
	return func(w *Worker) { w.maxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт первую паузу между попытками; дальше она удваивается.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) { w.retryBaseDelay = delay }
}

// BatchReport итог одного прохода по outbox.
type BatchReport struct {
	Pulled       int
	Sent         int
	Deferred     int
	Interrupted  int
	DeadLettered int
}

// Pending сколько сообщений из пачки осталось ждать следующего прохода.
func (r BatchReport) Pending() int {
	return r.Pulled - r.Sent - r.DeadLettered
}

// Worker доставляет события магазина (order.created, discount.* и др.) из outbox в брокер.
//
// Сообщение покидает pending только в двух случаях: брокер подтвердил запись
// или все попытки исчерпаны и событие ушло в dead letter. Разомкнутый circuit
// breaker и остановка сервиса оставляют сообщение в outbox.
type Worker struct {
	repo           domain.OutboxRepository
	publisher      domain.OutboxPublisher
	dlqPublisher   domain.OutboxPublisher
	logger         *log.Entry
	metrics        *metrics.OutboxMetrics
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	retryBaseDelay time.Duration
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	w := &Worker{
		repo:           repo,
		publisher:      publisher,
		pollInterval:   defaultPollInterval,
		batchSize:      defaultBatchSize,
		maxAttempts:    defaultMaxAttempts,
		retryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "outbox-worker")
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.maxAttempts <= 0 {
		w.maxAttempts = defaultMaxAttempts
	}
	if w.retryBaseDelay < 0 {
		w.retryBaseDelay = 0
	}
	return w
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker is disabled: repo or publisher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce забирает пачку pending-сообщений и пытается их доставить.
// Пачка обрывается, как только брокер недоступен или ctx отменён.
func (w *Worker) ProcessOnce(ctx context.Context) BatchReport {
	var report BatchReport
	if w.repo == nil || w.publisher == nil || ctx.Err() != nil {
		return report
	}

	w.refreshBacklogMetrics()
	defer w.refreshBacklogMetrics()

	messages, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox messages")
		return report
	}
	report.Pulled = len(messages)

	for _, msg := range messages {
		outcome, err := w.deliver(ctx, msg)
		w.settle(msg, outcome, err, &report)
		if outcome.haltsBatch() {
			break
		}
	}

	w.logReport(report)
	return report
}

// settle фиксирует результат доставки в outbox и метриках.
func (w *Worker) settle(msg domain.OutboxMessage, outcome deliveryOutcome, err error, report *BatchReport) {
	entry := w.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
	})

	switch outcome {
	case outcomeSent:
		report.Sent++
		if markErr := w.repo.MarkSent(msg.ID); markErr != nil {
			entry.WithError(markErr).Warn("failed to mark outbox message as sent")
		}
	case outcomeDeferred:
		report.Deferred++
		w.metrics.RecordPublish(metrics.PublishDeferred)
		entry.Debug("outbox delivery deferred: circuit breaker is open")
	case outcomeInterrupted:
		report.Interrupted++
		w.metrics.RecordPublish(metrics.PublishInterrupted)
		entry.WithError(err).Info("outbox delivery interrupted, message stays pending")
	case outcomeRejected, outcomeExhausted:
		report.DeadLettered++
		if outcome == outcomeRejected {
			w.metrics.RecordPublish(metrics.PublishRejected)
		} else {
			w.metrics.RecordPublish(metrics.PublishFailed)
		}
		entry.WithError(err).Error("outbox message moved to dead letter")

		if dlqErr := w.publishDeadLetter(msg, err); dlqErr != nil {
			entry.WithError(dlqErr).Warn("failed to publish dead letter")
			w.metrics.RecordPublish(metrics.PublishDLQFailed)
		}
		if markErr := w.repo.MarkFailed(msg.ID); markErr != nil {
			entry.WithError(markErr).Warn("failed to mark outbox message as failed")
		}
	}
}

func (w *Worker) logReport(report BatchReport) {
	if report.Pulled == 0 {
		return
	}
	entry := w.logger.WithFields(log.Fields{
		"pulled":        report.Pulled,
		"sent":          report.Sent,
		"dead_lettered": report.DeadLettered,
		"pending":       report.Pending(),
	})
	if report.Pending() > 0 || report.DeadLettered > 0 {
		entry.Info("outbox batch processed partially")
		return
	}
	entry.Debug("outbox batch processed")
}

func (w *Worker) refreshBacklogMetrics() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		w.metrics.SetBacklog(stats.PendingCount, 0)
		return
	}
	w.metrics.SetBacklog(stats.PendingCount, time.Since(stats.OldestPendingAt))
}
