package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

const (
	defaultCleanupInterval   = 10 * time.Minute
	defaultCleanupBatchSize  = 500
	defaultCleanupMaxBatches = 20
)

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupWorker)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(w *CleanupWorker) { w.logger = logger }
}

// WithMetrics задаёт метрики воркера.
func WithMetrics(m *metrics.CleanupMetrics) CleanupOption {
	return func(w *CleanupWorker) { w.metrics = m }
}

// WithInterval задаёт паузу между циклами очистки.
func WithInterval(interval time.Duration) CleanupOption {
	return func(w *CleanupWorker) { w.interval = interval }
}

// WithBatchSize задаёт размер одной порции удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(w *CleanupWorker) { w.batchSize = batchSize }
}

// WithMaxBatches ограничивает число порций за один цикл; остаток дочищается следующим циклом.
func WithMaxBatches(n int) CleanupOption {
	return func(w *CleanupWorker) { w.maxBatches = n }
}

// SweepResult итог одного цикла очистки.
type SweepResult struct {
	Deleted int
	Batches int
	// Backlog: цикл упёрся в maxBatches, просроченные ключи ещё остались.
	Backlog bool
}

// CleanupWorker удаляет просроченные ключи идемпотентности checkout.
//
// Пока ключ не удалён, повтор checkout с ним возвращает сохранённый ответ.
// Удаление порциями не держит блокировку репозитория дольше одной порции,
// поэтому очистка не задерживает параллельные checkout.
type CleanupWorker struct {
	repo       domain.IdempotencyRepository
	logger     *log.Entry
	metrics    *metrics.CleanupMetrics
	interval   time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

// NewCleanupWorker создаёт воркер очистки ключей идемпотентности.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	w := &CleanupWorker{
		repo:       repo,
		interval:   defaultCleanupInterval,
		batchSize:  defaultCleanupBatchSize,
		maxBatches: defaultCleanupMaxBatches,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(w)
	}

	if w.logger == nil {
		w.logger = log.WithField("component", "idempotency-cleanup-worker")
	}
	if w.interval <= 0 {
		w.interval = defaultCleanupInterval
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultCleanupBatchSize
	}
	if w.maxBatches <= 0 {
		w.maxBatches = defaultCleanupMaxBatches
	}
	return w
}

// Run чистит ключи сразу и затем раз в interval до отмены ctx.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup worker is disabled: repo is nil")
		return
	}

	// таймер взводится после цикла, чтобы медленный цикл не накладывался на следующий
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			w.sweep(ctx)
			timer.Reset(w.interval)
		}
	}
}

func (w *CleanupWorker) sweep(ctx context.Context) {
	result, err := w.Sweep(ctx, w.now())
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if result.Deleted > 0 {
			w.logger.WithField("deleted", result.Deleted).Info("idempotency cleanup stopped on shutdown")
		}
		return
	case err != nil:
		w.metrics.RecordRun(err, result.Deleted)
		w.logger.WithError(err).WithField("deleted", result.Deleted).Warn("idempotency cleanup run failed")
		return
	}

	w.metrics.RecordRun(nil, result.Deleted)
	entry := w.logger.WithFields(log.Fields{"deleted": result.Deleted, "batches": result.Batches})
	switch {
	case result.Backlog:
		entry.Warn("idempotency cleanup hit batch limit, expired keys remain")
	case result.Deleted > 0:
		entry.Info("idempotency cleanup completed")
	}
}

// Sweep удаляет ключи с ttl <= before, не больше maxBatches порций.
// При ошибке или отмене ctx возвращает то, что успело удалиться.
func (w *CleanupWorker) Sweep(ctx context.Context, before time.Time) (SweepResult, error) {
	var result SweepResult
	if before.IsZero() {
		before = w.now()
	}

	for result.Batches < w.maxBatches {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		deleted, err := w.repo.DeleteExpired(before, w.batchSize)
		if err != nil {
			return result, err
		}
		result.Batches++
		result.Deleted += deleted
		w.metrics.AddDeleted(deleted)

		if deleted < w.batchSize {
			return result, nil
		}
	}

	result.Backlog = true
	return result, nil
}

// DeleteExpired дочищает все ключи с ttl <= before без ограничения по числу порций.
func (w *CleanupWorker) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	total := 0
	for {
		result, err := w.Sweep(ctx, before)
		total += result.Deleted
		if err != nil || !result.Backlog {
			return total, err
		}
	}
}
