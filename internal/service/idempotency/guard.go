package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// DefaultTTL: срок хранения ответа по ключу идемпотентности.
const DefaultTTL = 24 * time.Hour

var (
	// ErrInProgress: запрос с тем же ключом ещё обрабатывается.
	ErrInProgress = errors.New("request with the same idempotency key is already processing")
	// ErrCorruptRecord: сохранённая запись не может быть воспроизведена.
	ErrCorruptRecord = errors.New("idempotency record cannot be replayed")
)

// Outcome: результат обработки запроса, пригодный для повторной выдачи.
// Code содержит HTTP-статус для REST или код gRPC.
type Outcome struct {
	Body     []byte
	Code     int
	Failed   bool
	Replayed bool
}

// Guard гарантирует, что запрос с одним ключом выполняется не более одного раза.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
	now    func() time.Time
}

// NewGuard создаёт Guard поверх репозитория ключей.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{
		repo:   repo,
		ttl:    ttl,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Execute выполняет handler ровно один раз для пары key/requestHash.
// Повторный запрос получает сохранённый Outcome с Replayed=true.
func (g *Guard) Execute(key, requestHash string, handler func() Outcome) (Outcome, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Outcome{}, domain.ErrIdempotencyKeyRequired
	}

	record, err := g.repo.CreateProcessing(key, requestHash, g.now().Add(g.ttl))
	if err != nil {
		return g.replay(err, record)
	}

	outcome := handler()
	if outcome.Failed {
		err = g.repo.MarkFailed(key, outcome.Body, outcome.Code)
	} else {
		err = g.repo.MarkDone(key, outcome.Body, outcome.Code)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}

	return outcome, nil
}

func (g *Guard) replay(createErr error, record domain.IdempotencyRecord) (Outcome, error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		return Outcome{}, createErr
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if record.Status == domain.IdempotencyStatusProcessing {
			return Outcome{}, ErrInProgress
		}
		if !record.Status.Terminal() || len(record.ResponseBody) == 0 {
			g.logger.WithField("idempotency_key", record.Key).Warn("idempotency record has no stored response")
			return Outcome{}, ErrCorruptRecord
		}
		return Outcome{
			Body:     append([]byte(nil), record.ResponseBody...),
			Code:     record.HTTPStatus,
			Failed:   record.Status == domain.IdempotencyStatusFailed,
			Replayed: true,
		}, nil
	default:
		g.logger.WithError(createErr).Warn("failed to create idempotency record")
		return Outcome{}, fmt.Errorf("create idempotency record: %w", createErr)
	}
}

// HashRequest строит отпечаток запроса: sha256 от имени операции и тела.
func HashRequest(operation string, body []byte) string {
	payload := make([]byte, 0, len(operation)+1+len(body))
	payload = append(payload, operation...)
	payload = append(payload, ':')
	payload = append(payload, body...)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
