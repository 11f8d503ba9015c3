package outbox

import (
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// ErrCircuitOpen возвращается, пока брокер считается недоступным.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState: состояние breaker'а.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerPublisher размыкает цепь после maxFailures подряд неудачных публикаций.
// В разомкнутом состоянии Publish сразу возвращает ErrCircuitOpen, и worker оставляет
// сообщения в pending до следующего цикла. После resetTimeout пропускается одна пробная публикация.
type BreakerPublisher struct {
	next         domain.OutboxPublisher
	maxFailures  int
	resetTimeout time.Duration
	logger       *log.Entry
	now          func() time.Time

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
}

// NewBreakerPublisher оборачивает publisher. maxFailures <= 0 означает 1.
func NewBreakerPublisher(next domain.OutboxPublisher, maxFailures int, resetTimeout time.Duration, logger *log.Entry) *BreakerPublisher {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	if logger == nil {
		logger = log.WithField("component", "outbox-breaker")
	}
	return &BreakerPublisher{
		next:         next,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		logger:       logger,
		now:          time.Now,
		state:        CircuitClosed,
	}
}

// State возвращает текущее состояние.
func (b *BreakerPublisher) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Publish передаёт сообщение дальше, если цепь не разомкнута.
func (b *BreakerPublisher) Publish(event domain.OutboxMessage) error {
	if err := b.allow(); err != nil {
		return err
	}

	err := b.next.Publish(event)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.lastFailure = b.now()
		if b.state == CircuitHalfOpen || b.failures >= b.maxFailures {
			if b.state != CircuitOpen {
				b.logger.WithError(err).WithField("failures", b.failures).Warn("outbox circuit breaker opened")
			}
			b.state = CircuitOpen
		}
		return err
	}

	if b.state == CircuitHalfOpen {
		b.logger.Info("outbox circuit breaker closed")
	}
	b.state = CircuitClosed
	b.failures = 0
	return nil
}

func (b *BreakerPublisher) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.now().Sub(b.lastFailure) <= b.resetTimeout {
			return ErrCircuitOpen
		}
		b.state = CircuitHalfOpen
		b.logger.Info("outbox circuit breaker half-open")
		return nil
	case CircuitHalfOpen:
		// пробная публикация уже идёт
		return ErrCircuitOpen
	default:
		return nil
	}
}

var _ domain.OutboxPublisher = (*BreakerPublisher)(nil)
