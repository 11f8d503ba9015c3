package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/outbox"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
	"github.com/vladislavdragonenkov/storefront/internal/store"
)

type capturingPublisher struct {
	mu       sync.Mutex
	messages []domain.OutboxMessage
}

func (p *capturingPublisher) Publish(msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

type failingRepo struct {
	memory.OutboxRepository
}

func (*failingRepo) Enqueue(domain.OutboxMessage) (domain.OutboxMessage, error) {
	return domain.OutboxMessage{}, errors.New("disk full")
}

func TestToOutboxMessage(t *testing.T) {
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	msg, err := outbox.ToOutboxMessage(domain.Event{
		Type:          domain.EventDiscountIssued,
		AggregateType: domain.AggregateDiscount,
		AggregateID:   "DISCOUNT1",
		Data:          map[string]any{"code": "DISCOUNT1", "source": "auto"},
		OccurredAt:    at,
	})
	require.NoError(t, err)

	assert.Equal(t, "discount.issued", msg.EventType)
	assert.Equal(t, "discount", msg.AggregateType)
	assert.Equal(t, "DISCOUNT1", msg.AggregateID)

	var envelope outbox.Envelope
	require.NoError(t, json.Unmarshal(msg.Payload, &envelope))
	assert.Equal(t, "discount.issued", envelope.Type)
	assert.True(t, envelope.OccurredAt.Equal(at))
	assert.Equal(t, "auto", envelope.Data["source"])
}

func TestToOutboxMessage_UnsupportedData(t *testing.T) {
	_, err := outbox.ToOutboxMessage(domain.Event{
		Type: domain.EventOrderCreated,
		Data: map[string]any{"bad": make(chan int)},
	})
	require.Error(t, err)
}

func TestRecorder_PropagatesEnqueueErrors(t *testing.T) {
	recorder := outbox.NewRecorder(&failingRepo{}, nil)

	err := recorder.Record([]domain.Event{{Type: domain.EventOrderCreated}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestStoreEventsFlowThroughOutbox(t *testing.T) {
	repo := memory.NewOutboxRepository()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	s := store.New(
		store.WithLogger(logger.WithField("component", "store")),
		store.WithEventSink(outbox.NewRecorder(repo, nil)),
	)
	item := domain.NewItem("Item", decimal.NewFromInt(100), "", "Misc")
	require.NoError(t, s.AddItem(item))
	require.NoError(t, s.AddToCart("user-1", item.ID, 1))
	s.CreateOrder("user-1", "WELCOME")

	publisher := &capturingPublisher{}
	worker := outbox.NewWorker(repo, publisher, outbox.WithRetryBaseDelay(0))
	worker.ProcessOnce(context.Background())

	require.Len(t, publisher.messages, 3)
	assert.Equal(t, "cart.item_added", publisher.messages[0].EventType)
	assert.Equal(t, "discount.rejected", publisher.messages[1].EventType)
	assert.Equal(t, "order.created", publisher.messages[2].EventType)

	stats, err := repo.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.PendingCount)
}

func TestLogPublisher(t *testing.T) {
	logger, hook := test.NewNullLogger()
	publisher := outbox.NewLogPublisher(logger.WithField("component", "test"))

	require.NoError(t, publisher.Publish(domain.OutboxMessage{
		ID:        "msg-1",
		EventType: "order.created",
		Payload:   []byte(`{"type":"order.created"}`),
	}))

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, "store event published", entry.Message)
	assert.Equal(t, "order.created", entry.Data["event_type"])
}
