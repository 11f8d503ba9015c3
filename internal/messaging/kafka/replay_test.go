package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deadLetterMessage(t *testing.T, id, aggregateID, eventType, payload string) []byte {
	t.Helper()

	letter, err := json.Marshal(DeadLetter{
		OutboxID:      id,
		AggregateType: "order",
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       json.RawMessage(payload),
		PublishError:  "broker unavailable",
	})
	require.NoError(t, err)

	wrapper, err := json.Marshal(StoreEvent{
		ID:            id,
		AggregateType: "order",
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       letter,
		PublishedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	return wrapper
}

func TestDecodeDeadLetter(t *testing.T) {
	value := deadLetterMessage(t, "evt-1", "order-1", "order.created", `{"total":90}`)

	event, err := DecodeDeadLetter(value)
	require.NoError(t, err)

	assert.Equal(t, "evt-1", event.ID)
	assert.Equal(t, "order", event.AggregateType)
	assert.Equal(t, "order-1", event.AggregateID)
	assert.Equal(t, "order.created", event.EventType)
	assert.JSONEq(t, `{"total":90}`, string(event.Payload))
}

func TestDecodeDeadLetter_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		value []byte
	}{
		{name: "not json", value: []byte("garbage")},
		{name: "payload is not a dead letter", value: []byte(`{"id":"1","payload":"text"}`)},
		{name: "empty original payload", value: []byte(`{"id":"1","payload":{"outbox_id":"1","payload":null}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeDeadLetter(tt.value)
			assert.ErrorIs(t, err, errMalformedDeadLetter)
		})
	}
}

func newMockDLQ(t *testing.T, values ...[]byte) *mocks.Consumer {
	t.Helper()

	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{TopicDeadLetterQueue: {0}})
	pc := consumer.ExpectConsumePartition(TopicDeadLetterQueue, 0, sarama.OffsetOldest)
	for _, value := range values {
		pc.YieldMessage(&sarama.ConsumerMessage{Value: value})
	}
	return consumer
}

func TestDLQReplayer_Execute(t *testing.T) {
	consumer := newMockDLQ(t,
		deadLetterMessage(t, "evt-1", "order-1", "order.created", `{"total":90}`),
		[]byte("garbage"),
		deadLetterMessage(t, "evt-2", "", "discount.generated", `{"code":"DISCOUNT1"}`),
	)

	syncProducer := mocks.NewSyncProducer(t, nil)
	syncProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, TopicStoreEvents, msg.Topic)
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "order-1", string(key))

		headers := map[string]string{}
		for _, h := range msg.Headers {
			headers[string(h.Key)] = string(h.Value)
		}
		assert.Equal(t, TopicDeadLetterQueue, headers[HeaderReplayedFrom])
		assert.Equal(t, "order.created", headers[HeaderEventType])
		return nil
	})
	syncProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		// без aggregate id ключом становится идентификатор события
		assert.Equal(t, "evt-2", string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var event StoreEvent
		require.NoError(t, json.Unmarshal(value, &event))
		assert.JSONEq(t, `{"code":"DISCOUNT1"}`, string(event.Payload))
		return nil
	})

	producer := NewProducerFromSync(syncProducer, log.WithField("component", "test"))
	replayer := NewDLQReplayer(consumer, producer, ReplayOptions{IdleTimeout: time.Second}, nil)

	stats, err := replayer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Processed: 3, Replayed: 2, Skipped: 1}, stats)
	require.NoError(t, syncProducer.Close())
}

func TestDLQReplayer_DryRunRespectsLimit(t *testing.T) {
	consumer := newMockDLQ(t,
		deadLetterMessage(t, "evt-1", "order-1", "order.created", `{}`),
		deadLetterMessage(t, "evt-2", "order-2", "order.created", `{}`),
		deadLetterMessage(t, "evt-3", "order-3", "order.created", `{}`),
	)

	replayer := NewDLQReplayer(consumer, nil, ReplayOptions{Limit: 2, IdleTimeout: time.Second}, nil)

	stats, err := replayer.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReplayStats{Processed: 2, Replayed: 2}, stats)
}

func TestDLQReplayer_UnknownTopic(t *testing.T) {
	consumer := mocks.NewConsumer(t, nil)
	consumer.SetTopicMetadata(map[string][]int32{TopicDeadLetterQueue: {0}})
	replayer := NewDLQReplayer(consumer, nil, ReplayOptions{SourceTopic: "missing"}, nil)

	_, err := replayer.Run(context.Background())
	assert.Error(t, err)
}

func TestDLQReplayer_RequiresConsumer(t *testing.T) {
	_, err := NewDLQReplayer(nil, nil, ReplayOptions{}, nil).Run(context.Background())
	assert.EqualError(t, err, "kafka consumer is required")
}
