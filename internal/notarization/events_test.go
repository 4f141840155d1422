package notarization

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainrelay/internal/platform/kafka"
)

// capturingProducer buffers records and completes them only when ack is
// called, like a client waiting on a broker.
type capturingProducer struct {
	msgs    []kafka.Message
	ctxs    []context.Context
	pending []func(error)
}

func (p *capturingProducer) ProduceAsync(ctx context.Context, msg kafka.Message, onDone func(error)) {
	p.msgs = append(p.msgs, msg)
	p.ctxs = append(p.ctxs, ctx)
	p.pending = append(p.pending, onDone)
}

func (p *capturingProducer) ack(err error) {
	for _, done := range p.pending {
		done(err)
	}
	p.pending = nil
}

func TestKafkaPublisher_KeysByMessage(t *testing.T) {
	producer := &capturingProducer{}
	pub := NewKafkaPublisher(producer, "chainrelay.notarization", discardLogger())

	err := pub.Publish(context.Background(), Event{
		Type:      EventConfirmed,
		MessageID: 42,
		Hash:      "0xabc123",
		TxRef:     "0xfeed",
		Attempt:   1,
	})
	require.NoError(t, err)
	require.Len(t, producer.msgs, 1)

	msg := producer.msgs[0]
	assert.Equal(t, "chainrelay.notarization", msg.Topic)
	assert.Equal(t, "42", string(msg.Key))
	assert.Equal(t, string(EventConfirmed), msg.Headers["event_type"])
	assert.NotEmpty(t, msg.Headers["event_id"])

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "0xfeed", decoded.TxRef)
	assert.Equal(t, msg.Headers["event_id"], decoded.ID)
}

func TestKafkaPublisher_ReturnsBeforeBrokerAck(t *testing.T) {
	producer := &capturingProducer{}
	pub := NewKafkaPublisher(producer, "chainrelay.notarization", discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pub.Publish(ctx, Event{Type: EventSubmitted, MessageID: 1}) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish waited for the broker")
	}
	cancel()

	require.Len(t, producer.ctxs, 1)
	assert.NoError(t, producer.ctxs[0].Err(), "delivery must survive the caller's context")
	producer.ack(nil)
}

func TestKafkaPublisher_LogsDeliveryFailure(t *testing.T) {
	var buf bytes.Buffer
	producer := &capturingProducer{}
	pub := NewKafkaPublisher(producer, "chainrelay.notarization", slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, pub.Publish(context.Background(), Event{Type: EventFailed, MessageID: 9}))
	assert.Empty(t, buf.String())

	producer.ack(errors.New("broker unreachable"))
	assert.Contains(t, buf.String(), "notarization event not delivered")
	assert.Contains(t, buf.String(), "broker unreachable")
	assert.Contains(t, buf.String(), "message_id=9")
}
