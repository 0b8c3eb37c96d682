package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TopicPaymentCompleted, "trace-1", map[string]any{"transferId": "t1"})
	require.NoError(t, err)

	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, TopicPaymentCompleted, env.EventType)
	assert.Equal(t, SchemaVersion, env.Version)
	assert.Equal(t, "trace-1", env.TraceID)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	got, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, env.TraceID, got.TraceID)
	assert.JSONEq(t, `{"transferId":"t1"}`, string(got.Data))
}

func TestParseEnvelopeRejectsGarbage(t *testing.T) {
	_, err := ParseEnvelope([]byte("{not json"))
	assert.Error(t, err)

	_, err = ParseEnvelope([]byte("{}"))
	assert.Error(t, err)
}

// fakeSource replays a fixed sequence of messages, then EOF.
type fakeSource struct {
	msgs      []kafka.Message
	committed []kafka.Message
}

func (f *fakeSource) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := f.msgs[0]
	f.msgs = f.msgs[1:]
	return msg, nil
}

func (f *fakeSource) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.committed = append(f.committed, msgs...)
	return nil
}

func (f *fakeSource) Close() error { return nil }

func wireMessage(t *testing.T, env *Envelope) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return kafka.Message{Topic: env.EventType, Key: []byte(env.TraceID), Value: raw}
}

func testConsumer(t *testing.T, source messageSource) *Consumer {
	t.Helper()
	c, err := newConsumer(source, ConsumerConfig{GroupID: "g", Topics: []string{"x"}, DedupSize: 16})
	require.NoError(t, err)
	return c
}

func TestConsumerDispatch(t *testing.T) {
	env, err := NewEnvelope(TopicPaymentCompleted, "trace-1", map[string]string{"transferId": "t1"})
	require.NoError(t, err)

	source := &fakeSource{msgs: []kafka.Message{wireMessage(t, env)}}
	c := testConsumer(t, source)

	var handled []*Envelope
	c.On(TopicPaymentCompleted, func(ctx context.Context, e *Envelope) error {
		handled = append(handled, e)
		return nil
	})

	require.NoError(t, c.Run(context.Background()))
	require.Len(t, handled, 1)
	assert.Equal(t, env.EventID, handled[0].EventID)
	assert.Len(t, source.committed, 1)
}

func TestConsumerDeduplicatesByEventID(t *testing.T) {
	env, err := NewEnvelope(TopicPaymentCompleted, "trace-1", nil)
	require.NoError(t, err)

	// Broker redelivery: the same message twice.
	source := &fakeSource{msgs: []kafka.Message{wireMessage(t, env), wireMessage(t, env)}}
	c := testConsumer(t, source)

	calls := 0
	c.On(TopicPaymentCompleted, func(ctx context.Context, e *Envelope) error {
		calls++
		return nil
	})

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, 1, calls, "duplicate must be skipped")
	assert.Len(t, source.committed, 2, "duplicate offset must still be committed")
}

func TestConsumerPoisonPillIsolation(t *testing.T) {
	poison, err := NewEnvelope(TopicPaymentFailed, "trace-1", nil)
	require.NoError(t, err)
	good, err := NewEnvelope(TopicPaymentFailed, "trace-2", nil)
	require.NoError(t, err)

	source := &fakeSource{msgs: []kafka.Message{wireMessage(t, poison), wireMessage(t, good)}}
	c := testConsumer(t, source)

	var handled []string
	c.On(TopicPaymentFailed, func(ctx context.Context, e *Envelope) error {
		handled = append(handled, e.TraceID)
		if e.TraceID == "trace-1" {
			return errors.New("handler exploded")
		}
		return nil
	})

	require.NoError(t, c.Run(context.Background()))
	assert.Equal(t, []string{"trace-1", "trace-2"}, handled, "failure must not stop the stream")
	assert.Len(t, source.committed, 2)
}

func TestConsumerSkipsUndecodable(t *testing.T) {
	source := &fakeSource{msgs: []kafka.Message{{Topic: "x", Value: []byte("garbage")}}}
	c := testConsumer(t, source)

	require.NoError(t, c.Run(context.Background()))
	assert.Len(t, source.committed, 1, "undecodable message is committed past")
}

func TestConsumerConfigValidation(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{Topics: []string{"x"}})
	assert.Error(t, err)

	_, err = NewConsumer(ConsumerConfig{GroupID: "g"})
	assert.Error(t, err)
}
