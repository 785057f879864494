package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMsg struct {
	subject string
	data    []byte
	acked   bool
	naked   bool
}

func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Ack() error      { m.acked = true; return nil }
func (m *fakeMsg) Nak() error      { m.naked = true; return nil }

func TestPumpDeliversInOrderAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches := [][]Message{
		{&fakeMsg{subject: "a"}, &fakeMsg{subject: "b"}},
		nil,
		{&fakeMsg{subject: "c"}},
	}
	errs := []error{nil, nats.ErrTimeout, nil}
	calls := 0
	fetch := func(context.Context) ([]Message, error) {
		if calls >= len(batches) {
			cancel()
			return nil, ctx.Err()
		}
		i := calls
		calls++
		return batches[i], errs[i]
	}

	var seen []string
	err := pump(ctx, fetch, func(_ context.Context, msg Message) bool {
		seen = append(seen, msg.Subject())
		require.NoError(t, msg.Ack())
		return true
	}, zap.NewNop())

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestPumpHandlesBatchBeforeError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := &fakeMsg{subject: "a"}
	first := true
	fetch := func(context.Context) ([]Message, error) {
		if first {
			first = false
			return []Message{msg}, errors.New("connection reset")
		}
		cancel()
		return nil, nil
	}

	err := pump(ctx, fetch, func(_ context.Context, m Message) bool { _ = m.Ack(); return true }, zap.NewNop())
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, msg.acked)
}

func TestPumpNaksRestOfBatchAfterRequeue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, b, c := &fakeMsg{subject: "a"}, &fakeMsg{subject: "b"}, &fakeMsg{subject: "c"}
	first := true
	fetch := func(context.Context) ([]Message, error) {
		if first {
			first = false
			return []Message{a, b, c}, nil
		}
		cancel()
		return nil, nil
	}

	var seen []string
	err := pump(ctx, fetch, func(_ context.Context, m Message) bool {
		seen = append(seen, m.Subject())
		if m.Subject() == "b" {
			_ = m.Nak()
			return false
		}
		_ = m.Ack()
		return true
	}, zap.NewNop())

	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"a", "b"}, seen)
	require.True(t, a.acked)
	require.True(t, b.naked)
	require.True(t, c.naked)
	require.False(t, c.acked)
}
