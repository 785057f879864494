package normalizer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"flowpipe/internal/model"
	"flowpipe/internal/stream"
)

type fakeMsg struct {
	subject string
	data    []byte
	acks    int
	naks    int
}

func (m *fakeMsg) Subject() string { return m.subject }
func (m *fakeMsg) Data() []byte    { return m.data }
func (m *fakeMsg) Ack() error      { m.acks++; return nil }
func (m *fakeMsg) Nak() error      { m.naks++; return nil }

type sent struct {
	subject string
	msgID   string
	event   model.NormEvent
}

type memPublisher struct {
	sent []sent
	err  error
}

func (p *memPublisher) Publish(_ context.Context, subject string, data []byte, msgID string) error {
	if p.err != nil {
		return p.err
	}
	var ev model.NormEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	p.sent = append(p.sent, sent{subject: subject, msgID: msgID, event: ev})
	return nil
}

type sliceConsumer struct {
	msgs []stream.Message
	cfg  stream.ConsumerConfig
}

func (c *sliceConsumer) Consume(ctx context.Context, cfg stream.ConsumerConfig, handle stream.Handler) error {
	c.cfg = cfg
	for _, m := range c.msgs {
		if !handle(ctx, m) {
			break
		}
	}
	return nil
}

func rawMessage(t *testing.T, contract, typ string, payload json.RawMessage) *fakeMsg {
	t.Helper()
	ev := model.RawEvent{
		Network:     "testnet",
		BlockHeight: 100,
		TxIndex:     0,
		EvIndex:     1,
		TxID:        "abc",
		Contract:    model.ContractRef{Name: contract, Address: "0x0000000000000001"},
		Type:        typ,
		Payload:     payload,
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return &fakeMsg{subject: stream.RawSubject("testnet", contract, eventName(typ)), data: data}
}

func newTestNormalizer(t *testing.T, pub stream.Publisher, drops *DropLog) *Normalizer {
	t.Helper()
	reg, err := NewRegistry(nil)
	require.NoError(t, err)
	return New(Config{Network: "testnet", MaxRetries: 1, RetryBackoff: time.Millisecond}, reg, pub, drops, nil, zap.NewNop())
}

func TestHandleBase64FieldList(t *testing.T) {
	pub := &memPublisher{}
	n := newTestNormalizer(t, pub, nil)
	msg := rawMessage(t, "Fractional", "VaultCreated", encoded(vaultFieldList))

	res := n.Handle(context.Background(), msg)

	require.Equal(t, StatusPublished, res.Status)
	require.Equal(t, 1, msg.acks)
	require.Len(t, pub.sent, 1)
	out := pub.sent[0]
	require.Equal(t, "flow.events.norm.testnet.fractional.VaultCreated", out.subject)
	require.Equal(t, "testnet:100:0:1", out.msgID)
	require.Equal(t, "V1", out.event.VaultID)
	require.Equal(t, "VaultCreated", out.event.Type)
	require.Equal(t, uint64(100), out.event.BlockHeight)
	require.Equal(t, "abc", out.event.TxID)
	require.Equal(t, map[string]any{"vaultId": "V1", "amount": "10.0"}, out.event.Payload)
}

func TestHandleNotJSON(t *testing.T) {
	pub := &memPublisher{}
	path := filepath.Join(t.TempDir(), "errors.jsonl")
	n := newTestNormalizer(t, pub, NewDropLog(path))
	msg := &fakeMsg{subject: "flow.events.raw.testnet.Fractional.VaultCreated", data: []byte("not json")}

	res := n.Handle(context.Background(), msg)

	require.Equal(t, StatusDropped, res.Status)
	require.Equal(t, ReasonMalformed, res.Reason)
	require.Equal(t, 1, msg.acks)
	require.Empty(t, pub.sent)

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	scanner := bufio.NewScanner(file)
	require.True(t, scanner.Scan())
	var rec model.DropRecord
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
	require.Equal(t, "normalize", rec.Stage)
	require.Equal(t, ReasonMalformed, rec.Reason)
	require.Equal(t, msg.subject, rec.Subject)
	require.NotEmpty(t, rec.Error)
	require.NotEmpty(t, rec.DroppedAt)
}

func TestHandleDropsAlwaysAck(t *testing.T) {
	cases := []struct {
		name   string
		msg    func(t *testing.T) *fakeMsg
		reason string
	}{
		{"unknown contract", func(t *testing.T) *fakeMsg {
			return rawMessage(t, "FlowToken", "A.1654653399040a61.FlowToken.TokensDeposited", json.RawMessage(`{"amount":"1.0"}`))
		}, ReasonNoDomain},
		{"bad payload", func(t *testing.T) *fakeMsg {
			return rawMessage(t, "Fractional", "A.1.Fractional.VaultCreated", json.RawMessage(`"!!!"`))
		}, ReasonBadPayload},
		{"missing vault id", func(t *testing.T) *fakeMsg {
			return rawMessage(t, "Fractional", "A.1.Fractional.VaultCreated", json.RawMessage(`{"amount":"1.0"}`))
		}, ReasonInvalidPayload},
		{"missing type", func(t *testing.T) *fakeMsg {
			return rawMessage(t, "Fractional", "", json.RawMessage(`{"vaultId":"1"}`))
		}, ReasonMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pub := &memPublisher{}
			msg := tc.msg(t)
			res := newTestNormalizer(t, pub, nil).Handle(context.Background(), msg)
			require.Equal(t, StatusDropped, res.Status)
			require.Equal(t, tc.reason, res.Reason)
			require.Equal(t, 1, msg.acks)
			require.Zero(t, msg.naks)
			require.Empty(t, pub.sent)
		})
	}
}

func TestHandlePublishFailureNaks(t *testing.T) {
	pub := &memPublisher{err: errors.New("timeout")}
	msg := rawMessage(t, "AMM", "A.1.AMM.Swap", json.RawMessage(`{"poolId":"9"}`))

	res := newTestNormalizer(t, pub, nil).Handle(context.Background(), msg)

	require.Equal(t, StatusRequeued, res.Status)
	require.Zero(t, msg.acks)
	require.Equal(t, 1, msg.naks)
}

func TestHandleDuplicateDeliveryIsStable(t *testing.T) {
	pub := &memPublisher{}
	n := newTestNormalizer(t, pub, nil)
	payload := json.RawMessage(`{"payload":` + vaultFieldList + `}`)

	n.Handle(context.Background(), rawMessage(t, "Fractional", "A.1.Fractional.VaultCreated", payload))
	n.Handle(context.Background(), rawMessage(t, "Fractional", "A.1.Fractional.VaultCreated", payload))

	require.Len(t, pub.sent, 2)
	require.Equal(t, pub.sent[0], pub.sent[1])
}

func TestRunBindsNetworkFilter(t *testing.T) {
	pub := &memPublisher{}
	consumer := &sliceConsumer{msgs: []stream.Message{
		rawMessage(t, "DistributionHandler", "A.1.DistributionHandler.Distributed", json.RawMessage(`{"vaultId":5,"total":"2.0"}`)),
	}}

	require.NoError(t, newTestNormalizer(t, pub, nil).Run(context.Background(), consumer))
	require.Equal(t, stream.RawStreamName, consumer.cfg.Stream)
	require.Equal(t, "normalizer-testnet", consumer.cfg.Durable)
	require.Equal(t, "flow.events.raw.testnet.>", consumer.cfg.FilterSubject)
	require.Len(t, pub.sent, 1)
	require.Equal(t, "flow.events.norm.testnet.distributionhandler.Distributed", pub.sent[0].subject)
	require.Equal(t, "5", pub.sent[0].event.VaultID)
}

func TestRunReportsRequeueToConsumer(t *testing.T) {
	pub := &memPublisher{err: errors.New("stream unavailable")}
	first := rawMessage(t, "Fractional", "A.1.Fractional.VaultCreated", json.RawMessage(`{"vaultId":"V1"}`))
	second := rawMessage(t, "Fractional", "A.1.Fractional.VaultCreated", json.RawMessage(`{"vaultId":"V2"}`))
	consumer := &sliceConsumer{msgs: []stream.Message{first, second}}

	require.NoError(t, newTestNormalizer(t, pub, nil).Run(context.Background(), consumer))
	require.Equal(t, 1, first.naks)
	require.Zero(t, first.acks)
	require.Zero(t, second.acks+second.naks)
}
