package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"flowpipe/internal/chain"
	"flowpipe/internal/model"
)

type rangeQuery struct {
	eventType  string
	start, end uint64
}

type fakeAccess struct {
	mu       sync.Mutex
	latest   uint64
	events   map[string][]model.ChainEvent
	failType string
	queries  []rangeQuery
}

func (f *fakeAccess) LatestHeight(context.Context) (uint64, error) {
	return f.latest, nil
}

func (f *fakeAccess) EventsInRange(_ context.Context, eventType string, start, end uint64) ([]model.ChainEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, rangeQuery{eventType, start, end})
	if eventType == f.failType {
		return nil, errors.New("access node unreachable")
	}
	out := make([]model.ChainEvent, 0)
	for _, ev := range f.events[eventType] {
		if ev.BlockHeight >= start && ev.BlockHeight <= end {
			out = append(out, ev)
		}
	}
	return out, nil
}

type subscription struct {
	topic string
	args  map[string]interface{}
}

type fakeStream struct {
	frames []chain.StreamMessage
	idx    int
	subs   []subscription
	closed bool
}

func (s *fakeStream) Subscribe(_ context.Context, topic string, args map[string]interface{}) error {
	s.subs = append(s.subs, subscription{topic: topic, args: args})
	return nil
}

func (s *fakeStream) Next(ctx context.Context) (chain.StreamMessage, error) {
	if err := ctx.Err(); err != nil {
		return chain.StreamMessage{}, err
	}
	if s.idx >= len(s.frames) {
		return chain.StreamMessage{}, io.EOF
	}
	f := s.frames[s.idx]
	s.idx++
	return f, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeDialer struct {
	streams []*fakeStream
	calls   int
	err     error
}

func (d *fakeDialer) dial(context.Context) (Stream, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	if d.calls > len(d.streams) {
		return nil, fmt.Errorf("no more streams")
	}
	return d.streams[d.calls-1], nil
}

func eventsFrame(height uint64, events ...chain.EventEntry) chain.StreamMessage {
	if events == nil {
		events = []chain.EventEntry{}
	}
	payload, _ := json.Marshal(chain.EventsBlock{
		BlockID:     fmt.Sprintf("b%d", height),
		BlockHeight: fmt.Sprintf("%d", height),
		Events:      events,
	})
	return chain.StreamMessage{SubscriptionID: "events-1", Topic: chain.TopicEvents, Payload: payload}
}

func digestFrame(height uint64) chain.StreamMessage {
	payload, _ := json.Marshal(chain.BlockDigest{BlockID: fmt.Sprintf("b%d", height), Height: fmt.Sprintf("%d", height)})
	return chain.StreamMessage{SubscriptionID: "block_digests-2", Topic: chain.TopicBlocks, Payload: payload}
}

func entry(eventType, tx string, txIndex, evIndex int) chain.EventEntry {
	return chain.EventEntry{
		Type:             eventType,
		TransactionID:    tx,
		TransactionIndex: fmt.Sprintf("%d", txIndex),
		EventIndex:       fmt.Sprintf("%d", evIndex),
		Payload:          json.RawMessage(`"e30="`),
	}
}

type recorder struct {
	blocks []model.Block
}

func (r *recorder) heights() []uint64 {
	out := make([]uint64, 0, len(r.blocks))
	for _, b := range r.blocks {
		out = append(out, b.Height)
	}
	return out
}
