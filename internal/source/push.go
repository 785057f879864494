package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"flowpipe/internal/chain"
	"flowpipe/internal/model"
)

// State is the push connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// PushConfig holds settings for the streaming strategy.
type PushConfig struct {
	EventTypes []string
	Reconnect  Backoff
	// HeartbeatInterval asks the node for an empty events message every N
	// blocks so quiet periods still report progress.
	HeartbeatInterval uint64
	// OnMalformed receives event entries skipped inside an otherwise valid
	// events message. May be nil.
	OnMalformed chain.MalformedFunc
}

// Pusher subscribes to the events and block digest topics and merges them
// into ascending blocks. The goroutine running Run owns the connection.
type Pusher struct {
	cfg         PushConfig
	dial        DialFunc
	logger      *zap.Logger
	onReconnect func()
	state       atomic.Int32
}

// NewPusher builds a Pusher. onReconnect may be nil.
func NewPusher(cfg PushConfig, dial DialFunc, logger *zap.Logger, onReconnect func()) *Pusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if onReconnect == nil {
		onReconnect = func() {}
	}
	return &Pusher{cfg: cfg, dial: dial, logger: logger, onReconnect: onReconnect}
}

func (p *Pusher) Name() string { return "push" }

// State reports the current connection state.
func (p *Pusher) State() State {
	return State(p.state.Load())
}

func (p *Pusher) setState(s State) {
	prev := State(p.state.Swap(int32(s)))
	if prev != s {
		p.logger.Debug("push state", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Run connects, subscribes from from+1 and delivers blocks until ctx is done.
// If the first connection attempt fails it returns ErrInitialConnect.
func (p *Pusher) Run(ctx context.Context, from uint64, handle Handler) error {
	if p.dial == nil {
		return fmt.Errorf("dial func is nil")
	}
	if len(p.cfg.EventTypes) == 0 {
		return fmt.Errorf("no event types to subscribe")
	}
	defer p.setState(StateDisconnected)

	cursor := from
	attempt := 0
	connected := false
	for {
		p.setState(StateConnecting)
		stream, err := p.connect(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !connected {
				return fmt.Errorf("%w: %v", ErrInitialConnect, err)
			}
			p.logger.Warn("reconnect failed", zap.Error(err), zap.Int("attempt", attempt), zap.Uint64("cursor", cursor))
		} else {
			connected = true
			p.setState(StateSubscribed)
			p.logger.Info("subscribed", zap.Uint64("start_height", cursor+1))

			var progressed bool
			cursor, progressed, err = p.consume(ctx, stream, cursor, handle)
			_ = stream.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if progressed {
				attempt = 0
			}
			p.logger.Warn("connection lost", zap.Error(err), zap.Uint64("cursor", cursor))
		}

		p.setState(StateReconnecting)
		p.onReconnect()
		delay := p.cfg.Reconnect.Delay(attempt)
		attempt++
		p.logger.Info("reconnecting", zap.Duration("delay", delay), zap.Int("attempt", attempt), zap.Uint64("resume_height", cursor+1))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (p *Pusher) connect(ctx context.Context, cursor uint64) (Stream, error) {
	stream, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}

	start := strconv.FormatUint(cursor+1, 10)
	eventArgs := map[string]interface{}{
		"event_types":        p.cfg.EventTypes,
		"start_block_height": start,
	}
	if p.cfg.HeartbeatInterval > 0 {
		eventArgs["heartbeat_interval"] = strconv.FormatUint(p.cfg.HeartbeatInterval, 10)
	}
	if err := stream.Subscribe(ctx, chain.TopicEvents, eventArgs); err != nil {
		_ = stream.Close()
		return nil, err
	}

	blockArgs := map[string]interface{}{
		"block_status":       "sealed",
		"start_block_height": start,
	}
	if err := stream.Subscribe(ctx, chain.TopicBlocks, blockArgs); err != nil {
		_ = stream.Close()
		return nil, err
	}
	return stream, nil
}

// consume reads frames until the stream fails. It returns the last handled
// height and whether any height was handled on this connection.
func (p *Pusher) consume(ctx context.Context, stream Stream, cursor uint64, handle Handler) (uint64, bool, error) {
	m := newMerger(cursor)
	start := cursor

	for {
		msg, err := stream.Next(ctx)
		if err != nil {
			return m.cursor, m.cursor > start, err
		}

		if msg.Error != nil {
			return m.cursor, m.cursor > start, fmt.Errorf("stream error %d: %s", msg.Error.Code, msg.Error.Message)
		}

		switch msg.Topic {
		case chain.TopicEvents:
			var block chain.EventsBlock
			if err := json.Unmarshal(msg.Payload, &block); err != nil {
				p.logger.Warn("skip malformed events message", zap.Error(err), zap.String("subscription", msg.SubscriptionID))
				continue
			}
			events, skipped, err := block.ChainEvents()
			if err != nil {
				p.logger.Warn("skip malformed events message", zap.Error(err), zap.String("block_height", block.BlockHeight))
				continue
			}
			for _, entry := range skipped {
				if p.cfg.OnMalformed != nil {
					p.cfg.OnMalformed(entry)
				}
			}
			height, _ := block.Height()
			m.addEvents(height, events)
		case chain.TopicBlocks:
			var digest chain.BlockDigest
			if err := json.Unmarshal(msg.Payload, &digest); err != nil {
				p.logger.Warn("skip malformed block message", zap.Error(err), zap.String("subscription", msg.SubscriptionID))
				continue
			}
			height, err := chain.ParseHeight(digest.Height)
			if err != nil {
				p.logger.Warn("skip malformed block message", zap.Error(err), zap.String("height", digest.Height))
				continue
			}
			m.addBlock(height)
		default:
			// subscribe acknowledgements and unknown topics
			continue
		}

		if err := m.flush(ctx, handle); err != nil {
			return m.cursor, m.cursor > start, fmt.Errorf("handle block: %w", err)
		}
	}
}

// merger joins the events and block digest subscriptions. A height is only
// released once both topics have reached it, so late events for a block are
// never lost to an early digest.
type merger struct {
	cursor       uint64
	eventsHeight uint64
	blocksHeight uint64
	pending      map[uint64][]model.ChainEvent
}

func newMerger(cursor uint64) *merger {
	return &merger{
		cursor:       cursor,
		eventsHeight: cursor,
		blocksHeight: cursor,
		pending:      make(map[uint64][]model.ChainEvent),
	}
}

func (m *merger) addEvents(height uint64, events []model.ChainEvent) {
	if height <= m.cursor {
		return
	}
	if len(events) > 0 {
		m.pending[height] = append(m.pending[height], events...)
	}
	if height > m.eventsHeight {
		m.eventsHeight = height
	}
}

func (m *merger) addBlock(height uint64) {
	if height > m.blocksHeight {
		m.blocksHeight = height
	}
}

func (m *merger) ready() uint64 {
	if m.eventsHeight < m.blocksHeight {
		return m.eventsHeight
	}
	return m.blocksHeight
}

func (m *merger) flush(ctx context.Context, handle Handler) error {
	ready := m.ready()
	if ready <= m.cursor {
		return nil
	}

	heights := make([]uint64, 0, len(m.pending))
	for h := range m.pending {
		if h <= ready {
			heights = append(heights, h)
		}
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })

	for _, h := range heights {
		events := m.pending[h]
		model.SortEvents(events)
		if err := handle(ctx, model.Block{Height: h, Events: events}); err != nil {
			return err
		}
		delete(m.pending, h)
		m.cursor = h
	}

	if m.cursor < ready {
		if err := handle(ctx, model.Block{Height: ready}); err != nil {
			return err
		}
		m.cursor = ready
	}
	return nil
}
