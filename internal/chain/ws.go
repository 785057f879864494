package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// TopicEvents streams event envelopes filtered by event type.
	TopicEvents = "events"
	// TopicBlocks streams one digest per sealed block, including empty ones.
	TopicBlocks = "block_digests"

	writeWait = 10 * time.Second
)

// ErrStreamClosed is returned by Next once the connection is gone.
var ErrStreamClosed = errors.New("stream closed")

// StreamError is the error body sent by the access node.
type StreamError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// StreamMessage is one frame received on the WebSocket connection.
type StreamMessage struct {
	SubscriptionID string          `json:"subscription_id"`
	Topic          string          `json:"topic,omitempty"`
	Action         string          `json:"action,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Error          *StreamError    `json:"error,omitempty"`
}

type subscribeRequest struct {
	SubscriptionID string                 `json:"subscription_id"`
	Action         string                 `json:"action"`
	Topic          string                 `json:"topic"`
	Arguments      map[string]interface{} `json:"arguments,omitempty"`
}

// WSDialer opens WebSocket connections to the access node.
type WSDialer struct {
	URL          string
	PingInterval time.Duration
	Logger       *zap.Logger
}

// Dial connects and starts the read and keep-alive loops.
func (d WSDialer) Dial(ctx context.Context) (*WSStream, error) {
	if d.URL == "" {
		return nil, fmt.Errorf("websocket url is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pingInterval := d.PingInterval
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, d.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}

	s := &WSStream{
		conn:     conn,
		logger:   logger,
		pongWait: pingInterval * 2,
		frames:   make(chan frame, 256),
		done:     make(chan struct{}),
	}
	s.extendDeadline()
	conn.SetPongHandler(func(string) error {
		s.extendDeadline()
		return nil
	})

	go s.readLoop()
	go s.pingLoop(pingInterval)
	return s, nil
}

type frame struct {
	msg StreamMessage
	err error
}

// WSStream is a live subscription connection. Subscribe must be called from
// a single goroutine; Close may be called from any.
type WSStream struct {
	conn     *websocket.Conn
	logger   *zap.Logger
	pongWait time.Duration
	frames   chan frame
	done     chan struct{}
	once     sync.Once
	nextID   atomic.Uint64
}

// Subscribe sends a subscribe request for topic with the given arguments.
func (s *WSStream) Subscribe(_ context.Context, topic string, args map[string]interface{}) error {
	id := topic + "-" + strconv.FormatUint(s.nextID.Add(1), 10)
	req := subscribeRequest{
		SubscriptionID: id,
		Action:         "subscribe",
		Topic:          topic,
		Arguments:      args,
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

// Next blocks until a frame arrives, the connection fails, or ctx ends.
func (s *WSStream) Next(ctx context.Context) (StreamMessage, error) {
	select {
	case <-ctx.Done():
		return StreamMessage{}, ctx.Err()
	case f, ok := <-s.frames:
		if !ok {
			return StreamMessage{}, ErrStreamClosed
		}
		return f.msg, f.err
	}
}

// Close tears down the connection. Safe to call more than once.
func (s *WSStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}

func (s *WSStream) extendDeadline() {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.pongWait))
}

func (s *WSStream) readLoop() {
	defer close(s.frames)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.deliver(frame{err: fmt.Errorf("read: %w", err)})
			return
		}
		s.extendDeadline()

		var msg StreamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("skip malformed stream frame", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		if !s.deliver(frame{msg: msg}) {
			return
		}
	}
}

func (s *WSStream) deliver(f frame) bool {
	select {
	case s.frames <- f:
		return true
	case <-s.done:
		return false
	}
}

func (s *WSStream) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.logger.Warn("ping failed", zap.Error(err))
				return
			}
		}
	}
}
