package stream

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// DefaultDuplicateWindow bounds msg-id deduplication on both streams.
const DefaultDuplicateWindow = 10 * time.Minute

// Limits bounds a stream's retention.
type Limits struct {
	MaxAge          time.Duration
	MaxBytes        int64
	DuplicateWindow time.Duration
}

// Client wraps a NATS connection and its JetStream context.
type Client struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *zap.Logger
}

// Connect dials url and keeps reconnecting in the background for the life
// of the client.
func Connect(url, name string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	return &Client{nc: nc, js: js, logger: logger}, nil
}

// JetStream exposes the underlying context for KV access.
func (c *Client) JetStream() jetstream.JetStream { return c.js }

// Close drains pending publishes before closing the connection.
func (c *Client) Close() {
	if c.nc == nil {
		return
	}
	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
	}
}

// EnsureStream creates or updates a file-backed stream bound to subjects.
func (c *Client) EnsureStream(ctx context.Context, name string, subjects []string, limits Limits) error {
	window := limits.DuplicateWindow
	if window <= 0 {
		window = DefaultDuplicateWindow
	}
	cfg := jetstream.StreamConfig{
		Name:       name,
		Subjects:   subjects,
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		Discard:    jetstream.DiscardOld,
		MaxAge:     limits.MaxAge,
		MaxBytes:   limits.MaxBytes,
		Duplicates: window,
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = -1
	}
	if cfg.MaxAge > 0 && cfg.Duplicates > cfg.MaxAge {
		cfg.Duplicates = cfg.MaxAge
	}

	if _, err := c.js.CreateOrUpdateStream(ctx, cfg); err != nil {
		return fmt.Errorf("ensure stream %s: %w", name, err)
	}
	c.logger.Info("stream ready",
		zap.String("stream", name),
		zap.Strings("subjects", subjects),
		zap.Duration("max_age", cfg.MaxAge),
		zap.Int64("max_bytes", cfg.MaxBytes),
	)
	return nil
}

// Publish appends data to subject and waits for the server ack. A non-empty
// msgID is sent as Nats-Msg-Id so replays inside the duplicate window are
// discarded by the server.
func (c *Client) Publish(ctx context.Context, subject string, data []byte, msgID string) error {
	var opts []jetstream.PublishOpt
	if msgID != "" {
		opts = append(opts, jetstream.WithMsgID(msgID))
	}
	ack, err := c.js.Publish(ctx, subject, data, opts...)
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if ack.Duplicate {
		c.logger.Debug("duplicate publish discarded",
			zap.String("subject", subject),
			zap.String("msg_id", msgID),
		)
	}
	return nil
}

// ConsumerConfig describes a durable pull consumer.
type ConsumerConfig struct {
	Stream        string
	Durable       string
	FilterSubject string
	AckWait       time.Duration
	MaxDeliver    int
	FetchBatch    int
	FetchWait     time.Duration
}

// Consume binds a durable pull consumer and hands messages to handle one at a
// time, in delivery order, until ctx is done. handle owns acknowledgement.
func (c *Client) Consume(ctx context.Context, cfg ConsumerConfig, handle Handler) error {
	if cfg.Durable == "" {
		return fmt.Errorf("durable name is required")
	}
	ackWait := cfg.AckWait
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}

	cons, err := c.js.CreateOrUpdateConsumer(ctx, cfg.Stream, jetstream.ConsumerConfig{
		Durable:       cfg.Durable,
		FilterSubject: cfg.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       ackWait,
		MaxDeliver:    cfg.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("bind consumer %s: %w", cfg.Durable, err)
	}
	c.logger.Info("consumer bound",
		zap.String("stream", cfg.Stream),
		zap.String("durable", cfg.Durable),
		zap.String("filter", cfg.FilterSubject),
	)

	batch := cfg.FetchBatch
	if batch <= 0 {
		batch = 64
	}
	wait := cfg.FetchWait
	if wait <= 0 {
		wait = 5 * time.Second
	}

	fetch := func(context.Context) ([]Message, error) {
		mb, err := cons.Fetch(batch, jetstream.FetchMaxWait(wait))
		if err != nil {
			return nil, err
		}
		var out []Message
		for msg := range mb.Messages() {
			out = append(out, msg)
		}
		return out, mb.Error()
	}
	return pump(ctx, fetch, handle, c.logger)
}
