package normalizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"flowpipe/internal/metrics"
	"flowpipe/internal/model"
	"flowpipe/internal/retry"
	"flowpipe/internal/stream"
)

// Drop reasons.
const (
	ReasonMalformed      = "malformed"
	ReasonNoDomain       = "no_domain"
	ReasonBadPayload     = "malformed_payload"
	ReasonInvalidPayload = "invalid_payload"
)

// Status is the terminal state of one message.
type Status int

const (
	// StatusPublished means the event was published and acknowledged.
	StatusPublished Status = iota
	// StatusDropped means the message was acknowledged without publishing.
	StatusDropped
	// StatusRequeued means publishing failed and the message was nak'd.
	StatusRequeued
)

func (s Status) String() string {
	switch s {
	case StatusPublished:
		return "published"
	case StatusDropped:
		return "dropped"
	case StatusRequeued:
		return "requeued"
	default:
		return "unknown"
	}
}

// Result reports what Handle did with a message.
type Result struct {
	Status  Status
	Reason  string
	Subject string
	Event   *model.NormEvent
}

// Config holds runtime settings for the normalizer.
type Config struct {
	Network      string
	Durable      string
	MaxRetries   int
	RetryBackoff time.Duration
}

// Consumer delivers raw log messages to a handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, cfg stream.ConsumerConfig, handle stream.Handler) error
}

// Normalizer maps raw events onto normalized domain events.
type Normalizer struct {
	cfg       Config
	registry  *Registry
	publisher stream.Publisher
	drops     *DropLog
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New builds a Normalizer. drops and m may be nil.
func New(cfg Config, registry *Registry, publisher stream.Publisher, drops *DropLog, m *metrics.Metrics, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Durable == "" {
		cfg.Durable = "normalizer-" + cfg.Network
	}
	return &Normalizer{
		cfg:       cfg,
		registry:  registry,
		publisher: publisher,
		drops:     drops,
		metrics:   m,
		logger:    logger.With(zap.String("network", cfg.Network)),
	}
}

// Run consumes the network's raw subjects until ctx is done.
func (n *Normalizer) Run(ctx context.Context, consumer Consumer) error {
	if n.registry == nil {
		return fmt.Errorf("registry is nil")
	}
	if n.publisher == nil {
		return fmt.Errorf("publisher is nil")
	}

	n.logger.Info("normalizer started", zap.String("durable", n.cfg.Durable))
	err := consumer.Consume(ctx, stream.ConsumerConfig{
		Stream:        stream.RawStreamName,
		Durable:       n.cfg.Durable,
		FilterSubject: stream.RawFilter(n.cfg.Network),
	}, func(ctx context.Context, msg stream.Message) bool {
		return n.Handle(ctx, msg).Status != StatusRequeued
	})
	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		n.logger.Info("normalizer stopped")
		return nil
	}
	return err
}

// Handle runs one message to a terminal state. Every path acknowledges
// except a publish failure, which is nak'd for redelivery.
func (n *Normalizer) Handle(ctx context.Context, msg stream.Message) Result {
	subject := msg.Subject()

	var raw model.RawEvent
	if err := json.Unmarshal(msg.Data(), &raw); err != nil {
		return n.drop(msg, ReasonMalformed, raw, err)
	}
	if raw.Type == "" || raw.Contract.Name == "" {
		return n.drop(msg, ReasonMalformed, raw, errors.New("missing type or contract"))
	}
	if raw.Network == "" {
		raw.Network = n.cfg.Network
	}

	domain, mapFn, ok := n.registry.Lookup(raw.Contract.Name)
	if !ok {
		return n.drop(msg, ReasonNoDomain, raw, nil)
	}

	payload, err := DecodePayload(raw.Payload)
	if err != nil {
		return n.drop(msg, ReasonBadPayload, raw, err)
	}

	eventName := eventName(raw.Type)
	mapped, err := mapFn(eventName, payload)
	if err != nil {
		return n.drop(msg, ReasonInvalidPayload, raw, err)
	}

	norm := model.NormEvent{
		Network:     raw.Network,
		Type:        eventName,
		BlockHeight: raw.BlockHeight,
		TxIndex:     raw.TxIndex,
		EvIndex:     raw.EvIndex,
		TxID:        raw.TxID,
		Payload:     mapped,
	}
	if vaultID, ok := coerceString(mapped["vaultId"]); ok {
		norm.VaultID = vaultID
	}

	data, err := json.Marshal(norm)
	if err != nil {
		return n.drop(msg, ReasonInvalidPayload, raw, err)
	}

	out := stream.NormSubject(raw.Network, domain, eventName)
	msgID := model.MessageID(raw.Network, norm.Position())
	attempt := 0
	err = retry.Do(ctx, n.cfg.MaxRetries, n.cfg.RetryBackoff, func(ctx context.Context) error {
		attempt++
		err := n.publisher.Publish(ctx, out, data, msgID)
		if err != nil && ctx.Err() == nil {
			n.logger.Warn("publish failed",
				zap.String("subject", out),
				zap.Uint64("height", raw.BlockHeight),
				zap.String("event_type", raw.Type),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
	if err != nil {
		if nerr := msg.Nak(); nerr != nil {
			n.logger.Warn("nak failed", zap.String("subject", subject), zap.Error(nerr))
		}
		return Result{Status: StatusRequeued, Subject: out, Event: &norm}
	}

	n.ack(msg)
	n.metrics.NormPublished(raw.Network, domain)
	n.logger.Debug("published normalized event",
		zap.String("subject", out),
		zap.Uint64("height", raw.BlockHeight),
		zap.String("tx_id", raw.TxID),
	)
	return Result{Status: StatusPublished, Subject: out, Event: &norm}
}

func (n *Normalizer) drop(msg stream.Message, reason string, raw model.RawEvent, cause error) Result {
	n.ack(msg)
	n.metrics.Dropped("normalize", reason)

	fields := []zap.Field{
		zap.String("subject", msg.Subject()),
		zap.String("reason", reason),
		zap.Uint64("height", raw.BlockHeight),
		zap.String("event_type", raw.Type),
		zap.String("tx_id", raw.TxID),
	}
	if reason == ReasonNoDomain {
		n.logger.Debug("skip event without domain", append(fields, zap.String("contract", raw.Contract.Name))...)
		return Result{Status: StatusDropped, Reason: reason}
	}

	errText := ""
	if cause != nil {
		errText = cause.Error()
		fields = append(fields, zap.Error(cause))
	}
	n.logger.Warn("drop message", fields...)

	if err := n.drops.Write(model.DropRecord{
		Stage:       "normalize",
		Reason:      reason,
		Subject:     msg.Subject(),
		Network:     raw.Network,
		BlockHeight: raw.BlockHeight,
		TxID:        raw.TxID,
		Type:        raw.Type,
		Contract:    raw.Contract.Name,
		Error:       errText,
	}); err != nil {
		n.logger.Warn("write drop record failed", zap.Error(err))
	}
	return Result{Status: StatusDropped, Reason: reason}
}

func (n *Normalizer) ack(msg stream.Message) {
	if err := msg.Ack(); err != nil {
		n.logger.Warn("ack failed", zap.String("subject", msg.Subject()), zap.Error(err))
	}
}

// eventName returns the last dotted segment of a qualified event type.
func eventName(eventType string) string {
	if i := strings.LastIndex(eventType, "."); i >= 0 {
		return eventType[i+1:]
	}
	return eventType
}
