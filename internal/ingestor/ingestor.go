package ingestor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"flowpipe/internal/checkpoint"
	"flowpipe/internal/metrics"
	"flowpipe/internal/model"
	"flowpipe/internal/retry"
	"flowpipe/internal/source"
	"flowpipe/internal/stream"
)

// ErrNoEventTypes is returned by Run when the allowlist is empty.
var ErrNoEventTypes = errors.New("no event types configured")

// DefaultCheckpointDelays is the write schedule for checkpoint saves.
var DefaultCheckpointDelays = []time.Duration{0, 250 * time.Millisecond, time.Second, 3 * time.Second}

// Config holds runtime settings for the ingestor.
type Config struct {
	Network          string
	Consumer         string
	EventTypes       []string
	StartHeight      uint64
	ResetCheckpoint  bool
	MaxRetries       int
	RetryBackoff     time.Duration
	CheckpointDelays []time.Duration
}

// HeadProvider reports the latest sealed height. It is used only to pick a
// starting point when neither a checkpoint nor a start height exists.
type HeadProvider interface {
	LatestHeight(ctx context.Context) (uint64, error)
}

// Ingestor routes chain events from a Source onto the raw log and keeps the
// checkpoint behind what has been durably published.
type Ingestor struct {
	cfg       Config
	src       source.Source
	publisher stream.Publisher
	store     checkpoint.Store
	head      HeadProvider
	metrics   *metrics.Metrics
	logger    *zap.Logger

	key    string
	cursor uint64
	parsed map[string]parsedType
}

type parsedType struct {
	et  EventType
	err error
}

// New builds an Ingestor. head and m may be nil.
func New(cfg Config, src source.Source, publisher stream.Publisher, store checkpoint.Store, head HeadProvider, m *metrics.Metrics, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "ingestor"
	}
	if len(cfg.CheckpointDelays) == 0 {
		cfg.CheckpointDelays = DefaultCheckpointDelays
	}
	return &Ingestor{
		cfg:       cfg,
		src:       src,
		publisher: publisher,
		store:     store,
		head:      head,
		metrics:   m,
		logger:    logger.With(zap.String("network", cfg.Network)),
		key:       checkpoint.Key(cfg.Network, cfg.Consumer),
		parsed:    make(map[string]parsedType),
	}
}

// Cursor returns the last height whose events were all published.
func (i *Ingestor) Cursor() uint64 { return i.cursor }

// Run resolves the starting cursor and drives the source until ctx is done.
func (i *Ingestor) Run(ctx context.Context) error {
	if len(i.cfg.EventTypes) == 0 {
		return ErrNoEventTypes
	}
	if i.src == nil {
		return fmt.Errorf("source is nil")
	}
	if i.publisher == nil {
		return fmt.Errorf("publisher is nil")
	}
	if i.store == nil {
		return fmt.Errorf("checkpoint store is nil")
	}

	for _, t := range i.cfg.EventTypes {
		if _, err := i.eventType(t); err != nil {
			i.logger.Warn("event type will never be routed", zap.String("event_type", t), zap.Error(err))
		}
	}

	cursor, err := i.resolveCursor(ctx)
	if err != nil {
		return err
	}
	i.cursor = cursor

	i.logger.Info("ingestor started",
		zap.String("source", i.src.Name()),
		zap.String("checkpoint_key", i.key),
		zap.Uint64("from", cursor+1),
		zap.Int("event_types", len(i.cfg.EventTypes)),
	)

	err = i.src.Run(ctx, cursor, i.handleBlock)
	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		i.logger.Info("ingestor stopped", zap.Uint64("cursor", i.cursor))
		return nil
	}
	if err != nil {
		return fmt.Errorf("source %s: %w", i.src.Name(), err)
	}
	return nil
}

func (i *Ingestor) resolveCursor(ctx context.Context) (uint64, error) {
	base := uint64(0)
	if i.cfg.StartHeight > 0 {
		base = i.cfg.StartHeight - 1
	}

	if i.cfg.ResetCheckpoint {
		if err := i.saveCheckpoint(ctx, base); err != nil {
			return 0, fmt.Errorf("reset checkpoint: %w", err)
		}
		i.logger.Info("checkpoint reset", zap.Uint64("height", base))
		return base, nil
	}

	stored, ok, err := i.store.Load(ctx, i.key)
	if err != nil {
		return 0, fmt.Errorf("load checkpoint: %w", err)
	}
	if ok {
		i.logger.Info("resume from checkpoint", zap.Uint64("last_processed", stored))
		return stored, nil
	}

	if i.cfg.StartHeight == 0 && i.head != nil {
		var latest uint64
		err := retry.Do(ctx, i.cfg.MaxRetries, i.cfg.RetryBackoff, func(ctx context.Context) error {
			var err error
			latest, err = i.head.LatestHeight(ctx)
			return err
		})
		if err != nil {
			return 0, fmt.Errorf("latest height: %w", err)
		}
		i.logger.Info("no checkpoint, starting at chain head", zap.Uint64("height", latest))
		return latest, nil
	}
	return base, nil
}

// handleBlock publishes every event at one height, then moves the
// checkpoint. A publish failure returns an error so the source redelivers
// the height.
func (i *Ingestor) handleBlock(ctx context.Context, block model.Block) error {
	if block.Height <= i.cursor {
		i.logger.Debug("skip already processed height", zap.Uint64("height", block.Height))
		return nil
	}

	model.SortEvents(block.Events)
	for _, ev := range block.Events {
		if err := i.publishEvent(ctx, block.Height, ev); err != nil {
			return err
		}
	}

	i.cursor = block.Height
	if err := i.saveCheckpoint(ctx, block.Height); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		i.metrics.CheckpointFailed(i.cfg.Network, i.cfg.Consumer)
		i.logger.Warn("checkpoint write abandoned", zap.Uint64("height", block.Height), zap.Error(err))
	}
	return nil
}

func (i *Ingestor) publishEvent(ctx context.Context, height uint64, ev model.ChainEvent) error {
	et, err := i.eventType(ev.Type)
	if err != nil {
		i.metrics.Dropped("ingest", "malformed_type")
		i.logger.Warn("drop event with malformed type",
			zap.Uint64("height", height),
			zap.String("event_type", ev.Type),
			zap.String("tx_id", ev.TransactionID),
			zap.Error(err),
		)
		return nil
	}

	raw := buildRawEvent(i.cfg.Network, height, et, ev)
	data, err := json.Marshal(raw)
	if err != nil {
		i.metrics.Dropped("ingest", "encode")
		i.logger.Warn("drop unencodable event",
			zap.Uint64("height", height),
			zap.String("event_type", ev.Type),
			zap.String("tx_id", ev.TransactionID),
			zap.Error(err),
		)
		return nil
	}

	subject := stream.RawSubject(i.cfg.Network, et.Contract, et.Event)
	msgID := model.MessageID(i.cfg.Network, raw.Position())
	attempt := 0
	err = retry.Do(ctx, i.cfg.MaxRetries, i.cfg.RetryBackoff, func(ctx context.Context) error {
		attempt++
		err := i.publisher.Publish(ctx, subject, data, msgID)
		if err != nil && ctx.Err() == nil {
			i.logger.Warn("publish failed",
				zap.String("subject", subject),
				zap.Uint64("height", height),
				zap.String("event_type", ev.Type),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("publish %s at %s: %w", subject, raw.Position(), err)
	}

	i.metrics.RawPublished(i.cfg.Network, et.Contract, et.Event)
	i.logger.Debug("published raw event",
		zap.String("subject", subject),
		zap.Uint64("height", height),
		zap.String("tx_id", ev.TransactionID),
	)
	return nil
}

func (i *Ingestor) saveCheckpoint(ctx context.Context, height uint64) error {
	attempt := 0
	err := retry.Schedule(ctx, i.cfg.CheckpointDelays, func(ctx context.Context) error {
		attempt++
		err := i.store.Save(ctx, i.key, height)
		if err != nil && ctx.Err() == nil {
			i.logger.Warn("checkpoint write failed",
				zap.Uint64("height", height),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
	if err == nil {
		i.metrics.CheckpointSaved(i.cfg.Network, i.cfg.Consumer, height)
	}
	return err
}

func (i *Ingestor) eventType(value string) (EventType, error) {
	if p, ok := i.parsed[value]; ok {
		return p.et, p.err
	}
	et, err := ParseEventType(value)
	i.parsed[value] = parsedType{et: et, err: err}
	return et, err
}
