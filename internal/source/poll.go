package source

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"flowpipe/internal/model"
	"flowpipe/internal/retry"
)

// PollConfig holds settings for the pull strategy.
type PollConfig struct {
	EventTypes   []string
	Interval     time.Duration
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

// Poller periodically queries the sealed height and fetches the unconsumed
// range with one bulk request per event type.
type Poller struct {
	cfg    PollConfig
	access Access
	logger *zap.Logger
}

// NewPoller builds a Poller.
func NewPoller(cfg PollConfig, access Access, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 250
	}
	return &Poller{cfg: cfg, access: access, logger: logger}
}

func (p *Poller) Name() string { return "poll" }

// Run polls until ctx is done.
func (p *Poller) Run(ctx context.Context, from uint64, handle Handler) error {
	if p.access == nil {
		return fmt.Errorf("access client is nil")
	}
	if len(p.cfg.EventTypes) == 0 {
		return fmt.Errorf("no event types to poll")
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	cursor := from
	for {
		cursor = p.Poll(ctx, cursor, handle)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll runs one catch-up cycle from cursor and returns the last height handled.
func (p *Poller) Poll(ctx context.Context, cursor uint64, handle Handler) uint64 {
	latest, err := p.latestWithRetry(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("latest height unavailable", zap.Error(err), zap.Uint64("cursor", cursor))
		}
		return cursor
	}
	if latest <= cursor {
		return cursor
	}

	ranges, err := SplitRange(cursor+1, latest, p.cfg.BatchSize)
	if err != nil {
		p.logger.Error("split range", zap.Error(err))
		return cursor
	}

	for _, r := range ranges {
		events, err := p.fetchRange(ctx, r)
		if err != nil {
			if ctx.Err() == nil {
				p.logger.Warn("fetch range failed", zap.Error(err), zap.Uint64("from", r.From), zap.Uint64("to", r.To))
			}
			return cursor
		}

		for _, block := range model.GroupByHeight(events) {
			if block.Height <= cursor || block.Height > r.To {
				p.logger.Warn("skip event outside requested range",
					zap.Uint64("height", block.Height), zap.Uint64("from", r.From), zap.Uint64("to", r.To))
				continue
			}
			if err := handle(ctx, block); err != nil {
				p.logger.Warn("handle block failed", zap.Error(err), zap.Uint64("height", block.Height))
				return cursor
			}
			cursor = block.Height
		}

		if cursor < r.To {
			if err := handle(ctx, model.Block{Height: r.To}); err != nil {
				p.logger.Warn("handle empty block failed", zap.Error(err), zap.Uint64("height", r.To))
				return cursor
			}
			cursor = r.To
		}

		p.logger.Debug("range complete", zap.Uint64("from", r.From), zap.Uint64("to", r.To), zap.Int("events", len(events)))
	}

	return cursor
}

func (p *Poller) fetchRange(ctx context.Context, r BlockRange) ([]model.ChainEvent, error) {
	all := make([]model.ChainEvent, 0)
	for _, eventType := range p.cfg.EventTypes {
		var events []model.ChainEvent
		err := retry.Do(ctx, p.cfg.MaxRetries, p.cfg.RetryBackoff, func(ctx context.Context) error {
			var err error
			events, err = p.access.EventsInRange(ctx, eventType, r.From, r.To)
			if err != nil && ctx.Err() == nil {
				p.logger.Warn("events query failed", zap.Error(err),
					zap.String("event_type", eventType), zap.Uint64("from", r.From), zap.Uint64("to", r.To))
			}
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("events %s [%d,%d]: %w", eventType, r.From, r.To, err)
		}
		all = append(all, events...)
	}
	return all, nil
}

func (p *Poller) latestWithRetry(ctx context.Context) (uint64, error) {
	var latest uint64
	err := retry.Do(ctx, p.cfg.MaxRetries, p.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		latest, err = p.access.LatestHeight(ctx)
		return err
	})
	return latest, err
}
