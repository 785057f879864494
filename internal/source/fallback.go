package source

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Fallback runs Primary and switches to Secondary only when Primary cannot
// establish its first connection. Later Primary failures are its own to
// recover from, so both strategies never race.
type Fallback struct {
	Primary   Source
	Secondary Source
	Logger    *zap.Logger
}

func (f *Fallback) Name() string {
	return f.Primary.Name() + "+" + f.Secondary.Name()
}

// Run delivers blocks above from using Primary, or Secondary after a failed first connect.
func (f *Fallback) Run(ctx context.Context, from uint64, handle Handler) error {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	err := f.Primary.Run(ctx, from, handle)
	if !errors.Is(err, ErrInitialConnect) {
		return err
	}

	logger.Warn("primary source unavailable, falling back",
		zap.String("primary", f.Primary.Name()),
		zap.String("secondary", f.Secondary.Name()),
		zap.Error(err),
	)
	return f.Secondary.Run(ctx, from, handle)
}
