package source

import (
	"context"
	"errors"

	"flowpipe/internal/chain"
	"flowpipe/internal/model"
)

// ErrInitialConnect is returned by a push source whose very first connection
// attempt failed, before anything was delivered.
var ErrInitialConnect = errors.New("initial connection failed")

// Handler processes one block. Blocks arrive in strictly ascending height
// order; returning an error makes the source redeliver from the last height
// that was handled successfully.
type Handler func(ctx context.Context, block model.Block) error

// Source delivers every tracked event above a starting height.
type Source interface {
	Name() string
	// Run delivers blocks above from until ctx is done.
	Run(ctx context.Context, from uint64, handle Handler) error
}

// Access is the pull side of the chain access layer.
type Access interface {
	LatestHeight(ctx context.Context) (uint64, error)
	EventsInRange(ctx context.Context, eventType string, start, end uint64) ([]model.ChainEvent, error)
}

// Stream is one live push connection.
type Stream interface {
	Subscribe(ctx context.Context, topic string, args map[string]interface{}) error
	Next(ctx context.Context) (chain.StreamMessage, error)
	Close() error
}

// DialFunc opens a new Stream.
type DialFunc func(ctx context.Context) (Stream, error)
