package stream

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

const fetchErrorPause = time.Second

type fetchFunc func(ctx context.Context) ([]Message, error)

// pump drains fetch into handle sequentially. Fetch errors are transient:
// they are logged and retried after a short pause. Once a message is nak'd
// the rest of its batch is nak'd unhandled, so redelivery keeps the original
// order.
func pump(ctx context.Context, fetch fetchFunc, handle Handler, logger *zap.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := fetch(ctx)
		requeued := false
		for i, msg := range msgs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !handle(ctx, msg) {
				requeued = true
				nakAll(msgs[i+1:], logger)
				break
			}
		}

		if requeued || (err != nil && !quietFetch(err)) {
			if err != nil && !quietFetch(err) {
				logger.Warn("fetch failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(fetchErrorPause):
			}
		}
	}
}

func nakAll(msgs []Message, logger *zap.Logger) {
	for _, msg := range msgs {
		if err := msg.Nak(); err != nil {
			logger.Warn("nak failed", zap.String("subject", msg.Subject()), zap.Error(err))
		}
	}
}

func quietFetch(err error) bool {
	return errors.Is(err, nats.ErrTimeout) ||
		errors.Is(err, jetstream.ErrNoMessages) ||
		errors.Is(err, context.DeadlineExceeded)
}
