package stream

import "context"

// Publisher appends one record to a durable log. msgID is used for
// duplicate suppression and may be empty.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, msgID string) error
}

// Handler processes one delivered message and owns its acknowledgement. It
// returns false when the message was nak'd for redelivery.
type Handler func(ctx context.Context, msg Message) bool

// Message is a delivered log entry awaiting acknowledgement.
type Message interface {
	Subject() string
	Data() []byte
	Ack() error
	Nak() error
}
