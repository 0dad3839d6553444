package messaging

import (
	"context"
)

// Message is one unit of work pulled from a queue
type Message struct {
	ID       string
	Data     []byte
	TryCount int
}

// Handler processes a message. Returning a temporary error requeues the
// message, any other error drops it.
type Handler func(ctx context.Context, msg *Message) error

// Consumer pulls messages from a queue
type Consumer interface {
	Pull(ctx context.Context, handler Handler) error
}

// Publisher pushes messages to a queue
type Publisher interface {
	Publish(ctx context.Context, data []byte) error
}
