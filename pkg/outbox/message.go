package outbox

import "context"

// Message is a broker-neutral rendering of an outbox row.
type Message struct {
	Key        string
	Data       []byte
	Attributes map[string]string
}

// Sink delivers messages to a broker topic. Publish returns once the broker acked.
type Sink interface {
	Publish(ctx context.Context, topic string, msg Message) error
	Ping(ctx context.Context) error
	Close() error
}
