package bus

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Message is one inbound bus message.
type Message struct {
	Topic   string
	Payload []byte
}

// Broker is a single broker connection. Implementations must be safe for
// use by one publisher goroutine plus their own delivery goroutine.
type Broker interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte, retained bool) error
	// Subscribe registers deliver for filter. deliver is called from one
	// goroutine at a time, in arrival order.
	Subscribe(ctx context.Context, filter string, deliver func(Message)) error
	// Lost is closed when the current connection drops or is disconnected.
	Lost() <-chan struct{}
	IsConnected() bool
	Disconnect()
}

// BrokerFactory builds an unconnected broker for one connection.
type BrokerFactory func(cfg Config, clientID string) Broker

// newClientID derives a unique id per connection so the publisher and the
// subscriber never take over each other's session.
func newClientID(base string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return base + "-" + id[:8]
}
