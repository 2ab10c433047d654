package bridge

import (
	"context"
	"encoding/json"

	"github.com/danmuck/elanbridge/internal/bus"
	"github.com/danmuck/elanbridge/internal/hub"
)

// Hub is the hub surface the orchestrator uses; *hub.Client satisfies it.
type Hub interface {
	FetchDevices(ctx context.Context) ([]hub.DeviceRecord, error)
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Put(ctx context.Context, path string, body []byte) ([]byte, error)
	StreamListen(ctx context.Context, onMessage func(id string)) error
	State() hub.State
	Close() error
}

// Bus is the bus surface the orchestrator uses; *bus.Client satisfies it.
type Bus interface {
	Enqueue(topic string, payload []byte, label string)
	RunPublisher(ctx context.Context) error
	Subscribe(ctx context.Context, filter string, onMessage bus.MessageHandler) error
	Connected() bool
	QueueDepth() int
	Close() error
}

var (
	_ Hub = (*hub.Client)(nil)
	_ Bus = (*bus.Client)(nil)
)
