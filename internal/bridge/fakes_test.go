package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/danmuck/elanbridge/internal/bus"
	"github.com/danmuck/elanbridge/internal/faults"
	"github.com/danmuck/elanbridge/internal/hub"
)

type putCall struct {
	Path string
	Body []byte
}

type fakeHub struct {
	mu       sync.Mutex
	devices  []hub.DeviceRecord
	fetchErr error
	status   map[string]string
	getErr   map[string]error
	gets     []string
	puts     []putCall
	putErr   error

	streamCalls atomic.Int32
	stream      func(ctx context.Context, call int, onMessage func(id string)) error
	closed      atomic.Bool
}

func newFakeHub(devices ...hub.DeviceRecord) *fakeHub {
	return &fakeHub{
		devices: devices,
		status:  map[string]string{},
		getErr:  map[string]error{},
	}
}

func (h *fakeHub) FetchDevices(ctx context.Context) ([]hub.DeviceRecord, error) {
	if h.fetchErr != nil {
		return nil, h.fetchErr
	}
	return h.devices, nil
}

func (h *fakeHub) Get(ctx context.Context, path string) (json.RawMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gets = append(h.gets, path)
	if err := h.getErr[path]; err != nil {
		return nil, err
	}
	body, ok := h.status[path]
	if !ok {
		return nil, faults.Transient("no status for %s", path)
	}
	return json.RawMessage(body), nil
}

func (h *fakeHub) Put(ctx context.Context, path string, body []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.puts = append(h.puts, putCall{Path: path, Body: append([]byte(nil), body...)})
	if h.putErr != nil {
		return nil, h.putErr
	}
	return []byte(`{}`), nil
}

func (h *fakeHub) StreamListen(ctx context.Context, onMessage func(id string)) error {
	call := int(h.streamCalls.Add(1))
	if h.stream == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return h.stream(ctx, call, onMessage)
}

func (h *fakeHub) State() hub.State {
	if h.closed.Load() {
		return hub.StateClosed
	}
	return hub.StateConnected
}

func (h *fakeHub) Close() error {
	h.closed.Store(true)
	return nil
}

func (h *fakeHub) getCount(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, g := range h.gets {
		if g == path {
			n++
		}
	}
	return n
}

func (h *fakeHub) putCalls() []putCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]putCall(nil), h.puts...)
}

type enqueued struct {
	Topic   string
	Payload string
	Label   string
}

type fakeBus struct {
	mu         sync.Mutex
	jobs       []enqueued
	handler    bus.MessageHandler
	handlerCtx context.Context
	filter     string
	subscribed chan struct{}
	closed     atomic.Bool
}

func newFakeBus() *fakeBus {
	return &fakeBus{subscribed: make(chan struct{})}
}

func (b *fakeBus) Enqueue(topic string, payload []byte, label string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs = append(b.jobs, enqueued{Topic: topic, Payload: string(payload), Label: label})
}

func (b *fakeBus) RunPublisher(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, filter string, onMessage bus.MessageHandler) error {
	b.mu.Lock()
	b.handler = onMessage
	b.handlerCtx = ctx
	b.filter = filter
	b.mu.Unlock()
	close(b.subscribed)
	<-ctx.Done()
	return nil
}

// deliver runs the subscription handler the way the bus client does:
// derive the key from the topic, then call the handler to completion.
func (b *fakeBus) deliver(topic string, payload []byte) {
	b.mu.Lock()
	handler, ctx := b.handler, b.handlerCtx
	b.mu.Unlock()
	key, err := bus.DeviceKey(topic)
	if err != nil {
		return
	}
	handler(ctx, key, payload)
}

func (b *fakeBus) Connected() bool { return !b.closed.Load() }

func (b *fakeBus) QueueDepth() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.jobs)
}

func (b *fakeBus) Close() error {
	b.closed.Store(true)
	return nil
}

func (b *fakeBus) topics(prefix string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, j := range b.jobs {
		if strings.HasPrefix(j.Topic, prefix) {
			out = append(out, j.Topic)
		}
	}
	return out
}

func (b *fakeBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, j := range b.jobs {
		if j.Topic == topic {
			n++
		}
	}
	return n
}
