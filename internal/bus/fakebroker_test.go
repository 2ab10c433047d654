package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/danmuck/elanbridge/internal/retry"
)

type published struct {
	ClientID string
	Topic    string
	Payload  string
	Retained bool
}

// fakeNet is an in-memory broker shared by every connection it creates.
type fakeNet struct {
	mu           sync.Mutex
	connects     int
	failConnects int
	failPublish  map[string]int
	publishes    []published
	brokers      []*fakeBroker
	subscribers  map[*fakeBroker]func(Message)
}

func newFakeNet() *fakeNet {
	return &fakeNet{
		failPublish: map[string]int{},
		subscribers: map[*fakeBroker]func(Message){},
	}
}

func (n *fakeNet) factory(_ Config, clientID string) Broker {
	b := &fakeBroker{net: n, clientID: clientID, lost: make(chan struct{})}
	n.mu.Lock()
	n.brokers = append(n.brokers, b)
	n.mu.Unlock()
	return b
}

// deliver sends m to every live subscription and reports how many got it.
func (n *fakeNet) deliver(m Message) int {
	n.mu.Lock()
	subs := make([]func(Message), 0, len(n.subscribers))
	for _, fn := range n.subscribers {
		subs = append(subs, fn)
	}
	n.mu.Unlock()
	for _, fn := range subs {
		fn(m)
	}
	return len(subs)
}

// subscription returns the deliver callback of one live subscription.
func (n *fakeNet) subscription() func(Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, fn := range n.subscribers {
		return fn
	}
	return nil
}

func (n *fakeNet) subscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subscribers)
}

func (n *fakeNet) dropSubscribers() {
	n.mu.Lock()
	var bs []*fakeBroker
	for b := range n.subscribers {
		bs = append(bs, b)
	}
	n.mu.Unlock()
	for _, b := range bs {
		b.drop()
	}
}

func (n *fakeNet) topics(exclude string) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, p := range n.publishes {
		if p.Topic == exclude {
			continue
		}
		out = append(out, p.Topic)
	}
	return out
}

func (n *fakeNet) all() []published {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]published, len(n.publishes))
	copy(out, n.publishes)
	return out
}

func (n *fakeNet) connectCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connects
}

type fakeBroker struct {
	net      *fakeNet
	clientID string

	mu        sync.Mutex
	connected bool
	lost      chan struct{}
}

func (b *fakeBroker) Connect(ctx context.Context) error {
	b.net.mu.Lock()
	b.net.connects++
	if b.net.failConnects > 0 {
		b.net.failConnects--
		b.net.mu.Unlock()
		return errors.New("connection refused")
	}
	b.net.mu.Unlock()
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()
	return ctx.Err()
}

func (b *fakeBroker) Publish(_ context.Context, topic string, payload []byte, retained bool) error {
	if !b.IsConnected() {
		return errors.New("not connected")
	}
	b.net.mu.Lock()
	defer b.net.mu.Unlock()
	if b.net.failPublish[topic] > 0 {
		b.net.failPublish[topic]--
		return errors.New("publish timeout")
	}
	b.net.publishes = append(b.net.publishes, published{
		ClientID: b.clientID, Topic: topic, Payload: string(payload), Retained: retained,
	})
	return nil
}

func (b *fakeBroker) Subscribe(_ context.Context, _ string, deliver func(Message)) error {
	if !b.IsConnected() {
		return errors.New("not connected")
	}
	b.net.mu.Lock()
	b.net.subscribers[b] = deliver
	b.net.mu.Unlock()
	return nil
}

func (b *fakeBroker) Lost() <-chan struct{} {
	return b.lost
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) Disconnect() {
	b.drop()
}

func (b *fakeBroker) drop() {
	b.net.mu.Lock()
	delete(b.net.subscribers, b)
	b.net.mu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	select {
	case <-b.lost:
	default:
		close(b.lost)
	}
}

func testConfig(n *fakeNet) Config {
	return Config{
		URL:             "tcp://broker.test:1883",
		ClientID:        "elanbridge",
		TopicPrefix:     "eLan",
		ConnectTimeout:  time.Second,
		PublishTimeout:  time.Second,
		PublishAttempts: 3,
		Backoff: retry.BackoffConfig{
			InitialDelay: time.Millisecond,
			Multiplier:   1,
			MaxDelay:     2 * time.Millisecond,
		},
		NewBroker: n.factory,
	}
}
