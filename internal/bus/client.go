package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/elanbridge/internal/faults"
	"github.com/danmuck/elanbridge/internal/logging"
	"github.com/danmuck/elanbridge/internal/observability"
	"github.com/danmuck/elanbridge/internal/retry"
	"github.com/rs/zerolog"
)

var (
	ErrURLRequired = errors.New("bus: url required")
	ErrClosed      = errors.New("bus: client closed")
)

const subscriptionBuffer = 64

// Client publishes queued jobs over one connection and serves command
// subscriptions over their own connections.
type Client struct {
	cfg   Config
	log   zerolog.Logger
	queue *Queue

	lifetime context.Context
	shutdown context.CancelFunc
	closed   atomic.Bool

	// connMu guards pub; only one connect runs at a time.
	connMu    sync.Mutex
	pub       Broker
	connected atomic.Bool
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrURLRequired
	}
	cfg = cfg.WithDefaults()
	if err := cfg.TLS.Validate(cfg.URL); err != nil {
		return nil, err
	}
	if useTLS(cfg.URL) {
		tc, err := cfg.TLS.Build()
		if err != nil {
			return nil, err
		}
		cfg.tlsConf = tc
	}
	lifetime, shutdown := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		log:      logging.Component("bus").With().Str("bus", cfg.URL).Logger(),
		queue:    NewQueue(),
		lifetime: lifetime,
		shutdown: shutdown,
	}, nil
}

// WithLogger replaces the component logger.
func (c *Client) WithLogger(l zerolog.Logger) *Client {
	c.log = l
	return c
}

// Connected reports whether the publisher connection is up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) QueueDepth() int {
	return c.queue.Len()
}

// Connect is idempotent. If the publisher connection is missing or has
// dropped it reconnects with capped exponential backoff until it succeeds
// or ctx ends.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.ensureConnected(ctx)
	return err
}

func (c *Client) ensureConnected(ctx context.Context) (Broker, error) {
	ctx, cancel := c.bound(ctx)
	defer cancel()

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.pub != nil && c.pub.IsConnected() {
		return c.pub, nil
	}
	if c.pub != nil {
		c.pub.Disconnect()
		c.pub = nil
		c.connected.Store(false)
	}

	b, err := c.dial(ctx, "publisher")
	if err != nil {
		return nil, err
	}
	c.announce(ctx, b)
	c.pub = b
	c.connected.Store(true)
	return b, nil
}

// dial connects a fresh broker, retrying until ctx ends.
func (c *Client) dial(ctx context.Context, role string) (Broker, error) {
	var b Broker
	r := retry.New(retry.Policy{Backoff: c.cfg.Backoff}, retry.Always)
	err := r.Do(ctx, func(ctx context.Context, attempt int) error {
		clientID := newClientID(c.cfg.ClientID)
		candidate := c.cfg.NewBroker(c.cfg, clientID)
		cctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
		if err := candidate.Connect(cctx); err != nil {
			candidate.Disconnect()
			c.log.Warn().Err(err).Str("role", role).Int("attempt", attempt).Msg("bus connect failed")
			return err
		}
		c.log.Info().Str("role", role).Str("client_id", clientID).Msg("bus connected")
		b = candidate
		return nil
	})
	if err != nil {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		return nil, err
	}
	return b, nil
}

// announce publishes the retained online marker that the last will
// replaces with offline.
func (c *Client) announce(ctx context.Context, b Broker) {
	pctx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()
	topic := AvailabilityTopic(c.cfg.TopicPrefix)
	if err := b.Publish(pctx, topic, []byte("online"), true); err != nil {
		c.log.Warn().Err(err).Str("topic", topic).Msg("bus availability publish failed")
	}
}

func (c *Client) dropPublisher(b Broker) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.pub != b || b == nil {
		return
	}
	b.Disconnect()
	c.pub = nil
	c.connected.Store(false)
}

// Enqueue appends a publish job. It never blocks on bus availability.
func (c *Client) Enqueue(topic string, payload []byte, label string) {
	c.queue.Push(Job{Topic: topic, Payload: payload, Label: label, QueuedAt: time.Now()})
	observability.SetBusQueueDepth(c.queue.Len())
}

// RunPublisher is the single queue consumer. Jobs are published one at a
// time in FIFO order; the loop sleeps while the queue is empty and returns
// nil once ctx ends.
func (c *Client) RunPublisher(ctx context.Context) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	for {
		job, ok := c.queue.Next(ctx)
		if !ok {
			return nil
		}
		observability.SetBusQueueDepth(c.queue.Len())
		c.publish(ctx, job)
	}
}

// publish retries one job up to PublishAttempts, reconnecting between
// attempts, then drops it.
func (c *Client) publish(ctx context.Context, job Job) {
	log := c.log.With().Str("topic", job.Topic).Str("label", job.Label).Logger()
	r := retry.New(retry.Policy{Attempts: c.cfg.PublishAttempts, Backoff: c.cfg.Backoff}, faults.Retryable)
	err := r.Do(ctx, func(ctx context.Context, attempt int) error {
		b, err := c.ensureConnected(ctx)
		if err != nil {
			return err
		}
		pctx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
		defer cancel()
		if err := b.Publish(pctx, job.Topic, job.Payload, job.Retained); err != nil {
			observability.RecordBusPublish(false)
			log.Warn().Err(err).Int("attempt", attempt).Msg("bus publish failed")
			c.dropPublisher(b)
			if faults.Classify(err) == faults.KindUnknown {
				return faults.Transient("publish %s: %w", job.Topic, err)
			}
			return err
		}
		observability.RecordBusPublish(true)
		return nil
	})
	switch {
	case err == nil:
		log.Debug().Dur("queued_for", time.Since(job.QueuedAt)).Msg("published")
	case ctx.Err() != nil:
		log.Debug().Msg("publish abandoned on shutdown")
	default:
		log.Error().Err(err).Int("attempts", c.cfg.PublishAttempts).Msg("dropping publish job")
	}
}

// MessageHandler handles one inbound message. key is the device key taken
// from the topic.
type MessageHandler func(ctx context.Context, key string, payload []byte)

// Subscribe opens one subscription on filter over its own connection and
// calls onMessage for each message, one at a time. A dropped connection is
// reopened with backoff. It returns nil once ctx ends.
func (c *Client) Subscribe(ctx context.Context, filter string, onMessage MessageHandler) error {
	ctx, cancel := c.bound(ctx)
	defer cancel()
	log := c.log.With().Str("filter", filter).Logger()

	rounds := 0
	for {
		b, err := c.dial(ctx, "subscriber")
		if err != nil {
			return nil
		}
		served := c.serve(ctx, b, filter, onMessage, log)
		b.Disconnect()
		if ctx.Err() != nil {
			return nil
		}
		if served {
			rounds = 0
		}
		rounds++
		delay := retry.NextDelay(c.cfg.Backoff, rounds, nil)
		log.Warn().Dur("retry_in", delay).Msg("subscription lost; resubscribing")
		if err := retry.Sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

// serve runs one subscription until the connection drops or ctx ends.
// served reports whether the subscription was established. Messages still
// buffered when the connection ends are dropped; a delivery blocked on a
// full buffer is released as soon as the connection is lost.
func (c *Client) serve(ctx context.Context, b Broker, filter string, onMessage MessageHandler, log zerolog.Logger) bool {
	connCtx, stop := context.WithCancel(ctx)
	msgs := make(chan Message, subscriptionBuffer)
	lost := b.Lost()
	go func() {
		select {
		case <-lost:
			stop()
		case <-connCtx.Done():
		}
	}()
	defer func() {
		stop()
		if n := drain(msgs); n > 0 {
			log.Warn().Int("dropped", n).Msg("subscription ended with undelivered messages")
		}
	}()

	deliver := func(m Message) {
		select {
		case msgs <- m:
		case <-connCtx.Done():
		}
	}
	sctx, cancel := context.WithTimeout(connCtx, c.cfg.ConnectTimeout)
	err := b.Subscribe(sctx, filter, deliver)
	cancel()
	if err != nil {
		log.Warn().Err(err).Msg("bus subscribe failed")
		return false
	}
	log.Info().Msg("subscribed")

	for {
		select {
		case <-ctx.Done():
			return true
		case <-lost:
			return true
		case m := <-msgs:
			key, err := DeviceKey(m.Topic)
			if err != nil {
				log.Warn().Err(err).Str("topic", m.Topic).Msg("dropping message")
				continue
			}
			onMessage(ctx, key, m.Payload)
		}
	}
}

func drain(msgs <-chan Message) int {
	n := 0
	for {
		select {
		case <-msgs:
			n++
		default:
			return n
		}
	}
}

// Close disconnects the publisher and stops every loop of this client.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.shutdown()
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.pub != nil {
		c.pub.Disconnect()
		c.pub = nil
	}
	c.connected.Store(false)
	return nil
}

// bound ties ctx to the client lifetime so Close interrupts waits.
func (c *Client) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(c.lifetime, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
