package bus

import (
	"context"
	"crypto/tls"
	"sync"

	"github.com/danmuck/elanbridge/internal/faults"
	"github.com/danmuck/elanbridge/internal/logging"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const disconnectQuiesceMS = 250

type pahoBroker struct {
	cfg    Config
	client mqtt.Client
	log    zerolog.Logger

	mu   sync.Mutex
	lost chan struct{}
}

// NewPahoBroker is the production BrokerFactory.
func NewPahoBroker(cfg Config, clientID string) Broker {
	b := &pahoBroker{
		cfg:  cfg,
		log:  logging.Component("bus").With().Str("client_id", clientID).Logger(),
		lost: closedChan(),
	}
	opts := pahoOptions(cfg, clientID)
	opts.SetConnectionLostHandler(b.onConnectionLost)
	b.client = mqtt.NewClient(opts)
	return b
}

// pahoOptions maps Config onto paho options. Reconnect is driven by the
// bus client, so paho's own reconnect stays off.
func pahoOptions(cfg Config, clientID string) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	switch {
	case cfg.tlsConf != nil:
		opts.SetTLSConfig(cfg.tlsConf)
	case useTLS(cfg.URL):
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetWill(AvailabilityTopic(cfg.TopicPrefix), "offline", cfg.QoS, true)
	return opts
}

func (b *pahoBroker) Connect(ctx context.Context) error {
	b.mu.Lock()
	b.lost = make(chan struct{})
	b.mu.Unlock()

	if err := wait(ctx, b.client.Connect()); err != nil {
		b.signalLost()
		return faults.Transient("connect %s: %w", b.cfg.URL, err)
	}
	b.log.Debug().Str("url", b.cfg.URL).Msg("broker connected")
	return nil
}

func (b *pahoBroker) Publish(ctx context.Context, topic string, payload []byte, retained bool) error {
	if err := wait(ctx, b.client.Publish(topic, b.cfg.QoS, retained, payload)); err != nil {
		return faults.Transient("publish %s: %w", topic, err)
	}
	return nil
}

func (b *pahoBroker) Subscribe(ctx context.Context, filter string, deliver func(Message)) error {
	handler := func(_ mqtt.Client, m mqtt.Message) {
		deliver(Message{Topic: m.Topic(), Payload: m.Payload()})
	}
	if err := wait(ctx, b.client.Subscribe(filter, b.cfg.QoS, handler)); err != nil {
		return faults.Transient("subscribe %s: %w", filter, err)
	}
	return nil
}

func (b *pahoBroker) Lost() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lost
}

func (b *pahoBroker) IsConnected() bool {
	return b.client.IsConnectionOpen()
}

func (b *pahoBroker) Disconnect() {
	if b.client.IsConnected() {
		b.client.Disconnect(disconnectQuiesceMS)
	}
	b.signalLost()
}

func (b *pahoBroker) onConnectionLost(_ mqtt.Client, err error) {
	b.log.Warn().Err(err).Str("url", b.cfg.URL).Msg("broker connection lost")
	b.signalLost()
}

func (b *pahoBroker) signalLost() {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.lost:
	default:
		close(b.lost)
	}
}

// wait blocks on a paho token, bounded by ctx.
func wait(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
