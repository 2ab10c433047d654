package bus

import (
	"crypto/tls"
	"time"

	"github.com/danmuck/elanbridge/internal/retry"
)

// Config defines the broker endpoint, topic layout and delivery bounds.
type Config struct {
	URL             string
	Username        string
	Password        string
	ClientID        string
	TopicPrefix     string
	QoS             byte
	ConnectTimeout  time.Duration
	PublishTimeout  time.Duration
	PublishAttempts int
	Backoff         retry.BackoffConfig
	TLS             TLSConfig

	// NewBroker builds one broker connection. Nil means paho.
	NewBroker BrokerFactory

	tlsConf *tls.Config
}

func DefaultConfig() Config {
	return Config{
		URL:             "tcp://localhost:1883",
		ClientID:        "elanbridge",
		TopicPrefix:     "eLan",
		ConnectTimeout:  5 * time.Second,
		PublishTimeout:  5 * time.Second,
		PublishAttempts: 3,
		Backoff:         retry.DefaultBackoff(),
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.URL == "" {
		c.URL = def.URL
	}
	if c.ClientID == "" {
		c.ClientID = def.ClientID
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = def.TopicPrefix
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = def.PublishTimeout
	}
	if c.PublishAttempts <= 0 {
		c.PublishAttempts = def.PublishAttempts
	}
	if c.Backoff == (retry.BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	if c.NewBroker == nil {
		c.NewBroker = NewPahoBroker
	}
	return c
}
