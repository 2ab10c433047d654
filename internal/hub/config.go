package hub

import (
	"net/http"
	"time"

	"github.com/danmuck/elanbridge/internal/retry"
)

// Config defines hub endpoints, credentials and I/O bounds.
// LoginWaitTimeout bounds how long a caller waits on a login started by
// another caller; zero means the full LoginBudget.
type Config struct {
	BaseURL           string
	Username          string
	Password          string
	DevicesPath       string
	StreamPath        string
	RequestTimeout    time.Duration
	LoginAttempts     int
	LoginWaitTimeout  time.Duration
	StreamReadTimeout time.Duration
	Backoff           retry.BackoffConfig

	// HTTPClient must not set Timeout; every call is bounded through its
	// context instead so the websocket handshake can share the client.
	HTTPClient *http.Client
}

func DefaultConfig() Config {
	return Config{
		DevicesPath:       "/api/devices",
		StreamPath:        "/api/ws",
		RequestTimeout:    10 * time.Second,
		LoginAttempts:     3,
		StreamReadTimeout: 30 * time.Second,
		Backoff: retry.BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.DevicesPath == "" {
		c.DevicesPath = def.DevicesPath
	}
	if c.StreamPath == "" {
		c.StreamPath = def.StreamPath
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.LoginAttempts <= 0 {
		c.LoginAttempts = def.LoginAttempts
	}
	if c.StreamReadTimeout <= 0 {
		c.StreamReadTimeout = def.StreamReadTimeout
	}
	if c.Backoff == (retry.BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.LoginWaitTimeout <= 0 {
		c.LoginWaitTimeout = c.LoginBudget()
	}
	return c
}

// LoginBudget is the longest a login can take: every attempt running to
// RequestTimeout plus the worst-case backoff between attempts.
func (c Config) LoginBudget() time.Duration {
	budget := time.Duration(c.LoginAttempts) * c.RequestTimeout
	b := c.Backoff
	jitter := b.Jitter
	b.Jitter = false
	for attempt := 1; attempt < c.LoginAttempts; attempt++ {
		d := retry.NextDelay(b, attempt, nil)
		if jitter && attempt > 1 {
			d = d * 3 / 2
			if b.MaxDelay > 0 && d > b.MaxDelay {
				d = b.MaxDelay
			}
		}
		budget += d
	}
	return budget
}
