package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/elanbridge/internal/auth"
	"github.com/danmuck/elanbridge/internal/faults"
	"github.com/danmuck/elanbridge/internal/logging"
	"github.com/danmuck/elanbridge/internal/observability"
	"github.com/danmuck/elanbridge/internal/retry"
	"github.com/rs/zerolog"
)

var (
	ErrBaseURLRequired  = errors.New("hub: base url required")
	ErrUsernameRequired = errors.New("hub: username required")
	ErrClosed           = errors.New("hub: client closed")
	ErrLoginWaitTimeout = errors.New("hub: timed out waiting for login")
	ErrNoSessionCookie  = errors.New("hub: login response carried no session cookie")
)

const (
	// SessionCookie carries the session token on every request.
	SessionCookie = "AuthAPI"

	requestAttempts = 3
	maxBodyBytes    = 4 << 20
)

// State is the session state machine.
type State int32

const (
	StateDisconnected State = iota
	StateAuthenticating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// loginAttempt is shared by every caller that arrives while a login runs.
type loginAttempt struct {
	done chan struct{}
	err  error
}

type Client struct {
	cfg   Config
	creds auth.Credentials
	http  *http.Client
	log   zerolog.Logger

	// lifetime bounds logins so a cancelled first caller does not abort
	// the attempt other callers are waiting on.
	lifetime context.Context
	shutdown context.CancelFunc

	mu       sync.Mutex
	token    string
	state    State
	inflight *loginAttempt
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrBaseURLRequired
	}
	if strings.TrimSpace(cfg.Username) == "" {
		return nil, ErrUsernameRequired
	}
	cfg = cfg.WithDefaults()
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	lifetime, shutdown := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		creds:    auth.NewCredentials(cfg.Username, cfg.Password),
		http:     cfg.HTTPClient,
		log:      logging.Component("hub").With().Str("hub", cfg.BaseURL).Logger(),
		lifetime: lifetime,
		shutdown: shutdown,
	}, nil
}

// WithLogger replaces the component logger.
func (c *Client) WithLogger(l zerolog.Logger) *Client {
	c.log = l
	return c
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close is terminal: the session is dropped and every later call fails
// with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	c.state = StateClosed
	c.token = ""
	c.mu.Unlock()
	c.shutdown()
	c.http.CloseIdleConnections()
	return nil
}

// Connect ensures a session exists. With force it logs in even when a
// session is held. Callers arriving during a login wait for its outcome
// instead of starting another; waiting is bounded by LoginWaitTimeout.
// A waiter that gives up fails with ErrLoginWaitTimeout; the login it
// waited on may still succeed.
func (c *Client) Connect(ctx context.Context, force bool) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.token != "" && !force {
		c.mu.Unlock()
		return nil
	}
	if att := c.inflight; att != nil {
		c.mu.Unlock()
		return c.awaitLogin(ctx, att, true)
	}
	att := &loginAttempt{done: make(chan struct{})}
	c.inflight = att
	c.token = ""
	c.state = StateAuthenticating
	c.mu.Unlock()

	go c.runLogin(att)
	return c.awaitLogin(ctx, att, false)
}

func (c *Client) awaitLogin(ctx context.Context, att *loginAttempt, bounded bool) error {
	var timeout <-chan time.Time
	if bounded {
		timer := time.NewTimer(c.cfg.LoginWaitTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-att.done:
		return att.err
	case <-timeout:
		return faults.Auth("%w after %s", ErrLoginWaitTimeout, c.cfg.LoginWaitTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) runLogin(att *loginAttempt) {
	token, err := c.loginWithRetry(c.lifetime)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight = nil
	switch {
	case c.state == StateClosed:
		err = ErrClosed
	case err != nil:
		c.state = StateDisconnected
	default:
		c.token = token
		c.state = StateConnected
	}
	att.err = err
	close(att.done)
}

func (c *Client) loginWithRetry(ctx context.Context) (string, error) {
	var token string
	r := retry.New(retry.Policy{Attempts: c.cfg.LoginAttempts, Backoff: c.cfg.Backoff}, retry.Always)
	err := r.Do(ctx, func(ctx context.Context, attempt int) error {
		t, err := c.login(ctx)
		observability.RecordHubLogin(err == nil)
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("hub login failed")
			return err
		}
		token = t
		return nil
	})
	if err != nil {
		return "", faults.Auth("login failed after %d attempts: %w", c.cfg.LoginAttempts, err)
	}
	c.log.Info().Msg("hub session established")
	return token, nil
}

func (c *Client) login(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	target := c.cfg.BaseURL + "/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(c.creds.Form().Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("post %s: %w", target, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("post %s: status %d: %s", target, resp.StatusCode, errorMessage(body))
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == SessionCookie && ck.Value != "" {
			return ck.Value, nil
		}
	}
	return "", ErrNoSessionCookie
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// invalidate drops the session only if it is still the one that failed;
// a newer session from a concurrent login is kept.
func (c *Client) invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed || token == "" || c.token != token {
		return
	}
	c.token = ""
	c.state = StateDisconnected
	c.log.Debug().Msg("hub session invalidated")
}

// Get fetches path. After the retries are exhausted the failure is logged
// and an empty result is returned alongside the error.
func (c *Client) Get(ctx context.Context, path string) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Error().Err(err).Str("url", c.resolve(path)).Msg("hub get failed")
		}
		return nil, err
	}
	return body, nil
}

// GetJSON fetches path and decodes it into dest.
func (c *Client) GetJSON(ctx context.Context, path string, dest any) error {
	body, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return faults.Protocol("decode %s: %w", c.resolve(path), err)
	}
	return nil
}

// Put sends body unmodified to path. Failures are returned to the caller.
func (c *Client) Put(ctx context.Context, path string, body []byte) ([]byte, error) {
	out, err := c.do(ctx, http.MethodPut, path, body)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Error().Err(err).Str("url", c.resolve(path)).Msg("hub put failed")
		}
		return nil, err
	}
	return out, nil
}

// do runs one request with up to requestAttempts attempts. A failed attempt
// invalidates the session it used, so the next attempt logs in again.
// Giving up on another caller's login is retried like a transient failure.
func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	target := c.resolve(path)
	var out []byte
	r := retry.New(retry.Policy{Attempts: requestAttempts, Backoff: c.cfg.Backoff}, retryableRequest)
	err := r.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := c.Connect(ctx, false); err != nil {
			return err
		}
		token := c.currentToken()
		resp, err := c.send(ctx, method, target, token, body)
		if err != nil {
			c.invalidate(token)
			c.log.Debug().Err(err).Str("url", target).Int("attempt", attempt).Msg("hub request failed")
			return err
		}
		out = resp
		return nil
	})
	return out, err
}

func retryableRequest(err error) bool {
	return faults.Retryable(err) || errors.Is(err, ErrLoginWaitTimeout)
}

func (c *Client) send(ctx context.Context, method, target, token string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, faults.Protocol("build %s %s: %w", method, target, err)
	}
	req.Header.Set("Cookie", SessionCookie+"="+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.RecordHubRequest(method, false, time.Since(start))
		return nil, faults.Transient("%s %s: %w", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	ok := err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300
	observability.RecordHubRequest(method, ok, time.Since(start))
	if err != nil {
		return nil, faults.Transient("%s %s: read body: %w", method, target, err)
	}
	if !ok {
		return nil, faults.Transient("%s %s: status %d: %s", method, target, resp.StatusCode, errorMessage(data))
	}
	return data, nil
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.cfg.BaseURL + path
}

// errorMessage extracts {"error":{"message":...}} or falls back to the
// raw body.
func errorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return msg
}
