package hub

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/danmuck/elanbridge/internal/auth"
	"github.com/danmuck/elanbridge/internal/retry"
)

// fakeHub is a loopback hub speaking the login, REST and stream surface.
type fakeHub struct {
	t      *testing.T
	server *httptest.Server

	logins     atomic.Int32
	loginDelay time.Duration
	// firstLoginDelay stalls only the first login.
	firstLoginDelay time.Duration
	loginFail       atomic.Bool
	tokenSeq        atomic.Int32

	mu       sync.Mutex
	routes   map[string]http.HandlerFunc
	puts     [][]byte
	stream   func(ctx context.Context, conn *websocket.Conn)
	tokens   []string
	lastForm map[string]string
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	h := &fakeHub{t: t, routes: map[string]http.HandlerFunc{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/login", h.handleLogin)
	mux.HandleFunc("/api/ws", h.handleStream)
	mux.HandleFunc("/", h.handleRoute)
	h.server = httptest.NewServer(mux)
	t.Cleanup(h.server.Close)
	return h
}

func (h *fakeHub) handle(path string, fn http.HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes[path] = fn
}

func (h *fakeHub) handleLogin(w http.ResponseWriter, r *http.Request) {
	n := h.logins.Add(1)
	if h.loginDelay > 0 {
		time.Sleep(h.loginDelay)
	}
	if n == 1 && h.firstLoginDelay > 0 {
		time.Sleep(h.firstLoginDelay)
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	h.mu.Lock()
	h.lastForm = map[string]string{"name": r.PostForm.Get("name"), "key": r.PostForm.Get("key")}
	h.mu.Unlock()
	if h.loginFail.Load() {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"message":"bad credentials"}}`)
		return
	}
	token := "tok-" + strconv.Itoa(int(h.tokenSeq.Add(1)))
	h.mu.Lock()
	h.tokens = append(h.tokens, token)
	h.mu.Unlock()
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: token})
	w.WriteHeader(http.StatusOK)
}

func (h *fakeHub) authorized(r *http.Request) bool {
	ck, err := r.Cookie(SessionCookie)
	if err != nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, tok := range h.tokens {
		if tok == ck.Value {
			return true
		}
	}
	return false
}

// revokeAll makes every issued token stale, like a hub restart.
func (h *fakeHub) revokeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tokens = nil
}

func (h *fakeHub) handleRoute(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"not authorized"}}`)
		return
	}
	if r.Method == http.MethodPut {
		body, _ := io.ReadAll(r.Body)
		h.mu.Lock()
		h.puts = append(h.puts, body)
		h.mu.Unlock()
	}
	h.mu.Lock()
	fn := h.routes[r.URL.Path]
	h.mu.Unlock()
	if fn == nil {
		http.NotFound(w, r)
		return
	}
	fn(w, r)
}

func (h *fakeHub) handleStream(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.CloseNow() }()
	h.mu.Lock()
	fn := h.stream
	h.mu.Unlock()
	if fn != nil {
		fn(r.Context(), conn)
	}
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func (h *fakeHub) putBodies() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.puts))
	copy(out, h.puts)
	return out
}

func testConfig(h *fakeHub) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = h.server.URL
	cfg.Username = "admin"
	cfg.Password = "elkoep"
	cfg.RequestTimeout = 2 * time.Second
	cfg.LoginWaitTimeout = 2 * time.Second
	cfg.StreamReadTimeout = 2 * time.Second
	cfg.Backoff = retry.BackoffConfig{
		InitialDelay: time.Millisecond,
		Multiplier:   1,
		MaxDelay:     2 * time.Millisecond,
	}
	return cfg
}

func newTestClient(t *testing.T, h *fakeHub) *Client {
	t.Helper()
	c, err := NewClient(testConfig(h))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func expectedKey() string {
	return auth.NewCredentials("admin", "elkoep").Key
}
