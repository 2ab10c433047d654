package hub

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/danmuck/elanbridge/internal/faults"
	"github.com/danmuck/elanbridge/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamListenDeliversIDsAndInvalidatesOnClose(t *testing.T) {
	testlog.Start(t)
	h := newFakeHub(t)
	h.stream = func(ctx context.Context, conn *websocket.Conn) {
		for _, msg := range []string{
			`{"device":"101","state":{}}`,
			`garbage`,
			`{"state":{}}`,
			`{"device":202}`,
		} {
			if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
				return
			}
		}
	}
	c := newTestClient(t, h)

	var mu sync.Mutex
	var ids []string
	err := c.StreamListen(context.Background(), func(id string) {
		mu.Lock()
		ids = append(ids, id)
		mu.Unlock()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrTransient)

	mu.Lock()
	assert.Equal(t, []string{"101", "202"}, ids)
	mu.Unlock()
	assert.Equal(t, StateDisconnected, c.State())
	assert.Empty(t, c.currentToken())
}

func TestStreamListenReturnsOnCancel(t *testing.T) {
	testlog.Start(t)
	h := newFakeHub(t)
	h.stream = func(ctx context.Context, conn *websocket.Conn) {
		<-ctx.Done()
	}
	c := newTestClient(t, h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.StreamListen(ctx, func(string) {}) }()

	require.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop on cancel")
	}
}

func TestStreamListenReadTimeoutEndsStream(t *testing.T) {
	testlog.Start(t)
	h := newFakeHub(t)
	h.stream = func(ctx context.Context, conn *websocket.Conn) {
		<-ctx.Done()
	}
	cfg := testConfig(h)
	cfg.StreamReadTimeout = 50 * time.Millisecond
	c, err := NewClient(cfg)
	require.NoError(t, err)
	defer c.Close()

	err = c.StreamListen(context.Background(), func(string) {})
	require.ErrorIs(t, err, faults.ErrTransient)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestStreamURLUpgradesScheme(t *testing.T) {
	testlog.Start(t)
	c, err := NewClient(Config{BaseURL: "https://hub.local/", Username: "admin"})
	require.NoError(t, err)
	assert.Equal(t, "wss://hub.local/api/ws", c.streamURL())

	c, err = NewClient(Config{BaseURL: "http://10.0.0.5", Username: "admin", StreamPath: "/ws"})
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.5/ws", c.streamURL())
}

func TestDecodeStreamEvent(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{name: "string id", in: `{"device":"abc"}`, want: "abc", ok: true},
		{name: "numeric id", in: `{"device":17}`, want: "17", ok: true},
		{name: "missing", in: `{"state":1}`},
		{name: "null", in: `{"device":null}`},
		{name: "empty", in: `{"device":""}`},
		{name: "object", in: `{"device":{"a":1}}`},
		{name: "not json", in: `{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeStreamEvent([]byte(tt.in))
			if !tt.ok {
				require.ErrorIs(t, err, faults.ErrProtocol)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchDevicesListsAndFetchesDescriptors(t *testing.T) {
	testlog.Start(t)
	h := newFakeHub(t)
	h.handle("/api/devices", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{
			"2": {"url": "`+h.server.URL+`/api/devices/2"},
			"1": {"url": "`+h.server.URL+`/api/devices/1"},
			"3": {"url": "`+h.server.URL+`/api/devices/missing"},
			"4": {}
		}`)
	})
	h.handle("/api/devices/1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"1","device info":{"address":11}}`)
	})
	h.handle("/api/devices/2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"2","device info":{"address":22}}`)
	})
	c := newTestClient(t, h)

	records, err := c.FetchDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, "1", records[0].ID)
	assert.JSONEq(t, `{"id":"1","device info":{"address":11}}`, string(records[0].Descriptor))
	assert.Equal(t, "2", records[1].ID)
	assert.Equal(t, "3", records[2].ID)
	assert.Nil(t, records[2].Descriptor)
	assert.Equal(t, "4", records[3].ID)
	assert.Empty(t, records[3].URL)
}

func TestFetchDevicesFailsWhenListingFails(t *testing.T) {
	testlog.Start(t)
	h := newFakeHub(t)
	c := newTestClient(t, h)

	_, err := c.FetchDevices(context.Background())
	require.ErrorIs(t, err, faults.ErrTransient)
}
