package bus

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/elanbridge/internal/faults"
	"github.com/danmuck/elanbridge/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startPublisher(t *testing.T, c *Client) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.RunPublisher(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel, done
}

func TestNewClientRequiresURL(t *testing.T) {
	testlog.Start(t)
	_, err := NewClient(Config{})
	require.ErrorIs(t, err, ErrURLRequired)
}

func TestConnectIsIdempotentAndAnnouncesOnline(t *testing.T) {
	testlog.Start(t)
	n := newFakeNet()
	c, err := NewClient(testConfig(n))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 1, n.connectCount())
	assert.True(t, c.Connected())

	pubs := n.all()
	require.Len(t, pubs, 1)
	assert.Equal(t, "eLan/bridge/status", pubs[0].Topic)
	assert.Equal(t, "online", pubs[0].Payload)
	assert.True(t, pubs[0].Retained)
	assert.Regexp(t, regexp.MustCompile(`^elanbridge-[0-9a-f]{8}$`), pubs[0].ClientID)
}

func TestConnectRetriesWithBackoff(t *testing.T) {
	testlog.Start(t)
	n := newFakeNet()
	n.failConnects = 2
	c, err := NewClient(testConfig(n))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 3, n.connectCount())
	assert.True(t, c.Connected())
}

func TestConnectStopsOnCancel(t *testing.T) {
	testlog.Start(t)
	n := newFakeNet()
	n.failConnects = 1 << 20
	c, err := NewClient(testConfig(n))
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	err = c.Connect(ctx)
	require.Error(t, err)
	assert.Equal(t, faults.KindCanceled, faults.Classify(err))
	assert.False(t, c.Connected())
}

func TestPublisherPreservesEnqueueOrder(t *testing.T) {
	testlog.Start(t)
	n := newFakeNet()
	c, err := NewClient(testConfig(n))
	require.NoError(t, err)
	defer c.Close()

	c.Enqueue("eLan/a/status", []byte(`{"n":1}`), "a")
	c.Enqueue("eLan/b/status", []byte(`{"n":2}`), "b")
	c.Enqueue("eLan/c/status", []byte(`{"n":3}`), "c")
	assert.Equal(t, 3, c.QueueDepth())
	startPublisher(t, c)

	require.Eventually(t, func() bool { return len(n.topics("eLan/bridge/status")) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"eLan/a/status", "eLan/b/status", "eLan/c/status"}, n.topics("eLan/bridge/status"))
	assert.Equal(t, 0, c.QueueDepth())
}

func TestPublisherKeepsOrderAcrossReconnect(t *testing.T) {
	testlog.Start(t)
	n := newFakeNet()
	n.failPublish["eLan/a/status"] = 1
	c, err := NewClient(testConfig(n))
	require.NoError(t, err)
	defer c.Close()

	c.Enqueue("eLan/a/status", []byte(`A`), "a")
	c.Enqueue("eLan/b/status", []byte(`B`), "b")
	startPublisher(t, c)

	require.Eventually(t, func() bool { return len(n.topics("eLan/bridge/status")) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"eLan/a/status", "eLan/b/status"}, n.topics("eLan/bridge/status"))
	// the failed publish dropped the connection and a fresh one announced itself
	assert.Equal(t, 2, n.connectCount())
}

func TestPublisherDropsJobAfterAttempts(t *testing.T) {
	testlog.Start(t)
	n := newFakeNet()
	n.failPublish["eLan/x/status"] = 3
	c, err := NewClient(testConfig(n))
	require.NoError(t, err)
	defer c.Close()

	c.Enqueue("eLan/x/status", []byte(`X`), "x")
	c.Enqueue("eLan/y/status", []byte(`Y`), "y")
	startPublisher(t, c)

	require.Eventually(t, func() bool { return len(n.topics("eLan/bridge/status")) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"eLan/y/status"}, n.topics("eLan/bridge/status"))
}

func TestPublisherReturnsNilOnCancel(t *testing.T) {
	testlog.Start(t)
	n := newFakeNet()
	c, err := NewClient(testConfig(n))
	require.NoError(t, err)
	defer c.Close()

	cancel, done := startPublisherNoCleanup(c)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop")
	}
}

func startPublisherNoCleanup(c *Client) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.RunPublisher(ctx) }()
	return cancel, done
}

func TestCloseStopsPublisher(t *testing.T) {
	testlog.Start(t)
	n := newFakeNet()
	c, err := NewClient(testConfig(n))
	require.NoError(t, err)

	cancel, done := startPublisherNoCleanup(c)
	defer cancel()
	require.NoError(t, c.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publisher did not stop on close")
	}
	require.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
}

func TestSubscribeSerializesDeliveryAndDerivesKey(t *testing.T) {
	testlog.Start(t)
	n := newFakeNet()
	c, err := NewClient(testConfig(n))
	require.NoError(t, err)
	defer c.Close()

	var (
		mu       sync.Mutex
		keys     []string
		payloads []string
		active   atomic.Int32
		overlap  atomic.Bool
	)
	release := make(chan struct{})
	handler := func(ctx context.Context, key string, payload []byte) {
		if active.Add(1) > 1 {
			overlap.Store(true)
		}
		defer active.Add(-1)
		if key == "slow" {
			<-release
		}
		mu.Lock()
		keys = append(keys, key)
		payloads = append(payloads, string(payload))
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Subscribe(ctx, CommandFilter("eLan"), handler) }()
	require.Eventually(t, func() bool { return n.subscriberCount() == 1 }, time.Second, time.Millisecond)

	n.deliver(Message{Topic: "eLan/slow/command", Payload: []byte(`1`)})
	n.deliver(Message{Topic: "eLan/bad", Payload: []byte(`dropped`)})
	n.deliver(Message{Topic: "eLan/fast/command", Payload: []byte(`2`)})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, keys)
	mu.Unlock()
	close(release)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(keys) == 2
	}, time.Second, time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"slow", "fast"}, keys)
	assert.Equal(t, []string{"1", "2"}, payloads)
	mu.Unlock()
	assert.False(t, overlap.Load())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscribe did not stop")
	}
}

func TestSubscribeResubscribesAfterConnectionLoss(t *testing.T) {
	testlog.Start(t)
	n := newFakeNet()
	c, err := NewClient(testConfig(n))
	require.NoError(t, err)
	defer c.Close()

	got := make(chan string, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = c.Subscribe(ctx, CommandFilter("eLan"), func(ctx context.Context, key string, payload []byte) {
			got <- key
		})
	}()
	require.Eventually(t, func() bool { return n.subscriberCount() == 1 }, time.Second, time.Millisecond)

	n.dropSubscribers()
	require.Eventually(t, func() bool { return n.subscriberCount() == 1 && n.connectCount() == 2 }, time.Second, time.Millisecond)

	require.Equal(t, 1, n.deliver(Message{Topic: "eLan/after/command", Payload: []byte(`{}`)}))
	select {
	case key := <-got:
		assert.Equal(t, "after", key)
	case <-time.After(time.Second):
		t.Fatal("no delivery after resubscribe")
	}
}

func TestConnectionLossReleasesBlockedDeliveryAndCountsDrops(t *testing.T) {
	testlog.Start(t)
	n := newFakeNet()
	c, err := NewClient(testConfig(n))
	require.NoError(t, err)
	logger, logs := testlog.Capture(t)
	c.WithLogger(logger)
	defer c.Close()

	release := make(chan struct{})
	holding := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = c.Subscribe(ctx, CommandFilter("eLan"), func(ctx context.Context, key string, payload []byte) {
			if key == "slow" {
				close(holding)
				<-release
			}
		})
	}()
	require.Eventually(t, func() bool { return n.subscriberCount() == 1 }, time.Second, time.Millisecond)
	deliver := n.subscription()

	deliver(Message{Topic: "eLan/slow/command"})
	<-holding
	for i := 0; i < subscriptionBuffer; i++ {
		deliver(Message{Topic: "eLan/queued/command"})
	}

	stuck := make(chan struct{})
	go func() {
		deliver(Message{Topic: "eLan/late/command"})
		close(stuck)
	}()
	time.Sleep(10 * time.Millisecond)
	n.dropSubscribers()
	select {
	case <-stuck:
	case <-time.After(time.Second):
		t.Fatal("delivery stayed blocked after connection loss")
	}

	close(release)
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "subscription ended with undelivered messages")
	}, time.Second, time.Millisecond)
	assert.Contains(t, logs.String(), `"dropped":`)
	require.Eventually(t, func() bool { return n.subscriberCount() == 1 }, time.Second, time.Millisecond)
}

func TestPahoOptions(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(newFakeNet())
	cfg.URL = "mqtts://broker.test:8883"
	cfg.Username = "bridge"
	cfg.Password = "secret"
	cfg.QoS = 1

	opts := pahoOptions(cfg, "elanbridge-0011aabb")
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker.test:8883", opts.Servers[0].Host)
	assert.Equal(t, "elanbridge-0011aabb", opts.ClientID)
	assert.Equal(t, "bridge", opts.Username)
	assert.True(t, opts.WillEnabled)
	assert.Equal(t, "eLan/bridge/status", opts.WillTopic)
	assert.Equal(t, []byte("offline"), opts.WillPayload)
	assert.True(t, opts.WillRetained)
	assert.Equal(t, byte(1), opts.WillQos)
	assert.False(t, opts.AutoReconnect)
	require.NotNil(t, opts.TLSConfig)
}

func TestUseTLS(t *testing.T) {
	testlog.Start(t)
	for raw, want := range map[string]bool{
		"tcp://h:1883":   false,
		"mqtt://h:1883":  false,
		"ssl://h:8883":   true,
		"tls://h:8883":   true,
		"mqtts://h:8883": true,
		"::bad":          false,
	} {
		assert.Equal(t, want, useTLS(raw), raw)
	}
}
