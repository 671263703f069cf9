package broker

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/edgewire/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func startBroker(t *testing.T, bufferSize int) (*Broker, string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Session.Transport.BufferSize = bufferSize
	b := New(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	ln, err := b.Listen(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = b.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		_ = b.Close()
	})
	return b, ln.Addr().String()
}

func newSubscriber(t *testing.T, addr string, bufferSize int) *Subscriber {
	t.Helper()
	cfg := DefaultSubscriberConfig()
	cfg.Session.Transport.BufferSize = bufferSize
	cfg.Session.Backoff.InitialDelay = 0
	cfg.ReconnectDelay = 10 * time.Millisecond
	c := NewSubscriber(cfg)
	require.NoError(t, c.Connect(context.Background(), addr))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitSubscribers(t *testing.T, b *Broker, topic string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(b.Subscribers(topic)) == n
	}, 2*time.Second, 5*time.Millisecond, "topic %q never reached %d subscribers", topic, n)
}

func TestWeatherScenario(t *testing.T) {
	testlog.Start(t)
	b, addr := startBroker(t, 1024)
	c := newSubscriber(t, addr, 1024)

	got := make(chan string, 1)
	require.NoError(t, c.Subscribe("weather", func(topic string, payload []byte) {
		got <- topic + "=" + string(payload)
	}))
	waitSubscribers(t, b, "weather", 1)

	require.Equal(t, 1, b.Publish("weather", []byte("22C")))
	select {
	case msg := <-got:
		require.Equal(t, "weather=22C", msg)
	case <-time.After(2 * time.Second):
		t.Fatalf("no delivery")
	}
	require.Equal(t, 0, b.Publish("traffic", []byte("jam")))
}

func TestConcurrentPublishersReachEveryOtherSubscriberOnce(t *testing.T) {
	testlog.Start(t)
	const subscribers, perPublisher = 5, 20
	b, addr := startBroker(t, 1024)

	var mu sync.Mutex
	received := make([]map[string]int, subscribers)
	clients := make([]*Subscriber, subscribers)
	for i := range clients {
		i := i
		received[i] = make(map[string]int)
		clients[i] = newSubscriber(t, addr, 1024)
		require.NoError(t, clients[i].Subscribe("chat", func(_ string, payload []byte) {
			mu.Lock()
			received[i][string(payload)]++
			mu.Unlock()
		}))
	}
	waitSubscribers(t, b, "chat", subscribers)

	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c *Subscriber) {
			defer wg.Done()
			for j := 0; j < perPublisher; j++ {
				if err := c.Publish("chat", []byte(fmt.Sprintf("%d/%d", i, j))); err != nil {
					t.Errorf("publish: %v", err)
				}
			}
		}(i, c)
	}
	wg.Wait()

	want := (subscribers - 1) * perPublisher
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for i := range received {
			if len(received[i]) != want {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	for i := range received {
		for msg, n := range received[i] {
			require.Equal(t, 1, n, "subscriber %d got %q %d times", i, msg, n)
			var from, seq int
			_, err := fmt.Sscanf(msg, "%d/%d", &from, &seq)
			require.NoError(t, err)
			require.NotEqual(t, i, from, "publisher received its own message")
		}
	}
}

func TestClosedSubscriberLeavesEveryTopic(t *testing.T) {
	testlog.Start(t)
	b, addr := startBroker(t, 1024)
	gone := newSubscriber(t, addr, 1024)
	stays := newSubscriber(t, addr, 1024)
	noop := func(string, []byte) {}
	for _, topic := range []string{"a", "b"} {
		require.NoError(t, gone.Subscribe(topic, noop))
	}
	require.NoError(t, stays.Subscribe("a", noop))
	waitSubscribers(t, b, "a", 2)
	waitSubscribers(t, b, "b", 1)
	require.Len(t, b.Channels(), 2)

	require.NoError(t, gone.Close())
	waitSubscribers(t, b, "a", 1)
	waitSubscribers(t, b, "b", 0)
	require.Equal(t, map[string]int{"a": 1}, b.Topics())
	require.Equal(t, 1, b.Publish("a", []byte("x")))
	require.Equal(t, 0, b.Publish("b", []byte("x")))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	testlog.Start(t)
	b, addr := startBroker(t, 1024)
	c := newSubscriber(t, addr, 1024)
	require.NoError(t, c.Subscribe("news", func(string, []byte) {}))
	waitSubscribers(t, b, "news", 1)

	require.NoError(t, c.Unsubscribe("news"))
	waitSubscribers(t, b, "news", 0)
	require.Empty(t, c.Topics())
	require.True(t, c.Connected())
}

func TestLargePublishIsFragmentedAndReassembled(t *testing.T) {
	testlog.Start(t)
	payload := make([]byte, 20000)
	rand.New(rand.NewSource(9)).Read(payload)

	b, addr := startBroker(t, 4096)
	c := newSubscriber(t, addr, 4096)
	got := make(chan []byte, 1)
	require.NoError(t, c.Subscribe("blob", func(_ string, p []byte) { got <- p }))
	waitSubscribers(t, b, "blob", 1)

	require.Equal(t, 1, b.Publish("blob", payload))
	select {
	case p := <-got:
		require.Len(t, p, 20000)
		require.True(t, bytes.Equal(payload, p))
	case <-time.After(3 * time.Second):
		t.Fatalf("large message not delivered")
	}
}

func TestSubscriberResubscribesAfterReconnect(t *testing.T) {
	testlog.Start(t)
	b, addr := startBroker(t, 1024)
	c := newSubscriber(t, addr, 1024)
	lost := make(chan struct{}, 1)
	c.OnLost = func(error) { lost <- struct{}{} }
	require.NoError(t, c.Subscribe("t", func(string, []byte) {}))
	waitSubscribers(t, b, "t", 1)
	first := b.Subscribers("t")[0]

	for _, s := range b.Server().Sessions() {
		require.NoError(t, s.Close())
	}
	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatalf("loss not reported")
	}
	require.Eventually(t, func() bool {
		ids := b.Subscribers("t")
		return len(ids) == 1 && ids[0] != first
	}, 3*time.Second, 10*time.Millisecond)
	require.True(t, c.Connected())
}

func TestSubscriberRequiresConnection(t *testing.T) {
	testlog.Start(t)
	c := NewSubscriber(DefaultSubscriberConfig())
	defer c.Close()
	require.ErrorIs(t, c.Publish("x", nil), ErrNotConnected)
	require.NoError(t, c.Subscribe("x", func(string, []byte) {}), "queued until connect")
	require.ErrorIs(t, c.Subscribe("", func(string, []byte) {}), ErrEmptyTopic)
	require.Equal(t, []string{"x"}, c.Topics())
}

func TestDisconnectDropsSubscriptions(t *testing.T) {
	testlog.Start(t)
	b, addr := startBroker(t, 1024)
	require.Eventually(t, func() bool {
		addrs := b.Addrs()
		return len(addrs) == 1 && addrs[0] == addr
	}, 2*time.Second, 5*time.Millisecond)
	cfg := DefaultSubscriberConfig()
	cfg.Reconnect = false
	c := NewSubscriber(cfg)
	require.NoError(t, c.Connect(context.Background(), addr))
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Subscribe("x", func(string, []byte) {}))
	waitSubscribers(t, b, "x", 1)

	id := b.Subscribers("x")[0]
	require.True(t, b.Disconnect(id))
	waitSubscribers(t, b, "x", 0)
	require.False(t, b.Disconnect(id))
	require.Eventually(t, func() bool { return !c.Connected() }, 2*time.Second, 5*time.Millisecond)
}
