package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/edgewire/internal/netbuf"
	"github.com/danmuck/edgewire/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "test"
	cfg.BufferSize = 256
	cfg.MaxPoolNum = 4
	return cfg
}

// acquirePipe registers the server end of a pipe and returns the client end.
func acquirePipe(t *testing.T, reg *Registry) (*Channel, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	ch, err := reg.Acquire(server)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return ch, client
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for teardown")
	}
}

func echoHandler() HandlerFuncs {
	return HandlerFuncs{
		Receive: func(ch *Channel, buf *netbuf.Buffer) error {
			p, err := buf.Next(buf.Remaining())
			if err != nil {
				return err
			}
			return ch.Send(bytes.Clone(p))
		},
	}
}

func TestIDsSkipZeroAndLiveHolders(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry(testConfig(), nil)

	reg.nextID.Store(math.MaxUint32 - 1)
	a, _ := acquirePipe(t, reg)
	b, _ := acquirePipe(t, reg)
	require.Equal(t, uint32(math.MaxUint32), a.ID())
	require.Equal(t, uint32(1), b.ID(), "counter wraps past zero")

	reg.nextID.Store(math.MaxUint32 - 1)
	c, _ := acquirePipe(t, reg)
	require.Equal(t, uint32(2), c.ID(), "ids of live channels are skipped")
	require.Equal(t, 3, reg.Len())

	reg.CloseAll()
	reg.Wait()
	require.Equal(t, 0, reg.Len())
}

func TestEchoOverPipe(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry(testConfig(), echoHandler())
	ch, client := acquirePipe(t, reg)
	require.Equal(t, StateOpen, ch.State())

	_, err := client.Write([]byte("hello"))
	require.NoError(t, err)
	got := make([]byte, 5)
	_, err = io.ReadFull(client, got)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
	require.False(t, ch.LastActive().Before(ch.ConnectedAt()))
}

func TestCloseIsIdempotentAndPoolsChannel(t *testing.T) {
	testlog.Start(t)
	var opens, closes atomic.Int32
	reg := NewRegistry(testConfig(), HandlerFuncs{
		Open:  func(*Channel) { opens.Add(1) },
		Close: func(*Channel) { closes.Add(1) },
	})
	ch, _ := acquirePipe(t, reg)
	done := ch.Done()
	firstID := ch.ID()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ch.Close()
		}()
	}
	wg.Wait()
	waitDone(t, done)
	reg.Wait()

	require.Equal(t, int32(1), closes.Load())
	require.Equal(t, 0, reg.Len())
	require.Equal(t, 1, reg.PoolLen())
	require.ErrorIs(t, ch.Send([]byte("x")), ErrClosed)

	again, _ := acquirePipe(t, reg)
	require.Same(t, ch, again, "idle channel is reused")
	require.NotEqual(t, firstID, again.ID())
	require.Equal(t, 0, reg.PoolLen())
	require.Equal(t, int32(2), opens.Load())
}

func TestRemoteCloseTearsDown(t *testing.T) {
	testlog.Start(t)
	var cause atomic.Value
	reg := NewRegistry(testConfig(), HandlerFuncs{
		Close: func(ch *Channel) { cause.Store(errBox{ch.Err()}) },
	})
	ch, client := acquirePipe(t, reg)
	done := ch.Done()
	require.NoError(t, client.Close())
	waitDone(t, done)
	require.NoError(t, cause.Load().(errBox).err, "clean EOF is not an error")
}

type errBox struct{ err error }

func TestTeardownWaitsForInflightReceive(t *testing.T) {
	testlog.Start(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	reg := NewRegistry(testConfig(), HandlerFuncs{
		Receive: func(ch *Channel, buf *netbuf.Buffer) error {
			close(entered)
			<-release
			return buf.SetReadPos(buf.Len())
		},
	})
	ch, client := acquirePipe(t, reg)
	done := ch.Done()

	_, err := client.Write([]byte{1})
	require.NoError(t, err)
	<-entered
	require.NoError(t, ch.Close())

	select {
	case <-done:
		t.Fatalf("channel pooled while receive was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, 0, reg.PoolLen())
	close(release)
	waitDone(t, done)
	reg.Wait()
	require.Equal(t, 1, reg.PoolLen())
}

func TestBufferFullCloses(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.BufferSize = 64
	causes := make(chan error, 1)
	reg := NewRegistry(cfg, HandlerFuncs{
		Receive: func(*Channel, *netbuf.Buffer) error { return nil },
		Close:   func(ch *Channel) { causes <- ch.Err() },
	})
	_, client := acquirePipe(t, reg)

	go func() { _, _ = client.Write(make([]byte, 64)) }()
	select {
	case err := <-causes:
		require.ErrorIs(t, err, ErrBufferFull)
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed on full buffer")
	}
}

func TestSendBatchKeepsFramesContiguous(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry(testConfig(), nil)
	ch, client := acquirePipe(t, reg)

	const senders, perBatch = 16, 3
	var wg sync.WaitGroup
	for g := 0; g < senders; g++ {
		wg.Add(1)
		go func(g byte) {
			defer wg.Done()
			frames := make([][]byte, perBatch)
			for i := range frames {
				frames[i] = []byte{g, byte(i), 0xaa, 0xbb}
			}
			if err := ch.SendBatch(frames...); err != nil {
				t.Errorf("send batch: %v", err)
			}
		}(byte(g))
	}

	got := make([]byte, senders*perBatch*4)
	readErr := make(chan error, 1)
	go func() {
		_, err := io.ReadFull(client, got)
		readErr <- err
	}()
	wg.Wait()
	require.NoError(t, ch.Flush(context.Background()))
	require.NoError(t, <-readErr)

	seen := make(map[byte]bool)
	for off := 0; off < len(got); off += perBatch * 4 {
		g := got[off]
		require.False(t, seen[g], "sender %d appears twice", g)
		seen[g] = true
		for i := 0; i < perBatch; i++ {
			f := got[off+i*4 : off+i*4+4]
			require.Equal(t, []byte{g, byte(i), 0xaa, 0xbb}, f)
		}
	}
	require.Len(t, seen, senders)
}

func TestFlushHonoursContext(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry(testConfig(), nil)
	ch, _ := acquirePipe(t, reg)

	// nobody reads the pipe, so the writer stays blocked
	require.NoError(t, ch.Send([]byte("stuck")))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := ch.Flush(ctx)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	require.NoError(t, ch.Close())
}

func TestListenerAndConnectorLoopback(t *testing.T) {
	testlog.Start(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverReg := NewRegistry(testConfig(), echoHandler())
	l := NewListener(serverReg)
	stopped := make(chan error, 1)
	l.OnStop = func(err error) { stopped <- err }
	ln, err := l.Listen(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = l.Serve(ctx, ln) }()

	received := make(chan []byte, 1)
	clientReg := NewRegistry(testConfig(), HandlerFuncs{
		Receive: func(ch *Channel, buf *netbuf.Buffer) error {
			if buf.Remaining() < 4 {
				return nil
			}
			p, err := buf.Next(4)
			if err != nil {
				return err
			}
			received <- bytes.Clone(p)
			return nil
		},
	})
	conn := NewConnector(clientReg, ConnectConfig{Timeout: time.Second})
	ch, err := conn.Connect(ctx, ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ch.Send([]byte("ping")))

	select {
	case p := <-received:
		require.Equal(t, "ping", string(p))
	case <-time.After(2 * time.Second):
		t.Fatalf("no echo")
	}
	require.Eventually(t, func() bool { return serverReg.Len() == 1 }, time.Second, 5*time.Millisecond)

	require.ErrorIs(t, l.Serve(ctx, ln), ErrListenerStarted)
	cancel()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("listener did not stop")
	}
	serverReg.CloseAll()
	clientReg.CloseAll()
	serverReg.Wait()
	clientReg.Wait()
}

func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestConnectorRetriesThenReportsFailure(t *testing.T) {
	testlog.Start(t)
	addr := closedAddr(t)
	reg := NewRegistry(testConfig(), nil)

	var fails atomic.Int32
	c := NewConnector(reg, ConnectConfig{
		Timeout:     200 * time.Millisecond,
		Backoff:     BackoffConfig{InitialDelay: 5 * time.Millisecond, Multiplier: 1},
		MaxAttempts: 3,
	})
	c.OnFail = func(got string, err error) {
		require.Equal(t, addr, got)
		require.Error(t, err)
		fails.Add(1)
	}
	_, err := c.Connect(context.Background(), addr)
	require.Error(t, err)
	require.Equal(t, int32(3), fails.Load())

	fails.Store(0)
	once := NewConnector(reg, ConnectConfig{Timeout: 200 * time.Millisecond})
	once.OnFail = c.OnFail
	_, err = once.Connect(context.Background(), addr)
	require.Error(t, err)
	require.Equal(t, int32(1), fails.Load(), "no retry without a backoff delay")
}

func TestAcquireAfterCloseAllFails(t *testing.T) {
	testlog.Start(t)
	reg := NewRegistry(testConfig(), nil)
	reg.CloseAll()
	server, client := net.Pipe()
	defer client.Close()
	_, err := reg.Acquire(server)
	require.ErrorIs(t, err, ErrRegistryClosed)
	require.Equal(t, 0, reg.Len())
}
