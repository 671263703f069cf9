package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgewire/internal/netbuf"
	"github.com/danmuck/edgewire/internal/observability"
	"github.com/eapache/queue"
	"github.com/valyala/bytebufferpool"
)

var (
	ErrClosed     = errors.New("transport: channel closed")
	ErrBufferFull = errors.New("transport: receive buffer full")
)

// maxCoalesce caps how many queued bytes the writer joins into one write.
const maxCoalesce = 64 * 1024

type State int32

const (
	StateIdle State = iota
	StateInitializing
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Channel is one live connection. Channels are pooled by their Registry, so
// a *Channel must not be used after Done is closed.
type Channel struct {
	reg *Registry

	id    atomic.Uint32
	state atomic.Int32

	conn        net.Conn
	remote      string
	connectedAt time.Time
	lastActive  atomic.Int64

	// recv is written only by the receive goroutine.
	recv *netbuf.Buffer

	mu      sync.Mutex
	cond    *sync.Cond
	out     *queue.Queue
	writing bool
	cause   error
	done    chan struct{}

	// io gates teardown until both I/O goroutines have returned.
	io sync.WaitGroup

	attachment atomic.Value
}

type attachment struct {
	v any
}

func newChannel(reg *Registry) *Channel {
	c := &Channel{
		reg:  reg,
		recv: netbuf.New(reg.cfg.BufferSize),
		out:  queue.New(),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Channel) ID() uint32         { return c.id.Load() }
func (c *Channel) Kind() string       { return c.reg.cfg.Name }
func (c *Channel) RemoteAddr() string { return c.remote }
func (c *Channel) ConnectedAt() time.Time {
	return c.connectedAt
}

// LastActive is the time of the last successful read or write.
func (c *Channel) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

func (c *Channel) State() State { return State(c.state.Load()) }

func (c *Channel) Closed() bool { return !c.sendable() }

// Done is closed once teardown has finished and the channel is about to be
// pooled.
func (c *Channel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns why the channel closed; nil for an explicit Close.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// Attachment returns the per-kind state stored with SetAttachment.
func (c *Channel) Attachment() any {
	a, _ := c.attachment.Load().(attachment)
	return a.v
}

// SetAttachment stores per-kind state that survives pooling; Handler
// implementations usually set it once in OnOpen.
func (c *Channel) SetAttachment(v any) {
	c.attachment.Store(attachment{v: v})
}

// Send queues one frame. The slice is owned by the channel afterwards.
func (c *Channel) Send(frame []byte) error {
	return c.SendBatch(frame)
}

// SendBatch queues frames so they are written back to back, with no frame
// from another Send in between.
func (c *Channel) SendBatch(frames ...[]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sendable() {
		return ErrClosed
	}
	for _, f := range frames {
		if len(f) == 0 {
			continue
		}
		c.out.Add(f)
	}
	c.cond.Broadcast()
	return nil
}

// Flush blocks until every queued frame has been handed to the socket.
func (c *Channel) Flush(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		c.mu.Lock()
		c.cond.Broadcast()
		c.mu.Unlock()
	})
	defer stop()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.out.Length() > 0 || c.writing {
		if !c.sendable() {
			return ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		c.cond.Wait()
	}
	if !c.sendable() {
		return ErrClosed
	}
	return nil
}

// Pending is the number of frames waiting for the writer.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Length()
}

// Close shuts the socket down. Queued frames that were not yet written are
// dropped; call Flush first to drain them. Close is safe to call repeatedly.
func (c *Channel) Close() error {
	c.closeWith(nil)
	return nil
}

func (c *Channel) sendable() bool {
	s := c.State()
	return s == StateInitializing || s == StateOpen
}

func (c *Channel) closeWith(cause error) bool {
	c.mu.Lock()
	s := c.State()
	if s != StateInitializing && s != StateOpen {
		c.mu.Unlock()
		return false
	}
	c.state.Store(int32(StateClosing))
	c.cause = cause
	c.cond.Broadcast()
	c.mu.Unlock()

	_ = c.conn.Close()
	go c.finalize()
	return true
}

func (c *Channel) finalize() {
	c.io.Wait()
	c.reg.release(c)
}

func (c *Channel) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// init binds a pooled channel to conn. Both I/O goroutines are counted
// here so a close during Handler.OnOpen still waits for start.
func (c *Channel) init(conn net.Conn) {
	now := time.Now()
	c.conn = conn
	c.remote = ""
	if addr := conn.RemoteAddr(); addr != nil {
		c.remote = addr.String()
	}
	c.connectedAt = now
	c.lastActive.Store(now.UnixNano())
	c.recv.SetCap(c.reg.cfg.BufferSize)
	c.recv.Clear()

	c.mu.Lock()
	c.cause = nil
	c.writing = false
	c.done = make(chan struct{})
	c.state.Store(int32(StateInitializing))
	c.mu.Unlock()

	c.io.Add(2)
	c.configureKeepAlive()
}

func (c *Channel) configureKeepAlive() {
	tc, ok := c.conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(true)
	err := tc.SetKeepAliveConfig(net.KeepAliveConfig{
		Enable:   true,
		Idle:     c.reg.cfg.KeepAliveIdle,
		Interval: c.reg.cfg.KeepAliveInterval,
		Count:    3,
	})
	if err != nil {
		c.reg.log.Debug().Err(err).Str("remote", c.remote).Msg("keepalive config failed")
	}
}

// start moves the channel to open and launches its I/O goroutines.
func (c *Channel) start() {
	c.mu.Lock()
	ok := c.State() == StateInitializing
	if ok {
		c.state.Store(int32(StateOpen))
	}
	c.mu.Unlock()
	if !ok {
		c.io.Done()
		c.io.Done()
		return
	}
	go c.readLoop()
	go c.writeLoop()
}

// reset drops every per-connection reference before the channel is pooled.
func (c *Channel) reset() {
	c.mu.Lock()
	for c.out.Length() > 0 {
		c.out.Remove()
	}
	c.writing = false
	c.mu.Unlock()
	c.conn = nil
	c.remote = ""
	c.connectedAt = time.Time{}
	c.recv.Clear()
	c.id.Store(0)
	c.state.Store(int32(StateIdle))
}

func (c *Channel) readLoop() {
	defer c.io.Done()
	kind := c.Kind()
	for {
		c.recv.Compact()
		free := c.recv.Free()
		if len(free) == 0 {
			c.closeWith(ErrBufferFull)
			return
		}
		n, err := c.conn.Read(free)
		if n > 0 {
			c.touch()
			_ = c.recv.Commit(n)
			observability.RecordChannelBytes(kind, "in", n)
			if herr := c.reg.handler.OnReceive(c, c.recv); herr != nil {
				c.closeWith(herr)
				return
			}
		}
		if err != nil {
			c.closeWith(readError(err))
			return
		}
	}
}

func (c *Channel) writeLoop() {
	defer c.io.Done()
	kind := c.Kind()
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	for {
		c.mu.Lock()
		for c.out.Length() == 0 && c.sendable() {
			c.cond.Wait()
		}
		if !c.sendable() {
			c.mu.Unlock()
			return
		}
		buf.Reset()
		for c.out.Length() > 0 && buf.Len() < maxCoalesce {
			_, _ = buf.Write(c.out.Remove().([]byte))
		}
		c.writing = true
		c.mu.Unlock()

		n, err := c.conn.Write(buf.B)
		if n > 0 {
			c.touch()
			observability.RecordChannelBytes(kind, "out", n)
		}

		c.mu.Lock()
		c.writing = false
		c.cond.Broadcast()
		c.mu.Unlock()
		if err != nil {
			c.closeWith(err)
			return
		}
	}
}

// readError maps the expected end-of-stream errors to nil so a clean
// remote close is not reported as a failure.
func readError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
