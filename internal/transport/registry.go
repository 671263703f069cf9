package transport

import (
	"errors"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgewire/internal/netbuf"
	"github.com/danmuck/edgewire/internal/observability"
	"github.com/danmuck/edgewire/internal/syncx"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrRegistryClosed = errors.New("transport: registry closed")

// Handler is the per-kind behaviour plugged into a Registry.
//
// OnReceive runs on the channel's receive goroutine with the buffer holding
// every unconsumed byte. It must advance the read cursor past what it used;
// unread bytes are kept for the next call. A non-nil error closes the channel.
type Handler interface {
	OnOpen(ch *Channel)
	OnReceive(ch *Channel, buf *netbuf.Buffer) error
	OnClose(ch *Channel)
}

// HandlerFuncs adapts plain functions to Handler. A nil Receive discards
// everything it is given.
type HandlerFuncs struct {
	Open    func(ch *Channel)
	Receive func(ch *Channel, buf *netbuf.Buffer) error
	Close   func(ch *Channel)
}

func (h HandlerFuncs) OnOpen(ch *Channel) {
	if h.Open != nil {
		h.Open(ch)
	}
}

func (h HandlerFuncs) OnReceive(ch *Channel, buf *netbuf.Buffer) error {
	if h.Receive != nil {
		return h.Receive(ch, buf)
	}
	_ = buf.SetReadPos(buf.Len())
	return nil
}

func (h HandlerFuncs) OnClose(ch *Channel) {
	if h.Close != nil {
		h.Close(ch)
	}
}

// ChannelInfo is a point-in-time copy of one channel's identity.
type ChannelInfo struct {
	ID          uint32    `json:"id"`
	Kind        string    `json:"kind"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	LastActive  time.Time `json:"last_active"`
	Pending     int       `json:"pending"`
}

// Registry owns every channel of one kind: the id to channel map of live
// channels and the pool of idle ones.
type Registry struct {
	cfg     Config
	handler Handler
	log     zerolog.Logger

	nextID atomic.Uint32

	mu     sync.RWMutex
	active map[uint32]*Channel
	closed bool

	live sync.WaitGroup
	pool *syncx.Pool[*Channel]
}

func NewRegistry(cfg Config, h Handler) *Registry {
	cfg = cfg.WithDefaults()
	if h == nil {
		h = HandlerFuncs{}
	}
	r := &Registry{
		cfg:     cfg,
		handler: h,
		log:     log.With().Str("kind", cfg.Name).Logger(),
		active:  make(map[uint32]*Channel),
	}
	r.pool = syncx.NewPool(cfg.MaxPoolNum, func() *Channel { return newChannel(r) })
	return r
}

func (r *Registry) Config() Config { return r.cfg }

// Acquire binds conn to a pooled channel, registers it under a fresh id and
// starts its I/O. On error conn is closed.
func (r *Registry) Acquire(conn net.Conn) (*Channel, error) {
	c := r.pool.Get()
	c.init(conn)
	if err := r.register(c); err != nil {
		c.io.Done()
		c.io.Done()
		c.reset()
		r.pool.Put(c)
		_ = conn.Close()
		return nil, err
	}

	observability.RecordChannelEvent(r.cfg.Name, "open")
	r.log.Debug().Uint32("id", c.ID()).Str("remote", c.remote).Msg("channel open")

	r.handler.OnOpen(c)
	c.start()
	return c, nil
}

// register assigns the next free non-zero id. The counter wraps; ids still
// held by a live channel are skipped.
func (r *Registry) register(c *Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRegistryClosed
	}
	for {
		id := r.nextID.Add(1)
		if id == 0 {
			continue
		}
		if _, busy := r.active[id]; busy {
			continue
		}
		c.id.Store(id)
		r.active[id] = c
		r.live.Add(1)
		return nil
	}
}

func (r *Registry) release(c *Channel) {
	id := c.ID()
	r.mu.Lock()
	cur, ok := r.active[id]
	if ok && cur == c {
		delete(r.active, id)
	}
	r.mu.Unlock()
	if !ok || cur != c {
		r.log.Error().Uint32("id", id).Msg("release of unregistered channel")
		return
	}

	c.mu.Lock()
	c.state.Store(int32(StateClosed))
	cause := c.cause
	done := c.done
	c.mu.Unlock()

	r.handler.OnClose(c)
	observability.RecordChannelEvent(r.cfg.Name, "close")
	ev := r.log.Debug()
	if cause != nil {
		ev = r.log.Warn().Err(cause)
	}
	ev.Uint32("id", id).Str("remote", c.remote).Msg("channel closed")

	close(done)
	c.reset()
	if !r.pool.Put(c) && r.pool.Contains(c) {
		r.log.Error().Uint32("id", id).Msg("channel released twice")
	}
	r.live.Done()
}

func (r *Registry) Get(id uint32) (*Channel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.active[id]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// PoolLen is the number of idle channels ready for reuse.
func (r *Registry) PoolLen() int {
	return r.pool.Len()
}

// Range calls fn for every live channel until fn returns false. fn must not
// call back into the registry's write paths.
func (r *Registry) Range(fn func(c *Channel) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.active {
		if !fn(c) {
			return
		}
	}
}

// Snapshot lists live channels ordered by id.
func (r *Registry) Snapshot() []ChannelInfo {
	out := make([]ChannelInfo, 0, r.Len())
	r.Range(func(c *Channel) bool {
		out = append(out, ChannelInfo{
			ID:          c.ID(),
			Kind:        r.cfg.Name,
			RemoteAddr:  c.remote,
			ConnectedAt: c.connectedAt,
			LastActive:  c.LastActive(),
			Pending:     c.Pending(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseAll closes every live channel and refuses further Acquire calls.
// It does not wait; use Wait for that.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	chans := make([]*Channel, 0, len(r.active))
	for _, c := range r.active {
		chans = append(chans, c)
	}
	r.mu.Unlock()
	for _, c := range chans {
		_ = c.Close()
	}
}

// Wait blocks until every acquired channel has been released.
func (r *Registry) Wait() {
	r.live.Wait()
}
