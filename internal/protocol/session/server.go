package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"

	"github.com/danmuck/edgewire/internal/netbuf"
	"github.com/danmuck/edgewire/internal/observability"
	"github.com/danmuck/edgewire/internal/protocol"
	"github.com/danmuck/edgewire/internal/protocol/frame"
	"github.com/danmuck/edgewire/internal/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// HandlerFunc handles one completed message. The packet's read cursor sits
// at the start of the payload. A returned error closes the session.
type HandlerFunc func(s *Session, p *frame.Packet) error

// FilterFunc runs before dispatch; false drops the message and keeps the
// session open.
type FilterFunc func(s *Session, p *frame.Packet) bool

// Server owns one channel kind: its registry, handler table, default filter
// and lifecycle hooks.
type Server struct {
	cfg       Config
	log       zerolog.Logger
	reg       *transport.Registry
	connector *transport.Connector

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	filter   FilterFunc
	onOpen   func(*Session)
	onClose  func(*Session)

	lnMu      sync.Mutex
	listeners []*transport.Listener
}

func NewServer(cfg Config) *Server {
	cfg = cfg.WithDefaults()
	s := &Server{
		cfg:      cfg,
		log:      log.With().Str("kind", cfg.Transport.Name).Logger(),
		handlers: make(map[string]HandlerFunc),
	}
	s.reg = transport.NewRegistry(cfg.Transport, channelHandler{s: s})
	s.connector = transport.NewConnector(s.reg, cfg.connect())
	s.connector.OnFail = func(addr string, err error) {
		observability.RecordChannelEvent(s.kind(), "connect_failed")
	}
	return s
}

func (s *Server) kind() string { return s.cfg.Transport.Name }

func (s *Server) Config() Config { return s.cfg }

// Registry exposes the channels of this kind.
func (s *Server) Registry() *transport.Registry { return s.reg }

// Handle registers fn for cmd. A later registration for the same cmd wins.
func (s *Server) Handle(cmd string, fn HandlerFunc) {
	cmd = strings.TrimSpace(cmd)
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		delete(s.handlers, cmd)
		return
	}
	s.handlers[cmd] = fn
}

// Commands lists the registered command names.
func (s *Server) Commands() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.handlers))
	for cmd := range s.handlers {
		out = append(out, cmd)
	}
	sort.Strings(out)
	return out
}

// SetFilter sets the filter that new sessions start with.
func (s *Server) SetFilter(fn FilterFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = fn
}

// OnOpen runs fn for every new session before its receive loop starts.
func (s *Server) OnOpen(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOpen = fn
}

// OnClose runs fn once a session's I/O has stopped.
func (s *Server) OnClose(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = fn
}

// Listen opens a socket for Serve.
func (s *Server) Listen(ctx context.Context, addr string) (net.Listener, error) {
	return transport.NewListener(s.reg).Listen(ctx, addr)
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := s.Listen(ctx, addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts sessions on ln until ctx ends or Close is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	l := transport.NewListener(s.reg)
	s.lnMu.Lock()
	s.listeners = append(s.listeners, l)
	s.lnMu.Unlock()
	defer s.dropListener(l)
	return l.Serve(ctx, ln)
}

func (s *Server) dropListener(l *transport.Listener) {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	for i, cur := range s.listeners {
		if cur == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Addrs lists the addresses currently being served.
func (s *Server) Addrs() []string {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()
	out := make([]string, 0, len(s.listeners))
	for _, l := range s.listeners {
		if addr := l.Addr(); addr != nil {
			out = append(out, addr.String())
		}
	}
	return out
}

// Dial connects to addr, retrying per Config.Backoff.
func (s *Server) Dial(ctx context.Context, addr string) (*Session, error) {
	ch, err := s.connector.Connect(ctx, addr)
	if err != nil {
		return nil, err
	}
	return sessionOf(ch), nil
}

func (s *Server) Session(id uint32) (*Session, bool) {
	ch, ok := s.reg.Get(id)
	if !ok {
		return nil, false
	}
	return sessionOf(ch), true
}

// Sessions lists live sessions ordered by id.
func (s *Server) Sessions() []*Session {
	out := make([]*Session, 0, s.reg.Len())
	s.reg.Range(func(ch *transport.Channel) bool {
		out = append(out, sessionOf(ch))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *Server) Len() int { return s.reg.Len() }

// Close stops every listener, closes every session and waits for their
// teardown.
func (s *Server) Close() error {
	s.lnMu.Lock()
	ls := s.listeners
	s.listeners = nil
	s.lnMu.Unlock()
	var errs []error
	for _, l := range ls {
		if err := l.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	s.reg.CloseAll()
	s.reg.Wait()
	return errors.Join(errs...)
}

func (s *Server) handler(cmd string) (HandlerFunc, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.handlers[cmd]
	return fn, ok
}

// dispatch routes one completed message.
func (s *Server) dispatch(sess *Session, p *frame.Packet, flag byte) (err error) {
	if flag != frame.FlagUser {
		return fmt.Errorf("%w: %d cmd=%q", protocol.ErrReservedFlag, flag, p.Cmd())
	}
	if fp := sess.filter.Load(); fp != nil && !(*fp)(sess, p) {
		s.log.Debug().Uint32("id", sess.id).Str("cmd", p.Cmd()).Msg("message filtered")
		return nil
	}
	fn, ok := s.handler(p.Cmd())
	if !ok {
		return fmt.Errorf("%w: %q", protocol.ErrNoHandler, p.Cmd())
	}
	observability.RecordPacket(s.kind(), "in", 0)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: cmd=%q: %v", protocol.ErrHandlerPanic, p.Cmd(), r)
		}
	}()
	if err := fn(sess, p); err != nil {
		return fmt.Errorf("handler cmd=%q: %w", p.Cmd(), err)
	}
	return nil
}

func sessionOf(ch *transport.Channel) *Session {
	sess, _ := ch.Attachment().(*Session)
	return sess
}

// channelHandler plugs a Server into its transport registry.
type channelHandler struct {
	s *Server
}

func (h channelHandler) OnOpen(ch *transport.Channel) {
	sess := sessionOf(ch)
	if sess == nil {
		sess = &Session{}
		ch.SetAttachment(sess)
	}
	sess.bind(h.s, ch)

	h.s.mu.RLock()
	fn := h.s.onOpen
	h.s.mu.RUnlock()
	if fn != nil {
		fn(sess)
	}
}

func (h channelHandler) OnReceive(ch *transport.Channel, buf *netbuf.Buffer) error {
	sess := sessionOf(ch)
	err := sess.asm.Feed(buf, func(p *frame.Packet, flag byte) error {
		return h.s.dispatch(sess, p, flag)
	})
	if err == nil {
		return nil
	}
	reason := errorReason(err)
	observability.RecordFramingError(h.s.kind(), reason)
	h.s.log.Warn().
		Err(err).
		Uint32("id", sess.id).
		Str("remote", ch.RemoteAddr()).
		Str("reason", reason).
		Msg("closing session")
	return err
}

func (h channelHandler) OnClose(ch *transport.Channel) {
	sess := sessionOf(ch)
	h.s.mu.RLock()
	fn := h.s.onClose
	h.s.mu.RUnlock()
	if fn != nil {
		fn(sess)
	}
	sess.asm.Reset()
}

// errorReason is the metric label for an error that closed a session.
func errorReason(err error) string {
	switch {
	case errors.Is(err, frame.ErrBadLength):
		return "bad_length"
	case errors.Is(err, frame.ErrBadMagic):
		return "bad_magic"
	case errors.Is(err, frame.ErrCommandMismatch):
		return "cmd_mismatch"
	case errors.Is(err, frame.ErrMessageTooLarge):
		return "too_large"
	case errors.Is(err, frame.ErrMalformed):
		return "malformed"
	case errors.Is(err, protocol.ErrReservedFlag):
		return "reserved_flag"
	case errors.Is(err, protocol.ErrNoHandler):
		return "no_handler"
	case errors.Is(err, protocol.ErrHandlerPanic):
		return "handler_panic"
	default:
		return "handler_error"
	}
}
