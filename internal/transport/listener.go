package transport

import (
	"context"
	"errors"
	"net"
	"sync"
)

var ErrListenerStarted = errors.New("transport: listener already started")

// Listener accepts sockets and hands them to a Registry.
type Listener struct {
	reg *Registry

	// OnStart runs once the socket is accepting.
	OnStart func(addr net.Addr)
	// OnStop runs when Serve returns; err is nil for a requested stop.
	OnStop func(err error)

	mu      sync.Mutex
	ln      net.Listener
	started bool
}

func NewListener(reg *Registry) *Listener {
	return &Listener{reg: reg}
}

// Listen opens a TCP socket on addr, with SO_REUSEPORT when the registry
// config asks for it.
func (l *Listener) Listen(ctx context.Context, addr string) (net.Listener, error) {
	lc := net.ListenConfig{KeepAliveConfig: net.KeepAliveConfig{
		Enable:   true,
		Idle:     l.reg.cfg.KeepAliveIdle,
		Interval: l.reg.cfg.KeepAliveInterval,
		Count:    3,
	}}
	if l.reg.cfg.ReusePort {
		lc.Control = reusePortControl
	}
	return lc.Listen(ctx, "tcp", addr)
}

func (l *Listener) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := l.Listen(ctx, addr)
	if err != nil {
		return err
	}
	return l.Serve(ctx, ln)
}

// Serve runs the accept loop until ctx ends or Stop is called. A Listener
// serves at most once.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) (err error) {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return ErrListenerStarted
	}
	l.started = true
	l.ln = ln
	l.mu.Unlock()

	defer func() {
		if l.OnStop != nil {
			l.OnStop(err)
		}
	}()
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	l.reg.log.Info().Str("addr", ln.Addr().String()).Msg("listening")
	if l.OnStart != nil {
		l.OnStart(ln.Addr())
	}
	for {
		conn, aerr := ln.Accept()
		if aerr != nil {
			if ctx.Err() != nil || errors.Is(aerr, net.ErrClosed) {
				return nil
			}
			return aerr
		}
		if _, aerr := l.reg.Acquire(conn); aerr != nil {
			l.reg.log.Warn().Err(aerr).Msg("accept rejected")
		}
	}
}

// Addr is nil until Serve has started.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Stop closes the listening socket. Live channels are left open.
func (l *Listener) Stop() error {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return nil
	}
	err := ln.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
