package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/danmuck/edgewire/internal/observability"
	"github.com/danmuck/edgewire/internal/protocol/frame"
	"github.com/danmuck/edgewire/internal/transport"
)

// Session is the protocol state of one channel. It is pooled together with
// its channel, so it must not be used once Done is closed.
type Session struct {
	srv *Server
	ch  *transport.Channel
	asm *frame.Assembler

	id     uint32
	done   <-chan struct{}
	filter atomic.Pointer[FilterFunc]
	value  atomic.Value
}

type valueBox struct {
	v any
}

func (s *Session) bind(srv *Server, ch *transport.Channel) {
	s.srv = srv
	s.ch = ch
	s.id = ch.ID()
	s.done = ch.Done()
	if s.asm == nil {
		s.asm = frame.NewAssembler(srv.cfg.limits())
	}
	s.asm.Reset()
	s.value.Store(valueBox{})
	srv.mu.RLock()
	f := srv.filter
	srv.mu.RUnlock()
	if f != nil {
		s.filter.Store(&f)
	} else {
		s.filter.Store(nil)
	}
}

func (s *Session) ID() uint32             { return s.id }
func (s *Session) RemoteAddr() string     { return s.ch.RemoteAddr() }
func (s *Session) ConnectedAt() time.Time { return s.ch.ConnectedAt() }
func (s *Session) LastActive() time.Time  { return s.ch.LastActive() }
func (s *Session) Server() *Server        { return s.srv }

// Channel exposes the raw transport channel.
func (s *Session) Channel() *transport.Channel { return s.ch }

// SetFilter replaces the filter for this session only. A nil filter lets
// every message through.
func (s *Session) SetFilter(fn FilterFunc) {
	if fn == nil {
		s.filter.Store(nil)
		return
	}
	s.filter.Store(&fn)
}

// Value returns what SetValue stored for this connection.
func (s *Session) Value() any {
	b, _ := s.value.Load().(valueBox)
	return b.v
}

func (s *Session) SetValue(v any) {
	s.value.Store(valueBox{v: v})
}

// Send fragments p to the channel's buffer size and queues every fragment
// as one batch, so another message cannot land between them. p must not be
// modified or sent elsewhere after Send; use Clone for fan-out.
func (s *Session) Send(p *frame.Packet) error {
	return s.send(p, frame.FlagUser)
}

func (s *Session) send(p *frame.Packet, flag byte) error {
	frags, err := frame.Split(p, s.srv.cfg.Transport.BufferSize, flag)
	if err != nil {
		return err
	}
	if err := s.ch.SendBatch(frags...); err != nil {
		return err
	}
	observability.RecordPacket(s.srv.kind(), "out", len(frags))
	return nil
}

// SendRaw queues bytes that are already framed.
func (s *Session) SendRaw(b []byte) error {
	return s.ch.Send(b)
}

// Flush waits until queued fragments are written.
func (s *Session) Flush(ctx context.Context) error {
	return s.ch.Flush(ctx)
}

func (s *Session) Close() error {
	return s.ch.Close()
}

func (s *Session) Closed() bool {
	return s.ch.Closed()
}

// Done is closed after the session has been torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
