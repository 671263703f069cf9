package frame

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/edgewire/internal/netbuf"
)

// EmitFunc receives each completed message with the flag of its final
// fragment. A non-nil error stops the feed and is returned from Feed.
type EmitFunc func(p *Packet, flag byte) error

// Assembler turns a streaming receive buffer into whole messages. It holds
// at most one partially reassembled message, so fragments of different
// messages on one connection may not interleave.
type Assembler struct {
	limits  Limits
	pending *Packet
}

func NewAssembler(limits Limits) *Assembler {
	if limits.MaxFragmentLen <= 0 || limits.MaxFragmentLen > MaxFragmentLen {
		limits.MaxFragmentLen = MaxFragmentLen
	}
	return &Assembler{limits: limits}
}

// Reset drops any partially reassembled message.
func (a *Assembler) Reset() {
	a.pending = nil
}

func (a *Assembler) Pending() bool {
	return a.pending != nil
}

func (a *Assembler) Limits() Limits {
	return a.limits
}

// Feed consumes every complete fragment between the buffer's read cursor
// and its length. A trailing partial fragment is left unread for the next
// call. Any returned error other than one from emit is a framing error.
func (a *Assembler) Feed(buf *netbuf.Buffer, emit EmitFunc) error {
	for buf.Remaining() >= 2 {
		start := buf.ReadPos()
		unread := buf.Unread()
		n := int(binary.BigEndian.Uint16(unread))
		if n < HeaderLen || n > a.limits.MaxFragmentLen {
			return fmt.Errorf("%w: %d", ErrBadLength, n)
		}
		if len(unread) < n {
			return nil
		}

		h, _ := DecodeHeader(unread)
		if h.Magic != Magic {
			return fmt.Errorf("%w: %d", ErrBadMagic, h.Magic)
		}

		var f netbuf.Buffer
		f.Reset(unread[HeaderLen:n])
		cmd, err := f.ReadString()
		if err != nil {
			return fmt.Errorf("%w: cmd: %v", ErrMalformed, err)
		}
		var total uint32
		if !h.End {
			if total, err = f.ReadUint32(); err != nil {
				return fmt.Errorf("%w: total length: %v", ErrMalformed, err)
			}
		}

		msg := a.pending
		if msg == nil {
			if a.limits.MaxMessageLen > 0 && int(total) > a.limits.MaxMessageLen {
				return fmt.Errorf("%w: declared %d", ErrMessageTooLarge, total)
			}
			msg = NewPacketSize(cmd, max(n, int(total)))
			if !h.End {
				a.pending = msg
			}
		} else if msg.cmd != cmd {
			return fmt.Errorf("%w: pending %q got %q", ErrCommandMismatch, msg.cmd, cmd)
		}

		msg.Append(f.Unread())
		if a.limits.MaxMessageLen > 0 && msg.Len() > a.limits.MaxMessageLen {
			return fmt.Errorf("%w: accumulated %d", ErrMessageTooLarge, msg.Len())
		}
		_ = buf.SetReadPos(start + n)

		if h.End {
			a.pending = nil
			msg.Rewind()
			if err := emit(msg, h.Flag); err != nil {
				return err
			}
		}
	}
	return nil
}
