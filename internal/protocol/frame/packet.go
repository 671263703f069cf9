package frame

import (
	"fmt"

	"github.com/danmuck/edgewire/internal/netbuf"
)

// Packet is one named-command message. The first HeaderLen bytes are
// reserved for the fragment header, followed by the length-prefixed cmd and
// the payload. The embedded buffer's read cursor starts at the payload.
type Packet struct {
	netbuf.Buffer
	cmd        string
	contentPos int
}

func NewPacket(cmd string) *Packet {
	return NewPacketSize(cmd, 0)
}

// NewPacketSize preallocates capacity bytes including header and cmd.
func NewPacketSize(cmd string, capacity int) *Packet {
	p := &Packet{}
	p.SetCap(max(capacity, HeaderLen+4+len(cmd)))
	p.ResetCmd(cmd)
	return p
}

// ParsePacket decodes a single unfragmented wire packet. data is owned by
// the returned packet.
func ParsePacket(data []byte) (*Packet, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if h.Magic != Magic {
		return nil, fmt.Errorf("%w: %d", ErrBadMagic, h.Magic)
	}
	if int(h.Length) != len(data) || !h.End {
		return nil, fmt.Errorf("%w: length %d wire %d end %t", ErrMalformed, h.Length, len(data), h.End)
	}
	p := &Packet{}
	p.Buffer.Reset(data)
	_ = p.SetReadPos(HeaderLen)
	cmd, err := p.ReadString()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p.cmd = cmd
	p.contentPos = p.ReadPos()
	return p, nil
}

func (p *Packet) Cmd() string     { return p.cmd }
func (p *Packet) ContentPos() int { return p.contentPos }
func (p *Packet) ContentLen() int { return p.Len() - p.contentPos }

// Content is a view of the payload; it aliases the packet.
func (p *Packet) Content() []byte {
	return p.Bytes()[p.contentPos:]
}

// Rewind moves the read cursor back to the start of the payload.
func (p *Packet) Rewind() {
	_ = p.SetReadPos(p.contentPos)
}

// Clear drops the payload but keeps cmd.
func (p *Packet) Clear() {
	p.ResetCmd(p.cmd)
}

// ResetCmd empties the packet and starts it over with cmd.
func (p *Packet) ResetCmd(cmd string) {
	p.SetCap(HeaderLen)
	p.Buffer.Clear()
	_ = p.SetWritePos(HeaderLen)
	p.cmd = cmd
	p.PutString(cmd)
	p.contentPos = p.WritePos()
	_ = p.SetReadPos(p.contentPos)
}

// Clone copies cmd and payload into a fresh packet.
func (p *Packet) Clone() *Packet {
	c := NewPacketSize(p.cmd, p.Len())
	c.Append(p.Content())
	return c
}

// Finalize rewrites the header for the current length. The packet must fit
// in one fragment.
func (p *Packet) Finalize(end bool, flag byte) error {
	if p.cmd == "" {
		return ErrEmptyCommand
	}
	if p.Len() > MaxFragmentLen {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, p.Len())
	}
	EncodeHeader(p.Bytes(), Header{
		Length: uint16(p.Len()),
		Magic:  Magic,
		End:    end,
		Flag:   flag,
	})
	return nil
}
