package netbuf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var ErrOutOfRange = errors.New("netbuf: out of range")

// Buffer is a growable byte array with independent read and write cursors.
// All fixed-width values are encoded big-endian.
type Buffer struct {
	data     []byte
	length   int
	readPos  int
	writePos int
}

func New(capacity int) *Buffer {
	b := &Buffer{}
	b.SetCap(capacity)
	return b
}

// From wraps data without copying. The buffer owns data afterwards.
func From(data []byte) *Buffer {
	b := &Buffer{}
	b.Reset(data)
	return b
}

// Reset replaces the backing array and positions the write cursor at its end.
func (b *Buffer) Reset(data []byte) *Buffer {
	b.data = data
	b.length = len(data)
	b.writePos = len(data)
	b.readPos = 0
	return b
}

// Clear rewinds all cursors; the backing array is kept.
func (b *Buffer) Clear() {
	b.readPos = 0
	b.writePos = 0
	b.length = 0
}

func (b *Buffer) Len() int       { return b.length }
func (b *Buffer) Cap() int       { return len(b.data) }
func (b *Buffer) ReadPos() int   { return b.readPos }
func (b *Buffer) WritePos() int  { return b.writePos }
func (b *Buffer) Remaining() int { return b.length - b.readPos }
func (b *Buffer) IsEnd() bool    { return b.readPos >= b.length }

// SetReadPos moves the read cursor. Collaborators use it to mark how much
// of the buffer they consumed.
func (b *Buffer) SetReadPos(pos int) error {
	if pos < 0 || pos > b.length {
		return fmt.Errorf("%w: read pos %d length %d", ErrOutOfRange, pos, b.length)
	}
	b.readPos = pos
	return nil
}

// SetWritePos moves the write cursor, extending the logical length when it
// moves past it.
func (b *Buffer) SetWritePos(pos int) error {
	if pos < 0 || pos > len(b.data) {
		return fmt.Errorf("%w: write pos %d capacity %d", ErrOutOfRange, pos, len(b.data))
	}
	b.writePos = pos
	if pos > b.length {
		b.length = pos
	}
	return nil
}

// SetCap grows the backing array to n bytes. It never shrinks.
func (b *Buffer) SetCap(n int) {
	if n <= len(b.data) {
		return
	}
	grown := make([]byte, n)
	copy(grown, b.data[:b.length])
	b.data = grown
}

// ensure makes room for n more bytes at the write cursor: double the
// capacity, then round the requirement up to a 4-byte boundary if doubling
// was not enough.
func (b *Buffer) ensure(n int) {
	need := b.writePos + n
	if len(b.data) >= need {
		return
	}
	next := len(b.data) * 2
	if next == 0 {
		next = 4
	}
	if next < need {
		next = (need + 3) &^ 3
	}
	b.SetCap(next)
}

func (b *Buffer) advance(n int) {
	b.writePos += n
	if b.writePos > b.length {
		b.length = b.writePos
	}
}

// Bytes returns a view of the logical contents [0, Len).
func (b *Buffer) Bytes() []byte { return b.data[:b.length] }

// Unread returns a view of [ReadPos, Len).
func (b *Buffer) Unread() []byte { return b.data[b.readPos:b.length] }

func (b *Buffer) At(i int) (byte, error) {
	if i < 0 || i >= b.length {
		return 0, fmt.Errorf("%w: index %d length %d", ErrOutOfRange, i, b.length)
	}
	return b.data[i], nil
}

// Slice copies n bytes starting at i.
func (b *Buffer) Slice(i, n int) ([]byte, error) {
	if i < 0 || n < 0 || i+n > b.length {
		return nil, fmt.Errorf("%w: range [%d,%d) length %d", ErrOutOfRange, i, i+n, b.length)
	}
	out := make([]byte, n)
	copy(out, b.data[i:i+n])
	return out, nil
}

// Next copies n bytes at the read cursor and advances past them.
func (b *Buffer) Next(n int) ([]byte, error) {
	out, err := b.Slice(b.readPos, n)
	if err != nil {
		return nil, err
	}
	b.readPos += n
	return out, nil
}

func (b *Buffer) take(n int) ([]byte, error) {
	if n < 0 || b.readPos+n > b.length {
		return nil, fmt.Errorf("%w: need %d have %d", ErrOutOfRange, n, b.length-b.readPos)
	}
	p := b.data[b.readPos : b.readPos+n]
	b.readPos += n
	return p, nil
}

// Append writes p without a length prefix.
func (b *Buffer) Append(p []byte) *Buffer {
	b.ensure(len(p))
	copy(b.data[b.writePos:], p)
	b.advance(len(p))
	return b
}

func (b *Buffer) AppendString(s string) *Buffer {
	b.ensure(len(s))
	copy(b.data[b.writePos:], s)
	b.advance(len(s))
	return b
}

func (b *Buffer) PutUint8(v uint8) *Buffer {
	b.ensure(1)
	b.data[b.writePos] = v
	b.advance(1)
	return b
}

func (b *Buffer) PutInt8(v int8) *Buffer { return b.PutUint8(uint8(v)) }

func (b *Buffer) PutBool(v bool) *Buffer {
	if v {
		return b.PutUint8(1)
	}
	return b.PutUint8(0)
}

func (b *Buffer) PutUint16(v uint16) *Buffer {
	b.ensure(2)
	binary.BigEndian.PutUint16(b.data[b.writePos:], v)
	b.advance(2)
	return b
}

func (b *Buffer) PutInt16(v int16) *Buffer { return b.PutUint16(uint16(v)) }

func (b *Buffer) PutUint32(v uint32) *Buffer {
	b.ensure(4)
	binary.BigEndian.PutUint32(b.data[b.writePos:], v)
	b.advance(4)
	return b
}

func (b *Buffer) PutInt32(v int32) *Buffer { return b.PutUint32(uint32(v)) }

func (b *Buffer) PutUint64(v uint64) *Buffer {
	b.ensure(8)
	binary.BigEndian.PutUint64(b.data[b.writePos:], v)
	b.advance(8)
	return b
}

func (b *Buffer) PutInt64(v int64) *Buffer     { return b.PutUint64(uint64(v)) }
func (b *Buffer) PutFloat32(v float32) *Buffer { return b.PutUint32(math.Float32bits(v)) }
func (b *Buffer) PutFloat64(v float64) *Buffer { return b.PutUint64(math.Float64bits(v)) }

// PutBytes writes a uint32 length prefix followed by p.
func (b *Buffer) PutBytes(p []byte) *Buffer {
	return b.PutUint32(uint32(len(p))).Append(p)
}

// PutString writes s as UTF-8 with a uint32 length prefix.
func (b *Buffer) PutString(s string) *Buffer {
	return b.PutUint32(uint32(len(s))).AppendString(s)
}

func (b *Buffer) ReadUint8() (uint8, error) {
	p, err := b.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *Buffer) ReadInt8() (int8, error) {
	v, err := b.ReadUint8()
	return int8(v), err
}

func (b *Buffer) ReadBool() (bool, error) {
	v, err := b.ReadUint8()
	return v > 0, err
}

func (b *Buffer) ReadUint16() (uint16, error) {
	p, err := b.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(p), nil
}

func (b *Buffer) ReadInt16() (int16, error) {
	v, err := b.ReadUint16()
	return int16(v), err
}

func (b *Buffer) ReadUint32() (uint32, error) {
	p, err := b.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(p), nil
}

func (b *Buffer) ReadInt32() (int32, error) {
	v, err := b.ReadUint32()
	return int32(v), err
}

func (b *Buffer) ReadUint64() (uint64, error) {
	p, err := b.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(p), nil
}

func (b *Buffer) ReadInt64() (int64, error) {
	v, err := b.ReadUint64()
	return int64(v), err
}

func (b *Buffer) ReadFloat32() (float32, error) {
	v, err := b.ReadUint32()
	return math.Float32frombits(v), err
}

func (b *Buffer) ReadFloat64() (float64, error) {
	v, err := b.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadBytes reads a uint32 length prefix and copies that many bytes. The
// cursor is left untouched when the blob is truncated.
func (b *Buffer) ReadBytes() ([]byte, error) {
	start := b.readPos
	n, err := b.ReadUint32()
	if err != nil {
		return nil, err
	}
	out, err := b.Next(int(n))
	if err != nil {
		b.readPos = start
		return nil, err
	}
	return out, nil
}

func (b *Buffer) ReadString() (string, error) {
	p, err := b.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// Compact moves the unread bytes to offset 0 and rewinds the cursors.
func (b *Buffer) Compact() {
	if b.readPos == 0 {
		b.writePos = b.length
		return
	}
	n := copy(b.data, b.data[b.readPos:b.length])
	b.length = n
	b.writePos = n
	b.readPos = 0
}

// Free returns the writable tail [Len, Cap).
func (b *Buffer) Free() []byte { return b.data[b.length:] }

// Commit marks n bytes of the tail returned by Free as written.
func (b *Buffer) Commit(n int) error {
	return b.SetWritePos(b.length + n)
}

// String renders the logical contents as space separated hex.
func (b *Buffer) String() string {
	return fmt.Sprintf("% x", b.data[:b.length])
}
