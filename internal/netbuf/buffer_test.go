package netbuf

import (
	"errors"
	"math"
	"testing"

	"github.com/danmuck/edgewire/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestFixedWidthRoundTrip(t *testing.T) {
	testlog.Start(t)

	b := New(0)
	b.PutUint8(0xfe).
		PutInt8(-3).
		PutBool(true).
		PutBool(false).
		PutUint16(0xbeef).
		PutInt16(math.MinInt16).
		PutUint32(0xdeadbeef).
		PutInt32(-123456789).
		PutUint64(math.MaxUint64 - 1).
		PutInt64(math.MinInt64).
		PutFloat32(3.25).
		PutFloat64(-1.0e-300)

	u8, err := b.ReadUint8()
	require.NoError(t, err)
	require.Equal(t, uint8(0xfe), u8)
	i8, err := b.ReadInt8()
	require.NoError(t, err)
	require.Equal(t, int8(-3), i8)
	yes, err := b.ReadBool()
	require.NoError(t, err)
	require.True(t, yes)
	no, err := b.ReadBool()
	require.NoError(t, err)
	require.False(t, no)
	u16, err := b.ReadUint16()
	require.NoError(t, err)
	require.Equal(t, uint16(0xbeef), u16)
	i16, err := b.ReadInt16()
	require.NoError(t, err)
	require.Equal(t, int16(math.MinInt16), i16)
	u32, err := b.ReadUint32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xdeadbeef), u32)
	i32, err := b.ReadInt32()
	require.NoError(t, err)
	require.Equal(t, int32(-123456789), i32)
	u64, err := b.ReadUint64()
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64-1), u64)
	i64, err := b.ReadInt64()
	require.NoError(t, err)
	require.Equal(t, int64(math.MinInt64), i64)
	f32, err := b.ReadFloat32()
	require.NoError(t, err)
	require.Equal(t, float32(3.25), f32)
	f64, err := b.ReadFloat64()
	require.NoError(t, err)
	require.Equal(t, -1.0e-300, f64)
	require.True(t, b.IsEnd())
}

func TestBigEndianLayout(t *testing.T) {
	testlog.Start(t)

	b := New(8)
	b.PutUint16(0x0102).PutUint32(0x03040506)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6}, b.Bytes())
}

func TestLengthPrefixedBlobs(t *testing.T) {
	testlog.Start(t)

	b := New(0)
	b.PutString("weather").PutBytes([]byte{9, 8, 7}).AppendString("raw")
	require.Equal(t, 4+7+4+3+3, b.Len())

	s, err := b.ReadString()
	require.NoError(t, err)
	require.Equal(t, "weather", s)
	p, err := b.ReadBytes()
	require.NoError(t, err)
	require.Equal(t, []byte{9, 8, 7}, p)
	require.Equal(t, []byte("raw"), b.Unread())
}

func TestReadPastEndFailsWithoutMovingCursor(t *testing.T) {
	testlog.Start(t)

	b := New(0)
	b.PutUint16(7)
	_, err := b.ReadUint32()
	require.True(t, errors.Is(err, ErrOutOfRange))
	require.Equal(t, 0, b.ReadPos())

	// declared blob length larger than what is buffered
	b = New(0)
	b.PutUint32(100).Append([]byte("short"))
	_, err = b.ReadBytes()
	require.ErrorIs(t, err, ErrOutOfRange)
	require.Equal(t, 0, b.ReadPos())
}

func TestGrowthDoublesThenAligns(t *testing.T) {
	testlog.Start(t)

	b := New(0)
	b.PutUint8(1)
	require.Equal(t, 4, b.Cap())
	b.PutUint32(1)
	require.Equal(t, 8, b.Cap())

	b = New(4)
	b.Append(make([]byte, 13))
	require.Equal(t, 16, b.Cap())

	b.SetCap(2)
	require.Equal(t, 16, b.Cap(), "growth never shrinks")
}

func TestClearKeepsCapacity(t *testing.T) {
	testlog.Start(t)

	b := New(32)
	b.PutUint64(42)
	b.Clear()
	require.Equal(t, 0, b.Len())
	require.Equal(t, 0, b.ReadPos())
	require.Equal(t, 0, b.WritePos())
	require.Equal(t, 32, b.Cap())
}

func TestSetWritePosExtendsLength(t *testing.T) {
	testlog.Start(t)

	b := New(16)
	b.PutUint32(1).PutUint32(2)
	require.NoError(t, b.SetWritePos(0))
	b.PutUint16(0xffff)
	require.Equal(t, 8, b.Len(), "rewriting inside the buffer keeps length")
	require.NoError(t, b.SetWritePos(12))
	require.Equal(t, 12, b.Len())
	require.ErrorIs(t, b.SetWritePos(17), ErrOutOfRange)
	require.ErrorIs(t, b.SetReadPos(13), ErrOutOfRange)
}

func TestCompactAndCommit(t *testing.T) {
	testlog.Start(t)

	b := New(8)
	copy(b.Free(), []byte("abcdef"))
	require.NoError(t, b.Commit(6))
	_, err := b.Next(4)
	require.NoError(t, err)

	b.Compact()
	require.Equal(t, 0, b.ReadPos())
	require.Equal(t, []byte("ef"), b.Bytes())
	require.Len(t, b.Free(), 6)
}

func TestFromAndSlice(t *testing.T) {
	testlog.Start(t)

	b := From([]byte{1, 2, 3, 4})
	require.Equal(t, 4, b.WritePos())
	v, err := b.At(3)
	require.NoError(t, err)
	require.Equal(t, byte(4), v)
	_, err = b.At(4)
	require.ErrorIs(t, err, ErrOutOfRange)

	part, err := b.Slice(1, 2)
	require.NoError(t, err)
	part[0] = 99
	require.Equal(t, []byte{1, 2, 3, 4}, b.Bytes(), "Slice copies")
	require.Equal(t, "01 02 03 04", b.String())
}
