package netbuf

import (
	"testing"

	"github.com/danmuck/edgewire/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestIndex(t *testing.T) {
	testlog.Start(t)

	hay := []byte("--abc--abc")
	require.Equal(t, 2, Index(hay, []byte("abc"), 0))
	require.Equal(t, 7, Index(hay, []byte("abc"), 3))
	require.Equal(t, -1, Index(hay, []byte("abd"), 0))
	require.Equal(t, -1, Index(hay, []byte("abc"), 11))
	require.Equal(t, -1, Index(hay, nil, 0))
}

func TestReadLineAndMoveTo(t *testing.T) {
	testlog.Start(t)

	b := New(0)
	b.AppendString("GET / HTTP/1.1\r\nHost: x\r\n\r\n--boundary\r\npartial")

	line, ok := b.ReadLine()
	require.True(t, ok)
	require.Equal(t, "GET / HTTP/1.1", line)
	line, ok = b.ReadLine()
	require.True(t, ok)
	require.Equal(t, "Host: x", line)

	require.True(t, b.MoveTo([]byte("--boundary\r\n")))
	require.Equal(t, []byte("partial"), b.Unread())

	pos := b.ReadPos()
	_, ok = b.ReadLine()
	require.False(t, ok)
	require.Equal(t, pos, b.ReadPos(), "cursor unchanged when delimiter is missing")
	require.False(t, b.MoveTo([]byte("\r\n")))
}

func TestReadToIgnoresStaleBytesPastLength(t *testing.T) {
	testlog.Start(t)

	b := New(0)
	b.AppendString("abc;def;")
	b.Clear()
	b.AppendString("xyz")
	_, ok := b.ReadTo([]byte(";"))
	require.False(t, ok)
}
