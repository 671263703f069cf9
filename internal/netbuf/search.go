package netbuf

import "bytes"

var crlf = []byte("\r\n")

// Index returns the offset of the first needle in haystack at or after
// start, or -1.
func Index(haystack, needle []byte, start int) int {
	if start < 0 || start > len(haystack) || len(needle) == 0 {
		return -1
	}
	i := bytes.Index(haystack[start:], needle)
	if i < 0 {
		return -1
	}
	return start + i
}

// ReadTo copies the bytes between the read cursor and delim, then moves the
// cursor past delim. The cursor does not move when delim is not buffered.
func (b *Buffer) ReadTo(delim []byte) ([]byte, bool) {
	i := Index(b.data[:b.length], delim, b.readPos)
	if i < 0 {
		return nil, false
	}
	out := make([]byte, i-b.readPos)
	copy(out, b.data[b.readPos:i])
	b.readPos = i + len(delim)
	return out, true
}

// MoveTo advances the cursor past delim without copying.
func (b *Buffer) MoveTo(delim []byte) bool {
	i := Index(b.data[:b.length], delim, b.readPos)
	if i < 0 {
		return false
	}
	b.readPos = i + len(delim)
	return true
}

// ReadLine reads up to the next CRLF.
func (b *Buffer) ReadLine() (string, bool) {
	line, ok := b.ReadTo(crlf)
	if !ok {
		return "", false
	}
	return string(line), true
}
