package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	HeaderLen      = 6
	Magic          uint16 = 6789
	MaxFragmentLen        = 65535

	// FlagUser marks a user command; every other flag value is reserved.
	FlagUser byte = 0
)

var (
	ErrShortHeader     = errors.New("frame: short header")
	ErrBadLength       = errors.New("frame: fragment length out of range")
	ErrBadMagic        = errors.New("frame: magic code mismatch")
	ErrCommandMismatch = errors.New("frame: command changed mid-message")
	ErrMalformed       = errors.New("frame: fragment fields overrun declared length")
	ErrMessageTooLarge = errors.New("frame: message exceeds limit")
	ErrEmptyCommand    = errors.New("frame: empty command")
	ErrTooLarge        = errors.New("frame: packet exceeds fragment limit")
	ErrCommandTooLong  = errors.New("frame: command leaves no room for content")
)

// Header is the fixed 6-byte prefix of every fragment.
type Header struct {
	Length uint16
	Magic  uint16
	End    bool
	Flag   byte
}

// EncodeHeader writes h into the first HeaderLen bytes of dst.
func EncodeHeader(dst []byte, h Header) {
	binary.BigEndian.PutUint16(dst[0:2], h.Length)
	binary.BigEndian.PutUint16(dst[2:4], h.Magic)
	if h.End {
		dst[4] = 1
	} else {
		dst[4] = 0
	}
	dst[5] = h.Flag
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	return Header{
		Length: binary.BigEndian.Uint16(b[0:2]),
		Magic:  binary.BigEndian.Uint16(b[2:4]),
		End:    b[4] != 0,
		Flag:   b[5],
	}, nil
}

// Limits constrains fragment and reassembly memory use.
type Limits struct {
	MaxFragmentLen int
	MaxMessageLen  int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFragmentLen: 8192,
		MaxMessageLen:  8 * 1024 * 1024,
	}
}

// IsFramingError reports whether err is a wire violation that must close
// the connection.
func IsFramingError(err error) bool {
	return errors.Is(err, ErrBadLength) ||
		errors.Is(err, ErrBadMagic) ||
		errors.Is(err, ErrCommandMismatch) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrMessageTooLarge)
}
