package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxBufferSize = 65535

var ErrInvalidConfig = errors.New("transport: invalid config")

// Config sizes one channel kind.
type Config struct {
	// Name labels logs and metrics for this kind.
	Name string
	// BufferSize bounds the receive buffer and therefore the largest
	// fragment a peer may send.
	BufferSize        int
	MaxPoolNum        int
	KeepAliveIdle     time.Duration
	KeepAliveInterval time.Duration
	ReusePort         bool
}

func DefaultConfig() Config {
	return Config{
		Name:              "channel",
		BufferSize:        8192,
		MaxPoolNum:        5000,
		KeepAliveIdle:     30 * time.Second,
		KeepAliveInterval: 3 * time.Second,
	}
}

// WithDefaults fills unset fields from DefaultConfig and clamps BufferSize
// to what the 16-bit length field can express.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.Name) == "" {
		c.Name = def.Name
	}
	if c.BufferSize <= 0 {
		c.BufferSize = def.BufferSize
	}
	if c.BufferSize > maxBufferSize {
		c.BufferSize = maxBufferSize
	}
	if c.MaxPoolNum < 0 {
		c.MaxPoolNum = 0
	}
	if c.KeepAliveIdle <= 0 {
		c.KeepAliveIdle = def.KeepAliveIdle
	}
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = def.KeepAliveInterval
	}
	return c
}

func (c Config) Validate() error {
	if c.BufferSize < 64 || c.BufferSize > maxBufferSize {
		return fmt.Errorf("%w: buffer_size %d not in [64,%d]", ErrInvalidConfig, c.BufferSize, maxBufferSize)
	}
	if c.MaxPoolNum < 0 {
		return fmt.Errorf("%w: max_pool_num %d", ErrInvalidConfig, c.MaxPoolNum)
	}
	return nil
}
