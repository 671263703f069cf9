package session

import (
	"fmt"
	"time"

	"github.com/danmuck/edgewire/internal/protocol/frame"
	"github.com/danmuck/edgewire/internal/transport"
)

// Config defines one server kind: channel sizing plus dial behaviour.
type Config struct {
	Transport transport.Config
	// MaxMessageLen caps a reassembled message; 0 keeps the frame default.
	MaxMessageLen      int
	ConnectTimeout     time.Duration
	Backoff            transport.BackoffConfig
	MaxConnectAttempts int
}

func DefaultConfig() Config {
	tc := transport.DefaultConfig()
	tc.Name = "session"
	return Config{
		Transport:      tc,
		MaxMessageLen:  frame.DefaultLimits().MaxMessageLen,
		ConnectTimeout: 5 * time.Second,
		Backoff: transport.BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		MaxConnectAttempts: 5,
	}
}

// WithDefaults fills unset sizing fields. Backoff is left alone: a zero
// InitialDelay means dial once.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Transport.Name == "" {
		c.Transport.Name = def.Transport.Name
	}
	c.Transport = c.Transport.WithDefaults()
	if c.MaxMessageLen <= 0 {
		c.MaxMessageLen = def.MaxMessageLen
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	return c
}

func (c Config) Validate() error {
	if err := c.Transport.Validate(); err != nil {
		return err
	}
	if c.MaxMessageLen < c.Transport.BufferSize {
		return fmt.Errorf("%w: max_message_len %d below buffer_size %d",
			transport.ErrInvalidConfig, c.MaxMessageLen, c.Transport.BufferSize)
	}
	return nil
}

func (c Config) limits() frame.Limits {
	return frame.Limits{
		MaxFragmentLen: c.Transport.BufferSize,
		MaxMessageLen:  c.MaxMessageLen,
	}
}

func (c Config) connect() transport.ConnectConfig {
	return transport.ConnectConfig{
		Timeout:     c.ConnectTimeout,
		Backoff:     c.Backoff,
		MaxAttempts: c.MaxConnectAttempts,
	}
}
