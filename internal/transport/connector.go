package transport

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"
)

// ConnectConfig controls outbound dialing. A zero Backoff.InitialDelay
// means one attempt only.
type ConnectConfig struct {
	Timeout     time.Duration
	Backoff     BackoffConfig
	MaxAttempts int
}

// Connector dials remote peers and hands the sockets to a Registry.
type Connector struct {
	reg *Registry
	cfg ConnectConfig

	// OnFail runs after every failed attempt.
	OnFail func(addr string, err error)

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewConnector(reg *Registry, cfg ConnectConfig) *Connector {
	return &Connector{
		reg: reg,
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Connect dials addr until it succeeds, attempts run out or ctx ends.
func (c *Connector) Connect(ctx context.Context, addr string) (*Channel, error) {
	var attempt int
	for {
		attempt++
		conn, err := c.dial(ctx, addr)
		if err == nil {
			return c.reg.Acquire(conn)
		}
		c.reg.log.Warn().Err(err).Int("attempt", attempt).Str("addr", addr).Msg("connect failed")
		if c.OnFail != nil {
			c.OnFail(addr, err)
		}
		if !c.shouldRetry(attempt) || ctx.Err() != nil {
			return nil, err
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (c *Connector) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.Timeout}
	return dialer.DialContext(ctx, "tcp", addr)
}

func (c *Connector) shouldRetry(attempt int) bool {
	if c.cfg.Backoff.InitialDelay <= 0 {
		return false
	}
	if c.cfg.MaxAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxAttempts
}

func (c *Connector) sleepBackoff(ctx context.Context, attempt int) error {
	c.rngMu.Lock()
	delay := NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)
	c.rngMu.Unlock()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
