package broker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/edgewire/internal/protocol/frame"
	"github.com/danmuck/edgewire/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected     = errors.New("broker: subscriber not connected")
	ErrAlreadyConnected = errors.New("broker: subscriber already connected")
	ErrSubscriberClosed = errors.New("broker: subscriber closed")
)

// MessageFunc receives one published message. payload is owned by the
// callee.
type MessageFunc func(topic string, payload []byte)

type SubscriberConfig struct {
	Session session.Config
	// Reconnect redials after the connection is lost and re-sends every
	// subscription.
	Reconnect      bool
	ReconnectDelay time.Duration
}

func DefaultSubscriberConfig() SubscriberConfig {
	sc := session.DefaultConfig()
	sc.Transport.Name = "subscriber"
	sc.Transport.MaxPoolNum = 0
	return SubscriberConfig{
		Session:        sc,
		Reconnect:      true,
		ReconnectDelay: time.Second,
	}
}

// Subscriber is the client side of a Broker. Its topic table outlives the
// connection.
type Subscriber struct {
	cfg SubscriberConfig
	srv *session.Server
	log zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	topics map[string]MessageFunc
	sess   *session.Session
	addr   string
	closed bool

	// OnConnected runs after every successful (re)connect.
	OnConnected func()
	// OnLost runs when an established connection drops.
	OnLost func(err error)
}

func NewSubscriber(cfg SubscriberConfig) *Subscriber {
	if cfg.Session.Transport.Name == "" {
		cfg.Session.Transport.Name = DefaultSubscriberConfig().Session.Transport.Name
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultSubscriberConfig().ReconnectDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Subscriber{
		cfg:    cfg,
		srv:    session.NewServer(cfg.Session),
		log:    log.With().Str("component", "subscriber").Logger(),
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[string]MessageFunc),
	}
	c.srv.Handle(CmdPublish, c.handlePublish)
	c.srv.OnClose(c.lost)
	return c
}

// Connect dials the broker and sends every registered subscription.
func (c *Subscriber) Connect(ctx context.Context, addr string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrSubscriberClosed
	}
	if c.sess != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.addr = addr
	c.mu.Unlock()
	return c.dial(ctx)
}

func (c *Subscriber) dial(ctx context.Context) error {
	sess, err := c.srv.Dial(ctx, c.addr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = sess.Close()
		return ErrSubscriberClosed
	}
	c.sess = sess
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.mu.Unlock()

	sort.Strings(topics)
	for _, t := range topics {
		if err := sess.Send(newTopicPacket(CmdSubscribe, t)); err != nil {
			return err
		}
	}
	c.log.Info().Str("addr", c.addr).Int("topics", len(topics)).Msg("connected")
	if c.OnConnected != nil {
		c.OnConnected()
	}
	return nil
}

func (c *Subscriber) lost(sess *session.Session) {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	err := sess.Channel().Err()
	c.log.Warn().Err(err).Str("addr", c.addr).Msg("connection lost")
	if c.OnLost != nil {
		c.OnLost(err)
	}
	if c.cfg.Reconnect {
		go c.reconnect()
	}
}

func (c *Subscriber) reconnect() {
	timer := time.NewTimer(c.cfg.ReconnectDelay)
	defer timer.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-timer.C:
		}
		err := c.dial(c.ctx)
		if err == nil || errors.Is(err, ErrSubscriberClosed) {
			return
		}
		c.log.Warn().Err(err).Str("addr", c.addr).Msg("reconnect failed")
		timer.Reset(c.cfg.ReconnectDelay)
	}
}

func (c *Subscriber) current() *session.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

func (c *Subscriber) Connected() bool {
	sess := c.current()
	return sess != nil && !sess.Closed()
}

// Subscribe registers fn for topic, replacing any earlier one, and tells
// the broker when connected. Without a connection the subscription is sent
// on the next connect.
func (c *Subscriber) Subscribe(topic string, fn MessageFunc) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if fn == nil {
		return errors.New("broker: nil message func")
	}
	c.mu.Lock()
	c.topics[topic] = fn
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Send(newTopicPacket(CmdSubscribe, topic))
}

func (c *Subscriber) Unsubscribe(topic string) error {
	c.mu.Lock()
	_, had := c.topics[topic]
	delete(c.topics, topic)
	sess := c.sess
	c.mu.Unlock()
	if !had || sess == nil {
		return nil
	}
	return sess.Send(newTopicPacket(CmdUnsubscribe, topic))
}

// Topics lists the registered topics.
func (c *Subscriber) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Publish sends payload to every other subscriber of topic.
func (c *Subscriber) Publish(topic string, payload []byte) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	sess := c.current()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.Send(NewPublishPacket(topic, payload))
}

// Flush waits until queued messages have been written to the socket.
func (c *Subscriber) Flush(ctx context.Context) error {
	sess := c.current()
	if sess == nil {
		return ErrNotConnected
	}
	return sess.Flush(ctx)
}

func (c *Subscriber) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.cancel()
	return c.srv.Close()
}

func (c *Subscriber) handlePublish(s *session.Session, p *frame.Packet) error {
	topic, err := readTopic(p)
	if err != nil {
		return err
	}
	c.mu.RLock()
	fn := c.topics[topic]
	c.mu.RUnlock()
	if fn == nil {
		return nil
	}
	payload, err := p.Next(p.Remaining())
	if err != nil {
		return err
	}
	fn(topic, append([]byte(nil), payload...))
	return nil
}
