package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/danmuck/edgewire/internal/observability"
	"github.com/danmuck/edgewire/internal/protocol/frame"
	"github.com/danmuck/edgewire/internal/protocol/session"
	"github.com/danmuck/edgewire/internal/syncx"
	"github.com/danmuck/edgewire/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
	CmdPublish     = "publish"
)

var ErrEmptyTopic = errors.New("broker: empty topic")

// Config sizes the broker's channel kind.
type Config struct {
	Session session.Config
}

func DefaultConfig() Config {
	sc := session.DefaultConfig()
	sc.Transport.Name = "broker"
	sc.Transport.MaxPoolNum = 20
	return Config{Session: sc}
}

// ChannelInfo is one connected peer and the topics it holds.
type ChannelInfo struct {
	transport.ChannelInfo
	Topics []string `json:"topics"`
}

// Broker is the publishing side: it tracks topic subscriptions per
// connection and fans published messages out to every other subscriber.
type Broker struct {
	cfg  Config
	id   string
	srv  *session.Server
	subs *syncx.Index[string, uint32]
	log  zerolog.Logger
}

func New(cfg Config) *Broker {
	if cfg.Session.Transport.Name == "" {
		cfg.Session.Transport.Name = DefaultConfig().Session.Transport.Name
	}
	b := &Broker{
		cfg:  cfg,
		id:   uuid.NewString(),
		srv:  session.NewServer(cfg.Session),
		subs: syncx.NewIndex[string, uint32](),
	}
	b.log = log.With().Str("component", "broker").Str("instance", b.id).Logger()
	b.srv.Handle(CmdSubscribe, b.handleSubscribe)
	b.srv.Handle(CmdUnsubscribe, b.handleUnsubscribe)
	b.srv.Handle(CmdPublish, b.handlePublish)
	b.srv.OnClose(b.dropSession)
	return b
}

// InstanceID identifies this broker process in logs and the admin API.
func (b *Broker) InstanceID() string { return b.id }

func (b *Broker) Server() *session.Server { return b.srv }

func (b *Broker) Listen(ctx context.Context, addr string) (net.Listener, error) {
	return b.srv.Listen(ctx, addr)
}

func (b *Broker) Serve(ctx context.Context, ln net.Listener) error {
	b.log.Info().Str("addr", ln.Addr().String()).Msg("broker serving")
	return b.srv.Serve(ctx, ln)
}

func (b *Broker) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := b.Listen(ctx, addr)
	if err != nil {
		return err
	}
	return b.Serve(ctx, ln)
}

// Addrs lists the addresses the broker is serving on.
func (b *Broker) Addrs() []string { return b.srv.Addrs() }

// Disconnect closes the channel with id. Its subscriptions are dropped once
// teardown completes.
func (b *Broker) Disconnect(id uint32) bool {
	sess, ok := b.srv.Session(id)
	if !ok {
		return false
	}
	_ = sess.Close()
	return true
}

func (b *Broker) Close() error {
	return b.srv.Close()
}

// Publish injects payload into topic's fan-out and returns how many
// subscribers it was queued for.
func (b *Broker) Publish(topic string, payload []byte) int {
	p := NewPublishPacket(topic, payload)
	n := b.fanout(topic, p, 0)
	observability.RecordBrokerPublish("local", n)
	return n
}

// Topics maps every topic with subscribers to its subscriber count.
func (b *Broker) Topics() map[string]int {
	return b.subs.Counts()
}

// Subscribers lists the channel ids subscribed to topic, ascending.
func (b *Broker) Subscribers(topic string) []uint32 {
	ids := b.subs.Members(topic)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (b *Broker) Channels() []ChannelInfo {
	snap := b.srv.Registry().Snapshot()
	out := make([]ChannelInfo, 0, len(snap))
	for _, info := range snap {
		topics := b.subs.KeysOf(info.ID)
		sort.Strings(topics)
		out = append(out, ChannelInfo{ChannelInfo: info, Topics: topics})
	}
	return out
}

// fanout sends a clone of p to every subscriber of topic except the channel
// with id except. It runs under the index read lock, so a closing channel
// cannot be removed halfway through.
func (b *Broker) fanout(topic string, p *frame.Packet, except uint32) int {
	var n int
	b.subs.Range(topic, func(id uint32) bool {
		if id == except {
			return true
		}
		sess, ok := b.srv.Session(id)
		if !ok {
			return true
		}
		if err := sess.Send(p.Clone()); err != nil {
			b.log.Debug().Err(err).Uint32("id", id).Str("topic", topic).Msg("delivery skipped")
			return true
		}
		n++
		return true
	})
	return n
}

func readTopic(p *frame.Packet) (string, error) {
	topic, err := p.ReadString()
	if err != nil {
		return "", fmt.Errorf("broker: read topic: %w", err)
	}
	if strings.TrimSpace(topic) == "" {
		return "", ErrEmptyTopic
	}
	return topic, nil
}

func (b *Broker) handleSubscribe(s *session.Session, p *frame.Packet) error {
	topic, err := readTopic(p)
	if err != nil {
		return err
	}
	if b.subs.Add(topic, s.ID()) {
		observability.RecordBrokerSubscriptions(1)
		b.log.Debug().Uint32("id", s.ID()).Str("topic", topic).Msg("subscribed")
	}
	return nil
}

func (b *Broker) handleUnsubscribe(s *session.Session, p *frame.Packet) error {
	topic, err := readTopic(p)
	if err != nil {
		return err
	}
	if b.subs.Remove(topic, s.ID()) {
		observability.RecordBrokerSubscriptions(-1)
		b.log.Debug().Uint32("id", s.ID()).Str("topic", topic).Msg("unsubscribed")
	}
	return nil
}

func (b *Broker) handlePublish(s *session.Session, p *frame.Packet) error {
	topic, err := readTopic(p)
	if err != nil {
		return err
	}
	n := b.fanout(topic, p, s.ID())
	observability.RecordBrokerPublish("remote", n)
	return nil
}

func (b *Broker) dropSession(s *session.Session) {
	topics := b.subs.RemoveValue(s.ID())
	if len(topics) == 0 {
		return
	}
	observability.RecordBrokerSubscriptions(-len(topics))
	b.log.Debug().Uint32("id", s.ID()).Strs("topics", topics).Msg("subscriptions dropped")
}

// NewPublishPacket builds the publish message: topic then raw payload.
func NewPublishPacket(topic string, payload []byte) *frame.Packet {
	p := frame.NewPacketSize(CmdPublish, frame.HeaderLen+4+len(CmdPublish)+4+len(topic)+len(payload))
	p.PutString(topic).Append(payload)
	return p
}

func newTopicPacket(cmd, topic string) *frame.Packet {
	p := frame.NewPacket(cmd)
	p.PutString(topic)
	return p
}
