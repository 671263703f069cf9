package config

import (
	"fmt"
	"strings"

	"github.com/danmuck/edgewire/internal/broker"
	"github.com/danmuck/edgewire/internal/logging"
)

// Config is everything wirectl reads from a config file.
type Config struct {
	Broker     BrokerConfig
	Subscriber SubscriberConfig
	Log        LogConfig
}

type BrokerConfig struct {
	Listen string
	// AdminListen enables the HTTP admin surface when non-empty.
	AdminListen string
	// AdminToken guards the admin surface's mutating routes when set.
	AdminToken  string
	CorsOrigins []string
	Broker      broker.Config
}

type SubscriberConfig struct {
	Addr   string
	Topics []string
	Client broker.SubscriberConfig
}

type LogConfig struct {
	Level string
	JSON  bool
}

func Default() Config {
	return Config{
		Broker: BrokerConfig{
			Listen:      "127.0.0.1:7300",
			AdminListen: "127.0.0.1:7301",
			CorsOrigins: []string{"http://localhost:3000"},
			Broker:      broker.DefaultConfig(),
		},
		Subscriber: SubscriberConfig{
			Addr:   "127.0.0.1:7300",
			Topics: []string{},
			Client: broker.DefaultSubscriberConfig(),
		},
		Log: LogConfig{Level: "info"},
	}
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Broker.Listen) == "" {
		return fmt.Errorf("broker config missing listen")
	}
	if err := cfg.Broker.Broker.Session.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("broker config invalid: %w", err)
	}
	if strings.TrimSpace(cfg.Subscriber.Addr) == "" {
		return fmt.Errorf("subscriber config missing addr")
	}
	if err := cfg.Subscriber.Client.Session.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("subscriber config invalid: %w", err)
	}
	for i, topic := range cfg.Subscriber.Topics {
		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("subscriber topic[%d] is empty", i)
		}
	}
	if _, ok := logging.ParseLevel(cfg.Log.Level); !ok {
		return fmt.Errorf("log config invalid level %q", cfg.Log.Level)
	}
	return nil
}
