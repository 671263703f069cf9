package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgewire/internal/protocol/session"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Broker     fileBroker     `toml:"broker" yaml:"broker"`
	Subscriber fileSubscriber `toml:"subscriber" yaml:"subscriber"`
	Log        fileLog        `toml:"log" yaml:"log"`
}

// fileChannel is the [<section>.channel] table shared by both sections.
type fileChannel struct {
	BufferSize        int    `toml:"buffer_size" yaml:"buffer_size"`
	MaxPoolNum        int    `toml:"max_pool_num" yaml:"max_pool_num"`
	MaxMessageLen     int    `toml:"max_message_len" yaml:"max_message_len"`
	KeepAliveIdle     string `toml:"keepalive_idle" yaml:"keepalive_idle"`
	KeepAliveInterval string `toml:"keepalive_interval" yaml:"keepalive_interval"`
	ReusePort         bool   `toml:"reuse_port" yaml:"reuse_port"`
}

type fileBroker struct {
	Listen      string      `toml:"listen" yaml:"listen"`
	AdminListen string      `toml:"admin_listen" yaml:"admin_listen"`
	AdminToken  string      `toml:"admin_token" yaml:"admin_token"`
	CorsOrigins []string    `toml:"cors_origins" yaml:"cors_origins"`
	Channel     fileChannel `toml:"channel" yaml:"channel"`
}

type fileBackoff struct {
	InitialDelay string  `toml:"initial_delay" yaml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier" yaml:"multiplier"`
	MaxDelay     string  `toml:"max_delay" yaml:"max_delay"`
	Jitter       bool    `toml:"jitter" yaml:"jitter"`
}

type fileSubscriber struct {
	Addr               string      `toml:"addr" yaml:"addr"`
	Topics             []string    `toml:"topics" yaml:"topics"`
	ConnectTimeout     string      `toml:"connect_timeout" yaml:"connect_timeout"`
	MaxConnectAttempts int         `toml:"max_connect_attempts" yaml:"max_connect_attempts"`
	Reconnect          bool        `toml:"reconnect" yaml:"reconnect"`
	ReconnectDelay     string      `toml:"reconnect_delay" yaml:"reconnect_delay"`
	Backoff            fileBackoff `toml:"backoff" yaml:"backoff"`
	Channel            fileChannel `toml:"channel" yaml:"channel"`
}

type fileLog struct {
	Level string `toml:"level" yaml:"level"`
	JSON  bool   `toml:"json" yaml:"json"`
}

// definedFunc reports whether a dotted key path was present in the file.
type definedFunc func(key ...string) bool

// Load reads a TOML or YAML file, chosen by extension, and overlays the keys
// it defines onto Default. The result is validated.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	cfg, err := Parse(data, format)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data as "toml" or "yaml"/"yml".
func Parse(data []byte, format string) (Config, error) {
	var (
		raw     fileConfig
		defined definedFunc
	)
	switch format {
	case "toml", "":
		meta, err := toml.Decode(string(data), &raw)
		if err != nil {
			return Config{}, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("unknown keys: %v", undecoded)
		}
		defined = meta.IsDefined
	case "yaml", "yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil {
			return Config{}, err
		}
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Config{}, err
		}
		defined = yamlDefined(doc)
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", format)
	}

	cfg := Default()
	if err := apply(&cfg, raw, defined); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func yamlDefined(doc map[string]any) definedFunc {
	return func(key ...string) bool {
		var cur any = doc
		for _, k := range key {
			m, ok := cur.(map[string]any)
			if !ok {
				return false
			}
			if cur, ok = m[k]; !ok {
				return false
			}
		}
		return true
	}
}

func apply(cfg *Config, raw fileConfig, defined definedFunc) error {
	if defined("broker", "listen") {
		cfg.Broker.Listen = strings.TrimSpace(raw.Broker.Listen)
	}
	if defined("broker", "admin_listen") {
		cfg.Broker.AdminListen = strings.TrimSpace(raw.Broker.AdminListen)
	}
	if defined("broker", "admin_token") {
		cfg.Broker.AdminToken = strings.TrimSpace(raw.Broker.AdminToken)
	}
	if defined("broker", "cors_origins") {
		cfg.Broker.CorsOrigins = normalizeList(raw.Broker.CorsOrigins)
	}
	if err := applyChannel("broker", raw.Broker.Channel, defined, &cfg.Broker.Broker.Session); err != nil {
		return err
	}

	sub := raw.Subscriber
	client := &cfg.Subscriber.Client
	if defined("subscriber", "addr") {
		cfg.Subscriber.Addr = strings.TrimSpace(sub.Addr)
	}
	if defined("subscriber", "topics") {
		cfg.Subscriber.Topics = normalizeList(sub.Topics)
	}
	if defined("subscriber", "connect_timeout") {
		d, err := parseDuration("subscriber.connect_timeout", sub.ConnectTimeout)
		if err != nil {
			return err
		}
		client.Session.ConnectTimeout = d
	}
	if defined("subscriber", "max_connect_attempts") {
		client.Session.MaxConnectAttempts = sub.MaxConnectAttempts
	}
	if defined("subscriber", "reconnect") {
		client.Reconnect = sub.Reconnect
	}
	if defined("subscriber", "reconnect_delay") {
		d, err := parseDuration("subscriber.reconnect_delay", sub.ReconnectDelay)
		if err != nil {
			return err
		}
		client.ReconnectDelay = d
	}
	if defined("subscriber", "backoff", "initial_delay") {
		d, err := parseDuration("subscriber.backoff.initial_delay", sub.Backoff.InitialDelay)
		if err != nil {
			return err
		}
		client.Session.Backoff.InitialDelay = d
	}
	if defined("subscriber", "backoff", "multiplier") {
		client.Session.Backoff.Multiplier = sub.Backoff.Multiplier
	}
	if defined("subscriber", "backoff", "max_delay") {
		d, err := parseDuration("subscriber.backoff.max_delay", sub.Backoff.MaxDelay)
		if err != nil {
			return err
		}
		client.Session.Backoff.MaxDelay = d
	}
	if defined("subscriber", "backoff", "jitter") {
		client.Session.Backoff.Jitter = sub.Backoff.Jitter
	}
	if err := applyChannel("subscriber", sub.Channel, defined, &client.Session); err != nil {
		return err
	}

	if defined("log", "level") {
		cfg.Log.Level = strings.TrimSpace(raw.Log.Level)
	}
	if defined("log", "json") {
		cfg.Log.JSON = raw.Log.JSON
	}
	return nil
}

func applyChannel(section string, raw fileChannel, defined definedFunc, sc *session.Config) error {
	if defined(section, "channel", "buffer_size") {
		sc.Transport.BufferSize = raw.BufferSize
	}
	if defined(section, "channel", "max_pool_num") {
		sc.Transport.MaxPoolNum = raw.MaxPoolNum
	}
	if defined(section, "channel", "max_message_len") {
		sc.MaxMessageLen = raw.MaxMessageLen
	}
	if defined(section, "channel", "keepalive_idle") {
		d, err := parseDuration(section+".channel.keepalive_idle", raw.KeepAliveIdle)
		if err != nil {
			return err
		}
		sc.Transport.KeepAliveIdle = d
	}
	if defined(section, "channel", "keepalive_interval") {
		d, err := parseDuration(section+".channel.keepalive_interval", raw.KeepAliveInterval)
		if err != nil {
			return err
		}
		sc.Transport.KeepAliveInterval = d
	}
	if defined(section, "channel", "reuse_port") {
		sc.Transport.ReusePort = raw.ReusePort
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
