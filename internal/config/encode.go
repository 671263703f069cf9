package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/danmuck/edgewire/internal/protocol/session"
	"github.com/pelletier/go-toml/v2"
)

// Encode writes cfg as TOML in the layout Load reads back.
func Encode(w io.Writer, cfg Config) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(toFile(cfg))
}

// WriteFile encodes cfg to path, refusing to replace an existing file
// unless overwrite is set.
func WriteFile(path string, cfg Config, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	var buf bytes.Buffer
	if err := Encode(&buf, cfg); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

func toFile(cfg Config) fileConfig {
	client := cfg.Subscriber.Client
	return fileConfig{
		Broker: fileBroker{
			Listen:      cfg.Broker.Listen,
			AdminListen: cfg.Broker.AdminListen,
			AdminToken:  cfg.Broker.AdminToken,
			CorsOrigins: cfg.Broker.CorsOrigins,
			Channel:     toFileChannel(cfg.Broker.Broker.Session),
		},
		Subscriber: fileSubscriber{
			Addr:               cfg.Subscriber.Addr,
			Topics:             cfg.Subscriber.Topics,
			ConnectTimeout:     client.Session.ConnectTimeout.String(),
			MaxConnectAttempts: client.Session.MaxConnectAttempts,
			Reconnect:          client.Reconnect,
			ReconnectDelay:     client.ReconnectDelay.String(),
			Backoff: fileBackoff{
				InitialDelay: client.Session.Backoff.InitialDelay.String(),
				Multiplier:   client.Session.Backoff.Multiplier,
				MaxDelay:     client.Session.Backoff.MaxDelay.String(),
				Jitter:       client.Session.Backoff.Jitter,
			},
			Channel: toFileChannel(client.Session),
		},
		Log: fileLog{
			Level: cfg.Log.Level,
			JSON:  cfg.Log.JSON,
		},
	}
}

func toFileChannel(sc session.Config) fileChannel {
	return fileChannel{
		BufferSize:        sc.Transport.BufferSize,
		MaxPoolNum:        sc.Transport.MaxPoolNum,
		MaxMessageLen:     sc.MaxMessageLen,
		KeepAliveIdle:     sc.Transport.KeepAliveIdle.String(),
		KeepAliveInterval: sc.Transport.KeepAliveInterval.String(),
		ReusePort:         sc.Transport.ReusePort,
	}
}
