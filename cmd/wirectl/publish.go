package main

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/danmuck/edgewire/internal/broker"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func publishCmd(flags *rootFlags) *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "publish <topic> [message]",
		Short: "Publish one message, read from stdin when omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load("publisher")
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Subscriber.Addr = addr
			}
			var payload []byte
			if len(args) == 2 {
				payload = []byte(args[1])
			} else if payload, err = io.ReadAll(cmd.InOrStdin()); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			client := cfg.Subscriber.Client
			client.Reconnect = false
			return publishOnce(ctx, client, cfg.Subscriber.Addr, strings.TrimSpace(args[0]), payload)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "broker address")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "connect and flush deadline")
	return cmd
}

// publishOnce connects, publishes and waits for the message to reach the
// socket before closing.
func publishOnce(ctx context.Context, cfg broker.SubscriberConfig, addr, topic string, payload []byte) error {
	pub := broker.NewSubscriber(cfg)
	defer pub.Close()
	if err := pub.Connect(ctx, addr); err != nil {
		return err
	}
	if err := pub.Publish(topic, payload); err != nil {
		return err
	}
	if err := pub.Flush(ctx); err != nil {
		return err
	}
	log.Info().Str("topic", topic).Int("bytes", len(payload)).Msg("published")
	return nil
}
