package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/danmuck/edgewire/internal/broker"
	"github.com/danmuck/edgewire/internal/syncx"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func subscribeCmd(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "subscribe [topic...]",
		Short: "Print every message published to the given topics",
		Long: `subscribe connects to a broker and prints one line per message.
Topics from the command line are merged with the configured ones.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load("subscriber")
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Subscriber.Addr = addr
			}
			topics := mergeTopics(cfg.Subscriber.Topics, args)
			if len(topics) == 0 {
				return fmt.Errorf("no topics to subscribe to")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSubscriber(ctx, cfg.Subscriber.Client, cfg.Subscriber.Addr, topics, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "broker address")
	return cmd
}

// mergeTopics drops blanks and duplicates and returns the topics sorted.
func mergeTopics(lists ...[]string) []string {
	set := syncx.NewSet[string]()
	for _, list := range lists {
		for _, t := range list {
			if t = strings.TrimSpace(t); t != "" {
				set.Add(t)
			}
		}
	}
	out := set.Items()
	sort.Strings(out)
	return out
}

func runSubscriber(ctx context.Context, cfg broker.SubscriberConfig, addr string, topics []string, out io.Writer) error {
	sub := broker.NewSubscriber(cfg)
	defer sub.Close()

	lines := make(chan string, 64)
	for _, topic := range topics {
		if err := sub.Subscribe(topic, func(topic string, payload []byte) {
			select {
			case lines <- fmt.Sprintf("%s\t%s", topic, payload):
			case <-ctx.Done():
			}
		}); err != nil {
			return err
		}
	}
	sub.OnLost = func(err error) { log.Warn().Err(err).Str("addr", addr).Msg("broker connection lost") }
	if err := sub.Connect(ctx, addr); err != nil {
		return err
	}
	log.Info().Str("addr", addr).Strs("topics", topics).Msg("subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			if _, err := fmt.Fprintln(out, line); err != nil {
				return err
			}
		}
	}
}
