package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/danmuck/edgewire/internal/admin"
	"github.com/danmuck/edgewire/internal/broker"
	"github.com/danmuck/edgewire/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func brokerCmd(flags *rootFlags) *cobra.Command {
	var listen, adminListen string
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run a broker until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load("broker")
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Broker.Listen = listen
			}
			if cmd.Flags().Changed("admin") {
				cfg.Broker.AdminListen = adminListen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runBroker(ctx, cfg.Broker)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "channel listen address")
	cmd.Flags().StringVar(&adminListen, "admin", "", "admin HTTP listen address, empty to disable")
	return cmd
}

func runBroker(ctx context.Context, cfg config.BrokerConfig) error {
	b := broker.New(cfg.Broker)
	ln, err := b.Listen(ctx, cfg.Listen)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)
	go func() { errCh <- b.Serve(ctx, ln) }()
	running := 1
	if cfg.AdminListen != "" {
		acfg := admin.DefaultConfig()
		acfg.Addr = cfg.AdminListen
		acfg.CorsOrigins = cfg.CorsOrigins
		acfg.Token = cfg.AdminToken
		srv := admin.New(acfg, b)
		go func() { errCh <- srv.ListenAndServe(ctx) }()
		running++
	}
	log.Info().Str("instance", b.InstanceID()).Str("listen", ln.Addr().String()).Str("admin", cfg.AdminListen).Msg("broker up")

	var errs []error
	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	if err := b.Close(); err != nil {
		errs = append(errs, err)
	}
	log.Info().Msg("broker stopped")
	return errors.Join(errs...)
}
