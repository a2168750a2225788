package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"transferScope/internal/chain"
	"transferScope/internal/config"
	"transferScope/internal/indexer"
	"transferScope/internal/metrics"
)

func newStreamCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Follow the chain head, resuming from the stored checkpoint",
		Args:  cobra.NoArgs,
		RunE:  runStream,
	}
	addSourceFlags(cmd)
	cmd.Flags().Bool("catch-up", true, "replay blocks missed since the checkpoint before going live")
	cmd.Flags().Int("subscription-buffer", 128, "buffered live events before backpressure")
	cmd.Flags().Duration("reconnect-max-backoff", time.Minute, "maximum delay between reconnect attempts")
	cmd.Flags().String("metrics-addr", ":9090", "metrics listen address (empty disables)")
	return cmd
}

func runStream(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(config.ModeStream); err != nil {
		return err
	}
	policy, err := indexer.ParseDedupPolicy(cfg.DedupKey)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, m, err := newMetrics()
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer st.close()

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL, cfg.TokenAddress(), chain.WithLogger(logger), chain.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	ingester := indexer.NewIngester(st.events, policy, logger, m)
	streamer := indexer.NewStreamer(chainClient, ingester, st.checkpoints, indexer.StreamConfig{
		Fetch: indexer.FetchConfig{
			BatchSize:    cfg.BatchSize,
			MaxRetries:   cfg.MaxRetries,
			RetryBackoff: cfg.RetryBackoff,
		},
		CatchUp:             cfg.CatchUp,
		SubscriptionBuffer:  cfg.SubscriptionBuffer,
		ReconnectBackoff:    cfg.RetryBackoff,
		ReconnectMaxBackoff: cfg.ReconnectMaxBackoff,
	}, logger, m)

	logger.Info("stream start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("token", cfg.TokenAddress().Hex()),
		zap.String("store", cfg.Store),
		zap.String("dedup_key", string(policy)),
		zap.Bool("catch_up", cfg.CatchUp),
		zap.Int("subscription_buffer", cfg.SubscriptionBuffer),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return streamer.Run(gctx)
	})
	if cfg.MetricsAddr != "" {
		server := metrics.NewServer(cfg.MetricsAddr, reg)
		g.Go(func() error {
			return server.Run(gctx)
		})
	}

	err = g.Wait()
	logger.Info("stream stopped", zap.Stringer("tally", streamer.Tally()), zap.Error(err))
	return err
}
