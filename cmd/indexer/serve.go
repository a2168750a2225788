package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"transferScope/internal/api"
	"transferScope/internal/config"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only transfer API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("listen", ":3000", "API listen address")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(config.ModeServe); err != nil {
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

	st, err := openStores(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer st.close()

	logger.Info("serve start", zap.String("listen", cfg.Listen), zap.String("store", cfg.Store))
	return api.NewServer(st.events, st.checkpoints, logger, m, reg).Run(ctx, cfg.Listen)
}
