package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"transferScope/internal/chain"
	"transferScope/internal/config"
	"transferScope/internal/indexer"
)

func newBackfillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill <fromBlock> <toBlock>",
		Short: "Index a fixed block range once; leaves the streaming checkpoint untouched",
		RunE:  runBackfill,
	}
	addSourceFlags(cmd)
	return cmd
}

// parseBlockArgs accepts exactly two positive block numbers with from <= to.
func parseBlockArgs(args []string) (uint64, uint64, error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("%w: expected <fromBlock> <toBlock>, got %d argument(s)", indexer.ErrUsage, len(args))
	}
	from, err := parseBlock("fromBlock", args[0])
	if err != nil {
		return 0, 0, err
	}
	to, err := parseBlock("toBlock", args[1])
	if err != nil {
		return 0, 0, err
	}
	if err := indexer.ValidateRange(from, to); err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

func parseBlock(name, raw string) (uint64, error) {
	block, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || block == 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer, got %q", indexer.ErrUsage, name, raw)
	}
	return block, nil
}

func runBackfill(cmd *cobra.Command, args []string) error {
	from, to, err := parseBlockArgs(args)
	if err != nil {
		cmd.PrintErrln(cmd.UsageString())
		return err
	}

	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(config.ModeBackfill); err != nil {
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

	_, m, err := newMetrics()
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
		return fmt.Errorf("%w: connect rpc: %v", indexer.ErrSourceUnavailable, err)
	}
	defer chainClient.Close()

	ingester := indexer.NewIngester(st.events, policy, logger, m)
	backfiller := indexer.NewBackfiller(chainClient, ingester, indexer.FetchConfig{
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, logger)

	logger.Info("backfill start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("token", cfg.TokenAddress().Hex()),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.String("store", cfg.Store),
		zap.String("dedup_key", string(policy)),
	)

	tally, err := backfiller.Run(ctx, from, to)
	fmt.Fprintf(cmd.OutOrStdout(), "blocks %d-%d: %s\n", from, to, tally)
	return err
}
