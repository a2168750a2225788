package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"transferScope/internal/config"
	"transferScope/internal/storage"
	"transferScope/internal/storage/postgres"
)

type stores struct {
	events      storage.EventStore
	checkpoints storage.CheckpointStore
	close       func()
}

// openStores wires the configured backend. With readOnly the JSONL file is
// opened for queries only, so serve can follow a separate stream process.
func openStores(ctx context.Context, cfg config.Config, logger *zap.Logger, readOnly bool) (*stores, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &stores{
			events:      pg,
			checkpoints: pg,
			close: func() {
				pg.Close()
				logger.Info("postgres store closed")
			},
		}, nil
	case config.StoreJsonl:
		open := storage.OpenJsonlStore
		if readOnly {
			open = storage.OpenJsonlReader
		}
		js, err := open(cfg.Out, logger.Named("jsonl"))
		if err != nil {
			return nil, err
		}
		return &stores{
			events:      js,
			checkpoints: storage.NewFileCheckpointStore(cfg.Checkpoint),
			close: func() {
				if err := js.Close(); err != nil {
					logger.Warn("close jsonl store", zap.Error(err))
					return
				}
				logger.Info("jsonl store closed")
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported store %q", cfg.Store)
	}
}
