package indexer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"transferScope/internal/model"
)

// inflightTimeout bounds an ingest that is allowed to finish after shutdown
// has been requested.
const inflightTimeout = 30 * time.Second

// FetchConfig controls how block ranges are pulled from the source.
type FetchConfig struct {
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

func (c FetchConfig) withDefaults() FetchConfig {
	if c.BatchSize == 0 {
		c.BatchSize = 2000
	}
	return c
}

// rangeDrainer is the batch path shared by backfill and catch-up: it walks
// [from, to] in chunks and ingests every event sequentially.
type rangeDrainer struct {
	source   Source
	ingester *Ingester
	cfg      FetchConfig
	logger   *zap.Logger
}

// drain returns ctx.Err() when cancelled between events and an
// ErrSourceUnavailable error when a chunk cannot be fetched. onInserted runs
// after every Inserted outcome, before the next event is touched.
func (d *rangeDrainer) drain(ctx context.Context, from, to uint64, tally *Tally, onInserted func(ctx context.Context, block uint64)) error {
	ranges, err := SplitRange(from, to, d.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, blockRange := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}

		d.logger.Info("fetch transfers", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))

		events, err := d.fetchWithRetry(ctx, blockRange)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: query range %d-%d: %v", ErrSourceUnavailable, blockRange.From, blockRange.To, err)
		}

		for _, ev := range events {
			if err := ctx.Err(); err != nil {
				return err
			}
			ingestOne(ctx, d.ingester, ev, tally, onInserted)
		}

		d.logger.Info("range complete",
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
			zap.Int("events", len(events)),
			zap.Stringer("tally", tally),
		)
	}
	return nil
}

func (d *rangeDrainer) fetchWithRetry(ctx context.Context, blockRange BlockRange) ([]model.RawEvent, error) {
	var events []model.RawEvent
	err := withRetry(ctx, d.cfg.MaxRetries, d.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		events, err = d.source.QueryRange(ctx, blockRange.From, blockRange.To)
		if err != nil {
			d.logger.Warn("query range failed", zap.Error(err), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
		}
		return err
	})
	return events, err
}

// ingestOne runs a single ingest detached from ctx cancellation, so that a
// shutdown never abandons a write halfway through.
func ingestOne(ctx context.Context, ingester *Ingester, ev model.RawEvent, tally *Tally, onInserted func(ctx context.Context, block uint64)) Outcome {
	inflight, cancel := context.WithTimeout(context.WithoutCancel(ctx), inflightTimeout)
	defer cancel()

	outcome, _ := ingester.IngestEvent(inflight, ev)
	tally.Add(outcome)
	if outcome == Inserted && onInserted != nil {
		onInserted(inflight, ev.BlockNumber)
	}
	return outcome
}
