package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"transferScope/internal/metrics"
	"transferScope/internal/model"
	"transferScope/internal/storage"
)

// Outcome is the result of ingesting one event.
type Outcome int

const (
	Inserted Outcome = iota
	DuplicateSkipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case DuplicateSkipped:
		return "duplicate_skipped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// DedupPolicy decides which fields identify a transfer.
type DedupPolicy string

const (
	// DedupTxHash keys records on the transaction hash alone: at most one
	// transfer is kept per transaction.
	DedupTxHash DedupPolicy = "tx"
	// DedupTxLog keys records on transaction hash and log index, keeping
	// every transfer emitted by a transaction.
	DedupTxLog DedupPolicy = "tx-log"
)

func ParseDedupPolicy(s string) (DedupPolicy, error) {
	switch DedupPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case DedupTxHash, "":
		return DedupTxHash, nil
	case DedupTxLog:
		return DedupTxLog, nil
	default:
		return "", fmt.Errorf("%w: unknown dedup key %q", ErrUsage, s)
	}
}

// Key returns the dedup key of raw under the policy.
func (p DedupPolicy) Key(raw model.RawEvent) string {
	txHash := strings.ToLower(raw.TxHash.Hex())
	if p == DedupTxLog {
		return fmt.Sprintf("%s:%d", txHash, raw.LogIndex)
	}
	return txHash
}

// Tally counts ingest outcomes.
type Tally struct {
	Inserted         int
	DuplicateSkipped int
	Failed           int
}

func (t *Tally) Add(o Outcome) {
	switch o {
	case Inserted:
		t.Inserted++
	case DuplicateSkipped:
		t.DuplicateSkipped++
	case Failed:
		t.Failed++
	}
}

func (t Tally) Total() int {
	return t.Inserted + t.DuplicateSkipped + t.Failed
}

func (t Tally) String() string {
	return fmt.Sprintf("inserted=%d duplicate_skipped=%d failed=%d", t.Inserted, t.DuplicateSkipped, t.Failed)
}

// Ingester normalizes raw events and writes them to the event store. It holds
// no dedup state of its own; the store's uniqueness constraint decides.
type Ingester struct {
	store   storage.EventStore
	policy  DedupPolicy
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewIngester(store storage.EventStore, policy DedupPolicy, logger *zap.Logger, m *metrics.Metrics) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == "" {
		policy = DedupTxHash
	}
	return &Ingester{
		store:   store,
		policy:  policy,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Normalize converts raw into the record persisted for it.
func Normalize(raw model.RawEvent, policy DedupPolicy, indexedAt time.Time) (model.TransferRecord, error) {
	if raw.Value == nil {
		return model.TransferRecord{}, fmt.Errorf("%w: missing value", ErrMalformedEvent)
	}
	if raw.TxHash == (common.Hash{}) {
		return model.TransferRecord{}, fmt.Errorf("%w: missing tx hash", ErrMalformedEvent)
	}
	return model.TransferRecord{
		DedupKey:  policy.Key(raw),
		From:      raw.From.Hex(),
		To:        raw.To.Hex(),
		Value:     raw.Value.Dec(),
		TxHash:    raw.TxHash.Hex(),
		LogIndex:  raw.LogIndex,
		BlockNum:  raw.BlockNumber,
		IndexedAt: indexedAt.Unix(),
	}, nil
}

// IngestEvent persists raw if its dedup key is new. A Failed outcome comes
// with the cause; the caller decides whether to continue, and the batch and
// stream drivers always do.
func (i *Ingester) IngestEvent(ctx context.Context, raw model.RawEvent) (Outcome, error) {
	outcome, err := i.ingest(ctx, raw)
	i.metrics.ObserveIngest(outcome.String())
	return outcome, err
}

func (i *Ingester) ingest(ctx context.Context, raw model.RawEvent) (Outcome, error) {
	record, err := Normalize(raw, i.policy, i.now())
	if err != nil {
		i.logger.Warn("malformed transfer event",
			zap.Error(err),
			zap.String("tx_hash", raw.TxHash.Hex()),
			zap.Uint64("block", raw.BlockNumber),
		)
		return Failed, err
	}

	result, err := i.store.InsertIfAbsent(ctx, record)
	if err != nil {
		if !errors.Is(err, storage.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
		}
		i.logger.Error("store transfer failed",
			zap.Error(err),
			zap.String("tx_hash", record.TxHash),
			zap.Uint64("block", record.BlockNum),
		)
		return Failed, err
	}

	if result == storage.AlreadyExists {
		i.logger.Debug("duplicate transfer skipped",
			zap.String("dedup_key", record.DedupKey),
			zap.Uint64("block", record.BlockNum),
		)
		return DuplicateSkipped, nil
	}

	i.logger.Info("indexed transfer",
		zap.String("tx_hash", record.TxHash),
		zap.Uint32("log_index", record.LogIndex),
		zap.Uint64("block", record.BlockNum),
		zap.String("from", record.From),
		zap.String("to", record.To),
		zap.String("value", record.Value),
	)
	return Inserted, nil
}
