package storage

import (
	"context"
	"errors"

	"transferScope/internal/model"
)

var (
	// ErrNotFound is returned by lookups that match no record.
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable wraps every persistence failure.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// InsertResult reports whether InsertIfAbsent wrote a new row.
type InsertResult int

const (
	Inserted InsertResult = iota
	AlreadyExists
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// MaxListLimit caps the number of records a single FindMany call returns.
const MaxListLimit = 1000

// Filter selects transfers for FindMany. An empty Address matches everything;
// otherwise a record matches when either side equals Address.
type Filter struct {
	Address string
	Limit   int
}

// EventStore persists transfer records keyed by their dedup key.
type EventStore interface {
	InsertIfAbsent(ctx context.Context, record model.TransferRecord) (InsertResult, error)
	FindByTxHash(ctx context.Context, txHash string) (model.TransferRecord, error)
	// FindMany returns matches ordered by block number then log index, both descending.
	FindMany(ctx context.Context, filter Filter) ([]model.TransferRecord, error)
	Count(ctx context.Context) (int64, error)
	// MaxBlock returns the highest block number among stored records.
	MaxBlock(ctx context.Context) (uint64, bool, error)
}

// CheckpointStore holds the single indexer checkpoint row.
type CheckpointStore interface {
	Read(ctx context.Context) (uint64, bool, error)
	// Write stores max(existing, block). Repeating a write is a no-op.
	Write(ctx context.Context, block uint64) error
}

// ClampLimit maps a requested page size onto (0, MaxListLimit].
func ClampLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
