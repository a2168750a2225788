package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"transferScope/internal/model"
	"transferScope/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// CheckpointName is the indexer_state row owned by the streaming indexer.
const CheckpointName = "transfers"

// Store provides Postgres persistence for transfers and the indexer checkpoint.
type Store struct {
	pool           *pgxpool.Pool
	checkpointName string
}

var (
	_ storage.EventStore      = (*Store)(nil)
	_ storage.CheckpointStore = (*Store)(nil)
)

// NewStore connects, verifies the connection and creates the schema if missing.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pg dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", storage.ErrStoreUnavailable, err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{pool: pool, checkpointName: CheckpointName}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InsertIfAbsent relies on the dedup_key primary key; a conflicting insert
// affects zero rows and is reported as AlreadyExists.
func (s *Store) InsertIfAbsent(ctx context.Context, record model.TransferRecord) (storage.InsertResult, error) {
	if record.DedupKey == "" {
		return 0, fmt.Errorf("%w: record has empty dedup key", storage.ErrStoreUnavailable)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO transfer_events (
			dedup_key, tx_hash, log_index, from_address, to_address, value, block_num, indexed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (dedup_key) DO NOTHING
	`,
		record.DedupKey,
		strings.ToLower(record.TxHash),
		int64(record.LogIndex),
		record.From,
		record.To,
		record.Value,
		int64(record.BlockNum),
		record.IndexedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert transfer: %v", storage.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.AlreadyExists, nil
	}
	return storage.Inserted, nil
}

const selectColumns = `dedup_key, tx_hash, log_index, from_address, to_address, value, block_num, indexed_at`

// FindByTxHash matches case-insensitively. Stored hashes are lowercase, so
// only the argument is folded and transfer_events_tx_hash_idx stays usable.
func (s *Store) FindByTxHash(ctx context.Context, txHash string) (model.TransferRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+selectColumns+`
		FROM transfer_events
		WHERE tx_hash = lower($1)
		ORDER BY log_index ASC
		LIMIT 1
	`, txHash)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TransferRecord{}, storage.ErrNotFound
		}
		return model.TransferRecord{}, fmt.Errorf("%w: find transfer: %v", storage.ErrStoreUnavailable, err)
	}
	return record, nil
}

func (s *Store) FindMany(ctx context.Context, filter storage.Filter) ([]model.TransferRecord, error) {
	limit := storage.ClampLimit(filter.Limit)

	var (
		rows pgx.Rows
		err  error
	)
	if filter.Address == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT `+selectColumns+`
			FROM transfer_events
			ORDER BY block_num DESC, log_index DESC
			LIMIT $1
		`, limit)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT `+selectColumns+`
			FROM transfer_events
			WHERE from_address = $1 OR to_address = $1
			ORDER BY block_num DESC, log_index DESC
			LIMIT $2
		`, filter.Address, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: query transfers: %v", storage.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	records := make([]model.TransferRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan transfer: %v", storage.ErrStoreUnavailable, err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate transfers: %v", storage.ErrStoreUnavailable, err)
	}
	return records, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM transfer_events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: count transfers: %v", storage.ErrStoreUnavailable, err)
	}
	return count, nil
}

func (s *Store) MaxBlock(ctx context.Context) (uint64, bool, error) {
	var block *int64
	if err := s.pool.QueryRow(ctx, `SELECT max(block_num) FROM transfer_events`).Scan(&block); err != nil {
		return 0, false, fmt.Errorf("%w: max block: %v", storage.ErrStoreUnavailable, err)
	}
	if block == nil {
		return 0, false, nil
	}
	return uint64(*block), true, nil
}

// Read returns the checkpoint row, if one has been written.
func (s *Store) Read(ctx context.Context) (uint64, bool, error) {
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_indexed_block FROM indexer_state WHERE name=$1`, s.checkpointName)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("%w: read checkpoint: %v", storage.ErrStoreUnavailable, err)
	}
	return uint64(block), true, nil
}

// Write upserts the checkpoint; GREATEST keeps the row monotonic even when
// writers race.
func (s *Store) Write(ctx context.Context, block uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_indexed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_indexed_block = GREATEST(indexer_state.last_indexed_block, EXCLUDED.last_indexed_block),
			updated_at = now()
	`, s.checkpointName, int64(block))
	if err != nil {
		return fmt.Errorf("%w: write checkpoint: %v", storage.ErrStoreUnavailable, err)
	}
	return nil
}

func scanRecord(row pgx.Row) (model.TransferRecord, error) {
	var (
		record   model.TransferRecord
		logIndex int64
		blockNum int64
	)
	err := row.Scan(
		&record.DedupKey,
		&record.TxHash,
		&logIndex,
		&record.From,
		&record.To,
		&record.Value,
		&blockNum,
		&record.IndexedAt,
	)
	if err != nil {
		return model.TransferRecord{}, err
	}
	record.LogIndex = uint32(logIndex)
	record.BlockNum = uint64(blockNum)
	return record, nil
}
