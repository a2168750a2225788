package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"transferScope/internal/model"
)

type jsonlLine struct {
	Key string `json:"key"`
	model.TransferRecord
}

// appendFile is the part of *os.File the writer uses.
type appendFile interface {
	io.WriteCloser
	Sync() error
	Truncate(size int64) error
	Stat() (os.FileInfo, error)
}

// JsonlStore is an append-only EventStore backed by a JSON-lines file. The key
// index is rebuilt from the file on open, and every call first picks up lines
// appended since the last one, so a reader follows a writer in another process.
type JsonlStore struct {
	path     string
	logger   *zap.Logger
	readOnly bool

	mu      sync.Mutex
	file    appendFile
	offset  int64
	lineNo  int
	records []model.TransferRecord
	keys    map[string]struct{}
}

var _ EventStore = (*JsonlStore)(nil)

// OpenJsonlStore loads any existing records at path and opens it for
// appending. A torn last line left by an interrupted write is cut off.
func OpenJsonlStore(path string, logger *zap.Logger) (*JsonlStore, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonl store path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output dir: %w", err)
		}
	}

	s := newJsonlStore(path, logger)
	torn, err := s.refresh()
	if err != nil {
		return nil, err
	}
	if torn > 0 {
		if err := os.Truncate(path, s.offset); err != nil {
			return nil, fmt.Errorf("truncate torn record: %w", err)
		}
		s.logger.Warn("dropped torn trailing record",
			zap.String("path", path),
			zap.Int64("offset", s.offset),
			zap.Int64("bytes", torn),
		)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	s.file = file
	return s, nil
}

// OpenJsonlReader opens path for queries only. The file may not exist yet;
// records show up as a writer appends them.
func OpenJsonlReader(path string, logger *zap.Logger) (*JsonlStore, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonl store path is required")
	}
	s := newJsonlStore(path, logger)
	s.readOnly = true
	if _, err := s.refresh(); err != nil {
		return nil, err
	}
	return s, nil
}

func newJsonlStore(path string, logger *zap.Logger) *JsonlStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JsonlStore{path: path, logger: logger, keys: make(map[string]struct{})}
}

// refresh applies complete lines past s.offset and advances it. Bytes after
// the last newline belong to a write in progress (or a torn one); their count
// is returned and they stay unread. Callers hold s.mu or own s exclusively.
func (s *JsonlStore) refresh() (int64, error) {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: open %s: %v", ErrStoreUnavailable, s.path, err)
	}
	defer file.Close()

	if _, err := file.Seek(s.offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("%w: seek %s: %v", ErrStoreUnavailable, s.path, err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return int64(len(line)), nil
		}
		if err != nil {
			return 0, fmt.Errorf("%w: read %s: %v", ErrStoreUnavailable, s.path, err)
		}
		s.lineNo++
		if err := s.apply(line); err != nil {
			return 0, err
		}
		s.offset += int64(len(line))
	}
}

func (s *JsonlStore) apply(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil
	}
	var line jsonlLine
	if err := json.Unmarshal(raw, &line); err != nil {
		return fmt.Errorf("parse %s line %d: %w", s.path, s.lineNo, err)
	}
	if _, ok := s.keys[line.Key]; ok {
		return nil
	}
	line.TransferRecord.DedupKey = line.Key
	s.keys[line.Key] = struct{}{}
	s.records = append(s.records, line.TransferRecord)
	return nil
}

// Close releases the file handle.
func (s *JsonlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// InsertIfAbsent appends record unless its dedup key is already present. A
// failed write is rolled back so the file never ends in a partial line.
func (s *JsonlStore) InsertIfAbsent(_ context.Context, record model.TransferRecord) (InsertResult, error) {
	if record.DedupKey == "" {
		return 0, fmt.Errorf("%w: record has empty dedup key", ErrStoreUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly {
		return 0, fmt.Errorf("%w: store is read-only", ErrStoreUnavailable)
	}
	if s.file == nil {
		return 0, fmt.Errorf("%w: store is closed", ErrStoreUnavailable)
	}
	if _, err := s.refresh(); err != nil {
		return 0, err
	}
	if _, ok := s.keys[record.DedupKey]; ok {
		return AlreadyExists, nil
	}

	line, err := json.Marshal(jsonlLine{Key: record.DedupKey, TransferRecord: record})
	if err != nil {
		return 0, fmt.Errorf("marshal transfer record: %w", err)
	}
	line = append(line, '\n')

	stat, err := s.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("%w: stat output: %v", ErrStoreUnavailable, err)
	}
	if _, err := s.file.Write(line); err != nil {
		s.rollback(stat.Size(), err)
		return 0, fmt.Errorf("%w: write transfer record: %v", ErrStoreUnavailable, err)
	}
	if err := s.file.Sync(); err != nil {
		s.rollback(stat.Size(), err)
		return 0, fmt.Errorf("%w: sync output: %v", ErrStoreUnavailable, err)
	}

	// The line is read back by the next refresh and skipped as a known key.
	s.keys[record.DedupKey] = struct{}{}
	s.records = append(s.records, record)
	return Inserted, nil
}

func (s *JsonlStore) rollback(size int64, cause error) {
	if err := s.file.Truncate(size); err != nil {
		s.logger.Error("truncate after failed write",
			zap.Error(err),
			zap.NamedError("cause", cause),
			zap.Int64("offset", size),
		)
	}
}

// FindByTxHash returns the lowest log index record for txHash.
func (s *JsonlStore) FindByTxHash(_ context.Context, txHash string) (model.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.refresh(); err != nil {
		return model.TransferRecord{}, err
	}

	var (
		found model.TransferRecord
		ok    bool
	)
	for _, record := range s.records {
		if !strings.EqualFold(record.TxHash, txHash) {
			continue
		}
		if !ok || record.LogIndex < found.LogIndex {
			found, ok = record, true
		}
	}
	if !ok {
		return model.TransferRecord{}, ErrNotFound
	}
	return found, nil
}

func (s *JsonlStore) FindMany(_ context.Context, filter Filter) ([]model.TransferRecord, error) {
	s.mu.Lock()
	if _, err := s.refresh(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	matches := make([]model.TransferRecord, 0)
	for _, record := range s.records {
		if filter.Address != "" &&
			!strings.EqualFold(record.From, filter.Address) &&
			!strings.EqualFold(record.To, filter.Address) {
			continue
		}
		matches = append(matches, record)
	}
	s.mu.Unlock()

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].BlockNum != matches[j].BlockNum {
			return matches[i].BlockNum > matches[j].BlockNum
		}
		return matches[i].LogIndex > matches[j].LogIndex
	})

	if limit := ClampLimit(filter.Limit); len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *JsonlStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.refresh(); err != nil {
		return 0, err
	}
	return int64(len(s.records)), nil
}

func (s *JsonlStore) MaxBlock(_ context.Context) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.refresh(); err != nil {
		return 0, false, err
	}

	var highest uint64
	for _, record := range s.records {
		if record.BlockNum > highest {
			highest = record.BlockNum
		}
	}
	return highest, len(s.records) > 0, nil
}
