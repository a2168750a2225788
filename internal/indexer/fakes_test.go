package indexer

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/mock"

	"transferScope/internal/model"
	"transferScope/internal/storage"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func transfer(block uint64, txByte byte, logIndex uint32) model.RawEvent {
	return model.RawEvent{
		From:        alice,
		To:          bob,
		Value:       uint256.NewInt(uint64(txByte) * 1000),
		TxHash:      common.BytesToHash([]byte{txByte}),
		BlockNumber: block,
		LogIndex:    logIndex,
	}
}

// memStore is an EventStore keyed on the dedup key, like the real backends.
type memStore struct {
	mu      sync.Mutex
	records map[string]model.TransferRecord
	failTx  map[string]error
}

var _ storage.EventStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		records: make(map[string]model.TransferRecord),
		failTx:  make(map[string]error),
	}
}

func (s *memStore) failOn(txHash common.Hash, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTx[strings.ToLower(txHash.Hex())] = err
}

func (s *memStore) InsertIfAbsent(_ context.Context, record model.TransferRecord) (storage.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.failTx[strings.ToLower(record.TxHash)]; ok {
		return 0, err
	}
	if _, ok := s.records[record.DedupKey]; ok {
		return storage.AlreadyExists, nil
	}
	s.records[record.DedupKey] = record
	return storage.Inserted, nil
}

func (s *memStore) FindByTxHash(_ context.Context, txHash string) (model.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range s.records {
		if strings.EqualFold(record.TxHash, txHash) {
			return record, nil
		}
	}
	return model.TransferRecord{}, storage.ErrNotFound
}

func (s *memStore) FindMany(_ context.Context, _ storage.Filter) ([]model.TransferRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.TransferRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BlockNum > out[j].BlockNum })
	return out, nil
}

func (s *memStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records)), nil
}

func (s *memStore) MaxBlock(_ context.Context) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var highest uint64
	for _, record := range s.records {
		if record.BlockNum > highest {
			highest = record.BlockNum
		}
	}
	return highest, len(s.records) > 0, nil
}

// mockEventStore lets tests script store responses.
type mockEventStore struct {
	mock.Mock
}

func (m *mockEventStore) InsertIfAbsent(ctx context.Context, record model.TransferRecord) (storage.InsertResult, error) {
	args := m.Called(ctx, record)
	return args.Get(0).(storage.InsertResult), args.Error(1)
}

func (m *mockEventStore) FindByTxHash(ctx context.Context, txHash string) (model.TransferRecord, error) {
	args := m.Called(ctx, txHash)
	return args.Get(0).(model.TransferRecord), args.Error(1)
}

func (m *mockEventStore) FindMany(ctx context.Context, filter storage.Filter) ([]model.TransferRecord, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]model.TransferRecord), args.Error(1)
}

func (m *mockEventStore) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockEventStore) MaxBlock(ctx context.Context) (uint64, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint64), args.Bool(1), args.Error(2)
}

// memCheckpoints keeps max(existing, block) and records every write.
type memCheckpoints struct {
	mu     sync.Mutex
	block  uint64
	ok     bool
	writes []uint64
	err    error
}

func (c *memCheckpoints) Read(_ context.Context) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block, c.ok, nil
}

func (c *memCheckpoints) Write(_ context.Context, block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.writes = append(c.writes, block)
	if !c.ok || block > c.block {
		c.block = block
	}
	c.ok = true
	return nil
}

func (c *memCheckpoints) get() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block, c.ok
}

type blockRange struct{ from, to uint64 }

// fakeSource serves range queries from a fixed event list and live events
// from a channel shared by every subscription it hands out.
type fakeSource struct {
	mu         sync.Mutex
	height     uint64
	events     []model.RawEvent
	queries    []blockRange
	queryErr   func(from, to uint64) error
	heightErr  error
	reconnects int

	live chan model.RawEvent
	drop chan error
}

func newFakeSource(height uint64, events ...model.RawEvent) *fakeSource {
	return &fakeSource{
		height: height,
		events: events,
		live:   make(chan model.RawEvent),
		drop:   make(chan error),
	}
}

func (f *fakeSource) setHeight(height uint64, events ...model.RawEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = height
	f.events = append(f.events, events...)
}

func (f *fakeSource) CurrentHeight(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.heightErr != nil {
		return 0, f.heightErr
	}
	return f.height, nil
}

func (f *fakeSource) QueryRange(_ context.Context, from, to uint64) ([]model.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, blockRange{from, to})
	if f.queryErr != nil {
		if err := f.queryErr(from, to); err != nil {
			return nil, err
		}
	}
	var out []model.RawEvent
	for _, ev := range f.events {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeSource) Subscribe(_ context.Context, out chan<- model.RawEvent) (event.Subscription, error) {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		for {
			select {
			case ev := <-f.live:
				select {
				case out <- ev:
				case <-quit:
					return nil
				}
			case err := <-f.drop:
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}

func (f *fakeSource) Reconnect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return nil
}

func (f *fakeSource) queried() []blockRange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]blockRange(nil), f.queries...)
}

func (f *fakeSource) reconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reconnects
}

var errConnReset = errors.New("connection reset by peer")

func (f *fakeSource) setHeightErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heightErr = err
}
