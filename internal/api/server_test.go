package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"transferScope/internal/metrics"
	"transferScope/internal/model"
	"transferScope/internal/storage"
)

const (
	holder = "0x1111111111111111111111111111111111111111"
	other  = "0x2222222222222222222222222222222222222222"
)

type fixture struct {
	handler http.Handler
	events  *storage.JsonlStore
	cps     *storage.FileCheckpointStore
	reg     *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	events, err := storage.OpenJsonlStore(filepath.Join(dir, "transfers.jsonl"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { events.Close() })
	cps := storage.NewFileCheckpointStore(filepath.Join(dir, "checkpoint.json"))

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	return &fixture{
		handler: NewServer(events, cps, zaptest.NewLogger(t), m, reg).Handler(),
		events:  events,
		cps:     cps,
		reg:     reg,
	}
}

func (f *fixture) insert(t *testing.T, n int, from, to string) {
	t.Helper()
	for i := 1; i <= n; i++ {
		txHash := fmt.Sprintf("0x%064x", i)
		_, err := f.events.InsertIfAbsent(context.Background(), model.TransferRecord{
			DedupKey: txHash,
			From:     from,
			To:       to,
			Value:    "1000",
			TxHash:   txHash,
			BlockNum: uint64(100 + i),
		})
		require.NoError(t, err)
	}
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	decode(t, rec, &body)
	return body["error"]
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	decode(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
}

func TestListTransfersLimits(t *testing.T) {
	f := newFixture(t)
	f.insert(t, 60, holder, other)

	tests := []struct {
		query string
		want  int
		limit int
	}{
		{query: "", want: 50, limit: 50},
		{query: "?limit=5", want: 5, limit: 5},
		{query: "?limit=5000", want: 60, limit: 1000},
		{query: "?limit=abc", want: 50, limit: 50},
		{query: "?limit=-1", want: 50, limit: 50},
	}
	for _, tt := range tests {
		rec := f.get(t, "/transfers"+tt.query)
		require.Equal(t, http.StatusOK, rec.Code, tt.query)

		var body listResponse
		decode(t, rec, &body)
		assert.Len(t, body.Transfers, tt.want, tt.query)
		assert.Equal(t, tt.want, body.Count, tt.query)
		assert.Equal(t, tt.limit, body.Limit, tt.query)
	}
}

func TestListTransfersNewestFirstAndFiltered(t *testing.T) {
	f := newFixture(t)
	f.insert(t, 3, holder, other)
	txHash := fmt.Sprintf("0x%064x", 99)
	_, err := f.events.InsertIfAbsent(context.Background(), model.TransferRecord{
		DedupKey: txHash,
		From:     other,
		To:       other,
		Value:    "1",
		TxHash:   txHash,
		BlockNum: 500,
	})
	require.NoError(t, err)

	var all listResponse
	decode(t, f.get(t, "/transfers"), &all)
	require.Len(t, all.Transfers, 4)
	assert.Equal(t, uint64(500), all.Transfers[0].BlockNum)

	var mine listResponse
	decode(t, f.get(t, "/transfers?address="+holder), &mine)
	require.Len(t, mine.Transfers, 3)
	assert.Equal(t, []uint64{103, 102, 101}, []uint64{
		mine.Transfers[0].BlockNum, mine.Transfers[1].BlockNum, mine.Transfers[2].BlockNum,
	})

	var unprefixed listResponse
	decode(t, f.get(t, "/transfers?address="+holder[2:]), &unprefixed)
	assert.Len(t, unprefixed.Transfers, 3)
}

func TestListTransfersInvalidAddress(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/transfers?address=0xnothex")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid address", errorMessage(t, rec))
}

func TestGetTransfer(t *testing.T) {
	f := newFixture(t)
	f.insert(t, 2, holder, other)

	rec := f.get(t, fmt.Sprintf("/transfer/0x%064X", 2))
	require.Equal(t, http.StatusOK, rec.Code)

	var body model.TransferRecord
	decode(t, rec, &body)
	assert.Equal(t, fmt.Sprintf("0x%064x", 2), body.TxHash)
	assert.Equal(t, uint64(102), body.BlockNum)
	assert.Equal(t, "1000", body.Value)
	assert.NotContains(t, rec.Body.String(), "DedupKey")
}

func TestGetTransferUnknown(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, fmt.Sprintf("/transfer/0x%064x", 77))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "transfer not found", errorMessage(t, rec))
}

func TestGetTransferInvalidHash(t *testing.T) {
	f := newFixture(t)
	for _, hash := range []string{"0x1234", "not-a-hash", fmt.Sprintf("%064x", 1)} {
		rec := f.get(t, "/transfer/"+hash)
		require.Equal(t, http.StatusBadRequest, rec.Code, hash)
		assert.Equal(t, "invalid transaction hash", errorMessage(t, rec), hash)
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)

	var empty map[string]interface{}
	decode(t, f.get(t, "/stats"), &empty)
	assert.Equal(t, float64(0), empty["totalTransfers"])
	assert.Nil(t, empty["highestIndexedBlock"])
	assert.Nil(t, empty["checkpoint"])

	f.insert(t, 3, holder, other)
	require.NoError(t, f.cps.Write(context.Background(), 150))

	var stats StatsResponse
	decode(t, f.get(t, "/stats"), &stats)
	assert.Equal(t, int64(3), stats.TotalTransfers)
	require.NotNil(t, stats.HighestIndexedBlock)
	assert.Equal(t, uint64(103), *stats.HighestIndexedBlock)
	require.NotNil(t, stats.Checkpoint)
	assert.Equal(t, uint64(150), *stats.Checkpoint)
}

type failingStore struct {
	storage.EventStore
}

func (failingStore) Count(context.Context) (int64, error) {
	return 0, fmt.Errorf("%w: dial tcp 10.0.0.5:5432: connection refused", storage.ErrStoreUnavailable)
}

func (failingStore) FindMany(context.Context, storage.Filter) ([]model.TransferRecord, error) {
	return nil, errors.New("pq: relation does not exist")
}

func TestInternalErrorsAreGeneric(t *testing.T) {
	handler := NewServer(failingStore{}, nil, zaptest.NewLogger(t), nil, nil).Handler()

	for _, target := range []string{"/stats", "/transfers"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusInternalServerError, rec.Code, target)
		assert.Equal(t, "internal server error", errorMessage(t, rec), target)
		assert.NotContains(t, rec.Body.String(), "10.0.0.5", target)
	}
}

func TestPanicsBecome500(t *testing.T) {
	// The embedded nil interface panics on FindByTxHash.
	handler := NewServer(failingStore{}, nil, zaptest.NewLogger(t), nil, nil).Handler()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/transfer/0x%064x", 1), nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUnknownRouteAndMethod(t *testing.T) {
	f := newFixture(t)

	rec := f.get(t, "/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", errorMessage(t, rec))

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/transfers", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpointAndInstrumentation(t *testing.T) {
	f := newFixture(t)
	f.get(t, "/health")
	f.get(t, fmt.Sprintf("/transfer/0x%064x", 5))

	rec := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "transfer_indexer_http_requests_total")

	expected := `
# HELP transfer_indexer_http_requests_total HTTP requests
# TYPE transfer_indexer_http_requests_total counter
transfer_indexer_http_requests_total{method="GET",route="/health",status="2xx"} 1
transfer_indexer_http_requests_total{method="GET",route="/metrics",status="2xx"} 1
transfer_indexer_http_requests_total{method="GET",route="/transfer/{txHash}",status="4xx"} 1
`
	require.NoError(t, testutil.GatherAndCompare(f.reg, strings.NewReader(expected), "transfer_indexer_http_requests_total"))
}

func TestParseLimit(t *testing.T) {
	tests := map[string]int{
		"":     defaultListLimit,
		"0":    defaultListLimit,
		"7":    7,
		"1000": 1000,
		"1001": maxListLimit,
		"1e3":  defaultListLimit,
	}
	for raw, want := range tests {
		r := httptest.NewRequest(http.MethodGet, "/transfers?limit="+raw, nil)
		assert.Equal(t, want, parseLimit(r, defaultListLimit, maxListLimit), raw)
	}
}
