package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "transfer_indexer"

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	ingested     *prometheus.CounterVec
	checkpoint   prometheus.Gauge
	streamState  *prometheus.GaugeVec
	transitions  *prometheus.CounterVec
	removedLogs  prometheus.Counter
	rpcCalls     *prometheus.CounterVec
	rpcDuration  *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates a Metrics instance and registers all collectors with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ingest_total",
			Help:      "Ingested transfer events by outcome",
		}, []string{"outcome"}),
		checkpoint: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "checkpoint_block",
			Help:      "Last block recorded in the streaming checkpoint",
		}),
		streamState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "state",
			Help:      "1 for the current streaming driver state, 0 otherwise",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "stream",
			Name:      "transitions_total",
			Help:      "Streaming driver state transitions by target state",
		}, []string{"state"}),
		removedLogs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "removed_logs_total",
			Help:      "Logs dropped because the chain reported them as removed",
		}),
		rpcCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "Total RPC calls by method and status",
		}, []string{"method", "status"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "RPC call duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"method"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	err := errors.Join(
		reg.Register(m.ingested),
		reg.Register(m.checkpoint),
		reg.Register(m.streamState),
		reg.Register(m.transitions),
		reg.Register(m.removedLogs),
		reg.Register(m.rpcCalls),
		reg.Register(m.rpcDuration),
		reg.Register(m.httpRequests),
		reg.Register(m.httpDuration),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveIngest counts one ingest outcome.
func (m *Metrics) ObserveIngest(outcome string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetCheckpoint(block uint64) {
	if m == nil {
		return
	}
	m.checkpoint.Set(float64(block))
}

// SetStreamState marks state as current, clearing the previous one.
func (m *Metrics) SetStreamState(prev, next string) {
	if m == nil {
		return
	}
	if prev != "" {
		m.streamState.WithLabelValues(prev).Set(0)
	}
	m.streamState.WithLabelValues(next).Set(1)
	m.transitions.WithLabelValues(next).Inc()
}

func (m *Metrics) IncRemovedLog() {
	if m == nil {
		return
	}
	m.removedLogs.Inc()
}

// RecordRPCCall records an RPC call outcome.
func (m *Metrics) RecordRPCCall(method string, err error, durationSeconds float64) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.rpcCalls.WithLabelValues(method, status).Inc()
	m.rpcDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordHTTPRequest records a served request; status is a class label such as "2xx".
func (m *Metrics) RecordHTTPRequest(method, route, status string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(durationSeconds)
}
