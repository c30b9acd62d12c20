// Package metrics is a thin Prometheus abstraction over a shard server's
// and coordinator's operational counters, grounded in arena-cache's
// promMetrics/noopMetrics split: a nil registry gets a no-op sink so the
// dispatch hot path never pays for metric updates when nothing scrapes it.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Sink is the interface Shard and Coordinator record against; they never
// see concrete Prometheus types directly.
type Sink interface {
	IncDispatch(shardID int, prog string)
	IncDispatchError(shardID int, prog string)
	ObserveNodeRows(shardID int, rows int)
	IncClientRequest(kind string)
	ObserveRequestLatencyMS(kind string, ms float64)
}

type noopSink struct{}

func (noopSink) IncDispatch(int, string)                {}
func (noopSink) IncDispatchError(int, string)           {}
func (noopSink) ObserveNodeRows(int, int)               {}
func (noopSink) IncClientRequest(string)                {}
func (noopSink) ObserveRequestLatencyMS(string, float64) {}

// NoopSink is the do-nothing Sink used when no Prometheus registry is
// configured.
var NoopSink Sink = noopSink{}

type promSink struct {
	dispatches      *prometheus.CounterVec
	dispatchErrors  *prometheus.CounterVec
	nodeRows        *prometheus.GaugeVec
	clientRequests  *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
}

// NewPromSink builds a Sink backed by reg, registering every collector
// against it. Passing the same *prometheus.Registry into two NewPromSink
// calls panics on the second (duplicate registration) — callers build
// exactly one Sink per process.
func NewPromSink(reg *prometheus.Registry) Sink {
	if reg == nil {
		return NoopSink
	}
	s := &promSink{
		dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weaver",
			Name:      "dispatches_total",
			Help:      "Node-program dispatches handled by this shard.",
		}, []string{"shard", "program"}),
		dispatchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weaver",
			Name:      "dispatch_errors_total",
			Help:      "Node-program dispatches that returned an error.",
		}, []string{"shard", "program"}),
		nodeRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "weaver",
			Name:      "node_rows",
			Help:      "Nodes currently resident in a shard's store.",
		}, []string{"shard"}),
		clientRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weaver",
			Name:      "client_requests_total",
			Help:      "Client-facing requests handled by the coordinator.",
		}, []string{"kind"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "weaver",
			Name:      "request_latency_ms",
			Help:      "End-to-end latency of a coordinator-served request.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}, []string{"kind"}),
	}
	reg.MustRegister(s.dispatches, s.dispatchErrors, s.nodeRows, s.clientRequests, s.requestLatency)
	return s
}

func (s *promSink) IncDispatch(shardID int, prog string) {
	s.dispatches.WithLabelValues(strconv.Itoa(shardID), prog).Inc()
}

func (s *promSink) IncDispatchError(shardID int, prog string) {
	s.dispatchErrors.WithLabelValues(strconv.Itoa(shardID), prog).Inc()
}

func (s *promSink) ObserveNodeRows(shardID int, rows int) {
	s.nodeRows.WithLabelValues(strconv.Itoa(shardID)).Set(float64(rows))
}

func (s *promSink) IncClientRequest(kind string) {
	s.clientRequests.WithLabelValues(kind).Inc()
}

func (s *promSink) ObserveRequestLatencyMS(kind string, ms float64) {
	s.requestLatency.WithLabelValues(kind).Observe(ms)
}
