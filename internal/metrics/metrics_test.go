package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNoopSinkNeverPanics(t *testing.T) {
	NoopSink.IncDispatch(0, "REACHABILITY")
	NoopSink.IncDispatchError(0, "REACHABILITY")
	NoopSink.ObserveNodeRows(0, 10)
	NoopSink.IncClientRequest("node_prog")
	NoopSink.ObserveRequestLatencyMS("node_prog", 12.5)
}

func TestPromSinkRegistersAndRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := NewPromSink(reg)

	sink.IncDispatch(1, "DIJKSTRA")
	sink.IncDispatchError(1, "DIJKSTRA")
	sink.ObserveNodeRows(1, 42)
	sink.IncClientRequest("clustering")
	sink.ObserveRequestLatencyMS("clustering", 3.2)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected at least one registered metric family")
	}
}
