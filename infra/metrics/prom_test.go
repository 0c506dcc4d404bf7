package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	coremetrics "github.com/kilianp07/repairdispatch/core/metrics"
)

func TestPromSink_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	_ = sink.RecordOffer(coremetrics.OfferEvent{MasterID: "m1"})
	_ = sink.RecordOffer(coremetrics.OfferEvent{MasterID: "m1"})
	_ = sink.RecordOutcome(coremetrics.OutcomeEvent{MasterID: "m1", Outcome: coremetrics.OutcomeRejected, Latency: 2 * time.Second})
	_ = sink.RecordEscalation(coremetrics.EscalationEvent{Result: ResultAccepted, Duration: time.Minute})

	if got := testutil.ToFloat64(sink.offers.WithLabelValues("m1")); got != 2 {
		t.Errorf("offers = %v, want 2", got)
	}
	if got := testutil.ToFloat64(sink.outcomes.WithLabelValues("m1", coremetrics.OutcomeRejected)); got != 1 {
		t.Errorf("outcomes = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(sink.latency); n != 1 {
		t.Errorf("latency series = %d, want 1", n)
	}
	if n := testutil.CollectAndCount(sink.escalations); n != 1 {
		t.Errorf("escalation series = %d, want 1", n)
	}
}

func TestPromSink_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := NewPromSinkWithRegistry(reg)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	_ = second.RecordOffer(coremetrics.OfferEvent{MasterID: "m2"})
	if got := testutil.ToFloat64(first.offers.WithLabelValues("m2")); got != 1 {
		t.Fatalf("collectors not shared: %v", got)
	}
}
