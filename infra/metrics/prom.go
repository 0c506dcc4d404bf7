package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/repairdispatch/core/metrics"
)

// PromSink records per-master offer metrics in Prometheus.
type PromSink struct {
	offers      *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	escalations *prometheus.HistogramVec
}

// NewPromSink registers the sink metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Metrics
// already registered by a previous sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	offers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "master_offers_total",
		Help: "Orders offered to each master",
	}, []string{"master_id"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "master_offer_outcomes_total",
		Help: "Resolved offers per master and outcome",
	}, []string{"master_id", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "master_response_latency_seconds",
		Help:    "Time between an offer and the master's answer",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	escalations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "order_escalation_duration_seconds",
		Help:    "Time from the first offer to the end of the escalation",
		Buckets: []float64{1, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"result"})

	var err error
	if offers, err = Register(reg, offers); err != nil {
		return nil, err
	}
	if outcomes, err = Register(reg, outcomes); err != nil {
		return nil, err
	}
	if latency, err = Register(reg, latency); err != nil {
		return nil, err
	}
	if escalations, err = Register(reg, escalations); err != nil {
		return nil, err
	}
	return &PromSink{offers: offers, outcomes: outcomes, latency: latency, escalations: escalations}, nil
}

// Register registers c on reg, returning the collector already registered
// under the same descriptor when there is one.
func Register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordOffer increments the offer counter of the master.
func (s *PromSink) RecordOffer(ev coremetrics.OfferEvent) error {
	s.offers.WithLabelValues(ev.MasterID).Inc()
	return nil
}

// RecordOutcome counts the outcome and observes the response latency.
func (s *PromSink) RecordOutcome(ev coremetrics.OutcomeEvent) error {
	s.outcomes.WithLabelValues(ev.MasterID, ev.Outcome).Inc()
	if ev.Latency > 0 {
		s.latency.WithLabelValues(ev.Outcome).Observe(ev.Latency.Seconds())
	}
	return nil
}

// RecordEscalation observes the escalation duration.
func (s *PromSink) RecordEscalation(ev coremetrics.EscalationEvent) error {
	s.escalations.WithLabelValues(ev.Result).Observe(ev.Duration.Seconds())
	return nil
}
