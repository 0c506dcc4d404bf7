package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultAccepted     = "accepted"
	resultAllRejected  = "all_rejected"
	resultNoCandidates = "no_candidates"
	resultCancelled    = "cancelled"
	resultFailed       = "failed"
	resultShutdown     = "shutdown"
)

var (
	offersSent        prometheus.Counter
	offerOutcomes     *prometheus.CounterVec
	responseLatency   *prometheus.HistogramVec
	escalationResults *prometheus.CounterVec
	activeEscalations prometheus.Gauge
	staleOperations   *prometheus.CounterVec
)

type collectors struct {
	offers   prometheus.Counter
	outcomes *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	results  *prometheus.CounterVec
	active   prometheus.Gauge
	stale    *prometheus.CounterVec
}

// newCollectors creates new metric collectors.
func newCollectors() collectors {
	return collectors{
		offers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_offers_sent_total",
			Help: "Number of orders offered to a master",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_offer_outcomes_total",
			Help: "Resolved offers by outcome",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_offer_response_seconds",
			Help:    "Time between an offer and its resolution",
			Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 90, 120, 300},
		}, []string{"outcome"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_escalations_total",
			Help: "Finished escalations by result",
		}, []string{"result"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_active_escalations",
			Help: "Orders currently being offered to masters",
		}),
		stale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_stale_operations_total",
			Help: "Accept, reject or timer signals ignored because the offer was no longer active",
		}, []string{"operation"}),
	}
}

func (c collectors) install() {
	offersSent = c.offers
	offerOutcomes = c.outcomes
	responseLatency = c.latency
	escalationResults = c.results
	activeEscalations = c.active
	staleOperations = c.stale
}

func init() {
	newCollectors().install()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(offersSent, offerOutcomes, responseLatency, escalationResults, activeEscalations, staleOperations)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	newCollectors().install()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
