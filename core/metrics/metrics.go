package metrics

import "time"

// Offer outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeRejected = "rejected"
	OutcomeExpired  = "expired"
)

// OfferEvent describes an order offered to a master.
type OfferEvent struct {
	OrderID      string
	MasterID     string
	AssignmentID string
	Rank         int
	Score        float64
	Time         time.Time
}

// MetricsSink records offers for observability purposes.
type MetricsSink interface {
	RecordOffer(ev OfferEvent) error
}

// OutcomeEvent describes how a master resolved an offer.
type OutcomeEvent struct {
	OrderID      string
	MasterID     string
	AssignmentID string
	Outcome      string
	// Latency is the time between the offer and its resolution.
	Latency time.Duration
	Time    time.Time
}

// OutcomeRecorder records offer outcomes.
type OutcomeRecorder interface {
	RecordOutcome(ev OutcomeEvent) error
}

// EscalationEvent summarizes a finished escalation.
type EscalationEvent struct {
	OrderID  string
	Result   string
	MasterID string
	Offers   int
	Duration time.Duration
	Time     time.Time
}

// EscalationRecorder records finished escalations.
type EscalationRecorder interface {
	RecordEscalation(ev EscalationEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordOffer(OfferEvent) error           { return nil }
func (NopSink) RecordOutcome(OutcomeEvent) error       { return nil }
func (NopSink) RecordEscalation(EscalationEvent) error { return nil }
