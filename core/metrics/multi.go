package metrics

// MultiSink fans out records to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordOffer forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordOffer(ev OfferEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordOffer(ev); err != nil {
			return err
		}
	}
	return nil
}

// RecordOutcome forwards outcomes to sinks supporting them.
func (m *MultiSink) RecordOutcome(ev OutcomeEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(OutcomeRecorder); ok {
			if err := rec.RecordOutcome(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordEscalation forwards escalation summaries to sinks supporting them.
func (m *MultiSink) RecordEscalation(ev EscalationEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(EscalationRecorder); ok {
			if err := rec.RecordEscalation(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
