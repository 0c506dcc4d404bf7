package logging

import (
	"context"

	"github.com/kilianp07/repairdispatch/core/events"
	"github.com/kilianp07/repairdispatch/core/logger"
)

// FromEvent converts a lifecycle event into a log record.
func FromEvent(e events.Event) LogRecord {
	rec := LogRecord{
		Timestamp:    e.Time(),
		Kind:         e.Kind().String(),
		OrderID:      e.Order(),
		MasterID:     events.MasterOf(e),
		AssignmentID: events.AssignmentOf(e),
	}
	switch ev := e.(type) {
	case events.MasterNotified:
		rec.Rank = ev.Rank
		rec.Score = ev.Score
		rec.ExpiresAt = ev.ExpiresAt
	case events.OrderRejected:
		rec.Reason = ev.Reason
	case events.NoMastersAvailable:
		rec.Reason = ev.Reason
	case events.AllMastersRejected:
		rec.Candidates = ev.Candidates
	}
	return rec
}

// Recorder appends every event it receives to a LogStore.
type Recorder struct {
	store LogStore
	log   logger.Logger
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store LogStore, log logger.Logger) *Recorder {
	return &Recorder{store: store, log: log}
}

// Record persists e. Failures are logged and returned.
func (r *Recorder) Record(ctx context.Context, e events.Event) error {
	if err := r.store.Append(ctx, FromEvent(e)); err != nil {
		r.log.Errorf("append %s for order %s: %v", e.Kind(), e.Order(), err)
		return err
	}
	return nil
}
