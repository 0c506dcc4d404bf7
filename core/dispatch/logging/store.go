package logging

import (
	"context"
	"time"
)

// LogRecord captures one escalation lifecycle event.
type LogRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	Kind         string    `json:"kind"`
	OrderID      string    `json:"order_id"`
	MasterID     string    `json:"master_id,omitempty"`
	AssignmentID string    `json:"assignment_id,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	// Rank and Score are set for offers only.
	Rank       int       `json:"rank,omitempty"`
	Score      float64   `json:"score,omitempty"`
	ExpiresAt  time.Time `json:"expires_at,omitempty"`
	Candidates int       `json:"candidates,omitempty"`
}

// LogQuery defines filters for retrieving records. Zero fields match all.
type LogQuery struct {
	Start    time.Time
	End      time.Time
	OrderID  string
	MasterID string
	Kind     string
	// Limit keeps only the most recent records when positive.
	Limit int
}

// Match reports whether r satisfies the query filters.
func (q LogQuery) Match(r LogRecord) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.OrderID != "" && r.OrderID != q.OrderID {
		return false
	}
	if q.MasterID != "" && r.MasterID != q.MasterID {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	return true
}

func (q LogQuery) limit(res []LogRecord) []LogRecord {
	if q.Limit > 0 && len(res) > q.Limit {
		return res[len(res)-q.Limit:]
	}
	return res
}

// LogStore persists LogRecords and supports querying.
type LogStore interface {
	Append(ctx context.Context, rec LogRecord) error
	Query(ctx context.Context, q LogQuery) ([]LogRecord, error)
	Close() error
}
