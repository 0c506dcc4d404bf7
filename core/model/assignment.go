package model

import "time"

// AssignmentStatus is the state of a single offer of an order to a master.
type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "PENDING"
	AssignmentAccepted  AssignmentStatus = "ACCEPTED"
	AssignmentRejected  AssignmentStatus = "REJECTED"
	AssignmentExpired   AssignmentStatus = "EXPIRED"
	AssignmentCancelled AssignmentStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed from s.
func (s AssignmentStatus) Terminal() bool {
	return s != AssignmentPending
}

// Assignment is one outstanding or resolved offer.
type Assignment struct {
	ID          string           `json:"id"`
	OrderID     string           `json:"order_id"`
	MasterID    string           `json:"master_id"`
	Status      AssignmentStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	ExpiresAt   time.Time        `json:"expires_at"`
	RespondedAt time.Time        `json:"responded_at,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}

// NewAssignment holds the fields required to create a PENDING assignment.
type NewAssignment struct {
	OrderID   string
	MasterID  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// StatusUpdate describes a transition out of PENDING.
type StatusUpdate struct {
	Status AssignmentStatus
	At     time.Time
	Reason string
}
