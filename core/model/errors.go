package model

import "errors"

var (
	// ErrNotFound is returned by repositories when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAssignmentNotPending is returned when a status update targets an
	// assignment that already left the PENDING state.
	ErrAssignmentNotPending = errors.New("assignment is not pending")
	// ErrPendingAssignmentExists is returned when creating a second PENDING
	// assignment for the same order.
	ErrPendingAssignmentExists = errors.New("order already has a pending assignment")
)
