package dispatch

import "errors"

var (
	// ErrClosed is returned once the manager has been shut down.
	ErrClosed = errors.New("dispatch: manager closed")
	// ErrOrderNotAssignable is returned when an order is not NEW.
	ErrOrderNotAssignable = errors.New("dispatch: order is not assignable")
	// ErrEscalationActive is returned when the order already has a live offer.
	ErrEscalationActive = errors.New("dispatch: escalation already running")
	// ErrMasterMismatch is returned when a master answers someone else's offer.
	ErrMasterMismatch = errors.New("dispatch: assignment belongs to another master")
	// ErrTimerUnavailable is returned when the response timer cannot be armed.
	ErrTimerUnavailable = errors.New("dispatch: cannot arm response timer")

	errNoTimer = errors.New("clock returned no timer")
)
