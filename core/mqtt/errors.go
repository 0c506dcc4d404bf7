package mqtt

import "errors"

var (
	// ErrInvalidResponse is returned when a response payload cannot be used.
	ErrInvalidResponse = errors.New("invalid response")
	// ErrUnknownAction is returned for actions other than accept and reject.
	ErrUnknownAction = errors.New("unknown action")
	// ErrInvalidStatus is returned for presence reports that cannot be applied.
	ErrInvalidStatus = errors.New("invalid status report")
)
