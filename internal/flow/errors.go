package flow

import "errors"

var (
	// ErrInvalidState is returned when a mutation is attempted on a flow that
	// has already been finalized.
	ErrInvalidState = errors.New("flow is not active")

	// ErrProtocolMismatch is returned when a header's protocol field disagrees
	// with the protocol the flow was bound to at creation.
	ErrProtocolMismatch = errors.New("protocol does not match flow")

	// ErrFieldNotTracked is returned when reading a field that was excluded by
	// the flow's tracking configuration.
	ErrFieldNotTracked = errors.New("field not tracked")

	// ErrInvalidQuery is returned when a rate estimate is requested for a time
	// before the flow's last receive time.
	ErrInvalidQuery = errors.New("cannot estimate rate in the past")
)
