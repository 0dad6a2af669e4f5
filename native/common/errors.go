package common

import "errors"

// Shared failure taxonomy for the settlement engine. Modules wrap these
// sentinels with operation context so callers can branch with errors.Is while
// still seeing a precise message.
var (
	// ErrUnauthorized marks an operation invoked by a caller the current
	// order or app state does not permit.
	ErrUnauthorized = errors.New("unauthorized caller")

	// ErrInvalidStateTransition marks a lifecycle transition attempted from
	// a state that does not allow it.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrInvalidArgument marks an out-of-range amount, identifier or
	// commission value.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDeadlineNotReached marks a timeout-gated operation invoked before
	// its deadline has elapsed.
	ErrDeadlineNotReached = errors.New("deadline not reached")

	// ErrDeadlineExpired marks an operation invoked after its permitted
	// window has closed.
	ErrDeadlineExpired = errors.New("deadline expired")

	// ErrTransferFailed marks a failure in the external asset-transfer
	// collaborator. Any balance mutation made before the transfer must be
	// rolled back by the caller.
	ErrTransferFailed = errors.New("transfer failed")
)
