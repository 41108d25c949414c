package compartment

import "errors"

var (
	// ErrBusy means a motion operation is already in progress; the caller
	// may retry once the compartment settles.
	ErrBusy = errors.New("compartment busy")
	// ErrSafetyRejected means the safety interlock refused the action.
	ErrSafetyRejected = errors.New("safety interlock rejected")
	// ErrObstructed means the IR beam reports something in the door path.
	ErrObstructed = errors.New("door path obstructed")
	// ErrNotClosed means the door must be closed for the requested action.
	ErrNotClosed = errors.New("door not closed")
	// ErrFaulted means the compartment is in a fault state that only an
	// explicit fault clear can leave.
	ErrFaulted = errors.New("compartment faulted")
	// ErrUnknownOutput means the named actuator does not exist.
	ErrUnknownOutput = errors.New("unknown output")
)
