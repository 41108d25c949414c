package column

import "errors"

var (
	ErrColumnNotFound = errors.New("column not found")
	// ErrColumnOffline means the registry has not heard from the column
	// within the staleness threshold; no network I/O is attempted.
	ErrColumnOffline = errors.New("column offline")
	// ErrCommunicationFailure means a relay request could not reach the
	// column or timed out. Not retried automatically.
	ErrCommunicationFailure = errors.New("communication failure")
	// ErrCommandRejected means the column answered but refused the command.
	ErrCommandRejected = errors.New("command rejected by column")
)
