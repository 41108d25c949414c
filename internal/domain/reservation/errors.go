package reservation

import "errors"

var (
	ErrCompartmentNotFound     = errors.New("compartment not found")
	ErrNoAvailableCompartments = errors.New("no available compartments")
	// ErrCompartmentUnavailable means an explicitly requested compartment
	// is not in the available status; the existing reservation is left
	// untouched.
	ErrCompartmentUnavailable = errors.New("compartment not available")
	ErrInvalidOrExpiredCode   = errors.New("invalid or expired pickup code")
	// ErrNotReadyForPickup means the code matches but the courier has not
	// marked the compartment loaded yet.
	ErrNotReadyForPickup    = errors.New("order not ready for pickup")
	ErrOrderNotFound        = errors.New("order not found")
	ErrOrderAlreadyAssigned = errors.New("order already has a compartment")
)
