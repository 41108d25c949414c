// Package reservation holds the coordinator-authoritative order-binding
// lifecycle for compartments.
package reservation

import (
	"fmt"
	"time"
)

// CompartmentID identifies one physical cell: column plus index.
type CompartmentID struct {
	ColumnID string `json:"column_id"`
	Index    int    `json:"index"`
}

func (id CompartmentID) String() string {
	return fmt.Sprintf("%s/%d", id.ColumnID, id.Index)
}

// Size classifies a compartment for assignment filtering.
type Size string

const (
	SizeSmall  Size = "S"
	SizeMedium Size = "M"
	SizeLarge  Size = "L"
)

// Status is the coordinator-side lifecycle status of a compartment.
type Status string

const (
	StatusAvailable  Status = "available"
	StatusReserved   Status = "reserved"
	StatusOccupied   Status = "occupied"
	StatusOpen       Status = "open"
	StatusClosing    Status = "closing"
	StatusFault      Status = "fault"
	StatusSanitizing Status = "sanitizing"
)

// Compartment binds a cell to at most one outstanding order.
type Compartment struct {
	ID              CompartmentID `json:"id"`
	Size            Size          `json:"size"`
	Status          Status        `json:"status"`
	OrderID         string        `json:"order_id,omitempty"`
	PickupCode      string        `json:"-"`
	CodeUsed        bool          `json:"-"`
	StatusChangedAt time.Time     `json:"status_changed_at"`
}
