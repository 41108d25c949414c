// Package protocol defines the wire messages exchanged between column
// controllers and the coordinator.
package protocol

import (
	"time"

	"smartlocker/internal/firmware/compartment"
)

// AnnounceRequest is the one-time-per-boot registration a column retries
// until the coordinator acknowledges it.
type AnnounceRequest struct {
	ColumnID        string   `json:"column_id" binding:"required"`
	Address         string   `json:"address" binding:"required"`
	Compartments    int      `json:"compartments" binding:"required,min=1"`
	FirmwareVersion string   `json:"firmware_version"`
	Sizes           []string `json:"sizes,omitempty"`
}

// HeartbeatRequest is the periodic full-status snapshot.
type HeartbeatRequest struct {
	ColumnID      string               `json:"column_id" binding:"required"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Compartments  []compartment.Status `json:"compartments" binding:"required"`
}

// EventKind names a single edge-triggered sensor transition.
type EventKind string

const (
	EventDoorClosed   EventKind = "door_closed"
	EventDoorOpened   EventKind = "door_opened"
	EventItemPlaced   EventKind = "item_placed"
	EventItemRemoved  EventKind = "item_removed"
	EventFault        EventKind = "fault"
	EventFaultCleared EventKind = "fault_cleared"
)

// EventMessage is an asynchronous, at-most-once notification. A message
// that fails to send is permanently lost; the next heartbeat carries the
// authoritative snapshot.
type EventMessage struct {
	ColumnID    string    `json:"column_id" binding:"required"`
	Compartment int       `json:"compartment"`
	Kind        EventKind `json:"kind" binding:"required"`
	Payload     string    `json:"payload,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// SetOutputRequest toggles one directly controllable actuator.
type SetOutputRequest struct {
	Output string `json:"output" binding:"required"`
	On     bool   `json:"on"`
}

// JogRequest steps the door motor for maintenance.
type JogRequest struct {
	Steps     int    `json:"steps" binding:"required,min=1"`
	Direction string `json:"direction" binding:"required,oneof=open close"`
}

// SanitizeRequest starts a UV sanitation cycle.
type SanitizeRequest struct {
	DurationMs int `json:"duration_ms" binding:"required,min=1"`
}

// CommandResponse is what the column command endpoint returns for every
// action, including a fresh status snapshot.
type CommandResponse struct {
	OK           bool                 `json:"ok"`
	Error        string               `json:"error,omitempty"`
	Compartments []compartment.Status `json:"compartments,omitempty"`
}
