// Package column holds the coordinator's view of one embedded controller.
package column

import (
	"time"

	"smartlocker/internal/firmware/compartment"
)

// Column is the coordinator-side record of one controller. It is created on
// first announce and never deleted; a column that stops reporting goes
// stale and is marked offline instead.
type Column struct {
	ID              string               `json:"id"`
	Address         string               `json:"address"`
	Compartments    int                  `json:"compartments"`
	FirmwareVersion string               `json:"firmware_version"`
	LastSeen        time.Time            `json:"last_seen"`
	Online          bool                 `json:"online"`
	UptimeSeconds   int64                `json:"uptime_seconds"`
	Snapshots       []compartment.Status `json:"snapshots"`
}
