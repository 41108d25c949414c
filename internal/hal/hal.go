// Package hal abstracts the GPIO lines behind the locker column's shift
// register chains so the bit-banged timing sequences can run against real
// hardware or a simulated register pair.
package hal

import "time"

// Pin identifies one GPIO line.
type Pin int

// Shared bus lines. Clock and data are common to every compartment's
// registers; only the chip-select pair is per compartment.
const (
	PinClock Pin = iota
	PinDataOut
	PinDataIn
)

// HAL is the minimal surface the bit-serial driver needs. Implementations
// must tolerate being called only from a single goroutine; the control loop
// is the sole bus owner.
type HAL interface {
	SetLine(pin Pin, high bool)
	ReadLine(pin Pin) bool
	SleepFor(d time.Duration)
}

// Pins is the chip-select pair owned by one compartment: the output register
// latch and the input register parallel-load line.
type Pins struct {
	OutLatch Pin
	InLoad   Pin
}

// CompartmentPins returns the conventional pin assignment for compartment i.
// Pins 0-2 are the shared bus; chip selects start at 10.
func CompartmentPins(i int) Pins {
	return Pins{
		OutLatch: Pin(10 + 2*i),
		InLoad:   Pin(11 + 2*i),
	}
}
