package hal

import (
	"sync"
	"time"
)

// Sim emulates the column's shift register chains: one 74HC595-style output
// register and one 74HC165-style input register per compartment, all sharing
// the clock and data lines. It is the default hardware for columnd outside a
// real cabinet and the fixture for every driver and state machine test.
//
// The simulation is edge-accurate where it matters: clock pulses shift every
// output register's stages regardless of chip select, so a read genuinely
// corrupts the shift stages and only the driver's re-assert keeps latched
// outputs stable.
type Sim struct {
	mu    sync.Mutex
	lines map[Pin]bool
	comps []*simCompartment
	// activeIn is the compartment whose input register drives the shared
	// serial-out line, i.e. the last one that saw a load pulse.
	activeIn *simCompartment
	slept    time.Duration
}

type simCompartment struct {
	pins       Pins
	outShift   uint8
	outLatched uint8
	inParallel uint8
	inShift    uint8
}

// NewSim creates a simulated column with n compartments.
func NewSim(n int) *Sim {
	s := &Sim{lines: make(map[Pin]bool)}
	for i := 0; i < n; i++ {
		s.comps = append(s.comps, &simCompartment{pins: CompartmentPins(i)})
	}
	return s
}

// Pins returns the chip-select pair for compartment i.
func (s *Sim) Pins(i int) Pins {
	return s.comps[i].pins
}

// SetSensors sets the parallel sensor lines feeding compartment i's input
// register. The value is captured on the next load pulse.
func (s *Sim) SetSensors(i int, word uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comps[i].inParallel = word
}

// Outputs reports the latched actuator word of compartment i, the state the
// physical actuators would see.
func (s *Sim) Outputs(i int) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comps[i].outLatched
}

// ShiftStage exposes compartment i's unlatched output shift stages for
// corruption assertions in tests.
func (s *Sim) ShiftStage(i int) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.comps[i].outShift
}

// Slept reports the accumulated simulated sleep time.
func (s *Sim) Slept() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slept
}

// SetLine implements HAL. Rising edges drive the register semantics.
func (s *Sim) SetLine(pin Pin, high bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rising := high && !s.lines[pin]
	s.lines[pin] = high
	if !rising {
		return
	}

	switch pin {
	case PinClock:
		dataBit := uint8(0)
		if s.lines[PinDataOut] {
			dataBit = 1
		}
		for _, c := range s.comps {
			c.outShift = c.outShift<<1 | dataBit
		}
		if s.activeIn != nil {
			s.activeIn.inShift <<= 1
		}
	default:
		for _, c := range s.comps {
			if pin == c.pins.OutLatch {
				c.outLatched = c.outShift
			}
			if pin == c.pins.InLoad {
				c.inShift = c.inParallel
				s.activeIn = c
			}
		}
	}
}

// ReadLine implements HAL. The shared serial-in line carries the MSB of the
// most recently loaded input register.
func (s *Sim) ReadLine(pin Pin) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pin == PinDataIn {
		if s.activeIn == nil {
			return false
		}
		return s.activeIn.inShift&(1<<(WordBits-1)) != 0
	}
	return s.lines[pin]
}

// SleepFor implements HAL. Simulated sleeps only advance a counter so tests
// and the development loop run at full speed.
func (s *Sim) SleepFor(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slept += d
}
