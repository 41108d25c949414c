package hal

import "time"

// WordBits is the width of both the actuator and the sensor word.
const WordBits = 8

// Bus drives one compartment's output shift register and reads its input
// shift register. The clock and data lines are shared across compartments;
// the chip-select pair in pins is exclusive to this compartment, so
// operations here never latch another compartment's actuators.
//
// Bus never returns errors: a disconnected register yields stale or default
// bits, which the motion state machine catches through its timeout logic.
type Bus struct {
	hw    HAL
	pins  Pins
	pulse time.Duration
	last  uint8
}

// NewBus creates the driver for one compartment. minPulse is the minimum
// width of every clock, latch and load pulse.
func NewBus(hw HAL, pins Pins, minPulse time.Duration) *Bus {
	return &Bus{hw: hw, pins: pins, pulse: minPulse}
}

// WriteOutputs shifts the actuator word into the output register MSB first
// and latches it. The latch line is returned to idle before the call
// returns.
func (b *Bus) WriteOutputs(word uint8) {
	b.last = word
	b.shiftOut(word)
	b.latchOutputs()
}

// ReadInputs parallel-loads the sensor lines and shifts the sensor word in
// on the shared clock. The read clocks corrupt the output register's shift
// stages, so the last written output word is re-asserted before returning;
// latched actuator state is therefore identical before and after every
// read.
func (b *Bus) ReadInputs() uint8 {
	b.pulseLine(b.pins.InLoad)

	var word uint8
	for i := WordBits - 1; i >= 0; i-- {
		if b.hw.ReadLine(PinDataIn) {
			word |= 1 << uint(i)
		}
		b.pulseLine(PinClock)
	}

	b.WriteOutputs(b.last)
	return word
}

// LastOutputs reports the most recently written actuator word.
func (b *Bus) LastOutputs() uint8 {
	return b.last
}

func (b *Bus) shiftOut(word uint8) {
	for i := WordBits - 1; i >= 0; i-- {
		b.hw.SetLine(PinDataOut, word&(1<<uint(i)) != 0)
		b.pulseLine(PinClock)
	}
}

func (b *Bus) latchOutputs() {
	b.pulseLine(b.pins.OutLatch)
}

func (b *Bus) pulseLine(pin Pin) {
	b.hw.SetLine(pin, true)
	b.hw.SleepFor(b.pulse)
	b.hw.SetLine(pin, false)
	b.hw.SleepFor(b.pulse)
}
