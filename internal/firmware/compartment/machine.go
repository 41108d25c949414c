package compartment

import (
	"time"

	"go.uber.org/zap"

	"smartlocker/internal/logger"
)

// Bus is the bit-serial driver surface the machine needs. *hal.Bus satisfies
// it; tests use the simulated register pair behind a real driver.
type Bus interface {
	WriteOutputs(word uint8)
	ReadInputs() uint8
}

// Timing carries the actuation constants. The solenoid pulse blocks the
// control loop for its full duration, so MotionTimeout must comfortably
// exceed worst-case loop stall.
type Timing struct {
	MotionTimeout time.Duration
	SolenoidPulse time.Duration
	StepPulse     time.Duration
}

// DefaultTiming is used when a field is left zero.
var DefaultTiming = Timing{
	MotionTimeout: 8 * time.Second,
	SolenoidPulse: 150 * time.Millisecond,
	StepPulse:     5 * time.Millisecond,
}

// Machine is the motion state machine for a single compartment. It owns the
// compartment's bus exclusively and is only ever driven from the column's
// single control loop, so it carries no locking.
type Machine struct {
	index  int
	bus    Bus
	policy *SafetyPolicy
	timing Timing

	state   State
	out     Outputs
	sensors Sensors

	startedAt     time.Time
	sanitizeUntil time.Time
	lastErr       string

	now   func() time.Time
	sleep func(d time.Duration)
}

// New samples the sensors once and derives the boot state: door closed means
// Locked, door open means Open, neither means Idle.
func New(index int, bus Bus, policy *SafetyPolicy, timing Timing) *Machine {
	if timing.MotionTimeout == 0 {
		timing.MotionTimeout = DefaultTiming.MotionTimeout
	}
	if timing.SolenoidPulse == 0 {
		timing.SolenoidPulse = DefaultTiming.SolenoidPulse
	}
	if timing.StepPulse == 0 {
		timing.StepPulse = DefaultTiming.StepPulse
	}

	m := &Machine{
		index:  index,
		bus:    bus,
		policy: policy,
		timing: timing,
		now:    time.Now,
		sleep:  time.Sleep,
	}

	m.refreshSensors()
	switch {
	case m.sensors.DoorClosed:
		m.state = StateLocked
	case m.sensors.DoorOpen:
		m.state = StateOpen
	default:
		m.state = StateIdle
	}

	m.write()
	return m
}

// Index reports the compartment index within its column.
func (m *Machine) Index() int {
	return m.index
}

// State reports the current lifecycle state.
func (m *Machine) State() State {
	return m.state
}

// Status returns the externally visible snapshot.
func (m *Machine) Status() Status {
	return Status{
		Index:     m.index,
		State:     m.state,
		Sensors:   m.sensors,
		Outputs:   m.out,
		LastError: m.lastErr,
	}
}

// Unlock pulses the solenoid, starts the motor opening and transitions to
// Unlocking. The pulse blocks the caller for its full duration.
func (m *Machine) Unlock() error {
	if m.busy() {
		return ErrBusy
	}
	if m.state == StateFault {
		return ErrFaulted
	}

	m.refreshSensors()
	if err := m.policy.Check(m.sensors); err != nil {
		return err
	}

	m.out.Solenoid = true
	m.write()
	m.sleep(m.timing.SolenoidPulse)
	m.out.Solenoid = false

	m.out.MotorOpenDir = true
	m.out.MotorStep = true
	m.out.LED = true
	m.write()

	m.state = StateUnlocking
	m.startedAt = m.now()
	m.lastErr = ""
	return nil
}

// Lock starts the motor closing. It refuses while the IR beam reports an
// obstruction in the door path.
func (m *Machine) Lock() error {
	if m.busy() {
		return ErrBusy
	}
	if m.state == StateFault {
		return ErrFaulted
	}

	m.refreshSensors()
	if !m.sensors.IRClear {
		return ErrObstructed
	}
	if err := m.policy.Check(m.sensors); err != nil {
		return err
	}

	m.out.MotorOpenDir = false
	m.out.MotorStep = true
	m.write()

	m.state = StateClosing
	m.startedAt = m.now()
	m.lastErr = ""
	return nil
}

// StartSanitize turns on the UV output for the given duration. The door must
// be closed and the compartment settled.
func (m *Machine) StartSanitize(duration time.Duration) error {
	if m.busy() {
		return ErrBusy
	}
	if m.state == StateFault {
		return ErrFaulted
	}

	m.refreshSensors()
	if !m.sensors.DoorClosed {
		return ErrNotClosed
	}

	m.out.UVC = true
	m.write()

	m.sanitizeUntil = m.now().Add(duration)
	m.state = StateSanitizing
	m.lastErr = ""
	return nil
}

// SetOutput toggles one of the directly controllable actuators. No state
// transition; always permitted.
func (m *Machine) SetOutput(name OutputName, on bool) error {
	switch name {
	case OutputLED:
		m.out.LED = on
	case OutputUVC:
		m.out.UVC = on
	case OutputHeater:
		m.out.Heater = on
	default:
		return ErrUnknownOutput
	}
	m.write()
	return nil
}

// Jog steps the door motor a fixed number of steps for maintenance. Each
// step is a blocking pulse on the step line.
func (m *Machine) Jog(steps int, open bool) error {
	if m.busy() {
		return ErrBusy
	}
	if m.state == StateFault {
		return ErrFaulted
	}

	m.refreshSensors()
	if err := m.policy.Check(m.sensors); err != nil {
		return err
	}

	m.out.MotorOpenDir = open
	for i := 0; i < steps; i++ {
		m.out.MotorStep = true
		m.write()
		m.sleep(m.timing.StepPulse)
		m.out.MotorStep = false
		m.write()
		m.sleep(m.timing.StepPulse)
	}
	return nil
}

// ClearFault leaves the Fault state after maintenance and re-derives the
// lifecycle state from the sensors, the same rule as boot.
func (m *Machine) ClearFault() {
	if m.state != StateFault {
		return
	}

	m.refreshSensors()
	m.lastErr = ""
	switch {
	case m.sensors.DoorClosed:
		m.state = StateLocked
	case m.sensors.DoorOpen:
		m.state = StateOpen
	default:
		m.state = StateIdle
	}
	logger.Info("compartment fault cleared",
		zap.Int("compartment", m.index),
		zap.String("state", string(m.state)))
}

// Update advances the state machine one control cycle: re-sample sensors,
// handle motor faults first, then apply the per-state transition rules.
func (m *Machine) Update() {
	m.refreshSensors()

	// Motor fault preempts everything.
	if m.sensors.MotorFault && m.state != StateFault {
		m.emergencyStop("motor fault")
		return
	}

	switch m.state {
	case StateUnlocking:
		if m.sensors.DoorOpen {
			m.out.MotorStep = false
			m.write()
			m.state = StateOpen
			return
		}
		if m.now().Sub(m.startedAt) > m.timing.MotionTimeout {
			m.fail("motion timeout while unlocking")
		}

	case StateClosing:
		if !m.sensors.IRClear {
			// Obstruction: reverse and retry opening instead of faulting.
			m.out.MotorOpenDir = true
			m.write()
			m.state = StateUnlocking
			m.startedAt = m.now()
			m.lastErr = "obstruction detected while closing, reopening"
			logger.Warn("closing obstructed, reversing",
				zap.Int("compartment", m.index))
			return
		}
		if m.sensors.DoorClosed {
			m.out.LED = false
			m.out.MotorStep = false
			m.write()
			m.state = StateLocked
			return
		}
		if m.now().Sub(m.startedAt) > m.timing.MotionTimeout {
			m.fail("motion timeout while closing")
		}

	case StateSanitizing:
		if !m.now().Before(m.sanitizeUntil) {
			m.out.UVC = false
			m.write()
			m.state = StateLocked
		}

	case StateOpen:
		if m.sensors.DoorClosed {
			m.out.LED = false
			m.write()
			m.state = StateLocked
		}
	}
}

func (m *Machine) busy() bool {
	switch m.state {
	case StateUnlocking, StateClosing, StateSanitizing:
		return true
	}
	return false
}

// emergencyStop zeroes every output and enters Fault.
func (m *Machine) emergencyStop(reason string) {
	m.out = Outputs{}
	m.write()
	m.state = StateFault
	m.lastErr = reason
	logger.Error("compartment emergency stop",
		zap.Int("compartment", m.index),
		zap.String("reason", reason))
}

func (m *Machine) fail(reason string) {
	m.emergencyStop(reason)
}

func (m *Machine) refreshSensors() {
	m.sensors = SensorsFromWord(m.bus.ReadInputs())
}

func (m *Machine) write() {
	m.bus.WriteOutputs(m.out.Word())
}
