// Package compartment implements the per-compartment motion state machine
// that turns commands and sensor bits into actuator bits.
package compartment

// State is the lifecycle state of one compartment's hardware.
type State string

const (
	StateIdle       State = "idle"
	StateUnlocking  State = "unlocking"
	StateOpen       State = "open"
	StateClosing    State = "closing"
	StateLocked     State = "locked"
	StateFault      State = "fault"
	StateSanitizing State = "sanitizing"
)

// Sensor word bit positions, matching the input shift register wiring.
const (
	bitDoorClosed = 1 << iota
	bitDoorOpen
	bitIRClear
	bitOccupied
	bitTempOK
	bitSafetyOK
	bitMotorFault
)

// Output word bit positions, matching the output shift register wiring.
const (
	bitLED = 1 << iota
	bitUVC
	bitSolenoid
	bitHeater
	bitMotorOpenDir
	bitMotorStep
)

// Sensors is one atomic sample of the seven sensor lines.
type Sensors struct {
	DoorClosed bool `json:"door_closed"`
	DoorOpen   bool `json:"door_open"`
	IRClear    bool `json:"ir_clear"`
	Occupied   bool `json:"occupied"`
	TempOK     bool `json:"temp_ok"`
	SafetyOK   bool `json:"safety_ok"`
	MotorFault bool `json:"motor_fault"`
}

// SensorsFromWord unpacks a sensor word read from the input register.
func SensorsFromWord(w uint8) Sensors {
	return Sensors{
		DoorClosed: w&bitDoorClosed != 0,
		DoorOpen:   w&bitDoorOpen != 0,
		IRClear:    w&bitIRClear != 0,
		Occupied:   w&bitOccupied != 0,
		TempOK:     w&bitTempOK != 0,
		SafetyOK:   w&bitSafetyOK != 0,
		MotorFault: w&bitMotorFault != 0,
	}
}

// Word packs the sample back into register layout.
func (s Sensors) Word() uint8 {
	var w uint8
	set := func(on bool, bit uint8) {
		if on {
			w |= bit
		}
	}
	set(s.DoorClosed, bitDoorClosed)
	set(s.DoorOpen, bitDoorOpen)
	set(s.IRClear, bitIRClear)
	set(s.Occupied, bitOccupied)
	set(s.TempOK, bitTempOK)
	set(s.SafetyOK, bitSafetyOK)
	set(s.MotorFault, bitMotorFault)
	return w
}

// Outputs is the actuator state persisted across polling cycles.
type Outputs struct {
	LED          bool `json:"led"`
	UVC          bool `json:"uvc"`
	Solenoid     bool `json:"solenoid"`
	Heater       bool `json:"heater"`
	MotorOpenDir bool `json:"motor_open_dir"`
	MotorStep    bool `json:"motor_step"`
}

// Word packs the actuator state into register layout.
func (o Outputs) Word() uint8 {
	var w uint8
	set := func(on bool, bit uint8) {
		if on {
			w |= bit
		}
	}
	set(o.LED, bitLED)
	set(o.UVC, bitUVC)
	set(o.Solenoid, bitSolenoid)
	set(o.Heater, bitHeater)
	set(o.MotorOpenDir, bitMotorOpenDir)
	set(o.MotorStep, bitMotorStep)
	return w
}

// OutputName selects one directly toggleable actuator.
type OutputName string

const (
	OutputLED    OutputName = "led"
	OutputUVC    OutputName = "uvc"
	OutputHeater OutputName = "heater"
)

// Status is the externally visible snapshot of one compartment.
type Status struct {
	Index     int     `json:"index"`
	State     State   `json:"state"`
	Sensors   Sensors `json:"sensors"`
	Outputs   Outputs `json:"outputs"`
	LastError string  `json:"last_error,omitempty"`
}
