package column

import (
	"errors"
	"time"

	"smartlocker/internal/firmware/compartment"
)

var (
	// ErrNoSuchCompartment means the command named a compartment index the
	// column does not have.
	ErrNoSuchCompartment = errors.New("no such compartment")
)

// Command is the closed set of actions the command endpoint can ask the
// control loop to perform. Adding a kind means adding a variant here and a
// case in the loop's executor; there is no string dispatch.
type Command interface {
	isCommand()
}

type UnlockCommand struct {
	Compartment int
}

type LockCommand struct {
	Compartment int
}

type SetOutputCommand struct {
	Compartment int
	Output      compartment.OutputName
	On          bool
}

type JogCommand struct {
	Compartment int
	Steps       int
	Open        bool
}

type SanitizeCommand struct {
	Compartment int
	Duration    time.Duration
}

type ClearFaultCommand struct {
	Compartment int
}

type StatusCommand struct{}

func (UnlockCommand) isCommand()     {}
func (LockCommand) isCommand()       {}
func (SetOutputCommand) isCommand()  {}
func (JogCommand) isCommand()        {}
func (SanitizeCommand) isCommand()   {}
func (ClearFaultCommand) isCommand() {}
func (StatusCommand) isCommand()     {}
