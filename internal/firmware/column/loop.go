// Package column runs one embedded controller: the single-consumer control
// loop over every compartment's motion state machine, the synchronization
// client towards the coordinator, and the synchronous command endpoint.
package column

import (
	"context"
	"time"

	"smartlocker/internal/firmware/compartment"
)

type request struct {
	cmd  Command
	resp chan result
}

type result struct {
	statuses []compartment.Status
	err      error
}

// Loop is the column's only owner of the hardware bus. Every cycle it
// advances each compartment's state machine, services at most one pending
// command and runs one synchronization step. Commands that block (the
// solenoid pulse, motor jogs) stall the whole loop for their duration,
// which is deliberate: serialized execution is the bus's mutual exclusion.
type Loop struct {
	machines []*compartment.Machine
	sync     *SyncClient
	interval time.Duration
	requests chan request
}

// NewLoop wires the loop. sync may be nil for a column running standalone.
func NewLoop(machines []*compartment.Machine, sync *SyncClient, interval time.Duration) *Loop {
	return &Loop{
		machines: machines,
		sync:     sync,
		interval: interval,
		requests: make(chan request),
	}
}

// Run drives the control loop until the context is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.cycle(ctx)
		}
	}
}

func (l *Loop) cycle(ctx context.Context) {
	for _, m := range l.machines {
		m.Update()
	}

	// At most one command per cycle, never concurrent with updates.
	select {
	case req := <-l.requests:
		req.resp <- l.execute(req.cmd)
	default:
	}

	if l.sync != nil {
		l.sync.Step(ctx, l.statuses())
	}
}

// Execute submits a command to the loop and waits for its result. The
// caller's context bounds the wait; the loop itself never queues more than
// the one in-flight request.
func (l *Loop) Execute(ctx context.Context, cmd Command) ([]compartment.Status, error) {
	req := request{cmd: cmd, resp: make(chan result, 1)}

	select {
	case l.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-req.resp:
		return r.statuses, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Loop) execute(cmd Command) result {
	var err error

	switch c := cmd.(type) {
	case UnlockCommand:
		m, mErr := l.machine(c.Compartment)
		if mErr != nil {
			err = mErr
			break
		}
		err = m.Unlock()
	case LockCommand:
		m, mErr := l.machine(c.Compartment)
		if mErr != nil {
			err = mErr
			break
		}
		err = m.Lock()
	case SetOutputCommand:
		m, mErr := l.machine(c.Compartment)
		if mErr != nil {
			err = mErr
			break
		}
		err = m.SetOutput(c.Output, c.On)
	case JogCommand:
		m, mErr := l.machine(c.Compartment)
		if mErr != nil {
			err = mErr
			break
		}
		err = m.Jog(c.Steps, c.Open)
	case SanitizeCommand:
		m, mErr := l.machine(c.Compartment)
		if mErr != nil {
			err = mErr
			break
		}
		err = m.StartSanitize(c.Duration)
	case ClearFaultCommand:
		m, mErr := l.machine(c.Compartment)
		if mErr != nil {
			err = mErr
			break
		}
		m.ClearFault()
	case StatusCommand:
		// Snapshot only.
	}

	return result{statuses: l.statuses(), err: err}
}

func (l *Loop) machine(index int) (*compartment.Machine, error) {
	if index < 0 || index >= len(l.machines) {
		return nil, ErrNoSuchCompartment
	}
	return l.machines[index], nil
}

func (l *Loop) statuses() []compartment.Status {
	statuses := make([]compartment.Status, len(l.machines))
	for i, m := range l.machines {
		statuses[i] = m.Status()
	}
	return statuses
}
