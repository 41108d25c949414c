// Package ingestion consumes the asynchronous event stream from column
// controllers and fans it into the event log and the reservation lifecycle.
package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"smartlocker/internal/logger"
	"smartlocker/internal/protocol"
)

// EventStore is the slice of the event log the processor writes to.
type EventStore interface {
	Append(ctx context.Context, msg protocol.EventMessage) error
}

// EventApplier folds events into coordinator state.
type EventApplier interface {
	ApplyEvent(msg protocol.EventMessage)
}

// Stats counts processed and dropped events.
type Stats struct {
	Processed     uint64 `json:"processed"`
	Dropped       uint64 `json:"dropped"`
	Invalid       uint64 `json:"invalid"`
	StoreFailures uint64 `json:"store_failures"`
}

// Processor decouples event arrival from persistence. Events queue on a
// bounded channel; a full queue drops the event, which the at-most-once
// stream already permits. The next heartbeat restores the authoritative
// snapshot.
type Processor struct {
	store   EventStore
	applier EventApplier

	events chan protocol.EventMessage

	processed     atomic.Uint64
	dropped       atomic.Uint64
	invalid       atomic.Uint64
	storeFailures atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessor builds a processor with the given queue depth.
func NewProcessor(store EventStore, applier EventApplier, bufferSize int) *Processor {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		store:   store,
		applier: applier,
		events:  make(chan protocol.EventMessage, bufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines.
func (p *Processor) Start(workers int) {
	if workers <= 0 {
		workers = 2
	}
	logger.Info("starting event processor", zap.Int("workers", workers))
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop drains nothing; queued events still in the channel are lost, same
// as events lost on the wire.
func (p *Processor) Stop() {
	p.cancel()
	p.wg.Wait()
}

// Submit validates and enqueues one event. It never blocks.
func (p *Processor) Submit(msg protocol.EventMessage) error {
	if err := validate(msg); err != nil {
		p.invalid.Add(1)
		return err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	select {
	case p.events <- msg:
		return nil
	default:
		p.dropped.Add(1)
		logger.Warn("event queue full, dropping event",
			zap.String("column_id", msg.ColumnID),
			zap.String("kind", string(msg.Kind)))
		return nil
	}
}

// SubmitJSON decodes a wire payload and enqueues it.
func (p *Processor) SubmitJSON(payload []byte) error {
	var msg protocol.EventMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		p.invalid.Add(1)
		return fmt.Errorf("invalid event payload: %w", err)
	}
	return p.Submit(msg)
}

// Stats returns a snapshot of the processing counters.
func (p *Processor) Stats() Stats {
	return Stats{
		Processed:     p.processed.Load(),
		Dropped:       p.dropped.Load(),
		Invalid:       p.invalid.Load(),
		StoreFailures: p.storeFailures.Load(),
	}
}

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case msg := <-p.events:
			p.process(msg)
		}
	}
}

func (p *Processor) process(msg protocol.EventMessage) {
	// State first: a slow or failing database must not delay the
	// reservation lifecycle.
	p.applier.ApplyEvent(msg)

	ctx, cancel := context.WithTimeout(p.ctx, 5*time.Second)
	defer cancel()
	if err := p.store.Append(ctx, msg); err != nil {
		p.storeFailures.Add(1)
		logger.Error("failed to persist event",
			zap.String("column_id", msg.ColumnID),
			zap.String("kind", string(msg.Kind)),
			zap.Error(err))
		return
	}
	p.processed.Add(1)
}

var validKinds = map[protocol.EventKind]struct{}{
	protocol.EventDoorClosed:   {},
	protocol.EventDoorOpened:   {},
	protocol.EventItemPlaced:   {},
	protocol.EventItemRemoved:  {},
	protocol.EventFault:        {},
	protocol.EventFaultCleared: {},
}

func validate(msg protocol.EventMessage) error {
	if msg.ColumnID == "" {
		return fmt.Errorf("event missing column_id")
	}
	if msg.Compartment < 0 {
		return fmt.Errorf("negative compartment index %d", msg.Compartment)
	}
	if _, ok := validKinds[msg.Kind]; !ok {
		return fmt.Errorf("unknown event kind %q", msg.Kind)
	}
	return nil
}
