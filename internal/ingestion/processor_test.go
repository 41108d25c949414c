package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartlocker/internal/protocol"
)

type recordingStore struct {
	mu     sync.Mutex
	stored []protocol.EventMessage
	fail   bool
}

func (s *recordingStore) Append(_ context.Context, msg protocol.EventMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("database unavailable")
	}
	s.stored = append(s.stored, msg)
	return nil
}

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

type recordingApplier struct {
	mu      sync.Mutex
	applied []protocol.EventMessage
}

func (a *recordingApplier) ApplyEvent(msg protocol.EventMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, msg)
}

func (a *recordingApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.applied)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestProcessorStoresAndApplies(t *testing.T) {
	store := &recordingStore{}
	applier := &recordingApplier{}
	p := NewProcessor(store, applier, 16)
	p.Start(2)
	defer p.Stop()

	msg := protocol.EventMessage{
		ColumnID:    "col-a",
		Compartment: 1,
		Kind:        protocol.EventItemPlaced,
		Timestamp:   time.Now().UTC(),
	}
	require.NoError(t, p.Submit(msg))

	waitFor(t, func() bool { return store.count() == 1 && applier.count() == 1 })
	assert.Equal(t, uint64(1), p.Stats().Processed)
}

func TestProcessorCountsStoreFailures(t *testing.T) {
	store := &recordingStore{fail: true}
	applier := &recordingApplier{}
	p := NewProcessor(store, applier, 16)
	p.Start(1)
	defer p.Stop()

	msg := protocol.EventMessage{
		ColumnID:    "col-a",
		Compartment: 0,
		Kind:        protocol.EventDoorClosed,
		Timestamp:   time.Now().UTC(),
	}
	require.NoError(t, p.Submit(msg))

	// State still advances when persistence fails; only the persisted
	// count must not.
	waitFor(t, func() bool { return p.Stats().StoreFailures == 1 })
	assert.Equal(t, 1, applier.count())
	assert.Equal(t, uint64(0), p.Stats().Processed)
}

func TestProcessorRejectsInvalidEvents(t *testing.T) {
	p := NewProcessor(&recordingStore{}, &recordingApplier{}, 16)

	err := p.Submit(protocol.EventMessage{Compartment: 0, Kind: protocol.EventFault})
	assert.ErrorContains(t, err, "column_id")

	err = p.Submit(protocol.EventMessage{ColumnID: "col-a", Kind: "melted"})
	assert.ErrorContains(t, err, "unknown event kind")

	err = p.Submit(protocol.EventMessage{ColumnID: "col-a", Compartment: -1, Kind: protocol.EventFault})
	assert.ErrorContains(t, err, "negative compartment")

	assert.Equal(t, uint64(3), p.Stats().Invalid)
}

func TestProcessorDropsWhenQueueFull(t *testing.T) {
	// No workers running, so the queue never drains.
	p := NewProcessor(&recordingStore{}, &recordingApplier{}, 2)

	msg := protocol.EventMessage{ColumnID: "col-a", Kind: protocol.EventDoorOpened}
	require.NoError(t, p.Submit(msg))
	require.NoError(t, p.Submit(msg))
	require.NoError(t, p.Submit(msg))

	assert.Equal(t, uint64(1), p.Stats().Dropped)
}

func TestSubmitJSON(t *testing.T) {
	store := &recordingStore{}
	applier := &recordingApplier{}
	p := NewProcessor(store, applier, 16)
	p.Start(1)
	defer p.Stop()

	payload := []byte(`{"column_id":"col-a","compartment":2,"kind":"door_closed"}`)
	require.NoError(t, p.SubmitJSON(payload))
	waitFor(t, func() bool { return applier.count() == 1 })

	applier.mu.Lock()
	got := applier.applied[0]
	applier.mu.Unlock()
	assert.Equal(t, "col-a", got.ColumnID)
	assert.Equal(t, 2, got.Compartment)
	assert.Equal(t, protocol.EventDoorClosed, got.Kind)
	assert.False(t, got.Timestamp.IsZero())

	err := p.SubmitJSON([]byte("{not json"))
	assert.ErrorContains(t, err, "invalid event payload")
}
