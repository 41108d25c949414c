package column

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartlocker/internal/firmware/compartment"
	"smartlocker/internal/protocol"
)

type coordinatorStub struct {
	mu         sync.Mutex
	announces  int
	heartbeats int
	events     []protocol.EventMessage

	failAnnounces  int
	failHeartbeats bool
	failEvents     bool

	srv *httptest.Server
}

func newCoordinatorStub(t *testing.T) *coordinatorStub {
	t.Helper()
	s := &coordinatorStub{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sync/announce", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.announces++
		if s.failAnnounces > 0 {
			s.failAnnounces--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/sync/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.heartbeats++
		if s.failHeartbeats {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/sync/events", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.failEvents {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var msg protocol.EventMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		s.events = append(s.events, msg)
		w.WriteHeader(http.StatusAccepted)
	})

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *coordinatorStub) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.announces, s.heartbeats, len(s.events)
}

type syncFixture struct {
	client *SyncClient
	stub   *coordinatorStub
	clk    time.Time
}

func newSyncFixture(t *testing.T) *syncFixture {
	stub := newCoordinatorStub(t)

	client := NewSyncClient(SyncConfig{
		ColumnID:          "col-1",
		Address:           "10.0.0.7:9090",
		CoordinatorURL:    stub.srv.URL,
		FirmwareVersion:   "1.2.0",
		AnnounceInterval:  5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		SendTimeout:       time.Second,
	}, nil)

	f := &syncFixture{client: client, stub: stub, clk: time.Unix(5000, 0)}
	client.now = func() time.Time { return f.clk }
	return f
}

func statusesWith(sensors ...compartment.Sensors) []compartment.Status {
	statuses := make([]compartment.Status, len(sensors))
	for i, s := range sensors {
		statuses[i] = compartment.Status{Index: i, State: compartment.StateLocked, Sensors: s}
	}
	return statuses
}

func TestAnnounceRetriesUntilAcknowledged(t *testing.T) {
	f := newSyncFixture(t)
	f.stub.failAnnounces = 2
	statuses := statusesWith(compartment.Sensors{DoorClosed: true, IRClear: true, SafetyOK: true})

	f.client.Step(context.Background(), statuses)
	assert.False(t, f.client.Announced(), "first attempt fails")

	// Not yet due: no second attempt.
	f.clk = f.clk.Add(time.Second)
	f.client.Step(context.Background(), statuses)
	announces, _, _ := f.stub.counts()
	assert.Equal(t, 1, announces)

	f.clk = f.clk.Add(5 * time.Second)
	f.client.Step(context.Background(), statuses)
	assert.False(t, f.client.Announced(), "second attempt fails")

	f.clk = f.clk.Add(5 * time.Second)
	f.client.Step(context.Background(), statuses)
	assert.True(t, f.client.Announced())
}

func TestHeartbeatOnlyWhileAnnounced(t *testing.T) {
	f := newSyncFixture(t)
	statuses := statusesWith(compartment.Sensors{DoorClosed: true, IRClear: true, SafetyOK: true})

	f.client.Step(context.Background(), statuses)
	require.True(t, f.client.Announced())

	// Announce succeeded; the first due heartbeat goes out on the next step.
	f.client.Step(context.Background(), statuses)
	_, heartbeats, _ := f.stub.counts()
	assert.Equal(t, 1, heartbeats)

	// Not due again yet.
	f.clk = f.clk.Add(10 * time.Second)
	f.client.Step(context.Background(), statuses)
	_, heartbeats, _ = f.stub.counts()
	assert.Equal(t, 1, heartbeats)

	f.clk = f.clk.Add(30 * time.Second)
	f.client.Step(context.Background(), statuses)
	_, heartbeats, _ = f.stub.counts()
	assert.Equal(t, 2, heartbeats)
}

func TestHeartbeatFailureForcesReannounce(t *testing.T) {
	f := newSyncFixture(t)
	statuses := statusesWith(compartment.Sensors{DoorClosed: true, IRClear: true, SafetyOK: true})

	f.client.Step(context.Background(), statuses)
	require.True(t, f.client.Announced())

	f.stub.mu.Lock()
	f.stub.failHeartbeats = true
	f.stub.mu.Unlock()

	f.client.Step(context.Background(), statuses)
	assert.False(t, f.client.Announced(), "failed heartbeat is link loss")

	f.stub.mu.Lock()
	f.stub.failHeartbeats = false
	f.stub.mu.Unlock()

	// Re-announce resumes the cycle.
	f.client.Step(context.Background(), statuses)
	assert.True(t, f.client.Announced())
}

func TestEdgeEventsEmittedOncePerTransition(t *testing.T) {
	f := newSyncFixture(t)
	open := compartment.Sensors{DoorOpen: true, IRClear: true, SafetyOK: true}
	closed := compartment.Sensors{DoorClosed: true, IRClear: true, SafetyOK: true, Occupied: true}

	f.client.Step(context.Background(), statusesWith(open))
	f.client.Step(context.Background(), statusesWith(closed))

	f.stub.mu.Lock()
	events := append([]protocol.EventMessage(nil), f.stub.events...)
	f.stub.mu.Unlock()

	kinds := make([]protocol.EventKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	assert.ElementsMatch(t, []protocol.EventKind{protocol.EventDoorClosed, protocol.EventItemPlaced}, kinds)
	for _, e := range events {
		assert.Equal(t, "col-1", e.ColumnID)
		assert.Equal(t, 0, e.Compartment)
	}

	// Same snapshot again: no edges, no new events.
	f.client.Step(context.Background(), statusesWith(closed))
	_, _, count := f.stub.counts()
	assert.Equal(t, 2, count)
}

func TestItemRemovedAndFaultEdges(t *testing.T) {
	f := newSyncFixture(t)
	occupied := compartment.Sensors{DoorClosed: true, IRClear: true, SafetyOK: true, Occupied: true}
	faulted := []compartment.Status{{
		Index:     0,
		State:     compartment.StateFault,
		Sensors:   compartment.Sensors{DoorClosed: true, IRClear: true, SafetyOK: true, MotorFault: true},
		LastError: "motor fault",
	}}

	f.client.Step(context.Background(), statusesWith(occupied))
	f.client.Step(context.Background(), faulted)

	f.stub.mu.Lock()
	events := append([]protocol.EventMessage(nil), f.stub.events...)
	f.stub.mu.Unlock()

	kinds := make([]protocol.EventKind, 0, len(events))
	for _, e := range events {
		kinds = append(kinds, e.Kind)
		if e.Kind == protocol.EventFault {
			assert.Equal(t, "motor fault", e.Payload)
		}
	}
	assert.ElementsMatch(t, []protocol.EventKind{protocol.EventItemRemoved, protocol.EventFault}, kinds)
}

func TestFaultClearedEmittedOnRecovery(t *testing.T) {
	f := newSyncFixture(t)
	sensors := compartment.Sensors{DoorClosed: true, IRClear: true, SafetyOK: true}
	faulted := []compartment.Status{{Index: 0, State: compartment.StateFault, Sensors: sensors, LastError: "motion timeout"}}

	f.client.Step(context.Background(), statusesWith(sensors))
	f.client.Step(context.Background(), faulted)
	// Back to service: exactly one fault_cleared, no duplicates on a
	// steady snapshot.
	f.client.Step(context.Background(), statusesWith(sensors))
	f.client.Step(context.Background(), statusesWith(sensors))

	f.stub.mu.Lock()
	kinds := make([]protocol.EventKind, 0, len(f.stub.events))
	for _, e := range f.stub.events {
		kinds = append(kinds, e.Kind)
	}
	f.stub.mu.Unlock()

	assert.ElementsMatch(t, []protocol.EventKind{protocol.EventFault, protocol.EventFaultCleared}, kinds)
}

func TestLostEventsAreDropped(t *testing.T) {
	f := newSyncFixture(t)
	f.stub.failEvents = true
	open := compartment.Sensors{DoorOpen: true, IRClear: true, SafetyOK: true}
	closed := compartment.Sensors{DoorClosed: true, IRClear: true, SafetyOK: true}

	f.client.Step(context.Background(), statusesWith(open))
	f.client.Step(context.Background(), statusesWith(closed))

	_, _, count := f.stub.counts()
	assert.Equal(t, 0, count, "failed event is lost, not queued")
	assert.True(t, f.client.Announced(), "event loss does not disturb the sync state")
}
