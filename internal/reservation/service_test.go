package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartlocker/internal/domain/reservation"
	"smartlocker/internal/firmware/compartment"
	"smartlocker/internal/protocol"
)

type fakeRelay struct {
	mu        sync.Mutex
	unlocks   []reservation.CompartmentID
	outputs   []string
	unlockErr error
	outputErr error

	// When set, Unlock signals unlockStarted and then blocks until
	// unlockGate closes.
	unlockStarted chan struct{}
	unlockGate    chan struct{}
}

func (f *fakeRelay) Unlock(_ context.Context, columnID string, index int) error {
	if f.unlockStarted != nil {
		f.unlockStarted <- struct{}{}
	}
	if f.unlockGate != nil {
		<-f.unlockGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unlockErr != nil {
		return f.unlockErr
	}
	f.unlocks = append(f.unlocks, reservation.CompartmentID{ColumnID: columnID, Index: index})
	return nil
}

func (f *fakeRelay) SetOutput(_ context.Context, columnID string, index int, output string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outputErr != nil {
		return f.outputErr
	}
	f.outputs = append(f.outputs, fmt.Sprintf("%s/%d:%s=%v", columnID, index, output, on))
	return nil
}

func newTestService(t *testing.T, relay *fakeRelay) *Service {
	t.Helper()
	svc := New(relay, 6)
	svc.RegisterColumn("col-a", 3, []string{"S", "M", "L"})
	return svc
}

func TestAssignReservesFirstAvailable(t *testing.T) {
	relay := &fakeRelay{}
	svc := newTestService(t, relay)

	code, id, err := svc.Assign(context.Background(), "order-1", nil, "")
	require.NoError(t, err)
	assert.Equal(t, reservation.CompartmentID{ColumnID: "col-a", Index: 0}, id)
	assert.Len(t, code, 6)
	for _, r := range code {
		assert.Contains(t, codeAlphabet, string(r))
	}

	comp, err := svc.Compartment(id)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusReserved, comp.Status)
	assert.Equal(t, "order-1", comp.OrderID)
}

func TestAssignSizeFilter(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})

	_, id, err := svc.Assign(context.Background(), "order-1", nil, reservation.SizeLarge)
	require.NoError(t, err)
	assert.Equal(t, 2, id.Index)

	_, _, err = svc.Assign(context.Background(), "order-2", nil, reservation.SizeLarge)
	assert.ErrorIs(t, err, reservation.ErrNoAvailableCompartments)
}

func TestAssignExplicitUnavailableLeavesStateUntouched(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})
	ctx := context.Background()

	target := reservation.CompartmentID{ColumnID: "col-a", Index: 1}
	_, _, err := svc.Assign(ctx, "order-1", &target, "")
	require.NoError(t, err)

	_, _, err = svc.Assign(ctx, "order-2", &target, "")
	require.ErrorIs(t, err, reservation.ErrCompartmentUnavailable)
	assert.Contains(t, err.Error(), "col-a/1")
	assert.Contains(t, err.Error(), string(reservation.StatusReserved))

	comp, err := svc.Compartment(target)
	require.NoError(t, err)
	assert.Equal(t, "order-1", comp.OrderID)

	_, _, err = svc.Assign(ctx, "order-2", nil, "")
	assert.NoError(t, err)
}

func TestAssignRejectsDuplicateOrder(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})
	ctx := context.Background()

	_, _, err := svc.Assign(ctx, "order-1", nil, "")
	require.NoError(t, err)
	_, _, err = svc.Assign(ctx, "order-1", nil, "")
	assert.ErrorIs(t, err, reservation.ErrOrderAlreadyAssigned)
}

func TestAssignUnknownCompartment(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})
	target := reservation.CompartmentID{ColumnID: "col-z", Index: 0}
	_, _, err := svc.Assign(context.Background(), "order-1", &target, "")
	assert.ErrorIs(t, err, reservation.ErrCompartmentNotFound)
}

func TestAssignRegeneratesCollidingCode(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	svc.makeCode = func(int) string {
		c := codes[0]
		codes = codes[1:]
		return c
	}
	ctx := context.Background()

	first, _, err := svc.Assign(ctx, "order-1", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "AAAAAA", first)

	second, _, err := svc.Assign(ctx, "order-2", nil, "")
	require.NoError(t, err)
	assert.Equal(t, "BBBBBB", second)
}

func TestConcurrentAssignsNeverDoubleBook(t *testing.T) {
	svc := New(&fakeRelay{}, 6)
	svc.RegisterColumn("col-a", 4, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	assigned := make([]reservation.CompartmentID, 16)
	errs := make([]error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, id, err := svc.Assign(ctx, fmt.Sprintf("order-%d", i), nil, "")
			assigned[i] = id
			errs[i] = err
		}(i)
	}
	wg.Wait()

	seen := make(map[reservation.CompartmentID]int)
	var ok int
	for i := range errs {
		if errs[i] == nil {
			ok++
			seen[assigned[i]]++
		} else {
			assert.ErrorIs(t, errs[i], reservation.ErrNoAvailableCompartments)
		}
	}
	assert.Equal(t, 4, ok)
	for id, n := range seen {
		assert.Equalf(t, 1, n, "compartment %s booked %d times", id, n)
	}
}

func TestMarkLoadedLightsLED(t *testing.T) {
	relay := &fakeRelay{}
	svc := newTestService(t, relay)
	ctx := context.Background()

	_, id, err := svc.Assign(ctx, "order-1", nil, "")
	require.NoError(t, err)

	require.NoError(t, svc.MarkLoaded(ctx, "order-1"))

	comp, err := svc.Compartment(id)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusOccupied, comp.Status)
	assert.Equal(t, []string{"col-a/0:led=true"}, relay.outputs)
}

func TestMarkLoadedRelayFailureKeepsOccupied(t *testing.T) {
	relay := &fakeRelay{outputErr: errors.New("column unreachable")}
	svc := newTestService(t, relay)
	ctx := context.Background()

	_, id, err := svc.Assign(ctx, "order-1", nil, "")
	require.NoError(t, err)
	require.NoError(t, svc.MarkLoaded(ctx, "order-1"))

	comp, err := svc.Compartment(id)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusOccupied, comp.Status)
}

func TestMarkLoadedRejections(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})
	ctx := context.Background()

	err := svc.MarkLoaded(ctx, "order-missing")
	assert.ErrorIs(t, err, reservation.ErrOrderNotFound)

	_, _, err = svc.Assign(ctx, "order-1", nil, "")
	require.NoError(t, err)
	require.NoError(t, svc.MarkLoaded(ctx, "order-1"))

	err = svc.MarkLoaded(ctx, "order-1")
	assert.ErrorIs(t, err, reservation.ErrCompartmentUnavailable)
}

func TestValidateAndUnlock(t *testing.T) {
	relay := &fakeRelay{}
	svc := newTestService(t, relay)
	ctx := context.Background()

	code, id, err := svc.Assign(ctx, "order-1", nil, "")
	require.NoError(t, err)
	require.NoError(t, svc.MarkLoaded(ctx, "order-1"))

	gotID, orderID, err := svc.ValidateAndUnlock(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, "order-1", orderID)
	assert.Equal(t, []reservation.CompartmentID{id}, relay.unlocks)
}

func TestValidateIsCaseAndWhitespaceInsensitive(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})
	ctx := context.Background()

	code, _, err := svc.Assign(ctx, "order-1", nil, "")
	require.NoError(t, err)
	require.NoError(t, svc.MarkLoaded(ctx, "order-1"))

	sloppy := "  " + code[:3] + " " + code[3:] + "\t"
	// The alphabet is upper case, so lowering exercises the fold.
	_, _, err = svc.ValidateAndUnlock(ctx, toLower(sloppy))
	assert.NoError(t, err)
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func TestCodeValidatesExactlyOnce(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})
	ctx := context.Background()

	code, _, err := svc.Assign(ctx, "order-1", nil, "")
	require.NoError(t, err)
	require.NoError(t, svc.MarkLoaded(ctx, "order-1"))

	_, _, err = svc.ValidateAndUnlock(ctx, code)
	require.NoError(t, err)

	_, _, err = svc.ValidateAndUnlock(ctx, code)
	assert.ErrorIs(t, err, reservation.ErrInvalidOrExpiredCode)
}

func TestConcurrentPickupValidatesOnce(t *testing.T) {
	relay := &fakeRelay{
		unlockStarted: make(chan struct{}, 1),
		unlockGate:    make(chan struct{}),
	}
	svc := newTestService(t, relay)
	ctx := context.Background()

	code, _, err := svc.Assign(ctx, "order-1", nil, "")
	require.NoError(t, err)
	require.NoError(t, svc.MarkLoaded(ctx, "order-1"))

	firstDone := make(chan error, 1)
	go func() {
		_, _, err := svc.ValidateAndUnlock(ctx, code)
		firstDone <- err
	}()

	// The first attempt is now stalled inside the relay call; a second
	// attempt with the same code must fail, not unlock again.
	<-relay.unlockStarted
	_, _, err = svc.ValidateAndUnlock(ctx, code)
	assert.ErrorIs(t, err, reservation.ErrInvalidOrExpiredCode)

	close(relay.unlockGate)
	require.NoError(t, <-firstDone)
	assert.Len(t, relay.unlocks, 1)
}

func TestValidateBeforeLoadedRejected(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})
	ctx := context.Background()

	code, _, err := svc.Assign(ctx, "order-1", nil, "")
	require.NoError(t, err)

	_, _, err = svc.ValidateAndUnlock(ctx, code)
	assert.ErrorIs(t, err, reservation.ErrNotReadyForPickup)
}

func TestValidateUnknownCode(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})
	_, _, err := svc.ValidateAndUnlock(context.Background(), "NOPE99")
	assert.ErrorIs(t, err, reservation.ErrInvalidOrExpiredCode)
}

func TestRelayFailureLeavesCodeValid(t *testing.T) {
	relay := &fakeRelay{unlockErr: errors.New("column unreachable")}
	svc := newTestService(t, relay)
	ctx := context.Background()

	code, _, err := svc.Assign(ctx, "order-1", nil, "")
	require.NoError(t, err)
	require.NoError(t, svc.MarkLoaded(ctx, "order-1"))

	_, _, err = svc.ValidateAndUnlock(ctx, code)
	require.Error(t, err)

	relay.unlockErr = nil
	_, _, err = svc.ValidateAndUnlock(ctx, code)
	assert.NoError(t, err)
}

func TestItemRemovedCompletesPickup(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})
	ctx := context.Background()

	code, id, err := svc.Assign(ctx, "order-1", nil, "")
	require.NoError(t, err)
	require.NoError(t, svc.MarkLoaded(ctx, "order-1"))
	_, _, err = svc.ValidateAndUnlock(ctx, code)
	require.NoError(t, err)

	svc.ApplyEvent(protocol.EventMessage{
		ColumnID: id.ColumnID, Compartment: id.Index, Kind: protocol.EventItemRemoved,
	})

	comp, err := svc.Compartment(id)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusAvailable, comp.Status)
	assert.Empty(t, comp.OrderID)

	// The freed compartment is assignable again.
	_, next, err := svc.Assign(ctx, "order-2", nil, "")
	require.NoError(t, err)
	assert.Equal(t, id, next)
}

func TestDoorEventsTrackOpenStatus(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})
	ctx := context.Background()

	_, id, err := svc.Assign(ctx, "order-1", nil, "")
	require.NoError(t, err)
	require.NoError(t, svc.MarkLoaded(ctx, "order-1"))

	svc.ApplyEvent(protocol.EventMessage{
		ColumnID: id.ColumnID, Compartment: id.Index, Kind: protocol.EventDoorOpened,
	})
	comp, _ := svc.Compartment(id)
	assert.Equal(t, reservation.StatusOpen, comp.Status)

	svc.ApplyEvent(protocol.EventMessage{
		ColumnID: id.ColumnID, Compartment: id.Index, Kind: protocol.EventDoorClosed,
	})
	comp, _ = svc.Compartment(id)
	assert.Equal(t, reservation.StatusOccupied, comp.Status)
}

func TestDoorClosedOnUnboundReturnsAvailable(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})
	id := reservation.CompartmentID{ColumnID: "col-a", Index: 0}

	svc.mu.Lock()
	svc.compartments[id].Status = reservation.StatusOpen
	svc.mu.Unlock()

	svc.ApplyEvent(protocol.EventMessage{
		ColumnID: id.ColumnID, Compartment: id.Index, Kind: protocol.EventDoorClosed,
	})
	comp, _ := svc.Compartment(id)
	assert.Equal(t, reservation.StatusAvailable, comp.Status)
}

func TestFaultEventSticksUntilCleared(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})
	ctx := context.Background()

	_, id, err := svc.Assign(ctx, "order-1", nil, "")
	require.NoError(t, err)

	svc.ApplyEvent(protocol.EventMessage{
		ColumnID: id.ColumnID, Compartment: id.Index, Kind: protocol.EventFault, Payload: "motor fault",
	})
	comp, _ := svc.Compartment(id)
	assert.Equal(t, reservation.StatusFault, comp.Status)
	assert.Equal(t, "order-1", comp.OrderID)

	// A healthy heartbeat does not clear the fault.
	svc.Reconcile(id.ColumnID, []compartment.Status{{Index: id.Index, State: compartment.StateLocked}})
	comp, _ = svc.Compartment(id)
	assert.Equal(t, reservation.StatusFault, comp.Status)

	svc.ApplyEvent(protocol.EventMessage{
		ColumnID: id.ColumnID, Compartment: id.Index, Kind: protocol.EventFaultCleared,
	})
	comp, _ = svc.Compartment(id)
	assert.Equal(t, reservation.StatusAvailable, comp.Status)
	assert.Empty(t, comp.OrderID)
}

func TestEventForUnknownCompartmentIgnored(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})
	svc.ApplyEvent(protocol.EventMessage{
		ColumnID: "col-z", Compartment: 9, Kind: protocol.EventFault,
	})
	assert.Len(t, svc.List(), 3)
}

func TestReconcileMirrorsUnboundCompartments(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})

	svc.Reconcile("col-a", []compartment.Status{
		{Index: 0, State: compartment.StateSanitizing},
		{Index: 1, State: compartment.StateFault},
		{Index: 2, State: compartment.StateLocked},
	})

	comps := svc.List()
	assert.Equal(t, reservation.StatusSanitizing, comps[0].Status)
	assert.Equal(t, reservation.StatusFault, comps[1].Status)
	assert.Equal(t, reservation.StatusAvailable, comps[2].Status)
}

func TestReconcileKeepsBoundCompartmentBinding(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})
	ctx := context.Background()

	_, id, err := svc.Assign(ctx, "order-1", nil, "")
	require.NoError(t, err)
	require.NoError(t, svc.MarkLoaded(ctx, "order-1"))

	svc.Reconcile(id.ColumnID, []compartment.Status{
		{Index: id.Index, State: compartment.StateOpen},
	})
	comp, _ := svc.Compartment(id)
	assert.Equal(t, reservation.StatusOpen, comp.Status)
	assert.Equal(t, "order-1", comp.OrderID)

	svc.Reconcile(id.ColumnID, []compartment.Status{
		{Index: id.Index, State: compartment.StateLocked},
	})
	comp, _ = svc.Compartment(id)
	assert.Equal(t, reservation.StatusOccupied, comp.Status)
}

func TestRegisterColumnIdempotent(t *testing.T) {
	svc := newTestService(t, &fakeRelay{})
	ctx := context.Background()

	_, id, err := svc.Assign(ctx, "order-1", nil, "")
	require.NoError(t, err)

	// Column reboots and re-announces.
	svc.RegisterColumn("col-a", 3, []string{"S", "M", "L"})

	comp, err := svc.Compartment(id)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusReserved, comp.Status)
	assert.Equal(t, "order-1", comp.OrderID)
}

func TestListSortedAndCopied(t *testing.T) {
	svc := New(&fakeRelay{}, 6)
	svc.RegisterColumn("col-b", 1, nil)
	svc.RegisterColumn("col-a", 2, nil)

	comps := svc.List()
	require.Len(t, comps, 3)
	assert.Equal(t, "col-a/0", comps[0].ID.String())
	assert.Equal(t, "col-a/1", comps[1].ID.String())
	assert.Equal(t, "col-b/0", comps[2].ID.String())

	comps[0].Status = reservation.StatusFault
	fresh, err := svc.Compartment(comps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, reservation.StatusAvailable, fresh.Status)
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "AB3XYZ", NormalizeCode(" ab3 xyz\n"))
	assert.Equal(t, "", NormalizeCode("   "))
}

func TestRandomCodeAlphabet(t *testing.T) {
	for i := 0; i < 50; i++ {
		code := randomCode(6)
		require.Len(t, code, 6)
		for _, r := range code {
			assert.Contains(t, codeAlphabet, string(r))
		}
	}
}
