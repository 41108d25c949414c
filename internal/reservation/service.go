// Package reservation implements the coordinator-authoritative binding of
// orders to compartments and the pickup code lifecycle.
package reservation

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"smartlocker/internal/domain/reservation"
	"smartlocker/internal/firmware/compartment"
	"smartlocker/internal/logger"
	"smartlocker/internal/protocol"
)

// Relay is the slice of the command relay the reservation lifecycle needs.
type Relay interface {
	Unlock(ctx context.Context, columnID string, index int) error
	SetOutput(ctx context.Context, columnID string, index int, output string, on bool) error
}

// Service owns all reservation state. Every mutation happens under one
// mutex, which makes the check-and-set on compartment status atomic: two
// concurrent assigns can never double-book a compartment.
type Service struct {
	mu           sync.Mutex
	compartments map[reservation.CompartmentID]*reservation.Compartment
	orders       map[string]reservation.CompartmentID
	codes        map[string]string // normalized outstanding code -> order ID

	relay    Relay
	codeLen  int
	now      func() time.Time
	makeCode func(int) string
}

// New builds an empty reservation service.
func New(relay Relay, codeLen int) *Service {
	if codeLen <= 0 {
		codeLen = 6
	}
	return &Service{
		compartments: make(map[reservation.CompartmentID]*reservation.Compartment),
		orders:       make(map[string]reservation.CompartmentID),
		codes:        make(map[string]string),
		relay:        relay,
		codeLen:      codeLen,
		now:          time.Now,
		makeCode:     randomCode,
	}
}

// RegisterColumn creates the compartments of a newly announced column.
// Re-announces after a column reboot are idempotent: existing compartments
// keep their reservation state.
func (s *Service) RegisterColumn(columnID string, count int, sizes []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < count; i++ {
		id := reservation.CompartmentID{ColumnID: columnID, Index: i}
		if _, ok := s.compartments[id]; ok {
			continue
		}

		size := reservation.SizeMedium
		if i < len(sizes) && sizes[i] != "" {
			size = reservation.Size(sizes[i])
		}

		s.compartments[id] = &reservation.Compartment{
			ID:              id,
			Size:            size,
			Status:          reservation.StatusAvailable,
			StatusChangedAt: s.now(),
		}
	}
}

// Assign binds an order to a compartment and issues its pickup code. With
// no explicit compartment the first available one is chosen, optionally
// filtered by size.
func (s *Service) Assign(ctx context.Context, orderID string, explicit *reservation.CompartmentID, size reservation.Size) (string, reservation.CompartmentID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[orderID]; ok {
		return "", reservation.CompartmentID{}, reservation.ErrOrderAlreadyAssigned
	}

	var comp *reservation.Compartment
	if explicit != nil {
		c, ok := s.compartments[*explicit]
		if !ok {
			return "", reservation.CompartmentID{}, reservation.ErrCompartmentNotFound
		}
		if c.Status != reservation.StatusAvailable {
			return "", reservation.CompartmentID{}, fmt.Errorf(
				"%w: compartment %s is %s", reservation.ErrCompartmentUnavailable, c.ID, c.Status)
		}
		comp = c
	} else {
		comp = s.firstAvailable(size)
		if comp == nil {
			return "", reservation.CompartmentID{}, reservation.ErrNoAvailableCompartments
		}
	}

	code := s.uniqueCode()

	comp.Status = reservation.StatusReserved
	comp.OrderID = orderID
	comp.PickupCode = code
	comp.CodeUsed = false
	comp.StatusChangedAt = s.now()
	s.orders[orderID] = comp.ID
	s.codes[code] = orderID

	logger.Info("order assigned to compartment",
		zap.String("order_id", orderID),
		zap.String("compartment", comp.ID.String()))
	return code, comp.ID, nil
}

// MarkLoaded records that the courier has placed the order and lights the
// compartment LED. A failed LED relay is logged, not rolled back.
func (s *Service) MarkLoaded(ctx context.Context, orderID string) error {
	s.mu.Lock()
	id, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		return reservation.ErrOrderNotFound
	}
	comp := s.compartments[id]
	if comp.Status != reservation.StatusReserved {
		s.mu.Unlock()
		return fmt.Errorf("%w: compartment %s is %s, expected %s",
			reservation.ErrCompartmentUnavailable, comp.ID, comp.Status, reservation.StatusReserved)
	}
	comp.Status = reservation.StatusOccupied
	comp.StatusChangedAt = s.now()
	s.mu.Unlock()

	if err := s.relay.SetOutput(ctx, id.ColumnID, id.Index, string(compartment.OutputLED), true); err != nil {
		logger.Warn("could not light compartment LED",
			zap.String("compartment", id.String()),
			zap.Error(err))
	}
	return nil
}

// ValidateAndUnlock checks a customer's pickup code and relays the unlock.
// Validation is case and whitespace insensitive. A code validates exactly
// once; a relay failure leaves it valid so the customer can retry.
func (s *Service) ValidateAndUnlock(ctx context.Context, rawCode string) (reservation.CompartmentID, string, error) {
	code := NormalizeCode(rawCode)

	s.mu.Lock()
	orderID, ok := s.codes[code]
	if !ok {
		s.mu.Unlock()
		return reservation.CompartmentID{}, "", reservation.ErrInvalidOrExpiredCode
	}
	id := s.orders[orderID]
	comp := s.compartments[id]
	if comp.Status == reservation.StatusReserved {
		s.mu.Unlock()
		return reservation.CompartmentID{}, "", reservation.ErrNotReadyForPickup
	}
	if comp.Status != reservation.StatusOccupied {
		s.mu.Unlock()
		return reservation.CompartmentID{}, "", reservation.ErrInvalidOrExpiredCode
	}
	// Consume the code before relaying so a concurrent attempt with the
	// same code fails the lookup instead of unlocking twice.
	delete(s.codes, code)
	comp.CodeUsed = true
	s.mu.Unlock()

	if err := s.relay.Unlock(ctx, id.ColumnID, id.Index); err != nil {
		s.mu.Lock()
		// Reinstate the code so the customer can retry, unless the
		// binding was released while the relay was in flight.
		if comp.OrderID == orderID {
			s.codes[code] = orderID
			comp.CodeUsed = false
		}
		s.mu.Unlock()
		return reservation.CompartmentID{}, "", err
	}

	logger.Info("pickup code validated",
		zap.String("order_id", orderID),
		zap.String("compartment", id.String()))
	return id, orderID, nil
}

// ApplyEvent folds one hardware event into reservation state.
func (s *Service) ApplyEvent(msg protocol.EventMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := reservation.CompartmentID{ColumnID: msg.ColumnID, Index: msg.Compartment}
	comp, ok := s.compartments[id]
	if !ok {
		logger.Debug("event for unknown compartment dropped",
			zap.String("compartment", id.String()),
			zap.String("kind", string(msg.Kind)))
		return
	}

	switch msg.Kind {
	case protocol.EventItemRemoved:
		if comp.Status == reservation.StatusOccupied || comp.Status == reservation.StatusOpen {
			if comp.OrderID != "" {
				logger.Info("order picked up",
					zap.String("order_id", comp.OrderID),
					zap.String("compartment", id.String()))
			}
			s.release(comp)
		}

	case protocol.EventItemPlaced:
		if comp.Status == reservation.StatusReserved && comp.OrderID == "" {
			logger.Warn("item placed in compartment with no marked order",
				zap.String("compartment", id.String()))
		}

	case protocol.EventDoorOpened:
		switch comp.Status {
		case reservation.StatusOccupied, reservation.StatusReserved:
			comp.Status = reservation.StatusOpen
			comp.StatusChangedAt = s.now()
		case reservation.StatusAvailable:
			logger.Warn("door opened on unassigned compartment",
				zap.String("compartment", id.String()))
		}

	case protocol.EventDoorClosed:
		if comp.Status == reservation.StatusOpen {
			if comp.OrderID != "" {
				comp.Status = reservation.StatusOccupied
			} else {
				comp.Status = reservation.StatusAvailable
			}
			comp.StatusChangedAt = s.now()
		}

	case protocol.EventFault:
		// Faults win over any reservation state and stick until the
		// explicit clear.
		comp.Status = reservation.StatusFault
		comp.StatusChangedAt = s.now()
		logger.Error("compartment faulted",
			zap.String("compartment", id.String()),
			zap.String("payload", msg.Payload))

	case protocol.EventFaultCleared:
		if comp.Status == reservation.StatusFault {
			s.release(comp)
		}
	}
}

// Reconcile folds a heartbeat snapshot into reservation state so that
// coordinator status and hardware truth agree within one heartbeat
// interval.
func (s *Service) Reconcile(columnID string, statuses []compartment.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range statuses {
		id := reservation.CompartmentID{ColumnID: columnID, Index: st.Index}
		comp, ok := s.compartments[id]
		if !ok {
			continue
		}

		if st.State == compartment.StateFault {
			if comp.Status != reservation.StatusFault {
				comp.Status = reservation.StatusFault
				comp.StatusChangedAt = s.now()
			}
			continue
		}
		if comp.Status == reservation.StatusFault {
			// Hardware looks healthy again but faults clear only through
			// the explicit fault-clear event.
			continue
		}

		if comp.Status == reservation.StatusReserved && st.Sensors.Occupied {
			logger.Warn("compartment occupied before being marked loaded",
				zap.String("compartment", id.String()),
				zap.String("order_id", comp.OrderID))
		}

		if comp.OrderID != "" {
			// Bound compartments only track the door for the transient
			// open status.
			switch {
			case st.State == compartment.StateOpen && comp.Status == reservation.StatusOccupied:
				comp.Status = reservation.StatusOpen
				comp.StatusChangedAt = s.now()
			case st.State == compartment.StateLocked && comp.Status == reservation.StatusOpen:
				comp.Status = reservation.StatusOccupied
				comp.StatusChangedAt = s.now()
			}
			continue
		}

		// Unbound compartments mirror the hardware lifecycle.
		mapped := mirrorStatus(st.State)
		if comp.Status != mapped {
			comp.Status = mapped
			comp.StatusChangedAt = s.now()
		}
	}
}

// Compartment returns a copy of one compartment's reservation state.
func (s *Service) Compartment(id reservation.CompartmentID) (reservation.Compartment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	comp, ok := s.compartments[id]
	if !ok {
		return reservation.Compartment{}, reservation.ErrCompartmentNotFound
	}
	return *comp, nil
}

// List returns every compartment ordered by column and index.
func (s *Service) List() []reservation.Compartment {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]reservation.Compartment, 0, len(s.compartments))
	for _, comp := range s.compartments {
		out = append(out, *comp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID.ColumnID != out[j].ID.ColumnID {
			return out[i].ID.ColumnID < out[j].ID.ColumnID
		}
		return out[i].ID.Index < out[j].ID.Index
	})
	return out
}

// release clears a compartment's binding and returns it to available.
// Caller holds the mutex.
func (s *Service) release(comp *reservation.Compartment) {
	if comp.OrderID != "" {
		delete(s.orders, comp.OrderID)
	}
	if comp.PickupCode != "" {
		delete(s.codes, comp.PickupCode)
	}
	comp.OrderID = ""
	comp.PickupCode = ""
	comp.CodeUsed = false
	comp.Status = reservation.StatusAvailable
	comp.StatusChangedAt = s.now()
}

// firstAvailable picks the lowest (column, index) available compartment
// matching the size filter. Caller holds the mutex.
func (s *Service) firstAvailable(size reservation.Size) *reservation.Compartment {
	ids := make([]reservation.CompartmentID, 0, len(s.compartments))
	for id := range s.compartments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].ColumnID != ids[j].ColumnID {
			return ids[i].ColumnID < ids[j].ColumnID
		}
		return ids[i].Index < ids[j].Index
	})

	for _, id := range ids {
		comp := s.compartments[id]
		if comp.Status != reservation.StatusAvailable {
			continue
		}
		if size != "" && comp.Size != size {
			continue
		}
		return comp
	}
	return nil
}

// uniqueCode generates a code unique among currently outstanding ones,
// regenerating on collision. Caller holds the mutex.
func (s *Service) uniqueCode() string {
	for {
		code := s.makeCode(s.codeLen)
		if _, taken := s.codes[code]; !taken {
			return code
		}
	}
}

func mirrorStatus(st compartment.State) reservation.Status {
	switch st {
	case compartment.StateOpen, compartment.StateUnlocking:
		return reservation.StatusOpen
	case compartment.StateClosing:
		return reservation.StatusClosing
	case compartment.StateSanitizing:
		return reservation.StatusSanitizing
	default:
		return reservation.StatusAvailable
	}
}
