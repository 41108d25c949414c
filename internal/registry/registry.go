// Package registry tracks announced columns and derives their online state
// from report staleness.
package registry

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	domaincolumn "smartlocker/internal/domain/column"
	"smartlocker/internal/firmware/compartment"
	"smartlocker/internal/logger"
	"smartlocker/internal/protocol"
)

// Service is the owned column registry: constructed per process (or per
// test), injected into handlers, closed on shutdown. A background sweep
// marks columns offline once they exceed the staleness threshold; records
// are never deleted.
type Service struct {
	mu      sync.RWMutex
	columns map[string]*domaincolumn.Column

	staleAfter    time.Duration
	sweepInterval time.Duration

	now  func() time.Time
	done chan struct{}
	wg   sync.WaitGroup
}

// New builds the registry and starts the staleness sweep.
func New(staleAfter, sweepInterval time.Duration) *Service {
	s := &Service{
		columns:       make(map[string]*domaincolumn.Column),
		staleAfter:    staleAfter,
		sweepInterval: sweepInterval,
		now:           time.Now,
		done:          make(chan struct{}),
	}

	s.wg.Add(1)
	go s.sweepLoop()
	return s
}

// Close stops the sweep goroutine.
func (s *Service) Close() {
	close(s.done)
	s.wg.Wait()
}

// Announce registers or refreshes a column. Always refreshes the online
// flag.
func (s *Service) Announce(req protocol.AnnounceRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.columns[req.ColumnID]
	if !ok {
		col = &domaincolumn.Column{ID: req.ColumnID}
		s.columns[req.ColumnID] = col
		logger.Info("column registered",
			zap.String("column_id", req.ColumnID),
			zap.String("address", req.Address),
			zap.Int("compartments", req.Compartments))
	}

	col.Address = req.Address
	col.Compartments = req.Compartments
	col.FirmwareVersion = req.FirmwareVersion
	col.LastSeen = s.now()
	col.Online = true
}

// Heartbeat refreshes a column's snapshot cache and online flag. A column
// the coordinator has never seen announce is rejected so its controller
// re-announces.
func (s *Service) Heartbeat(req protocol.HeartbeatRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.columns[req.ColumnID]
	if !ok {
		return domaincolumn.ErrColumnNotFound
	}

	col.LastSeen = s.now()
	col.Online = true
	col.UptimeSeconds = req.UptimeSeconds
	col.Snapshots = append(col.Snapshots[:0], req.Compartments...)
	return nil
}

// Get returns a copy of one column record.
func (s *Service) Get(columnID string) (domaincolumn.Column, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.columns[columnID]
	if !ok {
		return domaincolumn.Column{}, domaincolumn.ErrColumnNotFound
	}
	return copyColumn(col), nil
}

// List returns copies of every known column, ordered by ID.
func (s *Service) List() []domaincolumn.Column {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domaincolumn.Column, 0, len(s.columns))
	for _, col := range s.columns {
		out = append(out, copyColumn(col))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsOnline reports the derived online flag.
func (s *Service) IsOnline(columnID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.columns[columnID]
	if !ok {
		return false, domaincolumn.ErrColumnNotFound
	}
	return col.Online, nil
}

// Sweep runs one staleness pass immediately, outside the periodic cycle.
func (s *Service) Sweep() {
	s.sweep()
}

func (s *Service) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep marks stale columns offline. The record and its cached compartment
// snapshots survive so the column resumes transparently on its next
// announce.
func (s *Service) sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, col := range s.columns {
		if col.Online && now.Sub(col.LastSeen) > s.staleAfter {
			col.Online = false
			logger.Warn("column went offline",
				zap.String("column_id", col.ID),
				zap.Time("last_seen", col.LastSeen))
		}
	}
}

func copyColumn(col *domaincolumn.Column) domaincolumn.Column {
	out := *col
	out.Snapshots = append([]compartment.Status(nil), col.Snapshots...)
	return out
}
