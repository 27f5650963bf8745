package streaming

import (
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// StateStore is the in-process map of tracked open positions. It is the
// single source of truth for diffing broker updates and is owned by one
// Session.
type StateStore struct {
	mu        sync.RWMutex
	positions map[string]domain.PositionState
	now       func() time.Time
}

// NewStateStore creates an empty store.
func NewStateStore() *StateStore {
	return &StateStore{
		positions: make(map[string]domain.PositionState),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the state of a tracked position.
func (s *StateStore) Get(id string) (domain.PositionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.positions[id]
	return st, ok
}

// Has reports whether a position is tracked.
func (s *StateStore) Has(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Track records a newly observed position.
func (s *StateStore) Track(p domain.Position) domain.PositionState {
	st := domain.StateFromPosition(p)
	st.UpdatedAt = s.now()
	s.mu.Lock()
	s.positions[p.ID] = st
	s.mu.Unlock()
	return st
}

// Merge folds an update into the tracked state and returns the state before
// and after. Stop-loss and take-profit always come from the update, since
// nil there means "removed at the broker". Every other field is only
// overwritten when the update carries a value, so partial payloads never
// erase what is already known.
func (s *StateStore) Merge(p domain.Position) (prev, next domain.PositionState, existed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed = s.positions[p.ID]
	next = prev

	if p.Symbol != "" {
		next.Symbol = p.Symbol
	}
	if p.Type != "" {
		next.Type = p.Type
	}
	if p.Volume != 0 {
		next.Volume = p.Volume
	}
	if p.OpenPrice != 0 {
		next.OpenPrice = p.OpenPrice
	}
	if !p.OpenTime.IsZero() {
		next.OpenTime = p.OpenTime
	}
	if p.CurrentPrice != 0 {
		next.CurrentPrice = p.CurrentPrice
	}
	if p.Profit != 0 || p.CurrentPrice != 0 {
		next.Profit = p.Profit
	}
	next.StopLoss = clonePrice(p.StopLoss)
	next.TakeProfit = clonePrice(p.TakeProfit)
	next.UpdatedAt = s.now()

	s.positions[p.ID] = next
	return prev, next, existed
}

// Take removes a position and returns its last known state. The boolean is
// false when the position was not tracked, which makes closure idempotent.
func (s *StateStore) Take(id string) (domain.PositionState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.positions[id]
	if ok {
		delete(s.positions, id)
	}
	return st, ok
}

// Seed tracks every position in a broker snapshot and returns the ids of
// previously tracked positions missing from it.
func (s *StateStore) Seed(positions []domain.Position) []string {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	present := make(map[string]bool, len(positions))
	for _, p := range positions {
		present[p.ID] = true
		st := domain.StateFromPosition(p)
		st.UpdatedAt = now
		s.positions[p.ID] = st
	}

	var vanished []string
	for id := range s.positions {
		if !present[id] {
			vanished = append(vanished, id)
		}
	}
	sort.Strings(vanished)
	return vanished
}

// IDs returns the tracked position ids in sorted order.
func (s *StateStore) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.positions))
	for id := range s.positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of tracked positions.
func (s *StateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// Clear drops every tracked position.
func (s *StateStore) Clear() {
	s.mu.Lock()
	s.positions = make(map[string]domain.PositionState)
	s.mu.Unlock()
}

func clonePrice(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
