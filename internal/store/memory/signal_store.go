// Package memory implements the domain store interfaces in process memory.
// It backs storage.driver = "memory" and the unit tests; the lock contracts
// match the PostgreSQL stores within a single process.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// SignalStore is an in-memory domain.SignalStore.
type SignalStore struct {
	mu      sync.RWMutex
	signals map[string]domain.Signal
}

// NewSignalStore returns an empty SignalStore.
func NewSignalStore() *SignalStore {
	return &SignalStore{signals: make(map[string]domain.Signal)}
}

// Create stores sig, assigning an id when missing.
func (s *SignalStore) Create(_ context.Context, sig domain.Signal) (domain.Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if _, ok := s.signals[sig.ID]; ok {
		return domain.Signal{}, domain.ErrAlreadyExists
	}
	if sig.Status == "" {
		sig.Status = domain.SignalStatusActive
	}
	if sig.Source == "" {
		sig.Source = "mt5"
	}
	now := time.Now().UTC()
	sig.CreatedAt = now
	sig.UpdatedAt = now
	s.signals[sig.ID] = sig
	return sig, nil
}

// GetByID returns a stored signal.
func (s *SignalStore) GetByID(_ context.Context, id string) (domain.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signals[id]
	if !ok {
		return domain.Signal{}, domain.ErrNotFound
	}
	return sig, nil
}

// Update applies the non-nil fields of upd.
func (s *SignalStore) Update(_ context.Context, id string, upd domain.SignalUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return domain.ErrNotFound
	}
	if upd.CurrentPrice != nil {
		sig.CurrentPrice = *upd.CurrentPrice
	}
	if upd.StopLoss != nil {
		sig.StopLoss = *upd.StopLoss
	}
	if upd.TakeProfit != nil {
		sig.TakeProfit = *upd.TakeProfit
	}
	sig.UpdatedAt = time.Now().UTC()
	s.signals[id] = sig
	return nil
}

// UpdateStatus changes the signal status; closed_at is stamped once.
func (s *SignalStore) UpdateStatus(_ context.Context, id string, status domain.SignalStatus, resultPips, closePrice *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig, ok := s.signals[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	sig.Status = status
	if resultPips != nil {
		v := *resultPips
		sig.ResultPips = &v
	}
	if closePrice != nil {
		v := *closePrice
		sig.ClosePrice = &v
	}
	if status == domain.SignalStatusClosed && sig.ClosedAt == nil {
		sig.ClosedAt = &now
	}
	sig.UpdatedAt = now
	s.signals[id] = sig
	return nil
}

// List returns every stored signal in no particular order.
func (s *SignalStore) List() []domain.Signal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Signal, 0, len(s.signals))
	for _, sig := range s.signals {
		out = append(out, sig)
	}
	return out
}
