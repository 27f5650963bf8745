package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// MappingStore is an in-memory domain.SignalMappingStore. Acquire is atomic
// under the store mutex.
type MappingStore struct {
	mu       sync.Mutex
	mappings map[string]domain.PositionSignalMapping
	now      func() time.Time
}

// NewMappingStore returns an empty MappingStore.
func NewMappingStore() *MappingStore {
	return &MappingStore{
		mappings: make(map[string]domain.PositionSignalMapping),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Acquire creates the mapping if absent, or takes over a failed one.
func (s *MappingStore) Acquire(_ context.Context, positionID, pair string) (domain.LockResult[domain.PositionSignalMapping], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.mappings[positionID]
	if ok && existing.Status != domain.MappingStatusFailed {
		return domain.LockResult[domain.PositionSignalMapping]{Existed: true, Existing: existing}, nil
	}

	now := s.now()
	m := domain.PositionSignalMapping{
		PositionID:      positionID,
		SignalID:        domain.PendingSignalID,
		Pair:            pair,
		Status:          domain.MappingStatusProcessing,
		LastKnownProfit: existing.LastKnownProfit,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.mappings[positionID] = m
	return domain.LockResult[domain.PositionSignalMapping]{Acquired: true, Existing: m}, nil
}

// Get returns the mapping for a position.
func (s *MappingStore) Get(_ context.Context, positionID string) (domain.PositionSignalMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[positionID]
	if !ok {
		return domain.PositionSignalMapping{}, domain.ErrNotFound
	}
	return m, nil
}

// Finalize completes the mapping with the created signal id.
func (s *MappingStore) Finalize(_ context.Context, positionID, signalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[positionID]
	if !ok {
		return domain.ErrNotFound
	}
	m.SignalID = signalID
	m.Status = domain.MappingStatusCompleted
	m.Error = ""
	m.UpdatedAt = s.now()
	s.mappings[positionID] = m
	return nil
}

// Release marks a processing mapping failed.
func (s *MappingStore) Release(_ context.Context, positionID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[positionID]
	if !ok || m.Status != domain.MappingStatusProcessing {
		return nil
	}
	m.SignalID = ""
	m.Status = domain.MappingStatusFailed
	m.Error = reason
	m.UpdatedAt = s.now()
	s.mappings[positionID] = m
	return nil
}

// UpdateProfit stores the last known floating profit.
func (s *MappingStore) UpdateProfit(_ context.Context, positionID string, profit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[positionID]
	if !ok || m.LastKnownProfit == profit {
		return nil
	}
	m.LastKnownProfit = profit
	m.UpdatedAt = s.now()
	s.mappings[positionID] = m
	return nil
}

// MarkClosed stamps the close time once.
func (s *MappingStore) MarkClosed(_ context.Context, positionID string, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[positionID]
	if !ok {
		return domain.ErrNotFound
	}
	if m.ClosedAt == nil {
		t := closedAt
		m.ClosedAt = &t
	}
	m.UpdatedAt = s.now()
	s.mappings[positionID] = m
	return nil
}

// SweepStale fails processing mappings older than maxAge.
func (s *MappingStore) SweepStale(_ context.Context, maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-maxAge)
	var n int64
	for id, m := range s.mappings {
		if m.Status == domain.MappingStatusProcessing && m.CreatedAt.Before(cutoff) {
			m.SignalID = ""
			m.Status = domain.MappingStatusFailed
			m.Error = "stale processing lock"
			m.UpdatedAt = s.now()
			s.mappings[id] = m
			n++
		}
	}
	return n, nil
}
