package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// StreamingLogStore is an in-memory domain.StreamingLogStore. Entries are
// kept in insertion order.
type StreamingLogStore struct {
	mu      sync.RWMutex
	nextID  int64
	entries []domain.StreamingLog
}

// NewStreamingLogStore returns an empty StreamingLogStore.
func NewStreamingLogStore() *StreamingLogStore {
	return &StreamingLogStore{}
}

func (s *StreamingLogStore) Append(_ context.Context, e domain.StreamingLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.entries = append(s.entries, e)
	return nil
}

// List returns entries newest first.
func (s *StreamingLogStore) List(_ context.Context, opts domain.ListOpts) ([]domain.StreamingLog, error) {
	s.mu.RLock()
	out := make([]domain.StreamingLog, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if opts.Since != nil && e.Timestamp.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.Timestamp.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	s.mu.RUnlock()
	return paginate(out, opts), nil
}

func (s *StreamingLogStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

func (s *StreamingLogStore) TrimOldest(_ context.Context, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if keep < 0 {
		keep = 0
	}
	drop := len(s.entries) - keep
	if drop <= 0 {
		return 0, nil
	}
	s.entries = append([]domain.StreamingLog(nil), s.entries[drop:]...)
	return int64(drop), nil
}
