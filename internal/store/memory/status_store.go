package memory

import (
	"context"
	"sync"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// StatusStore holds the streaming status record when Redis is disabled.
type StatusStore struct {
	mu     sync.RWMutex
	status *domain.StreamingStatus
}

// NewStatusStore returns an empty StatusStore.
func NewStatusStore() *StatusStore {
	return &StatusStore{}
}

func (s *StatusStore) Get(context.Context) (domain.StreamingStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == nil {
		return domain.StreamingStatus{}, domain.ErrNotFound
	}
	return *s.status, nil
}

func (s *StatusStore) Set(_ context.Context, status domain.StreamingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = &status
	return nil
}

func (s *StatusStore) Delete(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = nil
	return nil
}
