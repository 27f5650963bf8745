package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// ArchiveLockStore is an in-memory domain.ArchiveLockStore.
type ArchiveLockStore struct {
	mu    sync.Mutex
	locks map[string]domain.ArchiveLock
	now   func() time.Time
}

// NewArchiveLockStore returns an empty ArchiveLockStore.
func NewArchiveLockStore() *ArchiveLockStore {
	return &ArchiveLockStore{
		locks: make(map[string]domain.ArchiveLock),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Acquire takes the lock for positionID if nobody holds it.
func (s *ArchiveLockStore) Acquire(_ context.Context, positionID, holder string) (domain.LockResult[domain.ArchiveLock], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[positionID]; ok {
		return domain.LockResult[domain.ArchiveLock]{Existed: true, Existing: l}, nil
	}
	l := domain.ArchiveLock{PositionID: positionID, Holder: holder, CreatedAt: s.now()}
	s.locks[positionID] = l
	return domain.LockResult[domain.ArchiveLock]{Acquired: true, Existing: l}, nil
}

// Release drops the lock if holder still owns it.
func (s *ArchiveLockStore) Release(_ context.Context, positionID, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[positionID]; ok && l.Holder == holder {
		delete(s.locks, positionID)
	}
	return nil
}

// SweepStale deletes locks older than maxAge.
func (s *ArchiveLockStore) SweepStale(_ context.Context, maxAge time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-maxAge)
	var n int64
	for id, l := range s.locks {
		if l.CreatedAt.Before(cutoff) {
			delete(s.locks, id)
			n++
		}
	}
	return n, nil
}
