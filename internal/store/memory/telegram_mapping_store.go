package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// TelegramMappingStore is an in-memory domain.TelegramMappingStore.
type TelegramMappingStore struct {
	mu       sync.Mutex
	mappings map[string]domain.TradeTelegramMapping
}

// NewTelegramMappingStore returns an empty TelegramMappingStore.
func NewTelegramMappingStore() *TelegramMappingStore {
	return &TelegramMappingStore{mappings: make(map[string]domain.TradeTelegramMapping)}
}

func (s *TelegramMappingStore) Save(_ context.Context, m domain.TradeTelegramMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if prev, ok := s.mappings[m.PositionID]; ok {
		m.CreatedAt = prev.CreatedAt
	} else {
		m.CreatedAt = now
	}
	m.LastUpdated = now
	m.DeletedAt = nil
	m.UpdateMessageIDs = append([]int64(nil), m.UpdateMessageIDs...)
	s.mappings[m.PositionID] = m
	return nil
}

func (s *TelegramMappingStore) Get(_ context.Context, positionID string) (domain.TradeTelegramMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[positionID]
	if !ok || m.DeletedAt != nil {
		return domain.TradeTelegramMapping{}, domain.ErrNotFound
	}
	m.UpdateMessageIDs = append([]int64(nil), m.UpdateMessageIDs...)
	return m, nil
}

func (s *TelegramMappingStore) AppendUpdate(_ context.Context, positionID string, messageID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[positionID]
	if !ok || m.DeletedAt != nil {
		return domain.ErrNotFound
	}
	m.UpdateMessageIDs = append(m.UpdateMessageIDs, messageID)
	m.LastUpdated = time.Now().UTC()
	s.mappings[positionID] = m
	return nil
}

func (s *TelegramMappingStore) SoftDelete(_ context.Context, positionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[positionID]
	if !ok || m.DeletedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	m.DeletedAt = &now
	m.LastUpdated = now
	s.mappings[positionID] = m
	return nil
}
