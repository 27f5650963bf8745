package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// TradeHistoryStore is an in-memory domain.TradeHistoryStore keyed by
// position id.
type TradeHistoryStore struct {
	mu     sync.RWMutex
	nextID int64
	trades map[string]domain.TradeHistory
}

// NewTradeHistoryStore returns an empty TradeHistoryStore.
func NewTradeHistoryStore() *TradeHistoryStore {
	return &TradeHistoryStore{trades: make(map[string]domain.TradeHistory)}
}

func (s *TradeHistoryStore) Insert(_ context.Context, t domain.TradeHistory) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[t.PositionID]; ok {
		return false, nil
	}
	s.nextID++
	t.ID = s.nextID
	t.ArchivedAt = time.Now().UTC()
	s.trades[t.PositionID] = t
	return true, nil
}

func (s *TradeHistoryStore) GetByPositionID(_ context.Context, positionID string) (domain.TradeHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[positionID]
	if !ok {
		return domain.TradeHistory{}, domain.ErrNotFound
	}
	return t, nil
}

func (s *TradeHistoryStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.TradeHistory, error) {
	s.mu.RLock()
	out := make([]domain.TradeHistory, 0, len(s.trades))
	for _, t := range s.trades {
		if opts.Since != nil && t.CloseTime.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && t.CloseTime.After(*opts.Until) {
			continue
		}
		out = append(out, t)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CloseTime.After(out[j].CloseTime) })
	return paginate(out, opts), nil
}

// Len returns the number of archived trades.
func (s *TradeHistoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.trades)
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}
