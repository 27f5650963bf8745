package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

const statusKey = "streaming:status"

// StatusStore implements domain.StatusStore as a single JSON value so every
// replica and the operator API read the same record.
type StatusStore struct {
	c *Client
}

// NewStatusStore creates a StatusStore backed by the given Client.
func NewStatusStore(c *Client) *StatusStore {
	return &StatusStore{c: c}
}

func (s *StatusStore) Get(ctx context.Context) (domain.StreamingStatus, error) {
	raw, err := s.c.rdb.Get(ctx, s.c.Key(statusKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.StreamingStatus{}, domain.ErrNotFound
		}
		return domain.StreamingStatus{}, fmt.Errorf("redis: get status: %w", err)
	}
	var st domain.StreamingStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return domain.StreamingStatus{}, fmt.Errorf("redis: decode status: %w", err)
	}
	return st, nil
}

func (s *StatusStore) Set(ctx context.Context, status domain.StreamingStatus) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("redis: encode status: %w", err)
	}
	if err := s.c.rdb.Set(ctx, s.c.Key(statusKey), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis: set status: %w", err)
	}
	return nil
}

func (s *StatusStore) Delete(ctx context.Context) error {
	if err := s.c.rdb.Del(ctx, s.c.Key(statusKey)).Err(); err != nil {
		return fmt.Errorf("redis: delete status: %w", err)
	}
	return nil
}

var _ domain.StatusStore = (*StatusStore)(nil)
