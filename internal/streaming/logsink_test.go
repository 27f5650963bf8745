package streaming

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
	"github.com/alanyoungcy/fxsignalbot/internal/store/memory"
)

type quotaLogStore struct {
	*memory.StreamingLogStore
	mu      sync.Mutex
	fail    bool
	appends int
}

func (q *quotaLogStore) Append(ctx context.Context, e domain.StreamingLog) error {
	q.mu.Lock()
	q.appends++
	fail := q.fail
	q.mu.Unlock()
	if fail {
		return fmt.Errorf("postgres: append: %w", domain.ErrQuotaExceeded)
	}
	return q.StreamingLogStore.Append(ctx, e)
}

func TestLogSinkTrimsToCap(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStreamingLogStore()
	sink := NewLogSink(store, 1, testLogger())
	sink.keep = 5

	for i := 0; i < 12; i++ {
		sink.Append(ctx, domain.StreamingLog{Type: domain.LogPositionUpdated, Message: fmt.Sprint(i)})
	}
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	latest, _ := store.List(ctx, domain.ListOpts{Limit: 1})
	assert.Equal(t, "11", latest[0].Message)
	assert.NotNil(t, latest[0].Details)
	assert.False(t, latest[0].Timestamp.IsZero())
}

func TestLogSinkSkipsTrimWhenRollMisses(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStreamingLogStore()
	sink := NewLogSink(store, 0.01, testLogger())
	sink.keep = 5
	sink.roll = func() float64 { return 0.5 }

	for i := 0; i < 8; i++ {
		sink.Append(ctx, domain.StreamingLog{Type: domain.LogPositionUpdated})
	}
	n, _ := store.Count(ctx)
	assert.Equal(t, int64(8), n)

	assert.Equal(t, int64(3), sink.Trim(ctx))
}

func TestLogSinkBacksOffAfterQuotaError(t *testing.T) {
	ctx := context.Background()
	store := &quotaLogStore{StreamingLogStore: memory.NewStreamingLogStore(), fail: true}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	sink := NewLogSink(store, 0, testLogger())
	sink.now = func() time.Time { return now }

	sink.Append(ctx, domain.StreamingLog{Type: domain.LogError})
	sink.Append(ctx, domain.StreamingLog{Type: domain.LogError})
	assert.Equal(t, 1, store.appends)

	store.mu.Lock()
	store.fail = false
	store.mu.Unlock()
	now = now.Add(quotaCooldown + time.Second)
	sink.Append(ctx, domain.StreamingLog{Type: domain.LogError})
	n, _ := store.Count(ctx)
	assert.Equal(t, int64(1), n)
}

func TestLogSinkHonoursQuotaGate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStreamingLogStore()
	sink := NewLogSink(store, 0, testLogger())
	blocked := true
	sink.SetQuotaGate(func() bool { return blocked })

	sink.Append(ctx, domain.StreamingLog{Type: domain.LogError})
	blocked = false
	sink.Append(ctx, domain.StreamingLog{Type: domain.LogError})

	n, _ := store.Count(ctx)
	assert.Equal(t, int64(1), n)
}

func TestNilLogSinkIsSafe(t *testing.T) {
	var sink *LogSink
	sink.Append(context.Background(), domain.StreamingLog{})
	assert.Zero(t, sink.Trim(context.Background()))
}
