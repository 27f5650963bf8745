package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

func TestMappingAcquireIsExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMappingStore()

	var acquired atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.Acquire(ctx, "555", "EURUSD")
			if !assert.NoError(t, err) {
				return
			}
			if res.Acquired {
				acquired.Add(1)
			} else {
				assert.True(t, res.Existed)
				assert.Equal(t, domain.PendingSignalID, res.Existing.SignalID)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), acquired.Load())
}

func TestMappingLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMappingStore()

	res, err := s.Acquire(ctx, "1", "EURUSD")
	require.NoError(t, err)
	require.True(t, res.Acquired)
	assert.Equal(t, domain.MappingStatusProcessing, res.Existing.Status)

	require.NoError(t, s.Finalize(ctx, "1", "sig-1"))
	m, err := s.Get(ctx, "1")
	require.NoError(t, err)
	assert.True(t, m.Resolved())

	res, err = s.Acquire(ctx, "1", "EURUSD")
	require.NoError(t, err)
	assert.False(t, res.Acquired)
	assert.Equal(t, "sig-1", res.Existing.SignalID)

	// Release only affects processing rows.
	require.NoError(t, s.Release(ctx, "1", "late failure"))
	m, _ = s.Get(ctx, "1")
	assert.Equal(t, domain.MappingStatusCompleted, m.Status)

	closedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkClosed(ctx, "1", closedAt))
	require.NoError(t, s.MarkClosed(ctx, "1", closedAt.Add(time.Hour)))
	m, _ = s.Get(ctx, "1")
	require.NotNil(t, m.ClosedAt)
	assert.Equal(t, closedAt, *m.ClosedAt)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMappingReleaseAllowsRetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMappingStore()

	_, err := s.Acquire(ctx, "2", "GBPUSD")
	require.NoError(t, err)
	require.NoError(t, s.Release(ctx, "2", "signal insert failed"))

	m, err := s.Get(ctx, "2")
	require.NoError(t, err)
	assert.Equal(t, domain.MappingStatusFailed, m.Status)
	assert.Empty(t, m.SignalID)
	assert.Equal(t, "signal insert failed", m.Error)

	res, err := s.Acquire(ctx, "2", "GBPUSD")
	require.NoError(t, err)
	assert.True(t, res.Acquired)
}

func TestMappingSweepStale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMappingStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	_, _ = s.Acquire(ctx, "old", "EURUSD")
	_, _ = s.Acquire(ctx, "done", "EURUSD")
	require.NoError(t, s.Finalize(ctx, "done", "sig"))

	s.now = func() time.Time { return base.Add(20 * time.Minute) }
	_, _ = s.Acquire(ctx, "fresh", "EURUSD")

	n, err := s.SweepStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	m, _ := s.Get(ctx, "old")
	assert.Equal(t, domain.MappingStatusFailed, m.Status)
	m, _ = s.Get(ctx, "fresh")
	assert.Equal(t, domain.MappingStatusProcessing, m.Status)
	m, _ = s.Get(ctx, "done")
	assert.Equal(t, domain.MappingStatusCompleted, m.Status)
}

func TestArchiveLock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewArchiveLockStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	res, err := s.Acquire(ctx, "9", "holder-a")
	require.NoError(t, err)
	assert.True(t, res.Acquired)

	res, err = s.Acquire(ctx, "9", "holder-b")
	require.NoError(t, err)
	assert.True(t, res.Existed)
	assert.Equal(t, "holder-a", res.Existing.Holder)

	// A foreign holder cannot release.
	require.NoError(t, s.Release(ctx, "9", "holder-b"))
	res, _ = s.Acquire(ctx, "9", "holder-b")
	assert.False(t, res.Acquired)

	s.now = func() time.Time { return base.Add(6 * time.Minute) }
	n, err := s.SweepStale(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	res, _ = s.Acquire(ctx, "9", "holder-b")
	assert.True(t, res.Acquired)
}

func TestTelegramMappingSoftDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewTelegramMappingStore()

	require.NoError(t, s.Save(ctx, domain.TradeTelegramMapping{
		PositionID: "7", TelegramMessageID: 100, TelegramChatID: "-1001",
	}))
	require.NoError(t, s.AppendUpdate(ctx, "7", 101))
	require.NoError(t, s.AppendUpdate(ctx, "7", 102))

	m, err := s.Get(ctx, "7")
	require.NoError(t, err)
	assert.Equal(t, []int64{101, 102}, m.UpdateMessageIDs)

	require.NoError(t, s.SoftDelete(ctx, "7"))
	_, err = s.Get(ctx, "7")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.AppendUpdate(ctx, "7", 103), domain.ErrNotFound)
}

func TestTradeHistoryInsertOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewTradeHistoryStore()

	ok, err := s.Insert(ctx, domain.TradeHistory{PositionID: "1", Profit: 10})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Insert(ctx, domain.TradeHistory{PositionID: "1", Profit: 99})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.GetByPositionID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, got.Profit)
}

func TestStreamingLogTrim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStreamingLogStore()

	for i := 0; i < 15; i++ {
		require.NoError(t, s.Append(ctx, domain.StreamingLog{
			Type:    domain.LogPositionUpdated,
			Message: fmt.Sprintf("entry %d", i),
		}))
	}

	n, err := s.TrimOldest(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	count, _ := s.Count(ctx)
	assert.Equal(t, int64(10), count)

	latest, err := s.List(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "entry 14", latest[0].Message)
	assert.Equal(t, "entry 13", latest[1].Message)
}
