package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

func newTestTracker(cfg HealthConfig, alert Alerter) *HealthTracker {
	h := NewHealthTracker(cfg, alert, testLogger())
	h.jitter = func(time.Duration) time.Duration { return 0 }
	h.after = immediate
	return h
}

func TestNextDelayDoublesUntilCap(t *testing.T) {
	h := newTestTracker(DefaultHealthConfig(), nil)

	want := []time.Duration{
		5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second,
		80 * time.Second, 160 * time.Second, 5 * time.Minute, 5 * time.Minute,
	}
	prev := time.Duration(0)
	for attempt, w := range want {
		got := h.delayFor(attempt)
		assert.Equal(t, w, got, "attempt %d", attempt)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
	assert.Equal(t, 5*time.Minute, h.delayFor(200))
}

func TestJitterStaysWithinBound(t *testing.T) {
	h := NewHealthTracker(DefaultHealthConfig(), nil, testLogger())
	for i := 0; i < 50; i++ {
		d := h.delayFor(0)
		assert.GreaterOrEqual(t, d, 5*time.Second)
		assert.Less(t, d, 6*time.Second)
	}
}

func TestCircuitOpensAtThreshold(t *testing.T) {
	ctx := context.Background()
	alerts := &fakeAlerter{}
	cfg := DefaultHealthConfig()
	cfg.CircuitThreshold = 3
	h := newTestTracker(cfg, alerts)

	assert.False(t, h.OnFailure(ctx, errors.New("dial: connection refused")))
	assert.False(t, h.OnFailure(ctx, errors.New("dial: connection refused")))
	assert.True(t, h.OnFailure(ctx, errors.New("dial: connection refused")))
	assert.True(t, h.OnFailure(ctx, errors.New("dial: connection refused")))

	assert.True(t, h.CircuitOpen())
	assert.Equal(t, []string{alertCircuitOpen}, alerts.events())
	assert.Equal(t, 0, h.Health().Score)

	var calls atomic.Int32
	scheduled := h.ScheduleReconnect(ctx, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	assert.False(t, scheduled)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, calls.Load())

	h.ResetCircuit()
	assert.False(t, h.CircuitOpen())
	assert.True(t, h.ScheduleReconnect(ctx, func(context.Context) error {
		calls.Add(1)
		return nil
	}))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduleReconnectRetriesUntilSuccess(t *testing.T) {
	h := newTestTracker(DefaultHealthConfig(), nil)

	var calls atomic.Int32
	h.ScheduleReconnect(context.Background(), func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("socket closed")
		}
		return nil
	})

	require.Eventually(t, func() bool {
		health := h.Health()
		return calls.Load() == 3 && health.ConsecutiveFailures == 0 && health.ReconnectAttempts == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, h.Health().TotalReconnects)
}

func TestScheduleReconnectStopsWhenCircuitOpens(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultHealthConfig()
	cfg.CircuitThreshold = 2
	h := newTestTracker(cfg, nil)

	h.OnFailure(ctx, errors.New("first start failed"))

	var calls atomic.Int32
	h.ScheduleReconnect(ctx, func(context.Context) error {
		calls.Add(1)
		return errors.New("still down")
	})

	require.Eventually(t, h.CircuitOpen, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestScheduleReconnectAbandonsOnConfigError(t *testing.T) {
	h := newTestTracker(DefaultHealthConfig(), nil)

	var calls atomic.Int32
	h.ScheduleReconnect(context.Background(), func(context.Context) error {
		calls.Add(1)
		return fmt.Errorf("streaming: %w: token missing", domain.ErrConfig)
	})

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Zero(t, h.Health().ConsecutiveFailures)
}

func TestResetCancelsPendingReconnect(t *testing.T) {
	h := newTestTracker(DefaultHealthConfig(), nil)
	never := make(chan time.Time)
	h.after = func(time.Duration) <-chan time.Time { return never }

	var calls atomic.Int32
	fn := func(context.Context) error {
		calls.Add(1)
		return nil
	}
	assert.True(t, h.ScheduleReconnect(context.Background(), fn))
	// A second request joins the pending one.
	assert.True(t, h.ScheduleReconnect(context.Background(), fn))
	assert.Equal(t, 1, h.Health().TotalReconnects)

	h.Reset()
	assert.Zero(t, h.Health().TotalReconnects)

	h.after = immediate
	assert.True(t, h.ScheduleReconnect(context.Background(), fn))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestHealthScore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := newTestTracker(DefaultHealthConfig(), nil)
	h.now = func() time.Time { return now }

	assert.Equal(t, 100, h.Health().Score)

	h.OnSuccess()
	h.OnFailure(ctx, errors.New("a"))
	h.OnFailure(ctx, errors.New("b"))
	assert.Equal(t, 90, h.Health().Score)

	now = now.Add(6 * time.Minute)
	assert.Equal(t, 70, h.Health().Score)

	h.OnEvent()
	h.OnSuccess()
	health := h.Health()
	assert.Equal(t, 100, health.Score)
	assert.Equal(t, now, health.LastSuccessfulEvent)
}

func TestQuotaStreak(t *testing.T) {
	ctx := context.Background()
	h := newTestTracker(DefaultHealthConfig(), nil)

	h.OnFailure(ctx, errors.New("dial: timeout"))
	assert.False(t, h.InQuotaStreak())

	h.OnFailure(ctx, fmt.Errorf("terminal: %w", domain.ErrQuotaExceeded))
	assert.True(t, h.InQuotaStreak())

	h.OnSuccess()
	assert.False(t, h.InQuotaStreak())
}

func TestIsQuotaError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection reset by peer"), false},
		{fmt.Errorf("wrap: %w", domain.ErrRateLimited), true},
		{fmt.Errorf("wrap: %w", domain.ErrUnauthorized), true},
		{errors.New("RESOURCE_EXHAUSTED: Quota exceeded"), true},
		{errors.New("HTTP 403: forbidden"), true},
		{errors.New("Missing or insufficient permissions"), true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsQuotaError(tc.err), "%v", tc.err)
	}
}
