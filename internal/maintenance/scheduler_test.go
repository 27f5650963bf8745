package maintenance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
	"github.com/alanyoungcy/fxsignalbot/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	keys     []string
	released int
	err      error
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	if l.err != nil {
		return nil, l.err
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	return func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}, nil
}

type fakeExporter struct {
	entries []domain.StreamingLog
	at      time.Time
	err     error
}

func (e *fakeExporter) ExportLogs(_ context.Context, entries []domain.StreamingLog, at time.Time) (string, error) {
	if e.err != nil {
		return "", e.err
	}
	e.entries = entries
	e.at = at
	return "archive/logs/export.jsonl", nil
}

func TestRunJobTakesLock(t *testing.T) {
	locks := &fakeLocks{}
	s := NewScheduler(locks, testLogger())
	runs := 0
	require.NoError(t, s.Add(Job{Name: "tick", Spec: "@every 1h", Run: func(context.Context) error {
		runs++
		return nil
	}}))

	require.NoError(t, s.RunJob(context.Background(), "tick"))
	assert.Equal(t, 1, runs)
	assert.Equal(t, []string{"maintenance:tick"}, locks.keys)
	assert.Equal(t, 1, locks.released)
}

func TestRunJobSkipsWhenLockHeld(t *testing.T) {
	locks := &fakeLocks{held: map[string]bool{"maintenance:tick": true}}
	s := NewScheduler(locks, testLogger())
	runs := 0
	require.NoError(t, s.Add(Job{Name: "tick", Spec: "@every 1h", Run: func(context.Context) error {
		runs++
		return nil
	}}))

	require.NoError(t, s.RunJob(context.Background(), "tick"))
	assert.Zero(t, runs)
}

func TestRunJobLockErrorSkipsJob(t *testing.T) {
	locks := &fakeLocks{err: errors.New("redis down")}
	s := NewScheduler(locks, testLogger())
	runs := 0
	require.NoError(t, s.Add(Job{Name: "tick", Spec: "@every 1h", Run: func(context.Context) error {
		runs++
		return nil
	}}))

	require.Error(t, s.RunJob(context.Background(), "tick"))
	assert.Zero(t, runs)
}

func TestRunJobWithoutLockManager(t *testing.T) {
	s := NewScheduler(nil, testLogger())
	boom := errors.New("boom")
	require.NoError(t, s.Add(Job{Name: "fail", Spec: "@every 1h", Run: func(context.Context) error { return boom }}))

	assert.ErrorIs(t, s.RunJob(context.Background(), "fail"), boom)
	assert.ErrorIs(t, s.RunJob(context.Background(), "unknown"), domain.ErrNotFound)
}

func TestAddRejectsBadSpec(t *testing.T) {
	s := NewScheduler(nil, testLogger())
	err := s.Add(Job{Name: "bad", Spec: "every now and then", Run: func(context.Context) error { return nil }})
	require.Error(t, err)

	// Empty spec disables the job without error.
	require.NoError(t, s.Add(Job{Name: "off", Run: func(context.Context) error { return nil }}))
	assert.ErrorIs(t, s.RunJob(context.Background(), "off"), domain.ErrNotFound)
}

func TestStartStop(t *testing.T) {
	s := NewScheduler(nil, testLogger())
	require.NoError(t, s.Add(Job{Name: "tick", Spec: "@every 1h", Run: func(context.Context) error { return nil }}))
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestRegisterSkipsMissingStores(t *testing.T) {
	s := NewScheduler(nil, testLogger())
	err := Register(s, Schedules{
		ArchiveLockSweep: "@every 1m",
		MappingSweep:     "@every 5m",
		LogTrim:          "@every 10m",
		LogExport:        "0 3 * * *",
	}, Jobs{Logs: memory.NewStreamingLogStore(), Logger: testLogger()})
	require.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, s.RunJob(ctx, JobLogTrim))
	assert.ErrorIs(t, s.RunJob(ctx, JobArchiveLockSweep), domain.ErrNotFound)
	assert.ErrorIs(t, s.RunJob(ctx, JobLogExport), domain.ErrNotFound)
}

func TestSweepJobs(t *testing.T) {
	ctx := context.Background()
	mappings := memory.NewMappingStore()
	locks := memory.NewArchiveLockStore()

	_, err := mappings.Acquire(ctx, "1", "EURUSD")
	require.NoError(t, err)
	_, err = locks.Acquire(ctx, "1", "replica-a")
	require.NoError(t, err)

	j := Jobs{ArchiveLocks: locks, Mappings: mappings, Logger: testLogger()}

	// Negative TTLs make every row stale.
	j.ArchiveLockTTL = -time.Second
	j.MappingLockTTL = -time.Second
	require.NoError(t, j.SweepArchiveLocks(ctx))
	require.NoError(t, j.SweepMappings(ctx))

	m, err := mappings.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, domain.MappingStatusFailed, m.Status)

	res, err := locks.Acquire(ctx, "1", "replica-b")
	require.NoError(t, err)
	assert.True(t, res.Acquired)
}

func TestTrimAndExportLogs(t *testing.T) {
	ctx := context.Background()
	logs := memory.NewStreamingLogStore()
	for i := 0; i < domain.MaxStreamingLogs+5; i++ {
		require.NoError(t, logs.Append(ctx, domain.StreamingLog{
			Type:    domain.LogPositionUpdated,
			Message: fmt.Sprintf("entry %d", i),
		}))
	}

	exporter := &fakeExporter{}
	at := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	j := Jobs{Logs: logs, Exporter: exporter, Logger: testLogger(), Now: func() time.Time { return at }}

	require.NoError(t, j.TrimLogs(ctx))
	n, err := logs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(domain.MaxStreamingLogs), n)

	require.NoError(t, j.ExportLogs(ctx))
	assert.Len(t, exporter.entries, domain.MaxStreamingLogs)
	assert.Equal(t, at, exporter.at)

	exporter.err = errors.New("s3 down")
	assert.Error(t, j.ExportLogs(ctx))
}

func TestExportSkipsEmptyLog(t *testing.T) {
	exporter := &fakeExporter{}
	j := Jobs{Logs: memory.NewStreamingLogStore(), Exporter: exporter, Logger: testLogger(), Now: time.Now}
	require.NoError(t, j.ExportLogs(context.Background()))
	assert.Nil(t, exporter.entries)
}
