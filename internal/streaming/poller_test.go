package streaming

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
	"github.com/alanyoungcy/fxsignalbot/internal/platform/terminal"
)

type scriptedFetcher struct {
	mu    sync.Mutex
	steps [][]domain.Position
	errs  []error
	calls int
}

func (s *scriptedFetcher) GetPositions(context.Context, terminal.AccountInfo) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	return s.steps[i], nil
}

type batch struct {
	changed []string
	removed []string
}

type recordingListener struct {
	mu           sync.Mutex
	synced       int
	disconnected int
	batches      []batch
}

func (l *recordingListener) OnConnected(context.Context) {}
func (l *recordingListener) OnSynchronized(context.Context) {
	l.mu.Lock()
	l.synced++
	l.mu.Unlock()
}
func (l *recordingListener) OnDisconnected(context.Context) {
	l.mu.Lock()
	l.disconnected++
	l.mu.Unlock()
}
func (l *recordingListener) OnPositionsUpdated(_ context.Context, positions []domain.Position, removed []string) {
	b := batch{removed: removed}
	for _, p := range positions {
		b.changed = append(b.changed, p.ID)
	}
	l.mu.Lock()
	l.batches = append(l.batches, b)
	l.mu.Unlock()
}
func (l *recordingListener) OnPositionUpdated(context.Context, domain.Position) {}
func (l *recordingListener) OnPositionRemoved(context.Context, string)         {}

func (l *recordingListener) state() (int, int, []batch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.synced, l.disconnected, append([]batch(nil), l.batches...)
}

func TestPollingStreamDiffsSnapshots(t *testing.T) {
	moved := eurusdBuy("1")
	moved.StopLoss = domain.FloatPtr(1.0900)
	fetcher := &scriptedFetcher{steps: [][]domain.Position{
		{eurusdBuy("1"), eurusdBuy("2")},
		{eurusdBuy("1"), eurusdBuy("2")},
		{moved, eurusdBuy("3")},
	}}
	l := &recordingListener{}
	p := newPollingStream(fetcher, terminal.AccountInfo{ID: "acct-1"}, 5*time.Millisecond, testLogger())
	p.AddListener(l)
	t.Cleanup(func() { _ = p.Close() })

	require.NoError(t, p.Connect(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.WaitSynchronized(ctx))
	assert.True(t, p.Healthy())

	require.Eventually(t, func() bool {
		_, _, batches := l.state()
		return len(batches) >= 1
	}, time.Second, 5*time.Millisecond)

	synced, _, batches := l.state()
	assert.Equal(t, 1, synced)
	// The unchanged second poll produced nothing.
	assert.Equal(t, batch{changed: []string{"1", "3"}, removed: []string{"2"}}, batches[0])

	ids := make([]string, 0)
	for _, pos := range p.Positions() {
		ids = append(ids, pos.ID)
	}
	assert.Equal(t, []string{"1", "3"}, ids)
}

func TestPollingStreamReportsLossAfterRepeatedFailures(t *testing.T) {
	boom := errors.New("HTTP 502")
	fetcher := &scriptedFetcher{
		steps: [][]domain.Position{{eurusdBuy("1")}},
		errs:  []error{nil, boom, boom, boom},
	}
	l := &recordingListener{}
	p := newPollingStream(fetcher, terminal.AccountInfo{ID: "acct-1"}, time.Millisecond, testLogger())
	p.AddListener(l)
	t.Cleanup(func() { _ = p.Close() })

	require.NoError(t, p.Connect(context.Background()))
	require.Eventually(t, func() bool {
		_, disconnected, _ := l.state()
		return disconnected == 1
	}, time.Second, 5*time.Millisecond)
	assert.False(t, p.Healthy())
}

func TestPollingStreamSyncFailsWhenNeverReachable(t *testing.T) {
	boom := errors.New("HTTP 503")
	fetcher := &scriptedFetcher{
		steps: [][]domain.Position{nil},
		errs:  []error{boom, boom, boom},
	}
	p := newPollingStream(fetcher, terminal.AccountInfo{ID: "acct-1"}, time.Millisecond, testLogger())
	t.Cleanup(func() { _ = p.Close() })

	require.NoError(t, p.Connect(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, p.WaitSynchronized(ctx), domain.ErrWSDisconnect)
}

func TestPollingStreamRefusesConnectAfterClose(t *testing.T) {
	p := newPollingStream(&scriptedFetcher{steps: [][]domain.Position{nil}}, terminal.AccountInfo{}, time.Second, testLogger())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Connect(context.Background()), domain.ErrSessionStopped)
}
