package streaming

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
	"github.com/alanyoungcy/fxsignalbot/internal/forex"
	"github.com/alanyoungcy/fxsignalbot/internal/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func immediate(time.Duration) <-chan time.Time {
	c := make(chan time.Time, 1)
	c <- time.Time{}
	return c
}

type alertCall struct {
	Event, Title, Message string
}

type fakeAlerter struct {
	mu    sync.Mutex
	calls []alertCall
}

func (a *fakeAlerter) Notify(_ context.Context, event, title, message string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, alertCall{event, title, message})
	return nil
}

func (a *fakeAlerter) events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.calls))
	for _, c := range a.calls {
		out = append(out, c.Event)
	}
	return out
}

type telegramCall struct {
	Kind       string
	PositionID string
	Changes    []Change
	Pips       float64
}

type fakeTelegram struct {
	mu    sync.Mutex
	calls []telegramCall
}

func (f *fakeTelegram) record(c telegramCall) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeTelegram) PublishOpen(_ context.Context, p domain.Position, _ domain.Signal) error {
	f.record(telegramCall{Kind: "open", PositionID: p.ID})
	return nil
}

func (f *fakeTelegram) PublishUpdate(_ context.Context, positionID string, _ domain.PositionState, changes []Change) error {
	f.record(telegramCall{Kind: "update", PositionID: positionID, Changes: changes})
	return nil
}

func (f *fakeTelegram) PublishClose(_ context.Context, positionID string, _ *domain.Signal, _ domain.CloseData, pips float64) error {
	f.record(telegramCall{Kind: "close", PositionID: positionID, Pips: pips})
	return nil
}

func (f *fakeTelegram) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func (f *fakeTelegram) last() telegramCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeArchiver struct {
	mu     sync.Mutex
	trades []domain.ClosedTrade
	err    error
}

func (a *fakeArchiver) ArchiveClosedTrade(_ context.Context, t domain.ClosedTrade) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.trades = append(a.trades, t)
	return nil
}

func (a *fakeArchiver) archived() []domain.ClosedTrade {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.ClosedTrade(nil), a.trades...)
}

type fakeDeals struct {
	mu    sync.Mutex
	deals map[string][]domain.Deal
	err   error
	calls int
}

func (d *fakeDeals) DealsByPosition(_ context.Context, positionID string) ([]domain.Deal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.deals[positionID], nil
}

func (d *fakeDeals) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type failingSignals struct {
	domain.SignalStore
	mu   sync.Mutex
	fail bool
}

func (f *failingSignals) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *failingSignals) Create(ctx context.Context, sig domain.Signal) (domain.Signal, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return domain.Signal{}, errors.New("insert signal: connection reset")
	}
	return f.SignalStore.Create(ctx, sig)
}

// shared holds the stores that replicas have in common.
type shared struct {
	signals  *memory.SignalStore
	mappings *memory.MappingStore
	locks    *memory.ArchiveLockStore
	logs     *memory.StreamingLogStore
	telegram *fakeTelegram
	archiver *fakeArchiver
	deals    *fakeDeals
	alerts   *fakeAlerter
}

func newShared() *shared {
	return &shared{
		signals:  memory.NewSignalStore(),
		mappings: memory.NewMappingStore(),
		locks:    memory.NewArchiveLockStore(),
		logs:     memory.NewStreamingLogStore(),
		telegram: &fakeTelegram{},
		archiver: &fakeArchiver{},
		deals:    &fakeDeals{deals: map[string][]domain.Deal{}},
		alerts:   &fakeAlerter{},
	}
}

func testRouterConfig() RouterConfig {
	return RouterConfig{
		SignalsEnabled:      true,
		Levels:              forex.DefaultLevelPolicy(),
		HistoryRetries:      3,
		HistoryRetryDelay:   time.Millisecond,
		PendingRecheckDelay: 10 * time.Millisecond,
	}
}

// newReplica builds one router with its own in-process state over the
// shared stores.
func (s *shared) newReplica(cfg RouterConfig) (*Router, *StateStore) {
	state := NewStateStore()
	tracker := NewHealthTracker(DefaultHealthConfig(), nil, testLogger())
	r := NewRouter(cfg, RouterDeps{
		State:        state,
		Tracker:      tracker,
		Logs:         NewLogSink(s.logs, 0, testLogger()),
		Signals:      s.signals,
		Mappings:     s.mappings,
		ArchiveLocks: s.locks,
		Telegram:     s.telegram,
		Archiver:     s.archiver,
		Deals:        s.deals,
		Alerts:       s.alerts,
	}, testLogger())
	r.SetAccount("acct-1")
	r.SetActive(true)
	return r, state
}

func (s *shared) logTypes(positionID string) []domain.StreamingLogType {
	entries, _ := s.logs.List(context.Background(), domain.ListOpts{})
	var out []domain.StreamingLogType
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].PositionID == positionID {
			out = append(out, entries[i].Type)
		}
	}
	return out
}

func eurusdBuy(id string) domain.Position {
	return domain.Position{
		ID:           id,
		Symbol:       "EURUSD",
		Type:         domain.PositionTypeBuy,
		Volume:       0.1,
		OpenPrice:    1.0900,
		CurrentPrice: 1.0905,
		StopLoss:     domain.FloatPtr(1.0850),
		TakeProfit:   domain.FloatPtr(1.1000),
		Profit:       5,
		OpenTime:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}
