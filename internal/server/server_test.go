package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
	"github.com/alanyoungcy/fxsignalbot/internal/server/handler"
	"github.com/alanyoungcy/fxsignalbot/internal/store/memory"
)

type fakeSession struct {
	mu       sync.Mutex
	status   domain.SessionStatus
	starts   int
	stops    int
	resets   int
	started  chan struct{}
	startErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		status:  domain.SessionStatus{AccountID: "acct-1", State: domain.SessionStopped},
		started: make(chan struct{}, 1),
	}
}

func (f *fakeSession) Start(context.Context) error {
	f.mu.Lock()
	f.starts++
	f.status.State = domain.SessionActive
	f.status.Connected = true
	f.mu.Unlock()
	f.started <- struct{}{}
	return f.startErr
}

func (f *fakeSession) Stop(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.status.State = domain.SessionStopped
	f.status.Connected = false
}

func (f *fakeSession) ResetCircuit(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.status.Health.CircuitOpen = false
}

func (f *fakeSession) Status() domain.SessionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

type fakeTrades struct {
	trades []domain.TradeHistory
}

func (f fakeTrades) Recent(_ context.Context, opts domain.ListOpts) ([]domain.TradeHistory, error) {
	if opts.Limit < len(f.trades) {
		return f.trades[:opts.Limit], nil
	}
	return f.trades, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

func (denyLimiter) Wait(context.Context, string, int, time.Duration) error {
	return domain.ErrRateLimited
}

type fixture struct {
	session *fakeSession
	logs    *memory.StreamingLogStore
	status  *memory.StatusStore
	handler http.Handler
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		session: newFakeSession(),
		logs:    memory.NewStreamingLogStore(),
		status:  memory.NewStatusStore(),
	}
	f.handler = NewHandler(cfg, Handlers{
		Health:    handler.NewHealthHandler(),
		Status:    handler.NewStatusHandler("full", f.session, f.status, logger),
		Streaming: handler.NewStreamingHandler(f.session, f.logs, logger),
		Trades: handler.NewTradeHandler(fakeTrades{trades: []domain.TradeHistory{
			{PositionID: "2", Pair: "GBPUSD"},
			{PositionID: "1", Pair: "EURUSD"},
		}}, logger),
	}, logger)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, header map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthIsPublic(t *testing.T) {
	f := newFixture(t, Config{APIKey: "secret"})

	rec, body := f.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, _ = f.do(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/status", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/status", map[string]string{"X-API-Key": "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusIncludesSessionAndRecord(t *testing.T) {
	f := newFixture(t, Config{})
	require.NoError(t, f.status.Set(context.Background(), domain.StreamingStatus{
		AccountID: "acct-1", State: "disconnected", Error: "socket closed",
	}))

	rec, body := f.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "full", body["mode"])

	session := body["session"].(map[string]any)
	assert.Equal(t, "acct-1", session["account_id"])
	assert.Equal(t, "stopped", session["state"])
	persisted := body["persisted"].(map[string]any)
	assert.Equal(t, "socket closed", persisted["error"])
}

func TestStartRunsInBackground(t *testing.T) {
	f := newFixture(t, Config{})

	rec, body := f.do(t, http.MethodPost, "/api/streaming/start", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "accepted", body["status"])

	select {
	case <-f.session.started:
	case <-time.After(2 * time.Second):
		t.Fatal("start was not invoked")
	}

	// A live session answers without starting again.
	rec, body = f.do(t, http.MethodPost, "/api/streaming/start", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "active", body["status"])
	assert.Equal(t, 1, f.session.starts)
}

func TestStartRefusedWhileCircuitOpen(t *testing.T) {
	f := newFixture(t, Config{})
	f.session.status.Health.CircuitOpen = true

	rec, _ := f.do(t, http.MethodPost, "/api/streaming/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body := f.do(t, http.MethodPost, "/api/streaming/circuit/reset", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reset", body["status"])
	assert.Equal(t, 1, f.session.resets)

	rec, _ = f.do(t, http.MethodPost, "/api/streaming/start", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	<-f.session.started
}

func TestStopIsIdempotent(t *testing.T) {
	f := newFixture(t, Config{})
	for i := 0; i < 2; i++ {
		rec, body := f.do(t, http.MethodPost, "/api/streaming/stop", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "stopped", body["status"])
	}
	assert.Equal(t, 2, f.session.stops)

	rec, _ := f.do(t, http.MethodGet, "/api/streaming/stop", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestListLogsNewestFirst(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	for _, typ := range []domain.StreamingLogType{domain.LogSessionStarted, domain.LogPositionOpened, domain.LogPositionClosed} {
		require.NoError(t, f.logs.Append(ctx, domain.StreamingLog{Type: typ, Message: string(typ), Success: true}))
	}

	rec, body := f.do(t, http.MethodGet, "/api/streaming/logs?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["total"])
	logs := body["logs"].([]any)
	require.Len(t, logs, 2)
	assert.Equal(t, string(domain.LogPositionClosed), logs[0].(map[string]any)["type"])
}

func TestListRecentTrades(t *testing.T) {
	f := newFixture(t, Config{})
	rec, body := f.do(t, http.MethodGet, "/api/trades/recent?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	trades := body["trades"].([]any)
	require.Len(t, trades, 1)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, Config{APIKey: "secret", CORSOrigins: []string{"https://ops.example.com"}})

	rec, _ := f.do(t, http.MethodOptions, "/api/streaming/start", map[string]string{"Origin": "https://ops.example.com"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec, _ = f.do(t, http.MethodOptions, "/api/streaming/start", map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RateLimit: 10, Limiter: denyLimiter{}})
	rec, body := f.do(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate limit exceeded", body["error"])
}
