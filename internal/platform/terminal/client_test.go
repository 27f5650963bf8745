package terminal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, h http.Handler, mutate func(*ClientConfig)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := ClientConfig{
		Token:           "tok",
		ProvisioningURL: srv.URL + "/prov",
		ClientURL:       srv.URL + "/client/{region}",
		StreamURL:       "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/{region}",
		Region:          "new-york",
		PollInterval:    5 * time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewClient(cfg, testLogger())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestGetPositionsNormalizesAndAuthenticates(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("auth-token"))
		assert.Equal(t, "/client/london/users/current/accounts/acc-1/positions", r.URL.Path)
		writeJSON(w, http.StatusOK, []map[string]any{
			{"ticket": 555, "symbol": "EURUSD", "type": "POSITION_TYPE_BUY", "openPrice": 1.09},
			{"symbol": "BROKEN"},
		})
	})
	c := newTestClient(t, h, nil)

	positions, err := c.GetPositions(context.Background(), AccountInfo{ID: "acc-1", Region: "london"})
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "555", positions[0].ID)
	assert.Equal(t, domain.PositionTypeBuy, positions[0].Type)
}

func TestGetDealsByPosition(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/client/new-york/users/current/accounts/acc-1/history-deals/position/777", r.URL.Path)
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "1", "positionId": "777", "entryType": "DEAL_ENTRY_IN", "price": 1.1},
			{"id": "2", "positionId": "777", "entryType": "DEAL_ENTRY_OUT", "price": 1.09, "profit": -12.5},
		})
	})
	c := newTestClient(t, h, nil)

	deals, err := c.GetDealsByPosition(context.Background(), AccountInfo{ID: "acc-1"}, "777")
	require.NoError(t, err)
	require.Len(t, deals, 2)
	assert.True(t, deals[1].IsClose())
	assert.Equal(t, -12.5, deals[1].Profit)
}

func TestAPIErrorsMapToSentinels(t *testing.T) {
	status := atomic.Int32{}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := int(status.Load())
		msg := "nope"
		if code == http.StatusTooManyRequests {
			msg = "You have used all your account subscriptions quota"
		}
		writeJSON(w, code, map[string]any{"id": 1, "error": "Error", "message": msg})
	})
	c := newTestClient(t, h, nil)
	ctx := context.Background()

	status.Store(http.StatusNotFound)
	_, err := c.GetAccount(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	status.Store(http.StatusForbidden)
	_, err = c.GetAccount(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	status.Store(http.StatusTooManyRequests)
	_, err = c.GetAccount(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)
	assert.Contains(t, err.Error(), "429")
}

type pathRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (p *pathRecorder) add(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths = append(p.paths, path)
}

func (p *pathRecorder) take() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.paths
	p.paths = nil
	return out
}

func TestFindAccountTriesStrategiesInOrder(t *testing.T) {
	probes := &pathRecorder{}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probes.add(r.URL.Path)
		switch r.URL.Path {
		case "/client/singapore/users/current/accounts/acc-1/account-information":
			writeJSON(w, http.StatusOK, map[string]any{"login": "123"})
		default:
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "not here"})
		}
	})
	dir := t.TempDir()
	c := newTestClient(t, h, func(cfg *ClientConfig) {
		cfg.FallbackRegions = []string{"london", "singapore"}
		cfg.StorageDir = dir
	})

	res := c.FindAccount(context.Background(), "acc-1")
	require.Equal(t, LookupFound, res.Status)
	assert.Equal(t, "singapore", res.Account.Region)
	assert.Equal(t, "region:singapore", res.Strategy)
	assert.Equal(t, []string{
		"/prov/users/current/accounts/acc-1",
		"/client/new-york/users/current/accounts/acc-1/account-information",
		"/client/london/users/current/accounts/acc-1/account-information",
		"/client/singapore/users/current/accounts/acc-1/account-information",
	}, probes.take())

	// The region is cached for the next lookup.
	res = c.FindAccount(context.Background(), "acc-1")
	require.Equal(t, LookupFound, res.Status)
	assert.Equal(t, "cache", res.Strategy)
	assert.Len(t, probes.take(), 1)
}

func TestFindAccountNotFoundAndError(t *testing.T) {
	notFoundAll := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{})
	})
	res := newTestClient(t, notFoundAll, nil).FindAccount(context.Background(), "ghost")
	assert.Equal(t, LookupNotFound, res.Status)
	assert.NoError(t, res.Err)

	unauthorized := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "bad token"})
	})
	res = newTestClient(t, unauthorized, nil).FindAccount(context.Background(), "acc-1")
	assert.Equal(t, LookupError, res.Status)
	assert.ErrorIs(t, res.Err, domain.ErrUnauthorized)
}

func TestWaitConnectedPollsUntilConnected(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		acct := map[string]any{"_id": "acc-1", "region": "london", "state": StateDeploying, "connectionStatus": "DISCONNECTED"}
		if n >= 3 {
			acct["state"] = StateDeployed
			acct["connectionStatus"] = ConnectionConnected
		}
		writeJSON(w, http.StatusOK, acct)
	})
	c := newTestClient(t, h, nil)

	acct, err := c.WaitConnected(context.Background(), "acc-1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, acct.Deployed())
	assert.True(t, acct.Connected())
	assert.Equal(t, "london", acct.Region)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitConnectedStopsOnPermanentError(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "bad token"})
	})
	c := newTestClient(t, h, nil)

	_, err := c.WaitConnected(context.Background(), "acc-1", 5*time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDeploy(t *testing.T) {
	calls := &pathRecorder{}
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.add(r.Method + " " + r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, h, nil)

	require.NoError(t, c.Deploy(context.Background(), "acc-1"))
	assert.Equal(t, []string{"POST /prov/users/current/accounts/acc-1/deploy"}, calls.take())
}
