package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// Alerter raises operator alerts. *notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Alert event raised when the circuit breaker opens.
const alertCircuitOpen = "circuit_open"

// HealthConfig holds the reconnect policy.
type HealthConfig struct {
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	MaxJitter        time.Duration
	CircuitThreshold int
	StaleAfter       time.Duration
}

// DefaultHealthConfig returns the production reconnect policy.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		BaseDelay:        5 * time.Second,
		MaxDelay:         5 * time.Minute,
		MaxJitter:        time.Second,
		CircuitThreshold: 10,
		StaleAfter:       5 * time.Minute,
	}
}

// HealthTracker decides whether and when to reconnect. It counts failures,
// schedules reconnects with exponential backoff and jitter, and opens a
// circuit breaker after too many consecutive failures.
type HealthTracker struct {
	cfg    HealthConfig
	alert  Alerter
	logger *slog.Logger

	mu                  sync.Mutex
	consecutiveFailures int
	reconnectAttempts   int
	totalReconnects     int
	lastEvent           time.Time
	connectedSince      time.Time
	circuitOpen         bool
	quotaStreak         bool
	pending             bool
	cancelPending       context.CancelFunc

	now    func() time.Time
	jitter func(max time.Duration) time.Duration
	after  func(d time.Duration) <-chan time.Time
}

// NewHealthTracker creates a tracker. alert may be nil.
func NewHealthTracker(cfg HealthConfig, alert Alerter, logger *slog.Logger) *HealthTracker {
	if cfg.CircuitThreshold <= 0 {
		cfg.CircuitThreshold = DefaultHealthConfig().CircuitThreshold
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultHealthConfig().StaleAfter
	}
	return &HealthTracker{
		cfg:    cfg,
		alert:  alert,
		logger: logger.With(slog.String("component", "health")),
		now:    time.Now,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int64N(int64(max)))
		},
		after: time.After,
	}
}

// OnSuccess clears the failure state and starts the uptime clock.
func (h *HealthTracker) OnSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	h.consecutiveFailures = 0
	h.reconnectAttempts = 0
	h.circuitOpen = false
	h.quotaStreak = false
	h.lastEvent = now
	if h.connectedSince.IsZero() {
		h.connectedSince = now
	}
}

// OnFailure records a failed connection attempt and opens the circuit when
// the threshold is reached. It reports whether the circuit is open.
func (h *HealthTracker) OnFailure(ctx context.Context, err error) bool {
	h.mu.Lock()
	h.consecutiveFailures++
	h.connectedSince = time.Time{}
	failures := h.consecutiveFailures

	quota := IsQuotaError(err)
	logQuota := quota && !h.quotaStreak
	if quota {
		h.quotaStreak = true
	}

	opened := false
	if failures >= h.cfg.CircuitThreshold && !h.circuitOpen {
		h.circuitOpen = true
		opened = true
	}
	open := h.circuitOpen
	h.mu.Unlock()

	switch {
	case logQuota:
		h.logger.ErrorContext(ctx, "quota or permission failure; suppressing further failure logs",
			slog.Int("consecutive_failures", failures),
			slog.String("error", errString(err)),
		)
	case quota:
	default:
		h.logger.WarnContext(ctx, "connection failure",
			slog.Int("consecutive_failures", failures),
			slog.String("error", errString(err)),
		)
	}

	if opened {
		h.logger.ErrorContext(ctx, "circuit breaker open; manual intervention required",
			slog.Int("consecutive_failures", failures),
		)
		if h.alert != nil {
			msg := fmt.Sprintf("streaming stopped reconnecting after %d consecutive failures: %s", failures, errString(err))
			if aerr := h.alert.Notify(ctx, alertCircuitOpen, "Streaming circuit breaker open", msg); aerr != nil {
				h.logger.WarnContext(ctx, "circuit alert failed", slog.String("error", aerr.Error()))
			}
		}
	}
	return open
}

// OnEvent records meaningful stream traffic.
func (h *HealthTracker) OnEvent() {
	h.mu.Lock()
	h.lastEvent = h.now()
	h.mu.Unlock()
}

// NextDelay returns the delay before the next reconnect attempt:
// min(base * 2^attempts + jitter, max).
func (h *HealthTracker) NextDelay() time.Duration {
	h.mu.Lock()
	attempts := h.reconnectAttempts
	h.mu.Unlock()
	return h.delayFor(attempts)
}

func (h *HealthTracker) delayFor(attempts int) time.Duration {
	backoff := float64(h.cfg.BaseDelay) * math.Pow(2, float64(attempts))
	d := time.Duration(math.Min(backoff, float64(math.MaxInt64/2)))
	d += h.jitter(h.cfg.MaxJitter)
	if h.cfg.MaxDelay > 0 && d > h.cfg.MaxDelay {
		d = h.cfg.MaxDelay
	}
	return d
}

// ScheduleReconnect runs reconnect after the backoff delay. A failed attempt
// is recorded and rescheduled; a successful one resets the tracker. Nothing
// is scheduled while the circuit is open, and only one reconnect is pending
// at a time. It reports whether a reconnect is pending on return.
func (h *HealthTracker) ScheduleReconnect(ctx context.Context, reconnect func(context.Context) error) bool {
	h.mu.Lock()
	if h.circuitOpen {
		h.mu.Unlock()
		h.logger.DebugContext(ctx, "circuit open; reconnect not scheduled")
		return false
	}
	if h.pending {
		h.mu.Unlock()
		return true
	}
	delay := h.delayFor(h.reconnectAttempts)
	h.reconnectAttempts++
	h.totalReconnects++
	attempt := h.reconnectAttempts
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.pending = true
	h.cancelPending = cancel
	wait := h.after(delay)
	h.mu.Unlock()

	h.logger.InfoContext(ctx, "reconnect scheduled",
		slog.Duration("delay", delay),
		slog.Int("attempt", attempt),
	)

	go func() {
		defer cancel()
		select {
		case <-wait:
		case <-runCtx.Done():
			return
		case <-ctx.Done():
			h.clearPending(runCtx)
			return
		}

		h.mu.Lock()
		open := h.circuitOpen
		h.mu.Unlock()
		if open || runCtx.Err() != nil {
			h.clearPending(runCtx)
			return
		}

		err := reconnect(runCtx)
		if !h.clearPending(runCtx) {
			// Cancelled by Reset while running.
			return
		}
		if err == nil {
			h.OnSuccess()
			h.logger.InfoContext(ctx, "reconnected", slog.Int("attempt", attempt))
			return
		}
		if errors.Is(err, domain.ErrConfig) || errors.Is(err, domain.ErrSessionStopped) {
			h.logger.WarnContext(ctx, "reconnect abandoned", slog.String("error", err.Error()))
			return
		}
		if h.OnFailure(ctx, err) {
			return
		}
		h.ScheduleReconnect(ctx, reconnect)
	}()
	return true
}

// clearPending releases the pending slot if it still belongs to runCtx.
func (h *HealthTracker) clearPending(runCtx context.Context) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if runCtx.Err() != nil {
		return false
	}
	h.pending = false
	h.cancelPending = nil
	return true
}

// ResetCircuit closes the circuit breaker and clears the failure counters.
// It is the only way out of an open circuit short of a restart.
func (h *HealthTracker) ResetCircuit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.circuitOpen = false
	h.consecutiveFailures = 0
	h.reconnectAttempts = 0
	h.quotaStreak = false
	h.logger.Info("circuit breaker reset")
}

// Reset returns the tracker to its initial state and cancels any pending
// reconnect.
func (h *HealthTracker) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelPending != nil {
		h.cancelPending()
	}
	h.pending = false
	h.cancelPending = nil
	h.consecutiveFailures = 0
	h.reconnectAttempts = 0
	h.totalReconnects = 0
	h.circuitOpen = false
	h.quotaStreak = false
	h.lastEvent = time.Time{}
	h.connectedSince = time.Time{}
}

// CircuitOpen reports whether the circuit breaker is open.
func (h *HealthTracker) CircuitOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.circuitOpen
}

// InQuotaStreak reports whether the latest failures were quota or
// permission failures.
func (h *HealthTracker) InQuotaStreak() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.quotaStreak
}

// Health returns a snapshot with a 0-100 score: 100, minus 10 per reconnect
// attempt, minus 5 per consecutive failure, minus 20 when no event arrived
// within StaleAfter. An open circuit scores 0.
func (h *HealthTracker) Health() domain.ConnectionHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()

	score := 100 - 10*h.reconnectAttempts - 5*h.consecutiveFailures
	if !h.lastEvent.IsZero() && now.Sub(h.lastEvent) > h.cfg.StaleAfter {
		score -= 20
	}
	if h.circuitOpen {
		score = 0
	}
	score = max(0, min(100, score))

	var uptime time.Duration
	if !h.connectedSince.IsZero() {
		uptime = now.Sub(h.connectedSince)
	}
	return domain.ConnectionHealth{
		Score:               score,
		ConsecutiveFailures: h.consecutiveFailures,
		ReconnectAttempts:   h.reconnectAttempts,
		TotalReconnects:     h.totalReconnects,
		LastSuccessfulEvent: h.lastEvent,
		Uptime:              uptime,
		CircuitOpen:         h.circuitOpen,
	}
}

var quotaPatterns = []string{"quota", "429", "resource_exhausted", "permission", "403"}

// IsQuotaError reports whether err is a quota or permission failure.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrQuotaExceeded) || errors.Is(err, domain.ErrRateLimited) || errors.Is(err, domain.ErrUnauthorized) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range quotaPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
