package streaming

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// quotaCooldown is how long the sink stays silent after the store reports a
// quota failure.
const quotaCooldown = 5 * time.Minute

// LogSink writes the streaming audit log. Writes are best-effort: failures
// are logged and never returned. A quota failure from the store, or a quota
// streak reported by the health tracker, suspends writes.
type LogSink struct {
	store         domain.StreamingLogStore
	cleanupChance float64
	keep          int
	quotaBlocked  func() bool
	logger        *slog.Logger

	quotaUntil atomic.Int64
	roll       func() float64
	now        func() time.Time
}

// NewLogSink creates a sink over store. A nil store discards entries.
// cleanupChance is the probability that an append triggers trimming to
// domain.MaxStreamingLogs.
func NewLogSink(store domain.StreamingLogStore, cleanupChance float64, logger *slog.Logger) *LogSink {
	return &LogSink{
		store:         store,
		cleanupChance: cleanupChance,
		keep:          domain.MaxStreamingLogs,
		logger:        logger.With(slog.String("component", "log_sink")),
		roll:          rand.Float64,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetQuotaGate makes the sink skip writes while blocked reports true.
func (l *LogSink) SetQuotaGate(blocked func() bool) {
	l.quotaBlocked = blocked
}

// Append records an entry.
func (l *LogSink) Append(ctx context.Context, e domain.StreamingLog) {
	if l == nil || l.store == nil {
		return
	}
	if l.quotaBlocked != nil && l.quotaBlocked() {
		return
	}
	now := l.now()
	if now.UnixNano() < l.quotaUntil.Load() {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}

	if err := l.store.Append(ctx, e); err != nil {
		if IsQuotaError(err) {
			l.quotaUntil.Store(now.Add(quotaCooldown).UnixNano())
			l.logger.ErrorContext(ctx, "streaming log quota exceeded; suppressing writes",
				slog.Duration("for", quotaCooldown),
				slog.String("error", err.Error()),
			)
			return
		}
		l.logger.WarnContext(ctx, "append streaming log",
			slog.String("type", string(e.Type)),
			slog.String("error", err.Error()),
		)
		return
	}

	if l.cleanupChance > 0 && l.roll() < l.cleanupChance {
		l.Trim(ctx)
	}
}

// Trim deletes the oldest entries beyond the retention cap.
func (l *LogSink) Trim(ctx context.Context) int64 {
	if l == nil || l.store == nil {
		return 0
	}
	n, err := l.store.TrimOldest(ctx, l.keep)
	if err != nil {
		l.logger.WarnContext(ctx, "trim streaming logs", slog.String("error", err.Error()))
		return 0
	}
	if n > 0 {
		l.logger.DebugContext(ctx, "trimmed streaming logs", slog.Int64("deleted", n))
	}
	return n
}
