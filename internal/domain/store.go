package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SignalStore persists trading signals (the signal repository).
type SignalStore interface {
	Create(ctx context.Context, sig Signal) (Signal, error)
	GetByID(ctx context.Context, id string) (Signal, error)
	Update(ctx context.Context, id string, upd SignalUpdate) error
	UpdateStatus(ctx context.Context, id string, status SignalStatus, resultPips, closePrice *float64) error
}

// SignalMappingStore persists position-to-signal mappings. Acquire must be a
// strict transactional create-if-absent: concurrent callers for the same
// position observe exactly one Acquired result.
type SignalMappingStore interface {
	Acquire(ctx context.Context, positionID, pair string) (LockResult[PositionSignalMapping], error)
	Get(ctx context.Context, positionID string) (PositionSignalMapping, error)
	Finalize(ctx context.Context, positionID, signalID string) error
	Release(ctx context.Context, positionID, reason string) error
	UpdateProfit(ctx context.Context, positionID string, profit float64) error
	MarkClosed(ctx context.Context, positionID string, closedAt time.Time) error
	SweepStale(ctx context.Context, maxAge time.Duration) (int64, error)
}

// ArchiveLockStore guards at-most-once archival of closed positions.
type ArchiveLockStore interface {
	Acquire(ctx context.Context, positionID, holder string) (LockResult[ArchiveLock], error)
	Release(ctx context.Context, positionID, holder string) error
	SweepStale(ctx context.Context, maxAge time.Duration) (int64, error)
}

// TelegramMappingStore persists the Telegram message ids of open positions.
type TelegramMappingStore interface {
	Save(ctx context.Context, m TradeTelegramMapping) error
	Get(ctx context.Context, positionID string) (TradeTelegramMapping, error)
	AppendUpdate(ctx context.Context, positionID string, messageID int64) error
	SoftDelete(ctx context.Context, positionID string) error
}

// TradeHistoryStore persists archived closed trades.
type TradeHistoryStore interface {
	// Insert writes the record unless one already exists for the position.
	// It reports whether a row was written.
	Insert(ctx context.Context, t TradeHistory) (bool, error)
	GetByPositionID(ctx context.Context, positionID string) (TradeHistory, error)
	ListRecent(ctx context.Context, opts ListOpts) ([]TradeHistory, error)
}

// StreamingLogStore persists the bounded streaming audit log.
type StreamingLogStore interface {
	Append(ctx context.Context, entry StreamingLog) error
	List(ctx context.Context, opts ListOpts) ([]StreamingLog, error)
	Count(ctx context.Context) (int64, error)
	// TrimOldest deletes the oldest entries so that at most keep remain.
	TrimOldest(ctx context.Context, keep int) (int64, error)
}
