package domain

import "time"

// PendingSignalID marks a mapping whose signal creation is still in flight.
const PendingSignalID = "PENDING"

// MappingStatus is the state of a position-to-signal mapping lock.
type MappingStatus string

const (
	MappingStatusProcessing MappingStatus = "processing"
	MappingStatusCompleted  MappingStatus = "completed"
	MappingStatusFailed     MappingStatus = "failed"
)

// PositionSignalMapping links a broker position to the signal created for it.
// The row doubles as the lock that guarantees at most one signal per position.
type PositionSignalMapping struct {
	PositionID      string
	SignalID        string
	Pair            string
	Status          MappingStatus
	LastKnownProfit float64
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ClosedAt        *time.Time
}

// Resolved reports whether the mapping carries a real signal id.
func (m PositionSignalMapping) Resolved() bool {
	return m.Status == MappingStatusCompleted && m.SignalID != "" && m.SignalID != PendingSignalID
}

// ArchiveLock guards at-most-once archival of a closed position.
type ArchiveLock struct {
	PositionID string
	Holder     string
	CreatedAt  time.Time
}

// LockResult is the outcome of a create-if-absent lock acquisition.
type LockResult[T any] struct {
	Acquired bool
	Existed  bool
	Existing T
}

// TradeTelegramMapping records the Telegram message published for an open
// position so that later edits land on the same message.
type TradeTelegramMapping struct {
	PositionID        string
	TelegramMessageID int64
	TelegramChatID    string
	UpdateMessageIDs  []int64
	CreatedAt         time.Time
	LastUpdated       time.Time
	DeletedAt         *time.Time
}
