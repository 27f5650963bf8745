package domain

import "time"

// MaxStreamingLogs bounds the number of retained streaming log entries.
const MaxStreamingLogs = 1000

// StreamingLogType classifies an audit entry.
type StreamingLogType string

const (
	LogSessionStarted   StreamingLogType = "session_started"
	LogSessionFailed    StreamingLogType = "session_failed"
	LogSessionStopped   StreamingLogType = "session_stopped"
	LogPositionOpened   StreamingLogType = "position_opened"
	LogPositionUpdated  StreamingLogType = "position_updated"
	LogPositionClosed   StreamingLogType = "position_closed"
	LogSignalCreated    StreamingLogType = "signal_created"
	LogTelegramSent     StreamingLogType = "telegram_sent"
	LogTradeArchived    StreamingLogType = "trade_archived"
	LogCircuitOpened    StreamingLogType = "circuit_opened"
	LogReconnectAttempt StreamingLogType = "reconnect_attempt"
	LogError            StreamingLogType = "error"
)

// StreamingLog is a single append-only audit entry.
type StreamingLog struct {
	ID         int64            `json:"id"`
	Type       StreamingLogType `json:"type"`
	Message    string           `json:"message"`
	Success    bool             `json:"success"`
	Error      string           `json:"error,omitempty"`
	PositionID string           `json:"position_id,omitempty"`
	SignalID   string           `json:"signal_id,omitempty"`
	AccountID  string           `json:"account_id,omitempty"`
	Details    map[string]any   `json:"details,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
}
