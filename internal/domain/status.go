package domain

import "time"

// SessionState is the lifecycle state of a streaming session.
type SessionState string

const (
	SessionUninitialized SessionState = "uninitialized"
	SessionConnecting    SessionState = "connecting"
	SessionSynchronizing SessionState = "synchronizing"
	SessionActive        SessionState = "active"
	SessionDisconnected  SessionState = "disconnected"
	SessionStopped       SessionState = "stopped"
)

// StreamingStatus is the singleton status record persisted for operators.
type StreamingStatus struct {
	Connected bool      `json:"connected"`
	AccountID string    `json:"account_id"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	LastEvent time.Time `json:"last_event"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConnectionHealth is a point-in-time view of the connection health tracker.
type ConnectionHealth struct {
	Score               int           `json:"score"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	ReconnectAttempts   int           `json:"reconnect_attempts"`
	TotalReconnects     int           `json:"total_reconnects"`
	LastSuccessfulEvent time.Time     `json:"last_successful_event"`
	Uptime              time.Duration `json:"uptime"`
	CircuitOpen         bool          `json:"circuit_open"`
}

// SessionStatus is the in-process view returned by a streaming session.
type SessionStatus struct {
	Connected bool             `json:"connected"`
	AccountID string           `json:"account_id"`
	State     SessionState     `json:"state"`
	LastEvent time.Time        `json:"last_event"`
	Tracked   int              `json:"tracked_positions"`
	Health    ConnectionHealth `json:"health"`
}
