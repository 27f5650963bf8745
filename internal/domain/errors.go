package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrLockHeld       = errors.New("lock already held")
	ErrConfig         = errors.New("configuration error")
	ErrCircuitOpen    = errors.New("circuit breaker open")
	ErrSyncTimeout    = errors.New("synchronization timed out")
	ErrSessionExists  = errors.New("session already exists for account")
	ErrQuotaExceeded  = errors.New("quota exceeded")
	ErrSessionStopped = errors.New("session stopped")
)
