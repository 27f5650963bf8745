package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// StreamingController is the slice of the streaming session the operator
// endpoints drive.
type StreamingController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	ResetCircuit(ctx context.Context)
	Status() domain.SessionStatus
}

// StreamingHandler serves the session control and audit log endpoints.
type StreamingHandler struct {
	session StreamingController
	logs    domain.StreamingLogStore
	logger  *slog.Logger

	// async runs a start in the background; tests replace it.
	async func(func())
}

// NewStreamingHandler creates a StreamingHandler.
func NewStreamingHandler(session StreamingController, logs domain.StreamingLogStore, logger *slog.Logger) *StreamingHandler {
	return &StreamingHandler{
		session: session,
		logs:    logs,
		logger:  logger,
		async:   func(fn func()) { go fn() },
	}
}

// Start requests a session start. Connecting can take minutes, so the
// request is accepted and the start runs in the background; progress is
// visible through GET /api/status and the audit log.
// POST /api/streaming/start
func (h *StreamingHandler) Start(w http.ResponseWriter, r *http.Request) {
	st := h.session.Status()
	if st.State == domain.SessionActive {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "active",
			"message": "session already live",
		})
		return
	}
	if st.Health.CircuitOpen {
		writeError(w, http.StatusConflict, "circuit breaker open; reset it first")
		return
	}

	ctx := context.WithoutCancel(r.Context())
	h.async(func() {
		if err := h.session.Start(ctx); err != nil {
			h.logger.WarnContext(ctx, "handler: streaming start failed",
				slog.String("error", err.Error()),
			)
		}
	})
	h.logger.InfoContext(r.Context(), "handler: streaming start requested")
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"message":      "session start enqueued",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Stop stops the session. It is idempotent.
// POST /api/streaming/stop
func (h *StreamingHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.session.Stop(r.Context())
	h.logger.InfoContext(r.Context(), "handler: streaming stopped")
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
}

// ResetCircuit closes the circuit breaker.
// POST /api/streaming/circuit/reset
func (h *StreamingHandler) ResetCircuit(w http.ResponseWriter, r *http.Request) {
	h.session.ResetCircuit(context.WithoutCancel(r.Context()))
	h.logger.InfoContext(r.Context(), "handler: circuit reset")
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "reset",
		"health": h.session.Status().Health,
	})
}

type listLogsResponse struct {
	Logs  []domain.StreamingLog `json:"logs"`
	Total int64                 `json:"total"`
}

// ListLogs returns audit log entries, newest first.
// GET /api/streaming/logs?limit=&offset=&since=&until=
func (h *StreamingHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming log store not configured")
		return
	}
	opts := parseListOpts(r)
	entries, err := h.logs.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list streaming logs failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list streaming logs")
		return
	}
	total, err := h.logs.Count(r.Context())
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: count streaming logs failed",
			slog.String("error", err.Error()),
		)
	}
	if entries == nil {
		entries = []domain.StreamingLog{}
	}
	writeJSON(w, http.StatusOK, listLogsResponse{Logs: entries, Total: total})
}
