package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// StatusHandler reports the streaming session and the persisted status
// record.
type StatusHandler struct {
	mode    string
	session StreamingController
	status  domain.StatusStore
	logger  *slog.Logger
}

// NewStatusHandler creates a StatusHandler. status may be nil.
func NewStatusHandler(mode string, session StreamingController, status domain.StatusStore, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{mode: mode, session: session, status: status, logger: logger}
}

type statusResponse struct {
	Mode      string                  `json:"mode"`
	Session   *domain.SessionStatus   `json:"session,omitempty"`
	Persisted *domain.StreamingStatus `json:"persisted,omitempty"`
}

// GetStatus responds with the live session view and health metrics.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Mode: h.mode}
	if h.session != nil {
		st := h.session.Status()
		resp.Session = &st
	}
	if h.status != nil {
		st, err := h.status.Get(r.Context())
		switch {
		case err == nil:
			resp.Persisted = &st
		case errors.Is(err, domain.ErrNotFound):
		default:
			h.logger.WarnContext(r.Context(), "handler: read status record failed",
				slog.String("error", err.Error()),
			)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
