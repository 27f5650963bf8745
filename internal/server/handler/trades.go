package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// TradeLister defines the methods the trade handler requires.
type TradeLister interface {
	Recent(ctx context.Context, opts domain.ListOpts) ([]domain.TradeHistory, error)
}

// TradeHandler serves archived trade history.
type TradeHandler struct {
	trades TradeLister
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeLister, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logger}
}

type listTradesResponse struct {
	Trades []domain.TradeHistory `json:"trades"`
}

// ListRecent returns archived closed trades, newest first.
// GET /api/trades/recent?limit=&offset=
func (h *TradeHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	trades, err := h.trades.Recent(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.TradeHistory{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}
