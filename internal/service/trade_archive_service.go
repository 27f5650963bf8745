package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
	"github.com/alanyoungcy/fxsignalbot/internal/forex"
)

// TradesChannel is the event bus channel for archived trades.
const TradesChannel = "trades"

// TradeBlobArchiver keeps a cold copy of a trade. *s3blob.Archiver
// satisfies it.
type TradeBlobArchiver interface {
	ArchiveTrade(ctx context.Context, t domain.TradeHistory) (string, bool, error)
}

// TradeArchiveService writes closed trades to trade history, mirrors them to
// object storage and announces them on the event bus.
type TradeArchiveService struct {
	history domain.TradeHistoryStore
	blobs   TradeBlobArchiver
	bus     domain.EventBus
	logger  *slog.Logger
	now     func() time.Time
}

// NewTradeArchiveService creates a TradeArchiveService. blobs and bus may be
// nil.
func NewTradeArchiveService(
	history domain.TradeHistoryStore,
	blobs TradeBlobArchiver,
	bus domain.EventBus,
	logger *slog.Logger,
) *TradeArchiveService {
	return &TradeArchiveService{
		history: history,
		blobs:   blobs,
		bus:     bus,
		logger:  logger.With(slog.String("component", "trade_archive")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ArchiveClosedTrade implements streaming.TradeArchiver. Only the trade
// history insert can fail the call; the object storage copy and the event
// are best-effort.
func (s *TradeArchiveService) ArchiveClosedTrade(ctx context.Context, t domain.ClosedTrade) error {
	rec := s.record(t)

	inserted, err := s.history.Insert(ctx, rec)
	if err != nil {
		return fmt.Errorf("trade_archive: insert %s: %w", t.PositionID, err)
	}
	if !inserted {
		s.logger.DebugContext(ctx, "trade already archived", slog.String("position_id", t.PositionID))
		return nil
	}

	if s.blobs != nil {
		path, written, err := s.blobs.ArchiveTrade(ctx, rec)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "cold archive upload failed",
				slog.String("position_id", t.PositionID),
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		case written:
			s.logger.DebugContext(ctx, "trade uploaded", slog.String("path", path))
		}
	}

	if s.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":       "trade_archived",
			"position_id": rec.PositionID,
			"signal_id":   rec.SignalID,
			"pair":        rec.Pair,
			"profit":      rec.Profit,
			"pips":        rec.Pips,
			"closed_at":   rec.CloseTime.Format(time.RFC3339),
		})
		if pubErr := s.bus.Publish(ctx, TradesChannel, evt); pubErr != nil {
			s.logger.WarnContext(ctx, "publish trade event failed",
				slog.String("position_id", t.PositionID),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "trade archived",
		slog.String("position_id", rec.PositionID),
		slog.String("pair", rec.Pair),
		slog.Float64("profit", rec.Profit),
		slog.Float64("pips", rec.Pips),
	)
	return nil
}

// Recent returns archived trades, newest first.
func (s *TradeArchiveService) Recent(ctx context.Context, opts domain.ListOpts) ([]domain.TradeHistory, error) {
	trades, err := s.history.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_archive: list recent: %w", err)
	}
	return trades, nil
}

func (s *TradeArchiveService) record(t domain.ClosedTrade) domain.TradeHistory {
	cd := t.Close
	pair := t.Signal.Pair
	if pair == "" {
		pair = cd.Symbol
	}
	direction := t.Signal.Direction
	if direction == "" {
		direction = cd.Type
	}
	entry := t.Signal.EntryPrice
	if entry <= 0 {
		entry = cd.OpenPrice
	}
	closeTime := cd.CloseTime
	if closeTime.IsZero() {
		closeTime = s.now()
	}

	return domain.TradeHistory{
		PositionID: t.PositionID,
		SignalID:   t.Signal.ID,
		AccountID:  t.AccountID,
		Pair:       pair,
		Direction:  direction,
		EntryPrice: entry,
		ClosePrice: cd.ClosePrice,
		StopLoss:   cd.StopLoss,
		TakeProfit: cd.TakeProfit,
		Volume:     cd.Volume,
		Profit:     cd.Profit,
		Commission: cd.Commission,
		Swap:       cd.Swap,
		Pips:       forex.ResultPips(pair, direction, entry, cd.ClosePrice, cd.Profit),
		OpenTime:   cd.OpenTime,
		CloseTime:  closeTime,
		Raw: map[string]any{
			"from_history":       cd.FromHistory,
			"broker_open_price":  cd.OpenPrice,
			"signal_stop_loss":   t.Signal.StopLoss,
			"signal_take_profit": t.Signal.TakeProfit,
		},
		ArchivedAt: s.now(),
	}
}
