package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// TradeHistoryStore implements domain.TradeHistoryStore using PostgreSQL.
type TradeHistoryStore struct {
	pool *pgxpool.Pool
}

// NewTradeHistoryStore creates a new TradeHistoryStore backed by the given
// connection pool.
func NewTradeHistoryStore(pool *pgxpool.Pool) *TradeHistoryStore {
	return &TradeHistoryStore{pool: pool}
}

const tradeHistorySelectCols = `id, position_id, signal_id, account_id, pair, direction,
	entry_price, close_price, stop_loss, take_profit, volume, profit,
	commission, swap, pips, open_time, close_time, raw, archived_at`

func scanTradeHistoryRows(rows pgx.Rows) ([]domain.TradeHistory, error) {
	var out []domain.TradeHistory
	for rows.Next() {
		t, err := scanTradeHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTradeHistory(row pgx.Row) (domain.TradeHistory, error) {
	var t domain.TradeHistory
	var direction string
	var raw []byte
	err := row.Scan(
		&t.ID, &t.PositionID, &t.SignalID, &t.AccountID, &t.Pair, &direction,
		&t.EntryPrice, &t.ClosePrice, &t.StopLoss, &t.TakeProfit, &t.Volume, &t.Profit,
		&t.Commission, &t.Swap, &t.Pips, &t.OpenTime, &t.CloseTime, &raw, &t.ArchivedAt,
	)
	if err != nil {
		return domain.TradeHistory{}, err
	}
	t.Direction = domain.PositionType(direction)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &t.Raw); err != nil {
			return domain.TradeHistory{}, fmt.Errorf("decode raw: %w", err)
		}
	}
	return t, nil
}

// Insert writes the trade unless the position is already archived.
func (s *TradeHistoryStore) Insert(ctx context.Context, t domain.TradeHistory) (bool, error) {
	raw, err := json.Marshal(t.Raw)
	if err != nil {
		return false, fmt.Errorf("postgres: marshal trade raw %s: %w", t.PositionID, err)
	}

	const query = `
		INSERT INTO trade_history (
			position_id, signal_id, account_id, pair, direction,
			entry_price, close_price, stop_loss, take_profit, volume, profit,
			commission, swap, pips, open_time, close_time, raw
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17
		) ON CONFLICT (position_id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query,
		t.PositionID, t.SignalID, t.AccountID, t.Pair, string(t.Direction),
		t.EntryPrice, t.ClosePrice, t.StopLoss, t.TakeProfit, t.Volume, t.Profit,
		t.Commission, t.Swap, t.Pips, t.OpenTime, t.CloseTime, raw,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: insert trade history %s: %w", t.PositionID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByPositionID returns the archived trade for a position.
func (s *TradeHistoryStore) GetByPositionID(ctx context.Context, positionID string) (domain.TradeHistory, error) {
	query := `SELECT ` + tradeHistorySelectCols + ` FROM trade_history WHERE position_id = $1`
	t, err := scanTradeHistory(s.pool.QueryRow(ctx, query, positionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeHistory{}, domain.ErrNotFound
		}
		return domain.TradeHistory{}, fmt.Errorf("postgres: get trade history %s: %w", positionID, err)
	}
	return t, nil
}

// ListRecent returns archived trades ordered by close time, newest first.
func (s *TradeHistoryStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TradeHistory, error) {
	query := `SELECT ` + tradeHistorySelectCols + ` FROM trade_history WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND close_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND close_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY close_time DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade history: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeHistoryRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade history: %w", err)
	}
	return trades, nil
}
