package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalSelectCols = `id, position_id, pair, direction, entry_price,
	current_price, stop_loss, take_profit, status, source,
	result_pips, close_price, created_at, updated_at, closed_at`

func scanSignalRow(row pgx.Row) (domain.Signal, error) {
	var s domain.Signal
	var direction, status string
	err := row.Scan(
		&s.ID, &s.PositionID, &s.Pair, &direction, &s.EntryPrice,
		&s.CurrentPrice, &s.StopLoss, &s.TakeProfit, &status, &s.Source,
		&s.ResultPips, &s.ClosePrice, &s.CreatedAt, &s.UpdatedAt, &s.ClosedAt,
	)
	if err != nil {
		return domain.Signal{}, err
	}
	s.Direction = domain.PositionType(direction)
	s.Status = domain.SignalStatus(status)
	return s, nil
}

// Create inserts a new signal. An empty ID is replaced by a fresh UUID; the
// stored row is returned.
func (s *SignalStore) Create(ctx context.Context, sig domain.Signal) (domain.Signal, error) {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.Status == "" {
		sig.Status = domain.SignalStatusActive
	}
	if sig.Source == "" {
		sig.Source = "mt5"
	}

	query := `
		INSERT INTO signals (
			id, position_id, pair, direction, entry_price,
			current_price, stop_loss, take_profit, status, source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + signalSelectCols

	out, err := scanSignalRow(s.pool.QueryRow(ctx, query,
		sig.ID, sig.PositionID, sig.Pair, string(sig.Direction), sig.EntryPrice,
		sig.CurrentPrice, sig.StopLoss, sig.TakeProfit, string(sig.Status), sig.Source,
	))
	if err != nil {
		return domain.Signal{}, fmt.Errorf("postgres: create signal for position %s: %w", sig.PositionID, err)
	}
	return out, nil
}

// GetByID returns a single signal.
func (s *SignalStore) GetByID(ctx context.Context, id string) (domain.Signal, error) {
	query := `SELECT ` + signalSelectCols + ` FROM signals WHERE id = $1`
	sig, err := scanSignalRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Signal{}, domain.ErrNotFound
		}
		return domain.Signal{}, fmt.Errorf("postgres: get signal %s: %w", id, err)
	}
	return sig, nil
}

// Update applies the non-nil fields of upd.
func (s *SignalStore) Update(ctx context.Context, id string, upd domain.SignalUpdate) error {
	const query = `
		UPDATE signals SET
			current_price = COALESCE($2, current_price),
			stop_loss     = COALESCE($3, stop_loss),
			take_profit   = COALESCE($4, take_profit),
			updated_at    = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, upd.CurrentPrice, upd.StopLoss, upd.TakeProfit)
	if err != nil {
		return fmt.Errorf("postgres: update signal %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateStatus changes the lifecycle status of a signal. Closing stamps
// closed_at once; repeated closes keep the first timestamp.
func (s *SignalStore) UpdateStatus(ctx context.Context, id string, status domain.SignalStatus, resultPips, closePrice *float64) error {
	var closedAt *time.Time
	if status == domain.SignalStatusClosed {
		now := time.Now().UTC()
		closedAt = &now
	}
	const query = `
		UPDATE signals SET
			status      = $2,
			result_pips = COALESCE($3, result_pips),
			close_price = COALESCE($4, close_price),
			closed_at   = COALESCE(closed_at, $5),
			updated_at  = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, string(status), resultPips, closePrice, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: update signal status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
