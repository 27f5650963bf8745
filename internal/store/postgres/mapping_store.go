package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// MappingStore implements domain.SignalMappingStore using PostgreSQL. The
// position_signal_mappings primary key is the lock.
type MappingStore struct {
	pool *pgxpool.Pool
}

// NewMappingStore creates a new MappingStore backed by the given connection pool.
func NewMappingStore(pool *pgxpool.Pool) *MappingStore {
	return &MappingStore{pool: pool}
}

const mappingSelectCols = `position_id, signal_id, pair, status, last_known_profit,
	error, created_at, updated_at, closed_at`

func scanMappingRow(row pgx.Row) (domain.PositionSignalMapping, error) {
	var m domain.PositionSignalMapping
	var status string
	err := row.Scan(
		&m.PositionID, &m.SignalID, &m.Pair, &status, &m.LastKnownProfit,
		&m.Error, &m.CreatedAt, &m.UpdatedAt, &m.ClosedAt,
	)
	if err != nil {
		return domain.PositionSignalMapping{}, err
	}
	m.Status = domain.MappingStatus(status)
	return m, nil
}

// Acquire creates the mapping row in the processing state with a PENDING
// signal id. If a row already exists it is returned with Existed set, except
// a failed row, which is taken over and reset to processing.
func (s *MappingStore) Acquire(ctx context.Context, positionID, pair string) (domain.LockResult[domain.PositionSignalMapping], error) {
	var res domain.LockResult[domain.PositionSignalMapping]

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("postgres: acquire mapping %s: begin: %w", positionID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	insert := `
		INSERT INTO position_signal_mappings (position_id, signal_id, pair, status)
		VALUES ($1, $2, $3, 'processing')
		ON CONFLICT (position_id) DO NOTHING
		RETURNING ` + mappingSelectCols
	m, err := scanMappingRow(tx.QueryRow(ctx, insert, positionID, domain.PendingSignalID, pair))
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return res, fmt.Errorf("postgres: acquire mapping %s: commit: %w", positionID, err)
		}
		return domain.LockResult[domain.PositionSignalMapping]{Acquired: true, Existing: m}, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return res, fmt.Errorf("postgres: acquire mapping %s: insert: %w", positionID, err)
	}

	lockRow := `SELECT ` + mappingSelectCols + `
		FROM position_signal_mappings WHERE position_id = $1 FOR UPDATE`
	existing, err := scanMappingRow(tx.QueryRow(ctx, lockRow, positionID))
	if err != nil {
		return res, fmt.Errorf("postgres: acquire mapping %s: select: %w", positionID, err)
	}

	if existing.Status == domain.MappingStatusFailed {
		reclaim := `
			UPDATE position_signal_mappings SET
				signal_id = $2, pair = $3, status = 'processing', error = '',
				created_at = NOW(), updated_at = NOW()
			WHERE position_id = $1
			RETURNING ` + mappingSelectCols
		m, err := scanMappingRow(tx.QueryRow(ctx, reclaim, positionID, domain.PendingSignalID, pair))
		if err != nil {
			return res, fmt.Errorf("postgres: acquire mapping %s: reclaim: %w", positionID, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return res, fmt.Errorf("postgres: acquire mapping %s: commit: %w", positionID, err)
		}
		return domain.LockResult[domain.PositionSignalMapping]{Acquired: true, Existing: m}, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("postgres: acquire mapping %s: commit: %w", positionID, err)
	}
	return domain.LockResult[domain.PositionSignalMapping]{Existed: true, Existing: existing}, nil
}

// Get returns the mapping for a position.
func (s *MappingStore) Get(ctx context.Context, positionID string) (domain.PositionSignalMapping, error) {
	query := `SELECT ` + mappingSelectCols + ` FROM position_signal_mappings WHERE position_id = $1`
	m, err := scanMappingRow(s.pool.QueryRow(ctx, query, positionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PositionSignalMapping{}, domain.ErrNotFound
		}
		return domain.PositionSignalMapping{}, fmt.Errorf("postgres: get mapping %s: %w", positionID, err)
	}
	return m, nil
}

// Finalize records the created signal id and completes the mapping.
func (s *MappingStore) Finalize(ctx context.Context, positionID, signalID string) error {
	const query = `
		UPDATE position_signal_mappings SET
			signal_id = $2, status = 'completed', error = '', updated_at = NOW()
		WHERE position_id = $1`
	tag, err := s.pool.Exec(ctx, query, positionID, signalID)
	if err != nil {
		return fmt.Errorf("postgres: finalize mapping %s: %w", positionID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Release marks the mapping failed and clears the PENDING signal id so no
// reader waits on it.
func (s *MappingStore) Release(ctx context.Context, positionID, reason string) error {
	const query = `
		UPDATE position_signal_mappings SET
			signal_id = '', status = 'failed', error = $2, updated_at = NOW()
		WHERE position_id = $1 AND status = 'processing'`
	if _, err := s.pool.Exec(ctx, query, positionID, reason); err != nil {
		return fmt.Errorf("postgres: release mapping %s: %w", positionID, err)
	}
	return nil
}

// UpdateProfit stores the last known floating profit.
func (s *MappingStore) UpdateProfit(ctx context.Context, positionID string, profit float64) error {
	const query = `
		UPDATE position_signal_mappings SET last_known_profit = $2, updated_at = NOW()
		WHERE position_id = $1 AND last_known_profit IS DISTINCT FROM $2`
	if _, err := s.pool.Exec(ctx, query, positionID, profit); err != nil {
		return fmt.Errorf("postgres: update mapping profit %s: %w", positionID, err)
	}
	return nil
}

// MarkClosed stamps the close time once.
func (s *MappingStore) MarkClosed(ctx context.Context, positionID string, closedAt time.Time) error {
	const query = `
		UPDATE position_signal_mappings SET
			closed_at = COALESCE(closed_at, $2), updated_at = NOW()
		WHERE position_id = $1`
	tag, err := s.pool.Exec(ctx, query, positionID, closedAt)
	if err != nil {
		return fmt.Errorf("postgres: mark mapping closed %s: %w", positionID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SweepStale fails processing mappings older than maxAge. These are left
// behind by a process that died between acquiring and finalizing.
func (s *MappingStore) SweepStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	const query = `
		UPDATE position_signal_mappings SET
			signal_id = '', status = 'failed', error = 'stale processing lock', updated_at = NOW()
		WHERE status = 'processing' AND created_at < $1`
	tag, err := s.pool.Exec(ctx, query, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("postgres: sweep stale mappings: %w", err)
	}
	return tag.RowsAffected(), nil
}
