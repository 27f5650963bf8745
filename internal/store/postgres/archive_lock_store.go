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

// ArchiveLockStore implements domain.ArchiveLockStore using PostgreSQL.
type ArchiveLockStore struct {
	pool *pgxpool.Pool
}

// NewArchiveLockStore creates a new ArchiveLockStore backed by the given
// connection pool.
func NewArchiveLockStore(pool *pgxpool.Pool) *ArchiveLockStore {
	return &ArchiveLockStore{pool: pool}
}

// Acquire inserts the lock row for positionID. When another holder already
// owns it, the existing row is returned with Existed set.
func (s *ArchiveLockStore) Acquire(ctx context.Context, positionID, holder string) (domain.LockResult[domain.ArchiveLock], error) {
	var res domain.LockResult[domain.ArchiveLock]

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("postgres: acquire archive lock %s: begin: %w", positionID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var lock domain.ArchiveLock
	err = tx.QueryRow(ctx, `
		INSERT INTO archive_locks (position_id, holder) VALUES ($1, $2)
		ON CONFLICT (position_id) DO NOTHING
		RETURNING position_id, holder, created_at`,
		positionID, holder,
	).Scan(&lock.PositionID, &lock.Holder, &lock.CreatedAt)
	switch {
	case err == nil:
		res = domain.LockResult[domain.ArchiveLock]{Acquired: true, Existing: lock}
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx, `
			SELECT position_id, holder, created_at FROM archive_locks
			WHERE position_id = $1 FOR UPDATE`,
			positionID,
		).Scan(&lock.PositionID, &lock.Holder, &lock.CreatedAt)
		if err != nil {
			return res, fmt.Errorf("postgres: acquire archive lock %s: select: %w", positionID, err)
		}
		res = domain.LockResult[domain.ArchiveLock]{Existed: true, Existing: lock}
	default:
		return res, fmt.Errorf("postgres: acquire archive lock %s: insert: %w", positionID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.LockResult[domain.ArchiveLock]{}, fmt.Errorf("postgres: acquire archive lock %s: commit: %w", positionID, err)
	}
	return res, nil
}

// Release deletes the lock when it is still owned by holder.
func (s *ArchiveLockStore) Release(ctx context.Context, positionID, holder string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM archive_locks WHERE position_id = $1 AND holder = $2`,
		positionID, holder)
	if err != nil {
		return fmt.Errorf("postgres: release archive lock %s: %w", positionID, err)
	}
	return nil
}

// SweepStale deletes locks older than maxAge.
func (s *ArchiveLockStore) SweepStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM archive_locks WHERE created_at < $1`,
		time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("postgres: sweep archive locks: %w", err)
	}
	return tag.RowsAffected(), nil
}
