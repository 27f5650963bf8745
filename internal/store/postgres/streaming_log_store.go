package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// StreamingLogStore implements domain.StreamingLogStore using PostgreSQL.
type StreamingLogStore struct {
	pool *pgxpool.Pool
}

// NewStreamingLogStore creates a new StreamingLogStore backed by the given
// connection pool.
func NewStreamingLogStore(pool *pgxpool.Pool) *StreamingLogStore {
	return &StreamingLogStore{pool: pool}
}

// Append inserts a log entry. Details are stored as JSONB.
func (s *StreamingLogStore) Append(ctx context.Context, e domain.StreamingLog) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	detailJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("postgres: marshal streaming log details: %w", err)
	}

	const query = `
		INSERT INTO streaming_logs (
			type, message, success, error, position_id, signal_id, account_id, details, created_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9)`
	_, err = s.pool.Exec(ctx, query,
		string(e.Type), e.Message, e.Success, e.Error,
		e.PositionID, e.SignalID, e.AccountID, detailJSON, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: append streaming log %s: %w", e.Type, err)
	}
	return nil
}

// List returns log entries, newest first.
func (s *StreamingLogStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.StreamingLog, error) {
	query := `SELECT id, type, message, success, COALESCE(error, ''),
		COALESCE(position_id, ''), COALESCE(signal_id, ''), COALESCE(account_id, ''),
		details, created_at
		FROM streaming_logs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC, id DESC"

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
		return nil, fmt.Errorf("postgres: list streaming logs: %w", err)
	}
	defer rows.Close()

	var entries []domain.StreamingLog
	for rows.Next() {
		var e domain.StreamingLog
		var typ string
		var detailJSON []byte
		if err := rows.Scan(
			&e.ID, &typ, &e.Message, &e.Success, &e.Error,
			&e.PositionID, &e.SignalID, &e.AccountID, &detailJSON, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan streaming log: %w", err)
		}
		e.Type = domain.StreamingLogType(typ)
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Details); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal streaming log details: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of retained entries.
func (s *StreamingLogStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM streaming_logs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count streaming logs: %w", err)
	}
	return n, nil
}

// TrimOldest deletes everything but the newest keep entries.
func (s *StreamingLogStore) TrimOldest(ctx context.Context, keep int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM streaming_logs WHERE id IN (
			SELECT id FROM streaming_logs
			ORDER BY created_at DESC, id DESC
			OFFSET $1
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("postgres: trim streaming logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
