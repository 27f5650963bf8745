package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/fxsignalbot/internal/domain"
)

// TelegramMappingStore implements domain.TelegramMappingStore using PostgreSQL.
type TelegramMappingStore struct {
	pool *pgxpool.Pool
}

// NewTelegramMappingStore creates a new TelegramMappingStore backed by the
// given connection pool.
func NewTelegramMappingStore(pool *pgxpool.Pool) *TelegramMappingStore {
	return &TelegramMappingStore{pool: pool}
}

// Save upserts the mapping. Saving over a soft-deleted row revives it.
func (s *TelegramMappingStore) Save(ctx context.Context, m domain.TradeTelegramMapping) error {
	ids := m.UpdateMessageIDs
	if ids == nil {
		ids = []int64{}
	}
	const query = `
		INSERT INTO trade_telegram_mappings (
			position_id, telegram_message_id, telegram_chat_id, update_message_ids
		) VALUES ($1, $2, $3, $4)
		ON CONFLICT (position_id) DO UPDATE SET
			telegram_message_id = EXCLUDED.telegram_message_id,
			telegram_chat_id    = EXCLUDED.telegram_chat_id,
			update_message_ids  = EXCLUDED.update_message_ids,
			last_updated        = NOW(),
			deleted_at          = NULL`
	if _, err := s.pool.Exec(ctx, query, m.PositionID, m.TelegramMessageID, m.TelegramChatID, ids); err != nil {
		return fmt.Errorf("postgres: save telegram mapping %s: %w", m.PositionID, err)
	}
	return nil
}

// Get returns the live (not soft-deleted) mapping for a position.
func (s *TelegramMappingStore) Get(ctx context.Context, positionID string) (domain.TradeTelegramMapping, error) {
	var m domain.TradeTelegramMapping
	err := s.pool.QueryRow(ctx, `
		SELECT position_id, telegram_message_id, telegram_chat_id, update_message_ids,
		       created_at, last_updated, deleted_at
		FROM trade_telegram_mappings
		WHERE position_id = $1 AND deleted_at IS NULL`,
		positionID,
	).Scan(
		&m.PositionID, &m.TelegramMessageID, &m.TelegramChatID, &m.UpdateMessageIDs,
		&m.CreatedAt, &m.LastUpdated, &m.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.TradeTelegramMapping{}, domain.ErrNotFound
		}
		return domain.TradeTelegramMapping{}, fmt.Errorf("postgres: get telegram mapping %s: %w", positionID, err)
	}
	return m, nil
}

// AppendUpdate records the id of a supplementary update message.
func (s *TelegramMappingStore) AppendUpdate(ctx context.Context, positionID string, messageID int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trade_telegram_mappings SET
			update_message_ids = array_append(update_message_ids, $2),
			last_updated = NOW()
		WHERE position_id = $1 AND deleted_at IS NULL`,
		positionID, messageID)
	if err != nil {
		return fmt.Errorf("postgres: append telegram update %s: %w", positionID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SoftDelete hides the mapping once the position is closed.
func (s *TelegramMappingStore) SoftDelete(ctx context.Context, positionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE trade_telegram_mappings SET deleted_at = NOW(), last_updated = NOW()
		WHERE position_id = $1 AND deleted_at IS NULL`,
		positionID)
	if err != nil {
		return fmt.Errorf("postgres: soft delete telegram mapping %s: %w", positionID, err)
	}
	return nil
}
