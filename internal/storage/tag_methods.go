package storage

import (
	"context"
	"database/sql"

	"github.com/pts-server/pts-server-pro/internal/models"
)

// GetTagBalance gets a payment tag balance
func (s *PostgresStore) GetTagBalance(ctx context.Context, tagID string) (*models.TagBalance, error) {
	query := `
		SELECT tag_id, balance, is_valid, card_type, expiry_date
		FROM tag_balances
		WHERE tag_id = $1`

	balance := &models.TagBalance{}
	var cardType, expiryDate sql.NullString

	err := s.db.QueryRowContext(ctx, query, tagID).Scan(
		&balance.TagID, &balance.Balance, &balance.IsValid,
		&cardType, &expiryDate,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	balance.CardType = cardType.String
	balance.ExpiryDate = expiryDate.String

	return balance, nil
}

// UpsertTagBalance creates or updates a payment tag balance
func (s *PostgresStore) UpsertTagBalance(ctx context.Context, balance *models.TagBalance) error {
	query := `
		INSERT INTO tag_balances (tag_id, balance, is_valid, card_type, expiry_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (tag_id) DO UPDATE SET
			balance = EXCLUDED.balance,
			is_valid = EXCLUDED.is_valid,
			card_type = EXCLUDED.card_type,
			expiry_date = EXCLUDED.expiry_date,
			updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		balance.TagID, balance.Balance, balance.IsValid,
		balance.CardType, balance.ExpiryDate,
	)

	return err
}
