package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freelance-contracts/internal/models"
)

var ErrPaymentMethodNotFound = errors.New("payment method not found")

// PaymentMethodRepository хранит сохранённые способы оплаты пользователей.
type PaymentMethodRepository struct {
	db *sqlx.DB
}

// NewPaymentMethodRepository создаёт новый экземпляр.
func NewPaymentMethodRepository(db *sqlx.DB) *PaymentMethodRepository {
	return &PaymentMethodRepository{db: db}
}

// Create сохраняет способ оплаты после подтверждения setup intent.
// Первый способ пользователя становится способом по умолчанию.
func (r *PaymentMethodRepository) Create(ctx context.Context, pm *models.PaymentMethod) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("payment method repository: begin tx %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.GetContext(ctx, &count, `SELECT COUNT(*) FROM payment_methods WHERE user_id = $1`, pm.UserID); err != nil {
		return fmt.Errorf("payment method repository: count %w", err)
	}
	pm.IsDefault = count == 0

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payment_methods (id, user_id, gateway_method_id, brand, last4, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, pm.ID, pm.UserID, pm.GatewayMethodID, pm.Brand, pm.Last4, pm.IsDefault, pm.CreatedAt)
	if err != nil {
		return fmt.Errorf("payment method repository: create %w", err)
	}

	return tx.Commit()
}

// HasSavedMethods сообщает, есть ли у пользователя сохранённые способы
// оплаты. Используется оркестратором для выбора ветки оплаты.
func (r *PaymentMethodRepository) HasSavedMethods(ctx context.Context, userID uuid.UUID) (bool, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM payment_methods WHERE user_id = $1`, userID); err != nil {
		return false, fmt.Errorf("payment method repository: has saved methods %w", err)
	}
	return count > 0, nil
}

// ListByUser возвращает все способы оплаты пользователя.
func (r *PaymentMethodRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PaymentMethod, error) {
	var methods []models.PaymentMethod
	query := `
		SELECT id, user_id, gateway_method_id, brand, last4, is_default, created_at
		FROM payment_methods
		WHERE user_id = $1
		ORDER BY is_default DESC, created_at DESC
	`
	if err := r.db.SelectContext(ctx, &methods, query, userID); err != nil {
		return nil, fmt.Errorf("payment method repository: list by user %w", err)
	}
	return methods, nil
}

// Delete удаляет способ оплаты пользователя.
func (r *PaymentMethodRepository) Delete(ctx context.Context, id, userID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM payment_methods WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("payment method repository: delete %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("payment method repository: delete rows affected %w", err)
	}
	if affected == 0 {
		return ErrPaymentMethodNotFound
	}
	return nil
}
