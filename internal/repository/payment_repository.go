package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/freelance-contracts/internal/models"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrActivePaymentExists  = errors.New("active payment already exists for milestone")
	ErrGatewayRefNotMatched = errors.New("payment not found by gateway ref")
)

// Частичный уникальный индекс в миграциях гарантирует не более одного
// незавершённого (pending/processing) платежа на этап. Нарушение
// приходит из PostgreSQL кодом unique_violation.
const uniqueViolationCode = "23505"

// PaymentRepository отвечает за хранение платежей по этапам.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository создаёт новый экземпляр.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create сохраняет новый платёж. Если по этапу уже есть незавершённый
// платёж, возвращает ErrActivePaymentExists.
func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payments (id, contract_id, milestone_id, payer_id, payee_id, amount, platform_fee, net_amount, currency,
		                      status, gateway_ref, payment_method_id, retry_count, failure_reason, manual_review,
		                      next_retry_at, processing_at, completed_at, failed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, p.ID, p.ContractID, p.MilestoneID, p.PayerID, p.PayeeID, p.Amount, p.PlatformFee, p.NetAmount, p.Currency,
		p.Status, p.GatewayRef, p.PaymentMethodID, p.RetryCount, p.FailureReason, p.ManualReview,
		p.NextRetryAt, p.ProcessingAt, p.CompletedAt, p.FailedAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolationCode {
			return ErrActivePaymentExists
		}
		return fmt.Errorf("payment repository: create %w", err)
	}
	return nil
}

// Update сохраняет изменяемые поля платежа.
func (r *PaymentRepository) Update(ctx context.Context, p *models.Payment) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $2, gateway_ref = $3, payment_method_id = $4, retry_count = $5, failure_reason = $6,
		    manual_review = $7, next_retry_at = $8, processing_at = $9, completed_at = $10, failed_at = $11, updated_at = $12
		WHERE id = $1
	`, p.ID, p.Status, p.GatewayRef, p.PaymentMethodID, p.RetryCount, p.FailureReason,
		p.ManualReview, p.NextRetryAt, p.ProcessingAt, p.CompletedAt, p.FailedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("payment repository: update %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("payment repository: update rows affected %w", err)
	}
	if affected == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

// GetByID возвращает платёж по идентификатору.
func (r *PaymentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.GetContext(ctx, &p, `SELECT * FROM payments WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment repository: get by id %w", err)
	}
	return &p, nil
}

// FindActiveByMilestone возвращает незавершённый платёж по этапу.
// Повторное согласование этапа переиспользует его вместо создания
// дубликата. Если активного платежа нет, возвращает ErrPaymentNotFound.
func (r *PaymentRepository) FindActiveByMilestone(ctx context.Context, milestoneID uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	query := `
		SELECT * FROM payments
		WHERE milestone_id = $1 AND status IN ('pending', 'processing')
		ORDER BY created_at DESC
		LIMIT 1
	`
	if err := r.db.GetContext(ctx, &p, query, milestoneID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment repository: find active by milestone %w", err)
	}
	return &p, nil
}

// FindByGatewayRef возвращает платёж по ссылке шлюза из вебхука.
func (r *PaymentRepository) FindByGatewayRef(ctx context.Context, gatewayRef string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.GetContext(ctx, &p, `SELECT * FROM payments WHERE gateway_ref = $1`, gatewayRef); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGatewayRefNotMatched
		}
		return nil, fmt.Errorf("payment repository: find by gateway ref %w", err)
	}
	return &p, nil
}

// ListByContract возвращает все платежи контракта, новые первыми.
func (r *PaymentRepository) ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	query := `SELECT * FROM payments WHERE contract_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &payments, query, contractID); err != nil {
		return nil, fmt.Errorf("payment repository: list by contract %w", err)
	}
	return payments, nil
}

// ListByMilestone возвращает историю платежей этапа, включая неуспешные
// попытки.
func (r *PaymentRepository) ListByMilestone(ctx context.Context, milestoneID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	query := `SELECT * FROM payments WHERE milestone_id = $1 ORDER BY created_at DESC`
	if err := r.db.SelectContext(ctx, &payments, query, milestoneID); err != nil {
		return nil, fmt.Errorf("payment repository: list by milestone %w", err)
	}
	return payments, nil
}
