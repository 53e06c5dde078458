package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ignatzorin/freelance-contracts/internal/models"
)

// Ошибки уровня репозитория.
var (
	ErrContractNotFound = errors.New("contract not found")
	ErrVersionConflict  = errors.New("contract version conflict")
)

// ContractRepository отвечает за хранение контрактов вместе с этапами.
// Контракт сохраняется целиком: статус, версия и все этапы в одной
// транзакции, с оптимистичной проверкой версии.
type ContractRepository struct {
	db *sqlx.DB
}

// NewContractRepository создаёт новый экземпляр.
func NewContractRepository(db *sqlx.DB) *ContractRepository {
	return &ContractRepository{db: db}
}

// Create сохраняет новый контракт и его этапы в одной транзакции.
func (r *ContractRepository) Create(ctx context.Context, contract *models.Contract) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("contract repository: begin tx %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO contracts (id, project_id, client_id, freelancer_id, total_amount, currency, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, contract.ID, contract.ProjectID, contract.ClientID, contract.FreelancerID,
		contract.TotalAmount, contract.Currency, contract.Status, contract.Version,
		contract.CreatedAt, contract.UpdatedAt)
	if err != nil {
		return fmt.Errorf("contract repository: create contract %w", err)
	}

	for i := range contract.Milestones {
		m := &contract.Milestones[i]
		_, err = tx.ExecContext(ctx, `
			INSERT INTO milestones (id, contract_id, title, description, amount, deadline_at, status, position, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, m.ID, m.ContractID, m.Title, m.Description, m.Amount, m.DeadlineAt,
			m.Status, m.Position, m.CreatedAt, m.UpdatedAt)
		if err != nil {
			return fmt.Errorf("contract repository: create milestone %w", err)
		}
	}

	return tx.Commit()
}

// GetByID возвращает контракт с этапами, упорядоченными по позиции.
func (r *ContractRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	var contract models.Contract
	query := `
		SELECT id, project_id, client_id, freelancer_id, total_amount, currency, status, version, created_at, updated_at
		FROM contracts
		WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &contract, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrContractNotFound
		}
		return nil, fmt.Errorf("contract repository: get by id %w", err)
	}

	milestonesQuery := `
		SELECT id, contract_id, title, description, amount, deadline_at, status, position, feedback, submitted_at, approved_at, created_at, updated_at
		FROM milestones
		WHERE contract_id = $1
		ORDER BY position
	`
	if err := r.db.SelectContext(ctx, &contract.Milestones, milestonesQuery, id); err != nil {
		return nil, fmt.Errorf("contract repository: get milestones %w", err)
	}

	return &contract, nil
}

// Save сохраняет изменённый агрегат с проверкой версии. Если версия в
// базе не совпадает с прочитанной, возвращает ErrVersionConflict —
// вызывающая сторона перечитывает контракт и повторяет операцию.
func (r *ContractRepository) Save(ctx context.Context, contract *models.Contract) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("contract repository: begin tx %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE contracts
		SET status = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $2
	`, contract.ID, contract.Version, contract.Status, contract.UpdatedAt)
	if err != nil {
		return fmt.Errorf("contract repository: save contract %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("contract repository: save rows affected %w", err)
	}
	if affected == 0 {
		// Либо контракт удалён, либо его версия уже ушла вперёд.
		var exists bool
		if err := tx.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM contracts WHERE id = $1)`, contract.ID); err != nil {
			return fmt.Errorf("contract repository: check exists %w", err)
		}
		if !exists {
			return ErrContractNotFound
		}
		return ErrVersionConflict
	}

	for i := range contract.Milestones {
		m := &contract.Milestones[i]
		_, err = tx.ExecContext(ctx, `
			UPDATE milestones
			SET status = $2, feedback = $3, submitted_at = $4, approved_at = $5, updated_at = $6
			WHERE id = $1
		`, m.ID, m.Status, m.Feedback, m.SubmittedAt, m.ApprovedAt, m.UpdatedAt)
		if err != nil {
			return fmt.Errorf("contract repository: save milestone %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("contract repository: commit %w", err)
	}

	contract.Version++
	return nil
}

// ListByUser возвращает контракты, где пользователь выступает любой из
// сторон, без этапов (списочное представление).
func (r *ContractRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Contract, error) {
	var contracts []models.Contract
	query := `
		SELECT id, project_id, client_id, freelancer_id, total_amount, currency, status, version, created_at, updated_at
		FROM contracts
		WHERE client_id = $1 OR freelancer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	if err := r.db.SelectContext(ctx, &contracts, query, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("contract repository: list by user %w", err)
	}
	return contracts, nil
}

// CountByUser возвращает количество контрактов пользователя для пагинации.
func (r *ContractRepository) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM contracts WHERE client_id = $1 OR freelancer_id = $1`, userID); err != nil {
		return 0, fmt.Errorf("contract repository: count by user %w", err)
	}
	return count, nil
}
