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

var ErrDeliverableNotFound = errors.New("deliverable not found")

// DeliverableRepository хранит метаданные файлов, приложенных к сдаче этапа.
type DeliverableRepository struct {
	db *sqlx.DB
}

// NewDeliverableRepository создаёт новый экземпляр.
func NewDeliverableRepository(db *sqlx.DB) *DeliverableRepository {
	return &DeliverableRepository{db: db}
}

// Create сохраняет метаданные файла.
func (r *DeliverableRepository) Create(ctx context.Context, d *models.Deliverable) error {
	query := `
		INSERT INTO deliverables (id, milestone_id, user_id, file_path, file_type, file_size)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := r.db.QueryRowxContext(ctx, query, d.ID, d.MilestoneID, d.UserID, d.FilePath, d.FileType, d.FileSize).
		Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("deliverable repository: create %w", err)
	}
	return nil
}

// GetByID возвращает метаданные файла по идентификатору.
func (r *DeliverableRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Deliverable, error) {
	var d models.Deliverable
	query := `
		SELECT id, milestone_id, user_id, file_path, file_type, file_size, created_at
		FROM deliverables
		WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &d, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeliverableNotFound
		}
		return nil, fmt.Errorf("deliverable repository: get by id %w", err)
	}
	return &d, nil
}

// ListByMilestone возвращает файлы этапа в порядке загрузки.
func (r *DeliverableRepository) ListByMilestone(ctx context.Context, milestoneID uuid.UUID) ([]models.Deliverable, error) {
	var deliverables []models.Deliverable
	query := `
		SELECT id, milestone_id, user_id, file_path, file_type, file_size, created_at
		FROM deliverables
		WHERE milestone_id = $1
		ORDER BY created_at
	`
	if err := r.db.SelectContext(ctx, &deliverables, query, milestoneID); err != nil {
		return nil, fmt.Errorf("deliverable repository: list by milestone %w", err)
	}
	return deliverables, nil
}

// Delete удаляет метаданные файла владельца.
func (r *DeliverableRepository) Delete(ctx context.Context, id, userID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM deliverables WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("deliverable repository: delete %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deliverable repository: delete rows affected %w", err)
	}
	if affected == 0 {
		return ErrDeliverableNotFound
	}
	return nil
}
