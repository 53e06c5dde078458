package service

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-contracts/internal/models"
	"github.com/ignatzorin/freelance-contracts/internal/pkg/apperror"
)

// DeliverableRepository описывает хранилище метаданных файлов сдачи.
type DeliverableRepository interface {
	Create(ctx context.Context, d *models.Deliverable) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Deliverable, error)
	ListByMilestone(ctx context.Context, milestoneID uuid.UUID) ([]models.Deliverable, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
}

// FileStorage описывает файловое хранилище результатов работы.
type FileStorage interface {
	Save(ctx context.Context, milestoneID uuid.UUID, originalName string, r io.Reader) (string, int64, string, error)
	Delete(ctx context.Context, relativePath string) error
	AbsolutePath(relativePath string) string
}

// DeliverableService управляет файлами, приложенными к сдаче этапа.
type DeliverableService struct {
	deliverables DeliverableRepository
	contracts    ContractRepository
	files        FileStorage
}

// NewDeliverableService создаёт новый сервис.
func NewDeliverableService(deliverables DeliverableRepository, contracts ContractRepository, files FileStorage) *DeliverableService {
	return &DeliverableService{deliverables: deliverables, contracts: contracts, files: files}
}

// Upload сохраняет файл к этапу. Доступно исполнителю, пока этап в
// работе или сдан на проверку.
func (s *DeliverableService) Upload(ctx context.Context, contractID, milestoneID, userID uuid.UUID, originalName string, r io.Reader) (*models.Deliverable, error) {
	contract, err := loadContract(ctx, s.contracts, contractID)
	if err != nil {
		return nil, err
	}
	if userID != contract.FreelancerID {
		return nil, apperror.New(apperror.ErrCodeForbidden, "прикладывать файлы может только исполнитель")
	}

	milestone, err := contract.MilestoneByID(milestoneID)
	if err != nil {
		return nil, err
	}
	switch milestone.Status {
	case models.MilestoneStatusInProgress, models.MilestoneStatusSubmitted, models.MilestoneStatusRejected:
	default:
		return nil, apperror.New(apperror.ErrCodeInvalidTransition, "файлы можно прикладывать только к этапу в работе")
	}

	path, size, fileType, err := s.files.Save(ctx, milestoneID, originalName, r)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeBadRequest, "не удалось сохранить файл")
	}

	deliverable := &models.Deliverable{
		ID:          uuid.New(),
		MilestoneID: milestoneID,
		UserID:      userID,
		FilePath:    path,
		FileType:    fileType,
		FileSize:    size,
	}

	if err := s.deliverables.Create(ctx, deliverable); err != nil {
		_ = s.files.Delete(ctx, path)
		return nil, fmt.Errorf("deliverable service: create %w", err)
	}

	return deliverable, nil
}

// List возвращает файлы этапа. Доступно сторонам контракта.
func (s *DeliverableService) List(ctx context.Context, contractID, milestoneID, userID uuid.UUID) ([]models.Deliverable, error) {
	contract, err := loadContract(ctx, s.contracts, contractID)
	if err != nil {
		return nil, err
	}
	if !contract.IsParticipant(userID) {
		return nil, apperror.ErrForbidden
	}
	if _, err := contract.MilestoneByID(milestoneID); err != nil {
		return nil, err
	}

	return s.deliverables.ListByMilestone(ctx, milestoneID)
}

// FilePath возвращает абсолютный путь файла для отдачи. Доступно
// сторонам контракта.
func (s *DeliverableService) FilePath(ctx context.Context, contractID, deliverableID, userID uuid.UUID) (string, error) {
	contract, err := loadContract(ctx, s.contracts, contractID)
	if err != nil {
		return "", err
	}
	if !contract.IsParticipant(userID) {
		return "", apperror.ErrForbidden
	}

	deliverable, err := s.deliverables.GetByID(ctx, deliverableID)
	if err != nil {
		return "", err
	}
	if _, err := contract.MilestoneByID(deliverable.MilestoneID); err != nil {
		return "", apperror.ErrForbidden
	}

	return s.files.AbsolutePath(deliverable.FilePath), nil
}
