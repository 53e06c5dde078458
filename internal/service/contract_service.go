package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-contracts/internal/goroutine"
	"github.com/ignatzorin/freelance-contracts/internal/logger"
	"github.com/ignatzorin/freelance-contracts/internal/models"
	"github.com/ignatzorin/freelance-contracts/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-contracts/internal/repository"
)

// Количество попыток сохранить агрегат при конфликте версий. Конфликт
// означает параллельное изменение контракта; после перечитывания
// операция либо проходит, либо отклоняется проверкой переходов.
const versionRetryLimit = 3

// ContractRepository описывает взаимодействие сервиса с хранилищем контрактов.
type ContractRepository interface {
	Create(ctx context.Context, contract *models.Contract) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error)
	Save(ctx context.Context, contract *models.Contract) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Contract, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int, error)
}

// Notifier отправляет уведомление пользователю. Реализуется
// NotificationService; в тестах подменяется моком.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, notificationType, title, content string, relatedEntityID *uuid.UUID, priority string, data interface{}) (*models.Notification, error)
}

// ContractService содержит бизнес-логику жизненного цикла контрактов
// и этапов, кроме принятия этапа: оно запускает оплату и живёт в
// PaymentService.
type ContractService struct {
	contracts ContractRepository
	notifier  Notifier
}

// NewContractService создаёт новый сервис контрактов.
func NewContractService(contracts ContractRepository, notifier Notifier) *ContractService {
	return &ContractService{contracts: contracts, notifier: notifier}
}

// CreateContract создаёт контракт с этапами. Вызывающий становится
// заказчиком.
func (s *ContractService) CreateContract(ctx context.Context, clientID, projectID, freelancerID uuid.UUID, totalAmount float64, currency string, milestones []models.MilestoneInput) (*models.Contract, error) {
	contract, err := models.NewContract(projectID, clientID, freelancerID, totalAmount, currency, milestones)
	if err != nil {
		return nil, err
	}

	if err := s.contracts.Create(ctx, contract); err != nil {
		return nil, fmt.Errorf("contract service: create %w", err)
	}

	s.notifyAsync(freelancerID, models.NotificationContractCreated, "Новый контракт",
		"С вами заключён контракт", contract.ID, models.NotificationPriorityNormal, contract)

	return contract, nil
}

// GetContract возвращает контракт с этапами. Доступен только сторонам.
func (s *ContractService) GetContract(ctx context.Context, contractID, userID uuid.UUID) (*models.Contract, error) {
	contract, err := s.getContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if !contract.IsParticipant(userID) {
		return nil, apperror.ErrForbidden
	}
	return contract, nil
}

// ListContracts возвращает контракты пользователя и их общее количество.
func (s *ContractService) ListContracts(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Contract, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	contracts, err := s.contracts.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.contracts.CountByUser(ctx, userID)
	if err != nil {
		return nil, 0, err
	}
	return contracts, total, nil
}

// StartMilestone переводит этап в работу.
func (s *ContractService) StartMilestone(ctx context.Context, contractID, milestoneID, actorID uuid.UUID) (*models.Contract, error) {
	return s.mutate(ctx, contractID, func(c *models.Contract) error {
		return c.StartMilestone(milestoneID, actorID)
	})
}

// SubmitMilestone сдаёт работу по этапу на проверку. Заказчик получает
// уведомление.
func (s *ContractService) SubmitMilestone(ctx context.Context, contractID, milestoneID, actorID uuid.UUID) (*models.Contract, error) {
	contract, err := s.mutate(ctx, contractID, func(c *models.Contract) error {
		return c.SubmitMilestone(milestoneID, actorID)
	})
	if err != nil {
		return nil, err
	}

	s.notifyAsync(contract.ClientID, models.NotificationMilestoneSubmitted, "Этап сдан на проверку",
		"Исполнитель сдал работу по этапу", milestoneID, models.NotificationPriorityNormal, nil)

	return contract, nil
}

// RejectMilestone отклоняет работу по этапу с комментарием. Исполнитель
// получает уведомление и может доработать и сдать этап повторно.
func (s *ContractService) RejectMilestone(ctx context.Context, contractID, milestoneID, actorID uuid.UUID, feedback string) (*models.Contract, error) {
	contract, err := s.mutate(ctx, contractID, func(c *models.Contract) error {
		return c.RejectMilestone(milestoneID, actorID, feedback)
	})
	if err != nil {
		return nil, err
	}

	s.notifyAsync(contract.FreelancerID, models.NotificationMilestoneRejected, "Этап отклонён",
		"Заказчик вернул работу на доработку", milestoneID, models.NotificationPriorityHigh,
		map[string]string{"feedback": feedback})

	return contract, nil
}

// CancelContract отменяет контракт.
func (s *ContractService) CancelContract(ctx context.Context, contractID, actorID uuid.UUID) (*models.Contract, error) {
	contract, err := s.mutate(ctx, contractID, func(c *models.Contract) error {
		return c.Cancel(actorID)
	})
	if err != nil {
		return nil, err
	}

	s.notifyAsync(contract.FreelancerID, models.NotificationContractCancelled, "Контракт отменён",
		"Заказчик отменил контракт", contract.ID, models.NotificationPriorityHigh, nil)

	return contract, nil
}

// DisputeContract открывает спор по контракту. Уведомляется вторая
// сторона.
func (s *ContractService) DisputeContract(ctx context.Context, contractID, actorID uuid.UUID) (*models.Contract, error) {
	contract, err := s.mutate(ctx, contractID, func(c *models.Contract) error {
		return c.Dispute(actorID)
	})
	if err != nil {
		return nil, err
	}

	counterpart := contract.ClientID
	if actorID == contract.ClientID {
		counterpart = contract.FreelancerID
	}
	s.notifyAsync(counterpart, models.NotificationContractDisputed, "Открыт спор",
		"По контракту открыт спор", contract.ID, models.NotificationPriorityHigh, nil)

	return contract, nil
}

// mutate применяет изменение агрегата с оптимистичной проверкой версии.
func (s *ContractService) mutate(ctx context.Context, contractID uuid.UUID, fn func(*models.Contract) error) (*models.Contract, error) {
	return mutateContract(ctx, s.contracts, contractID, fn)
}

func (s *ContractService) getContract(ctx context.Context, contractID uuid.UUID) (*models.Contract, error) {
	return loadContract(ctx, s.contracts, contractID)
}

// mutateContract загружает контракт, применяет изменение и сохраняет с
// оптимистичной проверкой версии. При конфликте версий перечитывает
// агрегат и повторяет до versionRetryLimit раз. Используется сервисами
// контрактов и платежей.
func mutateContract(ctx context.Context, contracts ContractRepository, contractID uuid.UUID, fn func(*models.Contract) error) (*models.Contract, error) {
	var lastErr error
	for attempt := 0; attempt < versionRetryLimit; attempt++ {
		contract, err := loadContract(ctx, contracts, contractID)
		if err != nil {
			return nil, err
		}

		if err := fn(contract); err != nil {
			return nil, err
		}

		err = contracts.Save(ctx, contract)
		if err == nil {
			return contract, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return nil, fmt.Errorf("contract service: save %w", err)
		}
		lastErr = err
	}

	return nil, apperror.Wrap(lastErr, apperror.ErrCodeConflict, "контракт изменён параллельно, повторите запрос")
}

func loadContract(ctx context.Context, contracts ContractRepository, contractID uuid.UUID) (*models.Contract, error) {
	contract, err := contracts.GetByID(ctx, contractID)
	if err != nil {
		if errors.Is(err, repository.ErrContractNotFound) {
			return nil, apperror.ErrContractNotFound
		}
		return nil, fmt.Errorf("contract service: get %w", err)
	}
	return contract, nil
}

// notifyAsync отправляет уведомление в фоне. Сбой доставки логируется
// и не влияет на результат операции.
func (s *ContractService) notifyAsync(userID uuid.UUID, notificationType, title, content string, relatedEntityID uuid.UUID, priority string, data interface{}) {
	if s.notifier == nil {
		return
	}
	related := relatedEntityID
	goroutine.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := s.notifier.Notify(ctx, userID, notificationType, title, content, &related, priority, data); err != nil {
			logger.WithFields(map[string]interface{}{
				"user_id": userID,
				"type":    notificationType,
				"error":   err.Error(),
			}).Warn("contract service: не удалось отправить уведомление")
		}
	})
}
