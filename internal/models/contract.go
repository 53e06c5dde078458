package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-contracts/internal/pkg/apperror"
)

// Contract описывает договор между заказчиком и исполнителем по проекту.
// Контракт вместе со своими этапами является единицей транзакционной
// согласованности: изменения сохраняются целиком с проверкой версии.
type Contract struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	ProjectID    uuid.UUID      `db:"project_id" json:"project_id"`
	ClientID     uuid.UUID      `db:"client_id" json:"client_id"`
	FreelancerID uuid.UUID      `db:"freelancer_id" json:"freelancer_id"`
	TotalAmount  float64        `db:"total_amount" json:"total_amount"`
	Currency     string         `db:"currency" json:"currency"`
	Status       ContractStatus `db:"status" json:"status"`
	Version      int            `db:"version" json:"version"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`

	Milestones []Milestone `json:"milestones"`
}

// Milestone описывает этап работы с фиксированной суммой оплаты.
type Milestone struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	ContractID  uuid.UUID       `db:"contract_id" json:"contract_id"`
	Title       string          `db:"title" json:"title"`
	Description *string         `db:"description" json:"description,omitempty"`
	Amount      float64         `db:"amount" json:"amount"`
	DeadlineAt  *time.Time      `db:"deadline_at" json:"deadline_at,omitempty"`
	Status      MilestoneStatus `db:"status" json:"status"`
	Position    int             `db:"position" json:"position"`
	Feedback    *string         `db:"feedback" json:"feedback,omitempty"`
	SubmittedAt *time.Time      `db:"submitted_at" json:"submitted_at,omitempty"`
	ApprovedAt  *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// MilestoneInput входные данные этапа при создании контракта.
type MilestoneInput struct {
	Title       string
	Description *string
	Amount      float64
	DeadlineAt  *time.Time
}

// NewContract создаёт контракт с упорядоченным списком этапов.
func NewContract(projectID, clientID, freelancerID uuid.UUID, totalAmount float64, currency string, milestones []MilestoneInput) (*Contract, error) {
	if clientID == freelancerID {
		return nil, apperror.New(apperror.ErrCodeValidation, "заказчик и исполнитель не могут совпадать")
	}
	if totalAmount <= 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма контракта должна быть положительной")
	}
	if currency == "" {
		return nil, apperror.New(apperror.ErrCodeValidation, "валюта контракта обязательна")
	}
	if len(milestones) == 0 {
		return nil, apperror.New(apperror.ErrCodeValidation, "контракт должен содержать хотя бы один этап")
	}

	var milestonesSum float64
	now := time.Now()
	contractID := uuid.New()

	items := make([]Milestone, 0, len(milestones))
	for i, in := range milestones {
		if in.Title == "" {
			return nil, apperror.New(apperror.ErrCodeValidation, "название этапа обязательно")
		}
		if in.Amount <= 0 {
			return nil, apperror.New(apperror.ErrCodeValidation, "сумма этапа должна быть положительной")
		}
		milestonesSum += in.Amount

		items = append(items, Milestone{
			ID:          uuid.New(),
			ContractID:  contractID,
			Title:       in.Title,
			Description: in.Description,
			Amount:      in.Amount,
			DeadlineAt:  in.DeadlineAt,
			Status:      MilestoneStatusPending,
			Position:    i,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}

	// Инвариант: сумма этапов не превышает сумму контракта.
	if milestonesSum > totalAmount {
		return nil, apperror.New(apperror.ErrCodeValidation, "сумма этапов превышает сумму контракта")
	}

	return &Contract{
		ID:           contractID,
		ProjectID:    projectID,
		ClientID:     clientID,
		FreelancerID: freelancerID,
		TotalAmount:  totalAmount,
		Currency:     currency,
		Status:       ContractStatusActive,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
		Milestones:   items,
	}, nil
}

// MilestoneByID возвращает этап агрегата по идентификатору.
func (c *Contract) MilestoneByID(milestoneID uuid.UUID) (*Milestone, error) {
	for i := range c.Milestones {
		if c.Milestones[i].ID == milestoneID {
			return &c.Milestones[i], nil
		}
	}
	return nil, apperror.ErrMilestoneNotFound
}

// IsParticipant проверяет, является ли пользователь стороной контракта.
func (c *Contract) IsParticipant(userID uuid.UUID) bool {
	return c.ClientID == userID || c.FreelancerID == userID
}

// StartMilestone переводит этап в работу. Доступно исполнителю; также
// используется для повторной сдачи после отклонения.
func (c *Contract) StartMilestone(milestoneID, actorID uuid.UUID) error {
	if actorID != c.FreelancerID {
		return apperror.New(apperror.ErrCodeForbidden, "начать этап может только исполнитель")
	}
	return c.transitionMilestone(milestoneID, MilestoneStatusInProgress)
}

// SubmitMilestone сдаёт работу по этапу на проверку заказчику.
func (c *Contract) SubmitMilestone(milestoneID, actorID uuid.UUID) error {
	if actorID != c.FreelancerID {
		return apperror.New(apperror.ErrCodeForbidden, "сдать этап может только исполнитель")
	}
	if err := c.transitionMilestone(milestoneID, MilestoneStatusSubmitted); err != nil {
		return err
	}

	m, _ := c.MilestoneByID(milestoneID)
	now := time.Now()
	m.SubmittedAt = &now
	return nil
}

// ApproveMilestone принимает работу по этапу. Доступно заказчику.
// Статус approved не откатывается при последующих сбоях оплаты.
func (c *Contract) ApproveMilestone(milestoneID, actorID uuid.UUID) error {
	if actorID != c.ClientID {
		return apperror.New(apperror.ErrCodeForbidden, "принять этап может только заказчик")
	}
	if err := c.transitionMilestone(milestoneID, MilestoneStatusApproved); err != nil {
		return err
	}

	m, _ := c.MilestoneByID(milestoneID)
	now := time.Now()
	m.ApprovedAt = &now
	m.Feedback = nil
	return nil
}

// RejectMilestone отклоняет работу по этапу с комментарием заказчика.
func (c *Contract) RejectMilestone(milestoneID, actorID uuid.UUID, feedback string) error {
	if actorID != c.ClientID {
		return apperror.New(apperror.ErrCodeForbidden, "отклонить этап может только заказчик")
	}
	if err := c.transitionMilestone(milestoneID, MilestoneStatusRejected); err != nil {
		return err
	}

	m, _ := c.MilestoneByID(milestoneID)
	if feedback != "" {
		m.Feedback = &feedback
	}
	return nil
}

// MarkMilestonePaid отмечает этап оплаченным после завершения платежа.
// Вызывается оркестратором платежей или обработчиком вебхуков.
func (c *Contract) MarkMilestonePaid(milestoneID uuid.UUID) error {
	m, err := c.MilestoneByID(milestoneID)
	if err != nil {
		return err
	}
	// Повторная отметка — no-op: вебхук может прийти после синхронного пути.
	if m.Status == MilestoneStatusPaid {
		return nil
	}
	if !m.Status.CanTransitionTo(MilestoneStatusPaid) {
		return apperror.New(apperror.ErrCodeInvalidTransition, "этап не принят, оплата невозможна")
	}
	m.Status = MilestoneStatusPaid
	m.UpdatedAt = time.Now()
	c.UpdatedAt = m.UpdatedAt
	return nil
}

// AllMilestonesApproved сообщает, приняты ли все этапы контракта.
func (c *Contract) AllMilestonesApproved() bool {
	for i := range c.Milestones {
		switch c.Milestones[i].Status {
		case MilestoneStatusApproved, MilestoneStatusPaid:
		default:
			return false
		}
	}
	return len(c.Milestones) > 0
}

// CompleteIfAllApproved завершает контракт, если приняты все этапы.
// Возвращает true, если статус изменился.
func (c *Contract) CompleteIfAllApproved() bool {
	if c.Status != ContractStatusActive || !c.AllMilestonesApproved() {
		return false
	}
	c.Status = ContractStatusCompleted
	c.UpdatedAt = time.Now()
	return true
}

// Cancel отменяет контракт. Доступно заказчику, только из active.
func (c *Contract) Cancel(actorID uuid.UUID) error {
	if actorID != c.ClientID {
		return apperror.New(apperror.ErrCodeForbidden, "отменить контракт может только заказчик")
	}
	if !c.Status.CanTransitionTo(ContractStatusCancelled) {
		return apperror.New(apperror.ErrCodeInvalidTransition, "нельзя отменить контракт в текущем статусе")
	}
	c.Status = ContractStatusCancelled
	c.UpdatedAt = time.Now()
	return nil
}

// Dispute открывает спор по контракту. Доступно любой из сторон.
func (c *Contract) Dispute(actorID uuid.UUID) error {
	if !c.IsParticipant(actorID) {
		return apperror.ErrForbidden
	}
	if !c.Status.CanTransitionTo(ContractStatusDisputed) {
		return apperror.New(apperror.ErrCodeInvalidTransition, "нельзя открыть спор по контракту в текущем статусе")
	}
	c.Status = ContractStatusDisputed
	c.UpdatedAt = time.Now()
	return nil
}

// transitionMilestone применяет переход статуса этапа с проверкой
// статуса контракта и таблицы переходов.
func (c *Contract) transitionMilestone(milestoneID uuid.UUID, newStatus MilestoneStatus) error {
	if c.Status != ContractStatusActive {
		return apperror.New(apperror.ErrCodeInvalidTransition, "контракт не активен")
	}

	m, err := c.MilestoneByID(milestoneID)
	if err != nil {
		return err
	}

	if !m.Status.CanTransitionTo(newStatus) {
		return apperror.New(apperror.ErrCodeInvalidTransition, "недопустимый переход статуса этапа")
	}

	m.Status = newStatus
	now := time.Now()
	m.UpdatedAt = now
	c.UpdatedAt = now
	return nil
}
