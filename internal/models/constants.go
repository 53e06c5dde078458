package models

// ContractStatus статус контракта.
type ContractStatus string

const (
	ContractStatusActive    ContractStatus = "active"
	ContractStatusCompleted ContractStatus = "completed"
	ContractStatusCancelled ContractStatus = "cancelled"
	ContractStatusDisputed  ContractStatus = "disputed"
)

func (s ContractStatus) IsValid() bool {
	switch s {
	case ContractStatusActive, ContractStatusCompleted, ContractStatusCancelled, ContractStatusDisputed:
		return true
	}
	return false
}

// CanTransitionTo проверяет допустимость перехода. Терминальные статусы
// (completed, cancelled, disputed) не имеют исходящих рёбер.
func (s ContractStatus) CanTransitionTo(newStatus ContractStatus) bool {
	transitions := map[ContractStatus][]ContractStatus{
		ContractStatusActive:    {ContractStatusCompleted, ContractStatusCancelled, ContractStatusDisputed},
		ContractStatusCompleted: {},
		ContractStatusCancelled: {},
		ContractStatusDisputed:  {},
	}

	for _, status := range transitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// MilestoneStatus статус этапа контракта.
type MilestoneStatus string

const (
	MilestoneStatusPending    MilestoneStatus = "pending"
	MilestoneStatusInProgress MilestoneStatus = "in_progress"
	MilestoneStatusSubmitted  MilestoneStatus = "submitted"
	MilestoneStatusApproved   MilestoneStatus = "approved"
	MilestoneStatusRejected   MilestoneStatus = "rejected"
	MilestoneStatusPaid       MilestoneStatus = "paid"
)

func (s MilestoneStatus) IsValid() bool {
	switch s {
	case MilestoneStatusPending, MilestoneStatusInProgress, MilestoneStatusSubmitted,
		MilestoneStatusApproved, MilestoneStatusRejected, MilestoneStatusPaid:
		return true
	}
	return false
}

// CanTransitionTo проверяет допустимость перехода. Единственное обратное
// ребро — rejected → in_progress (повторная сдача работы). approved → paid
// относится к завершению оплаты, а не к редактированию статуса.
func (s MilestoneStatus) CanTransitionTo(newStatus MilestoneStatus) bool {
	transitions := map[MilestoneStatus][]MilestoneStatus{
		MilestoneStatusPending:    {MilestoneStatusInProgress},
		MilestoneStatusInProgress: {MilestoneStatusSubmitted},
		MilestoneStatusSubmitted:  {MilestoneStatusApproved, MilestoneStatusRejected},
		MilestoneStatusRejected:   {MilestoneStatusInProgress},
		MilestoneStatusApproved:   {MilestoneStatusPaid},
		MilestoneStatusPaid:       {},
	}

	for _, status := range transitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// PaymentStatus статус платежа.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusCancelled:
		return true
	}
	return false
}

// IsTerminal сообщает, завершён ли платёж. Инвариант "не более одного
// активного платежа на этап" считает активными только pending и processing.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusCancelled:
		return true
	}
	return false
}

// Роли пользователей.
const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
)

// Типы уведомлений.
const (
	NotificationContractCreated    = "contract.created"
	NotificationContractCancelled  = "contract.cancelled"
	NotificationContractDisputed   = "contract.disputed"
	NotificationMilestoneSubmitted = "milestone.submitted"
	NotificationMilestoneApproved  = "milestone.approved"
	NotificationMilestoneRejected  = "milestone.rejected"
	NotificationPaymentCompleted   = "payment.completed"
	NotificationPaymentFailed      = "payment.failed"
	NotificationContractCompleted  = "contract.completed"
)

// Приоритеты уведомлений.
const (
	NotificationPriorityLow    = "low"
	NotificationPriorityNormal = "normal"
	NotificationPriorityHigh   = "high"
)
