package dto

import "time"

// RegisterRequest тело запроса регистрации.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// LoginRequest тело запроса входа.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest тело запроса обновления токенов.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// MilestoneRequest этап в запросе создания контракта.
type MilestoneRequest struct {
	Title       string     `json:"title" binding:"required"`
	Description *string    `json:"description"`
	Amount      float64    `json:"amount" binding:"required"`
	DeadlineAt  *time.Time `json:"deadline_at"`
}

// CreateContractRequest тело запроса создания контракта.
type CreateContractRequest struct {
	ProjectID    string             `json:"project_id" binding:"required"`
	FreelancerID string             `json:"freelancer_id" binding:"required"`
	TotalAmount  float64            `json:"total_amount" binding:"required"`
	Currency     string             `json:"currency" binding:"required"`
	Milestones   []MilestoneRequest `json:"milestones" binding:"required"`
}

// RejectMilestoneRequest тело запроса отклонения этапа.
type RejectMilestoneRequest struct {
	Feedback string `json:"feedback" binding:"required"`
}

// ApproveMilestoneRequest управляет платёжной частью принятия этапа.
// Пустое тело означает оплату по умолчанию.
type ApproveMilestoneRequest struct {
	ProcessPayment  *bool  `json:"process_payment"`
	PaymentMethodID string `json:"payment_method_id"`
	SetupIntentID   string `json:"setup_intent_id"`
}

// ConfirmSetupRequest тело запроса подтверждения setup intent.
type ConfirmSetupRequest struct {
	SetupIntentID string `json:"setup_intent_id" binding:"required"`
}
