package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment представляет одну попытку перевода средств от заказчика
// исполнителю за конкретный этап. Изменяется только оркестратором
// платежей и обработчиком вебхуков.
type Payment struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	ContractID      uuid.UUID     `db:"contract_id" json:"contract_id"`
	MilestoneID     uuid.UUID     `db:"milestone_id" json:"milestone_id"`
	PayerID         uuid.UUID     `db:"payer_id" json:"payer_id"`
	PayeeID         uuid.UUID     `db:"payee_id" json:"payee_id"`
	Amount          float64       `db:"amount" json:"amount"`
	PlatformFee     float64       `db:"platform_fee" json:"platform_fee"`
	NetAmount       float64       `db:"net_amount" json:"net_amount"`
	Currency        string        `db:"currency" json:"currency"`
	Status          PaymentStatus `db:"status" json:"status"`
	GatewayRef      *string       `db:"gateway_ref" json:"gateway_ref,omitempty"`
	PaymentMethodID *string       `db:"payment_method_id" json:"payment_method_id,omitempty"`
	RetryCount      int           `db:"retry_count" json:"retry_count"`
	FailureReason   *string       `db:"failure_reason" json:"failure_reason,omitempty"`
	ManualReview    bool          `db:"manual_review" json:"manual_review"`
	NextRetryAt     *time.Time    `db:"next_retry_at" json:"next_retry_at,omitempty"`
	ProcessingAt    *time.Time    `db:"processing_at" json:"processing_at,omitempty"`
	CompletedAt     *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
	FailedAt        *time.Time    `db:"failed_at" json:"failed_at,omitempty"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// NewPayment создаёт платёж по этапу контракта. Комиссия площадки
// удерживается из суммы этапа: исполнитель получает net_amount.
func NewPayment(c *Contract, m *Milestone, feePercent float64) *Payment {
	fee := round2(m.Amount * feePercent / 100)
	now := time.Now()
	return &Payment{
		ID:          uuid.New(),
		ContractID:  c.ID,
		MilestoneID: m.ID,
		PayerID:     c.ClientID,
		PayeeID:     c.FreelancerID,
		Amount:      m.Amount,
		PlatformFee: fee,
		NetAmount:   round2(m.Amount - fee),
		Currency:    c.Currency,
		Status:      PaymentStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// MarkProcessing фиксирует отправку платежа в шлюз.
func (p *Payment) MarkProcessing(gatewayRef, paymentMethodID string) {
	now := time.Now()
	p.Status = PaymentStatusProcessing
	p.GatewayRef = &gatewayRef
	p.PaymentMethodID = &paymentMethodID
	p.ProcessingAt = &now
	p.UpdatedAt = now
}

// MarkCompleted фиксирует успешное завершение платежа. Повторный вызов —
// no-op: синхронный путь и вебхук могут гоняться за одним платежом.
func (p *Payment) MarkCompleted() bool {
	if p.Status == PaymentStatusCompleted {
		return false
	}
	now := time.Now()
	p.Status = PaymentStatusCompleted
	p.CompletedAt = &now
	p.FailureReason = nil
	p.NextRetryAt = nil
	p.UpdatedAt = now
	return true
}

// MarkFailed фиксирует неуспех платежа с причиной.
func (p *Payment) MarkFailed(reason string) {
	now := time.Now()
	p.Status = PaymentStatusFailed
	p.FailureReason = &reason
	p.FailedAt = &now
	p.UpdatedAt = now
}

// CanRetry сообщает, допустим ли повтор платежа.
func (p *Payment) CanRetry(limit int) bool {
	return p.Status == PaymentStatusFailed && p.RetryCount < limit
}

// ResetForRetry возвращает платёж в pending для новой попытки.
// Момент, раньше которого повтор недоступен, фиксируется в NextRetryAt
// при неуспехе; здесь он сбрасывается вместе с причиной.
func (p *Payment) ResetForRetry() {
	p.Status = PaymentStatusPending
	p.RetryCount++
	p.FailureReason = nil
	p.GatewayRef = nil
	p.NextRetryAt = nil
	p.UpdatedAt = time.Now()
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

// PaymentMethod сохранённый способ оплаты пользователя. Появляется после
// подтверждения setup intent в платёжном шлюзе.
type PaymentMethod struct {
	ID              uuid.UUID `db:"id" json:"id"`
	UserID          uuid.UUID `db:"user_id" json:"user_id"`
	GatewayMethodID string    `db:"gateway_method_id" json:"gateway_method_id"`
	Brand           *string   `db:"brand" json:"brand,omitempty"`
	Last4           *string   `db:"last4" json:"last4,omitempty"`
	IsDefault       bool      `db:"is_default" json:"is_default"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}
