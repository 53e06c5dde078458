package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewPayment_FeeCalculation(t *testing.T) {
	contract, err := NewContract(uuid.New(), uuid.New(), uuid.New(), 999.99, "RUB", []MilestoneInput{
		{Title: "Этап", Amount: 999.99},
	})
	assert.NoError(t, err)

	p := NewPayment(contract, &contract.Milestones[0], 10)
	assert.Equal(t, 999.99, p.Amount)
	assert.Equal(t, 100.0, p.PlatformFee)
	assert.Equal(t, 899.99, p.NetAmount)
	assert.Equal(t, PaymentStatusPending, p.Status)
	assert.Equal(t, contract.ClientID, p.PayerID)
	assert.Equal(t, contract.FreelancerID, p.PayeeID)
}

func TestPayment_MarkCompletedIsIdempotent(t *testing.T) {
	p := &Payment{Status: PaymentStatusProcessing}

	assert.True(t, p.MarkCompleted())
	assert.Equal(t, PaymentStatusCompleted, p.Status)
	assert.NotNil(t, p.CompletedAt)

	// Гонка синхронного пути и вебхука.
	assert.False(t, p.MarkCompleted())
}

func TestPayment_RetryCycle(t *testing.T) {
	p := &Payment{Status: PaymentStatusPending}

	p.MarkFailed("недостаточно средств")
	assert.Equal(t, PaymentStatusFailed, p.Status)
	assert.Equal(t, "недостаточно средств", *p.FailureReason)
	assert.True(t, p.CanRetry(3))

	p.ResetForRetry()
	assert.Equal(t, PaymentStatusPending, p.Status)
	assert.Equal(t, 1, p.RetryCount)
	assert.Nil(t, p.FailureReason)
	assert.Nil(t, p.GatewayRef)
	assert.Nil(t, p.NextRetryAt)
}

func TestPayment_CanRetryRespectsLimit(t *testing.T) {
	p := &Payment{Status: PaymentStatusFailed, RetryCount: 3}
	assert.False(t, p.CanRetry(3))

	p.RetryCount = 2
	assert.True(t, p.CanRetry(3))

	p.Status = PaymentStatusCompleted
	assert.False(t, p.CanRetry(3), "повторяются только неуспешные")
}
