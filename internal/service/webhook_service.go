package service

import (
	"context"

	"github.com/ignatzorin/freelance-contracts/internal/gateway"
	"github.com/ignatzorin/freelance-contracts/internal/logger"
	"github.com/ignatzorin/freelance-contracts/internal/pkg/apperror"
)

// WebhookService принимает события платёжного шлюза: проверяет подпись,
// разбирает тело и передаёт событие оркестратору платежей.
type WebhookService struct {
	secret   string
	payments *PaymentService
}

// NewWebhookService создаёт новый сервис вебхуков.
func NewWebhookService(secret string, payments *PaymentService) *WebhookService {
	return &WebhookService{secret: secret, payments: payments}
}

// HandleEvent проверяет подпись и применяет событие. Ошибка подписи —
// это 401: тело не читается и не применяется.
func (s *WebhookService) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	if err := gateway.VerifySignature(payload, signature, s.secret); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeUnauthorized, "недействительная подпись вебхука")
	}

	event, err := gateway.ParseEvent(payload)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeBadRequest, "не удалось разобрать событие вебхука")
	}

	logger.WithFields(map[string]interface{}{
		"event_id":    event.ID,
		"event_type":  event.Type,
		"gateway_ref": event.Intent.ID,
	}).Info("webhook service: получено событие шлюза")

	return s.payments.HandleGatewayEvent(ctx, event)
}
