package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Типы событий вебхуков шлюза.
const (
	EventPaymentSucceeded = "payment_intent.succeeded"
	EventPaymentFailed    = "payment_intent.payment_failed"
	EventPaymentRefunded  = "charge.refunded"
	EventDisputeCreated   = "charge.dispute.created"
)

// Заголовок с HMAC подписью тела вебхука.
const SignatureHeader = "X-Gateway-Signature"

var ErrInvalidSignature = errors.New("gateway: invalid webhook signature")

// WebhookEvent разобранное событие вебхука.
type WebhookEvent struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Intent struct {
		ID            string `json:"id"`
		Status        string `json:"status"`
		FailureReason string `json:"failure_reason,omitempty"`
	} `json:"data"`
}

// VerifySignature проверяет HMAC-SHA256 подпись тела вебхука.
// Сравнение за константное время, чтобы не утекал префикс подписи.
func VerifySignature(payload []byte, signature, secret string) error {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseEvent разбирает тело вебхука после проверки подписи.
func ParseEvent(payload []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("gateway: не удалось разобрать событие вебхука: %w", err)
	}
	if event.Type == "" || event.Intent.ID == "" {
		return nil, fmt.Errorf("gateway: событие вебхука без типа или ссылки на платёж")
	}
	return &event, nil
}
