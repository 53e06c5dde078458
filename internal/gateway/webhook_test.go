package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{"id":"pi_1"}}`)
	secret := "whsec_test"

	assert.NoError(t, VerifySignature(payload, sign(payload, secret), secret))

	assert.ErrorIs(t, VerifySignature(payload, sign(payload, "другой секрет"), secret), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature(payload, "", secret), ErrInvalidSignature)

	tampered := append([]byte{}, payload...)
	tampered[10] = 'x'
	assert.ErrorIs(t, VerifySignature(tampered, sign(payload, secret), secret), ErrInvalidSignature)
}

func TestParseEvent(t *testing.T) {
	payload := []byte(`{
		"id": "evt_1",
		"type": "payment_intent.payment_failed",
		"data": {"id": "pi_1", "status": "failed", "failure_reason": "недостаточно средств"}
	}`)

	event, err := ParseEvent(payload)
	assert.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, EventPaymentFailed, event.Type)
	assert.Equal(t, "pi_1", event.Intent.ID)
	assert.Equal(t, "недостаточно средств", event.Intent.FailureReason)
}

func TestParseEvent_Invalid(t *testing.T) {
	_, err := ParseEvent([]byte(`не json`))
	assert.Error(t, err)

	_, err = ParseEvent([]byte(`{"id":"evt_1","data":{"id":"pi_1"}}`))
	assert.Error(t, err, "событие без типа")

	_, err = ParseEvent([]byte(`{"id":"evt_1","type":"payment_intent.succeeded","data":{}}`))
	assert.Error(t, err, "событие без ссылки на платёж")
}
