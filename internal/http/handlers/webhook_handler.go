package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/freelance-contracts/internal/gateway"
	"github.com/ignatzorin/freelance-contracts/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-contracts/internal/service"
)

// Вебхуки шлюза не бывают большими, лимит защищает от мусорных запросов.
const maxWebhookBodyBytes = 64 * 1024

// WebhookHandler принимает события платёжного шлюза.
type WebhookHandler struct {
	webhooks *service.WebhookService
}

// NewWebhookHandler создаёт новый хэндлер.
func NewWebhookHandler(webhooks *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// Handle обрабатывает POST /webhooks/gateway. Подпись проверяется по
// сырому телу запроса, поэтому JSON не биндится через gin.
func (h *WebhookHandler) Handle(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		common.RespondBadRequest(c, "не удалось прочитать тело запроса")
		return
	}

	signature := c.GetHeader(gateway.SignatureHeader)
	if err := h.webhooks.HandleEvent(c.Request.Context(), payload, signature); err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
