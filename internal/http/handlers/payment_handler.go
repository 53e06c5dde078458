package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/freelance-contracts/internal/dto"
	"github.com/ignatzorin/freelance-contracts/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-contracts/internal/service"
)

// PaymentHandler обслуживает маршруты платежей и способов оплаты.
type PaymentHandler struct {
	payments *service.PaymentService
}

// NewPaymentHandler создаёт новый хэндлер.
func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// ApproveMilestone обрабатывает POST /contracts/:id/milestones/:milestoneId/approve.
// Принятие этапа запускает выплату исполнителю; тело запроса
// необязательно и управляет платёжной частью.
func (h *PaymentHandler) ApproveMilestone(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	contractID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	milestoneID, err := common.ParseUUIDParam(c, "milestoneId")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	var req dto.ApproveMilestoneRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}
	}

	opts := service.ApproveOptions{
		ProcessPayment:  true,
		PaymentMethodID: req.PaymentMethodID,
		SetupIntentID:   req.SetupIntentID,
	}
	if req.ProcessPayment != nil {
		opts.ProcessPayment = *req.ProcessPayment
	}

	result, err := h.payments.ApproveMilestoneWithPayment(c.Request.Context(), contractID, milestoneID, userID, opts)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ApproveMilestoneResponse{
		Contract: result.Contract,
		Payment:  result.Payment,
	})
}

// RetryPayment обрабатывает POST /payments/:id/retry.
func (h *PaymentHandler) RetryPayment(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	paymentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payment, err := h.payments.RetryPayment(c.Request.Context(), paymentID, userID)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// GetPayment обрабатывает GET /payments/:id.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	paymentID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payment, err := h.payments.GetPayment(c.Request.Context(), paymentID, userID)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// ListContractPayments обрабатывает GET /contracts/:id/payments.
func (h *PaymentHandler) ListContractPayments(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	contractID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	payments, err := h.payments.ListContractPayments(c.Request.Context(), contractID, userID)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, payments)
}

// CreateSetupIntent обрабатывает POST /payment-methods/setup-intent.
func (h *PaymentHandler) CreateSetupIntent(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	intent, err := h.payments.CreateSetupIntent(c.Request.Context(), userID)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, intent)
}

// ConfirmSetupIntent обрабатывает POST /payment-methods/confirm.
func (h *PaymentHandler) ConfirmSetupIntent(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.ConfirmSetupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	method, err := h.payments.ConfirmSetupIntent(c.Request.Context(), userID, req.SetupIntentID)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, method)
}

// ListPaymentMethods обрабатывает GET /payment-methods.
func (h *PaymentHandler) ListPaymentMethods(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	methods, err := h.payments.ListPaymentMethods(c.Request.Context(), userID)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, methods)
}

// DeletePaymentMethod обрабатывает DELETE /payment-methods/:id.
func (h *PaymentHandler) DeletePaymentMethod(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}
	methodID, err := common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	if err := h.payments.DeletePaymentMethod(c.Request.Context(), methodID, userID); err != nil {
		common.RespondWithError(c, err)
		return
	}

	common.RespondSuccess(c, http.StatusOK, "способ оплаты удалён", nil)
}
