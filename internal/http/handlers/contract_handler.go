package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-contracts/internal/dto"
	"github.com/ignatzorin/freelance-contracts/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-contracts/internal/models"
	"github.com/ignatzorin/freelance-contracts/internal/service"
	"github.com/ignatzorin/freelance-contracts/internal/validation"
)

// ContractHandler обслуживает маршруты контрактов и переходов этапов.
type ContractHandler struct {
	contracts *service.ContractService
}

// NewContractHandler создаёт новый хэндлер.
func NewContractHandler(contracts *service.ContractService) *ContractHandler {
	return &ContractHandler{contracts: contracts}
}

// CreateContract обрабатывает POST /contracts.
func (h *ContractHandler) CreateContract(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	var req dto.CreateContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		common.RespondBadRequest(c, "project_id должен быть валидным UUID")
		return
	}
	freelancerID, err := uuid.Parse(req.FreelancerID)
	if err != nil {
		common.RespondBadRequest(c, "freelancer_id должен быть валидным UUID")
		return
	}

	if err := validation.ValidateAmount("сумма контракта", req.TotalAmount); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	if err := validation.ValidateCurrency(req.Currency); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}
	if len(req.Milestones) == 0 {
		common.RespondBadRequest(c, "контракт должен содержать хотя бы один этап")
		return
	}
	if len(req.Milestones) > validation.MaxMilestonesPerContract {
		common.RespondBadRequest(c, fmt.Sprintf("контракт не может содержать более %d этапов", validation.MaxMilestonesPerContract))
		return
	}

	milestones := make([]models.MilestoneInput, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		if err := validation.ValidateMilestoneTitle(m.Title); err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}
		if err := validation.ValidateMilestoneDescription(m.Description); err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}
		if err := validation.ValidateAmount("сумма этапа", m.Amount); err != nil {
			common.RespondBadRequest(c, err.Error())
			return
		}

		milestones = append(milestones, models.MilestoneInput{
			Title:       m.Title,
			Description: m.Description,
			Amount:      m.Amount,
			DeadlineAt:  m.DeadlineAt,
		})
	}

	contract, err := h.contracts.CreateContract(c.Request.Context(), userID, projectID, freelancerID, req.TotalAmount, req.Currency, milestones)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, contract)
}

// GetContract обрабатывает GET /contracts/:id.
func (h *ContractHandler) GetContract(c *gin.Context) {
	userID, contractID, ok := h.idPair(c)
	if !ok {
		return
	}

	contract, err := h.contracts.GetContract(c.Request.Context(), contractID, userID)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// ListContracts обрабатывает GET /contracts.
func (h *ContractHandler) ListContracts(c *gin.Context) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return
	}

	limit, offset := common.GetPagination(c)
	contracts, total, err := h.contracts.ListContracts(c.Request.Context(), userID, limit, offset)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.ContractListResponse{
		Contracts: contracts,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	})
}

// StartMilestone обрабатывает POST /contracts/:id/milestones/:milestoneId/start.
func (h *ContractHandler) StartMilestone(c *gin.Context) {
	userID, contractID, milestoneID, ok := h.milestoneIDs(c)
	if !ok {
		return
	}

	contract, err := h.contracts.StartMilestone(c.Request.Context(), contractID, milestoneID, userID)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// SubmitMilestone обрабатывает POST /contracts/:id/milestones/:milestoneId/submit.
func (h *ContractHandler) SubmitMilestone(c *gin.Context) {
	userID, contractID, milestoneID, ok := h.milestoneIDs(c)
	if !ok {
		return
	}

	contract, err := h.contracts.SubmitMilestone(c.Request.Context(), contractID, milestoneID, userID)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// RejectMilestone обрабатывает POST /contracts/:id/milestones/:milestoneId/reject.
func (h *ContractHandler) RejectMilestone(c *gin.Context) {
	userID, contractID, milestoneID, ok := h.milestoneIDs(c)
	if !ok {
		return
	}

	var req dto.RejectMilestoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.RespondBadRequest(c, "комментарий обязателен при отклонении этапа")
		return
	}
	if err := validation.ValidateFeedback(req.Feedback); err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	contract, err := h.contracts.RejectMilestone(c.Request.Context(), contractID, milestoneID, userID, req.Feedback)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// CancelContract обрабатывает POST /contracts/:id/cancel.
func (h *ContractHandler) CancelContract(c *gin.Context) {
	userID, contractID, ok := h.idPair(c)
	if !ok {
		return
	}

	contract, err := h.contracts.CancelContract(c.Request.Context(), contractID, userID)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

// DisputeContract обрабатывает POST /contracts/:id/dispute.
func (h *ContractHandler) DisputeContract(c *gin.Context) {
	userID, contractID, ok := h.idPair(c)
	if !ok {
		return
	}

	contract, err := h.contracts.DisputeContract(c.Request.Context(), contractID, userID)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, contract)
}

func (h *ContractHandler) idPair(c *gin.Context) (userID, contractID uuid.UUID, ok bool) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}

	contractID, err = common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return uuid.Nil, uuid.Nil, false
	}

	return userID, contractID, true
}

func (h *ContractHandler) milestoneIDs(c *gin.Context) (userID, contractID, milestoneID uuid.UUID, ok bool) {
	userID, contractID, ok = h.idPair(c)
	if !ok {
		return uuid.Nil, uuid.Nil, uuid.Nil, false
	}

	milestoneID, err := common.ParseUUIDParam(c, "milestoneId")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return uuid.Nil, uuid.Nil, uuid.Nil, false
	}

	return userID, contractID, milestoneID, true
}
