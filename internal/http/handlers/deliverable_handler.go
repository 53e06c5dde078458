package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-contracts/internal/http/handlers/common"
	"github.com/ignatzorin/freelance-contracts/internal/service"
)

// DeliverableHandler обслуживает загрузку и выдачу файлов сдачи этапов.
type DeliverableHandler struct {
	deliverables *service.DeliverableService
}

// NewDeliverableHandler создаёт новый хэндлер.
func NewDeliverableHandler(deliverables *service.DeliverableService) *DeliverableHandler {
	return &DeliverableHandler{deliverables: deliverables}
}

// Upload обрабатывает POST /contracts/:id/milestones/:milestoneId/deliverables.
// Файл передаётся как multipart поле "file".
func (h *DeliverableHandler) Upload(c *gin.Context) {
	userID, contractID, milestoneID, ok := h.ids(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		common.RespondBadRequest(c, "файл обязателен (multipart поле file)")
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		common.RespondBadRequest(c, "не удалось открыть файл")
		return
	}
	defer f.Close()

	deliverable, err := h.deliverables.Upload(c.Request.Context(), contractID, milestoneID, userID, fileHeader.Filename, f)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, deliverable)
}

// List обрабатывает GET /contracts/:id/milestones/:milestoneId/deliverables.
func (h *DeliverableHandler) List(c *gin.Context) {
	userID, contractID, milestoneID, ok := h.ids(c)
	if !ok {
		return
	}

	deliverables, err := h.deliverables.List(c.Request.Context(), contractID, milestoneID, userID)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, deliverables)
}

// Download обрабатывает GET /contracts/:id/deliverables/:deliverableId/file.
func (h *DeliverableHandler) Download(c *gin.Context) {
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
	deliverableID, err := common.ParseUUIDParam(c, "deliverableId")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return
	}

	path, err := h.deliverables.FilePath(c.Request.Context(), contractID, deliverableID, userID)
	if err != nil {
		common.RespondWithError(c, err)
		return
	}

	c.File(path)
}

func (h *DeliverableHandler) ids(c *gin.Context) (userID, contractID, milestoneID uuid.UUID, ok bool) {
	userID, err := common.CurrentUserID(c)
	if err != nil {
		common.RespondUnauthorized(c, err.Error())
		return uuid.Nil, uuid.Nil, uuid.Nil, false
	}

	contractID, err = common.ParseUUIDParam(c, "id")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return uuid.Nil, uuid.Nil, uuid.Nil, false
	}

	milestoneID, err = common.ParseUUIDParam(c, "milestoneId")
	if err != nil {
		common.RespondBadRequest(c, err.Error())
		return uuid.Nil, uuid.Nil, uuid.Nil, false
	}

	return userID, contractID, milestoneID, true
}
