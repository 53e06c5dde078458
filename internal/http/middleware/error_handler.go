package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-contracts/internal/dto"
	"github.com/ignatzorin/freelance-contracts/internal/logger"
	"github.com/ignatzorin/freelance-contracts/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-contracts/internal/repository"
)

// ErrorHandler обрабатывает ошибки централизованно. Структурированные
// ошибки приложения переводятся в соответствующий HTTP статус, всё
// остальное маскируется как внутренняя ошибка сервера.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Проверяем, не был ли уже отправлен ответ
		if c.Writer.Written() {
			return
		}

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		status, body := MapError(err)

		if status >= http.StatusInternalServerError && logger.Log != nil {
			logger.Log.WithFields(logrus.Fields{
				"error":  err.Error(),
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
			}).Error("Request error")
		}

		c.JSON(status, body)
	}
}

// MapError переводит ошибку в HTTP статус и тело ответа.
func MapError(err error) (int, dto.ErrorResponse) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus, dto.ErrorResponse{
			Error:                appErr.Message,
			Code:                 string(appErr.Code),
			RequiresPaymentSetup: appErr.RequiresPaymentSetup,
		}
	}

	switch {
	case errors.Is(err, repository.ErrContractNotFound):
		return http.StatusNotFound, dto.ErrorResponse{Error: "контракт не найден", Code: string(apperror.ErrCodeNotFound)}
	case errors.Is(err, repository.ErrPaymentNotFound):
		return http.StatusNotFound, dto.ErrorResponse{Error: "платёж не найден", Code: string(apperror.ErrCodeNotFound)}
	case errors.Is(err, repository.ErrPaymentMethodNotFound):
		return http.StatusNotFound, dto.ErrorResponse{Error: "способ оплаты не найден", Code: string(apperror.ErrCodeNotFound)}
	case errors.Is(err, repository.ErrNotificationNotFound):
		return http.StatusNotFound, dto.ErrorResponse{Error: "уведомление не найдено", Code: string(apperror.ErrCodeNotFound)}
	case errors.Is(err, repository.ErrDeliverableNotFound):
		return http.StatusNotFound, dto.ErrorResponse{Error: "файл не найден", Code: string(apperror.ErrCodeNotFound)}
	case errors.Is(err, repository.ErrUserNotFound):
		return http.StatusNotFound, dto.ErrorResponse{Error: "пользователь не найден", Code: string(apperror.ErrCodeNotFound)}
	case errors.Is(err, repository.ErrVersionConflict):
		return http.StatusConflict, dto.ErrorResponse{Error: "контракт изменён параллельно, повторите запрос", Code: string(apperror.ErrCodeConflict)}
	}

	return http.StatusInternalServerError, dto.ErrorResponse{
		Error: "внутренняя ошибка сервера",
		Code:  string(apperror.ErrCodeInternal),
	}
}
