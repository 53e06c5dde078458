package dto

import "github.com/ignatzorin/freelance-contracts/internal/models"

// ErrorResponse стандартный формат ошибки API.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`

	// RequiresPaymentSetup подсказывает клиенту, что перед повтором
	// запроса нужно привязать способ оплаты через setup intent.
	RequiresPaymentSetup bool `json:"requires_payment_setup,omitempty"`
}

// SuccessResponse стандартный формат успешного ответа с сообщением.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ContractListResponse страница контрактов пользователя.
type ContractListResponse struct {
	Contracts []models.Contract `json:"contracts"`
	Total     int               `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// ApproveMilestoneResponse результат принятия этапа: обновлённый
// контракт и платёж, запущенный по принятому этапу.
type ApproveMilestoneResponse struct {
	Contract *models.Contract `json:"contract"`
	Payment  *models.Payment  `json:"payment,omitempty"`
}

// UnreadCountResponse счётчик непрочитанных уведомлений.
type UnreadCountResponse struct {
	Count int `json:"count"`
}
