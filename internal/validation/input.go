package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Константы валидации
const (
	MinUsernameLength          = 3
	MaxUsernameLength          = 30
	MinMilestoneTitleLength    = 3
	MaxMilestoneTitleLength    = 200
	MaxMilestoneDescriptionLen = 5000
	MaxFeedbackLength          = 2000
	MinAmount                  = 0.0
	MaxAmount                  = 100000000.0 // 100 миллионов
	MaxMilestonesPerContract   = 50
)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateEmail проверяет формат email.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email обязателен")
	}

	email = strings.TrimSpace(email)
	email = strings.ToLower(email)

	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return fmt.Errorf("некорректный формат email")
	}

	localPart := parts[0]
	domainPart := parts[1]

	if len(localPart) == 0 || len(localPart) > 64 {
		return fmt.Errorf("локальная часть email должна быть от 1 до 64 символов")
	}

	if len(domainPart) == 0 || len(domainPart) > 255 {
		return fmt.Errorf("доменная часть email должна быть от 1 до 255 символов")
	}

	emailRegex := regexp.MustCompile(`^[a-z0-9._+-]+$`)
	if !emailRegex.MatchString(localPart) {
		return fmt.Errorf("локальная часть email содержит недопустимые символы")
	}

	domainRegex := regexp.MustCompile(`^[a-z0-9.-]+\.[a-z]{2,}$`)
	if !domainRegex.MatchString(domainPart) {
		return fmt.Errorf("доменная часть email имеет некорректный формат")
	}

	return nil
}

// ValidateUsername проверяет имя пользователя.
func ValidateUsername(username string) error {
	if username == "" {
		return fmt.Errorf("имя пользователя обязательно")
	}

	username = strings.TrimSpace(username)

	if err := ValidateLength("имя пользователя", username, MinUsernameLength, MaxUsernameLength); err != nil {
		return err
	}

	usernameRegex := regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	if !usernameRegex.MatchString(username) {
		return fmt.Errorf("имя пользователя может содержать только буквы, цифры и подчеркивание")
	}

	if unicode.IsDigit(rune(username[0])) {
		return fmt.Errorf("имя пользователя не может начинаться с цифры")
	}

	return nil
}

// ValidateMilestoneTitle проверяет название этапа.
func ValidateMilestoneTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("название этапа обязательно")
	}
	return ValidateLength("название этапа", strings.TrimSpace(title), MinMilestoneTitleLength, MaxMilestoneTitleLength)
}

// ValidateMilestoneDescription проверяет описание этапа.
func ValidateMilestoneDescription(description *string) error {
	if description != nil && *description != "" {
		return ValidateLength("описание этапа", strings.TrimSpace(*description), 0, MaxMilestoneDescriptionLen)
	}
	return nil
}

// ValidateFeedback проверяет комментарий при отклонении этапа.
func ValidateFeedback(feedback string) error {
	return ValidateLength("комментарий", strings.TrimSpace(feedback), 0, MaxFeedbackLength)
}

// ValidateAmount проверяет денежную сумму.
func ValidateAmount(fieldName string, amount float64) error {
	if amount <= MinAmount {
		return fmt.Errorf("%s должна быть положительной", fieldName)
	}
	if amount > MaxAmount {
		return fmt.Errorf("%s не может превышать %.0f", fieldName, MaxAmount)
	}
	return nil
}

// ValidateCurrency проверяет код валюты (ISO 4217).
func ValidateCurrency(currency string) error {
	currencyRegex := regexp.MustCompile(`^[A-Z]{3}$`)
	if !currencyRegex.MatchString(currency) {
		return fmt.Errorf("валюта должна быть трёхбуквенным кодом, например USD")
	}
	return nil
}
