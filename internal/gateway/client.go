package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Статусы платёжного намерения на стороне шлюза.
const (
	IntentStatusSucceeded       = "succeeded"
	IntentStatusProcessing      = "processing"
	IntentStatusRequiresCapture = "requires_capture"
	IntentStatusFailed          = "failed"
)

// PaymentIntent результат создания платежа в шлюзе.
type PaymentIntent struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// SetupIntent результат создания намерения привязки способа оплаты.
// ClientSecret передаётся фронтенду для завершения привязки.
type SetupIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
}

// PaymentMethodDetails данные способа оплаты после подтверждения setup
// intent.
type PaymentMethodDetails struct {
	ID    string `json:"id"`
	Brand string `json:"brand,omitempty"`
	Last4 string `json:"last4,omitempty"`
}

// CreateIntentRequest параметры создания платежа.
type CreateIntentRequest struct {
	Amount          float64           `json:"amount"`
	Currency        string            `json:"currency"`
	PaymentMethodID string            `json:"payment_method_id"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Client реализует обращения к платёжному шлюзу по HTTP API.
// Все ошибки шлюза (сеть, таймауты, отказы) возвращаются вызывающей
// стороне как обычные ошибки; интерпретирует их оркестратор платежей.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient создаёт экземпляр клиента.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreatePaymentIntent создаёт и сразу подтверждает платёж сохранённым
// способом оплаты. Metadata привязывает платёж шлюза к нашему.
func (c *Client) CreatePaymentIntent(ctx context.Context, req CreateIntentRequest) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.post(ctx, "payment_intents", req, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// CapturePayment списывает средства по ранее созданному платежу.
// Шлюз может ответить processing: окончательный статус придёт вебхуком.
func (c *Client) CapturePayment(ctx context.Context, intentID string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.post(ctx, "payment_intents/"+intentID+"/capture", struct{}{}, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetPaymentIntent возвращает текущее состояние платежа в шлюзе.
func (c *Client) GetPaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.get(ctx, "payment_intents/"+intentID, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// CreateSetupIntent создаёт намерение привязки способа оплаты для
// пользователя без сохранённых способов.
func (c *Client) CreateSetupIntent(ctx context.Context, customerRef string) (*SetupIntent, error) {
	payload := map[string]string{"customer_ref": customerRef}
	var intent SetupIntent
	if err := c.post(ctx, "setup_intents", payload, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// ConfirmSetupIntent подтверждает setup intent и возвращает данные
// привязанного способа оплаты.
func (c *Client) ConfirmSetupIntent(ctx context.Context, setupIntentID string) (*PaymentMethodDetails, error) {
	var details PaymentMethodDetails
	if err := c.post(ctx, "setup_intents/"+setupIntentID+"/confirm", struct{}{}, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

// RefundPayment инициирует возврат средств по платежу шлюза.
func (c *Client) RefundPayment(ctx context.Context, intentID string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := c.post(ctx, "payment_intents/"+intentID+"/refund", struct{}{}, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

// post выполняет POST запрос к шлюзу и декодирует ответ в out.
func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("gateway: baseURL не задан")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errorBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errorBody)
		return fmt.Errorf("gateway: код ответа %d: %v", resp.StatusCode, errorBody)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// get выполняет GET запрос к шлюзу и декодирует ответ в out.
func (c *Client) get(ctx context.Context, path string, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("gateway: baseURL не задан")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errorBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errorBody)
		return fmt.Errorf("gateway: код ответа %d: %v", resp.StatusCode, errorBody)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) url(path string) string {
	base := c.baseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + path
}
