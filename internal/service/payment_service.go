package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignatzorin/freelance-contracts/internal/gateway"
	"github.com/ignatzorin/freelance-contracts/internal/goroutine"
	"github.com/ignatzorin/freelance-contracts/internal/logger"
	"github.com/ignatzorin/freelance-contracts/internal/models"
	"github.com/ignatzorin/freelance-contracts/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-contracts/internal/repository"
)

// PaymentRepository описывает взаимодействие сервиса с хранилищем платежей.
type PaymentRepository interface {
	Create(ctx context.Context, p *models.Payment) error
	Update(ctx context.Context, p *models.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindActiveByMilestone(ctx context.Context, milestoneID uuid.UUID) (*models.Payment, error)
	FindByGatewayRef(ctx context.Context, gatewayRef string) (*models.Payment, error)
	ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.Payment, error)
	ListByMilestone(ctx context.Context, milestoneID uuid.UUID) ([]models.Payment, error)
}

// PaymentMethodRepository описывает хранилище сохранённых способов оплаты.
type PaymentMethodRepository interface {
	Create(ctx context.Context, pm *models.PaymentMethod) error
	HasSavedMethods(ctx context.Context, userID uuid.UUID) (bool, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PaymentMethod, error)
	Delete(ctx context.Context, id, userID uuid.UUID) error
}

// GatewayClient описывает обращения к платёжному шлюзу.
type GatewayClient interface {
	CreatePaymentIntent(ctx context.Context, req gateway.CreateIntentRequest) (*gateway.PaymentIntent, error)
	CapturePayment(ctx context.Context, intentID string) (*gateway.PaymentIntent, error)
	CreateSetupIntent(ctx context.Context, customerRef string) (*gateway.SetupIntent, error)
	ConfirmSetupIntent(ctx context.Context, setupIntentID string) (*gateway.PaymentMethodDetails, error)
}

// PaymentPolicy параметры платёжной политики из конфигурации.
type PaymentPolicy struct {
	FeePercent   float64
	RetryLimit   int
	RetryBackoff time.Duration
}

// ApprovalResult итог принятия этапа: обновлённый агрегат и платёж.
// Сбой оплаты не отменяет принятие, поэтому платёж в результате может
// быть в статусе failed.
type ApprovalResult struct {
	Contract *models.Contract `json:"contract"`
	Payment  *models.Payment  `json:"payment"`
}

// PaymentService оркеструет оплату этапов: принятие работы, создание
// платежа, обращение к шлюзу, повторы и сверку по вебхукам.
type PaymentService struct {
	contracts ContractRepository
	payments  PaymentRepository
	methods   PaymentMethodRepository
	gateway   GatewayClient
	notifier  Notifier
	policy    PaymentPolicy
}

// NewPaymentService создаёт новый сервис платежей.
func NewPaymentService(contracts ContractRepository, payments PaymentRepository, methods PaymentMethodRepository, gw GatewayClient, notifier Notifier, policy PaymentPolicy) *PaymentService {
	if policy.RetryLimit <= 0 {
		policy.RetryLimit = 3
	}
	if policy.RetryBackoff <= 0 {
		policy.RetryBackoff = 30 * time.Second
	}
	return &PaymentService{
		contracts: contracts,
		payments:  payments,
		methods:   methods,
		gateway:   gw,
		notifier:  notifier,
		policy:    policy,
	}
}

// ApproveOptions управляет платёжной частью принятия этапа.
type ApproveOptions struct {
	// ProcessPayment выключает платёжную часть: этап принимается,
	// платёж не создаётся.
	ProcessPayment bool
	// PaymentMethodID указывает, каким из сохранённых способов платить.
	PaymentMethodID string
	// SetupIntentID подтверждает привязку нового способа оплаты,
	// когда сохранённых ещё нет.
	SetupIntentID string
}

// ApproveMilestoneWithPayment принимает работу по этапу и запускает
// оплату.
//
// Принятие фиксируется первым и не откатывается: если оплата не
// прошла, этап остаётся принятым, а платёж переводится в failed и
// доступен для повтора. Ошибки шлюза наружу не поднимаются.
func (s *PaymentService) ApproveMilestoneWithPayment(ctx context.Context, contractID, milestoneID, approverID uuid.UUID, opts ApproveOptions) (*ApprovalResult, error) {
	var alreadyApproved, contractCompleted bool
	contract, err := mutateContract(ctx, s.contracts, contractID, func(c *models.Contract) error {
		alreadyApproved, contractCompleted = false, false

		m, err := c.MilestoneByID(milestoneID)
		if err != nil {
			return err
		}
		// Повтор запроса принятия: этап уже принят, переход не нужен,
		// но оплата должна быть доведена до конца.
		if m.Status == models.MilestoneStatusApproved || m.Status == models.MilestoneStatusPaid {
			if approverID != c.ClientID {
				return apperror.New(apperror.ErrCodeForbidden, "принять этап может только заказчик")
			}
			alreadyApproved = true
			return nil
		}
		if err := c.ApproveMilestone(milestoneID, approverID); err != nil {
			return err
		}
		// Принятие последнего этапа завершает контракт той же записью
		// агрегата.
		contractCompleted = c.CompleteIfAllApproved()
		return nil
	})
	if err != nil {
		return nil, err
	}

	milestone, err := contract.MilestoneByID(milestoneID)
	if err != nil {
		return nil, err
	}

	// Этап уже оплачен: новый платёж не создаётся, возвращаем последний.
	if milestone.Status == models.MilestoneStatusPaid {
		history, err := s.payments.ListByMilestone(ctx, milestoneID)
		if err != nil {
			return nil, fmt.Errorf("payment service: list milestone payments %w", err)
		}
		result := &ApprovalResult{Contract: contract}
		if len(history) > 0 {
			result.Payment = &history[0]
		}
		return result, nil
	}

	if !alreadyApproved {
		s.notifyAsync(contract.FreelancerID, models.NotificationMilestoneApproved, "Этап принят",
			"Заказчик принял работу по этапу", milestoneID, models.NotificationPriorityNormal, nil)
	}
	if contractCompleted {
		s.notifyAsync(contract.ClientID, models.NotificationContractCompleted, "Контракт завершён",
			"Все этапы контракта приняты", contract.ID, models.NotificationPriorityNormal, nil)
		s.notifyAsync(contract.FreelancerID, models.NotificationContractCompleted, "Контракт завершён",
			"Все этапы контракта приняты", contract.ID, models.NotificationPriorityNormal, nil)
	}

	if !opts.ProcessPayment {
		return &ApprovalResult{Contract: contract}, nil
	}

	payment, err := s.ensurePayment(ctx, contract, milestone)
	if err != nil {
		return nil, err
	}

	// Платёж уже в обработке: шлюз завершит его и пришлёт вебхук.
	if payment.Status == models.PaymentStatusProcessing {
		return &ApprovalResult{Contract: contract, Payment: payment}, nil
	}

	methodRef, err := s.resolvePaymentMethod(ctx, contract.ClientID, opts)
	if err != nil {
		if apperror.IsGateway(err) {
			// Подтверждение привязки не прошло: платёж деградирует в
			// failed, принятие этапа уже зафиксировано.
			if failErr := s.failPayment(ctx, payment, "не удалось подтвердить привязку способа оплаты"); failErr != nil {
				return nil, failErr
			}
			return &ApprovalResult{Contract: contract, Payment: payment}, nil
		}
		// Способа оплаты нет: платёж остаётся pending до повторного
		// принятия с привязанным способом.
		return nil, err
	}

	contract, err = s.charge(ctx, contract, payment, methodRef)
	if err != nil {
		return nil, err
	}

	return &ApprovalResult{Contract: contract, Payment: payment}, nil
}

// resolvePaymentMethod выбирает способ оплаты по правилам оркестрации:
// при наличии сохранённых способов требуется явный payment_method_id,
// без них — подтверждённый setup intent.
func (s *PaymentService) resolvePaymentMethod(ctx context.Context, payerID uuid.UUID, opts ApproveOptions) (string, error) {
	hasMethods, err := s.methods.HasSavedMethods(ctx, payerID)
	if err != nil {
		return "", fmt.Errorf("payment service: check saved methods %w", err)
	}

	if !hasMethods {
		if opts.SetupIntentID == "" {
			return "", apperror.NewPaymentMethodRequired("у плательщика нет сохранённого способа оплаты", true)
		}
		pm, err := s.ConfirmSetupIntent(ctx, payerID, opts.SetupIntentID)
		if err != nil {
			return "", err
		}
		return pm.GatewayMethodID, nil
	}

	if opts.PaymentMethodID == "" {
		return "", apperror.NewPaymentMethodRequired("укажите, каким из сохранённых способов оплатить", false)
	}

	saved, err := s.methods.ListByUser(ctx, payerID)
	if err != nil {
		return "", fmt.Errorf("payment service: list payment methods %w", err)
	}
	for i := range saved {
		if saved[i].GatewayMethodID == opts.PaymentMethodID {
			return saved[i].GatewayMethodID, nil
		}
	}
	return "", apperror.New(apperror.ErrCodeValidation, "способ оплаты не принадлежит плательщику")
}

// RetryPayment возвращает неуспешный платёж в pending для нового
// прохода оркестрации (повторное принятие этапа подхватит его).
// Доступно плательщику, только для failed, не раньше next_retry_at и
// не больше лимита попыток; после исчерпания лимита платёж помечается
// для ручного разбора.
func (s *PaymentService) RetryPayment(ctx context.Context, paymentID, actorID uuid.UUID) (*models.Payment, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.PayerID != actorID {
		return nil, apperror.ErrForbidden
	}
	if payment.Status != models.PaymentStatusFailed {
		return nil, apperror.New(apperror.ErrCodeInvalidTransition, "повторить можно только неуспешный платёж")
	}
	if payment.NextRetryAt != nil && time.Now().Before(*payment.NextRetryAt) {
		return nil, apperror.New(apperror.ErrCodeConflict,
			fmt.Sprintf("повтор будет доступен после %s", payment.NextRetryAt.Format(time.RFC3339)))
	}
	if !payment.CanRetry(s.policy.RetryLimit) {
		if !payment.ManualReview {
			payment.ManualReview = true
			payment.UpdatedAt = time.Now()
			if err := s.payments.Update(ctx, payment); err != nil {
				return nil, fmt.Errorf("payment service: mark manual review %w", err)
			}
		}
		return nil, apperror.New(apperror.ErrCodeConflict, "лимит повторов исчерпан, платёж передан на ручной разбор")
	}

	payment.ResetForRetry()
	if err := s.payments.Update(ctx, payment); err != nil {
		return nil, fmt.Errorf("payment service: reset for retry %w", err)
	}

	return payment, nil
}

// GetPayment возвращает платёж. Доступен сторонам платежа.
func (s *PaymentService) GetPayment(ctx context.Context, paymentID, userID uuid.UUID) (*models.Payment, error) {
	payment, err := s.getPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.PayerID != userID && payment.PayeeID != userID {
		return nil, apperror.ErrForbidden
	}
	return payment, nil
}

// ListContractPayments возвращает платежи контракта для его сторон.
func (s *PaymentService) ListContractPayments(ctx context.Context, contractID, userID uuid.UUID) ([]models.Payment, error) {
	contract, err := loadContract(ctx, s.contracts, contractID)
	if err != nil {
		return nil, err
	}
	if !contract.IsParticipant(userID) {
		return nil, apperror.ErrForbidden
	}
	return s.payments.ListByContract(ctx, contractID)
}

// CreateSetupIntent создаёт намерение привязки способа оплаты.
func (s *PaymentService) CreateSetupIntent(ctx context.Context, userID uuid.UUID) (*gateway.SetupIntent, error) {
	intent, err := s.gateway.CreateSetupIntent(ctx, userID.String())
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeGateway, "платёжный шлюз недоступен")
	}
	return intent, nil
}

// ConfirmSetupIntent подтверждает привязку и сохраняет способ оплаты.
func (s *PaymentService) ConfirmSetupIntent(ctx context.Context, userID uuid.UUID, setupIntentID string) (*models.PaymentMethod, error) {
	details, err := s.gateway.ConfirmSetupIntent(ctx, setupIntentID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrCodeGateway, "не удалось подтвердить привязку способа оплаты")
	}

	pm := &models.PaymentMethod{
		ID:              uuid.New(),
		UserID:          userID,
		GatewayMethodID: details.ID,
		CreatedAt:       time.Now(),
	}
	if details.Brand != "" {
		pm.Brand = &details.Brand
	}
	if details.Last4 != "" {
		pm.Last4 = &details.Last4
	}

	if err := s.methods.Create(ctx, pm); err != nil {
		return nil, fmt.Errorf("payment service: save payment method %w", err)
	}
	return pm, nil
}

// ListPaymentMethods возвращает сохранённые способы оплаты пользователя.
func (s *PaymentService) ListPaymentMethods(ctx context.Context, userID uuid.UUID) ([]models.PaymentMethod, error) {
	return s.methods.ListByUser(ctx, userID)
}

// DeletePaymentMethod удаляет способ оплаты пользователя.
func (s *PaymentService) DeletePaymentMethod(ctx context.Context, id, userID uuid.UUID) error {
	if err := s.methods.Delete(ctx, id, userID); err != nil {
		if errors.Is(err, repository.ErrPaymentMethodNotFound) {
			return apperror.New(apperror.ErrCodeNotFound, "способ оплаты не найден")
		}
		return err
	}
	return nil
}

// HandleGatewayEvent применяет событие вебхука к платежу. Вебхуки
// приходят как минимум один раз и могут дублироваться или гоняться с
// синхронным путём, поэтому терминальные переходы идемпотентны.
func (s *PaymentService) HandleGatewayEvent(ctx context.Context, event *gateway.WebhookEvent) error {
	payment, err := s.payments.FindByGatewayRef(ctx, event.Intent.ID)
	if err != nil {
		if errors.Is(err, repository.ErrGatewayRefNotMatched) {
			// Неизвестная ссылка: платёж другой системы либо запись не
			// успела сохраниться. Отвечаем успехом, шлюз не повторяет.
			logger.WithFields(map[string]interface{}{
				"gateway_ref": event.Intent.ID,
				"event_type":  event.Type,
			}).Warn("payment service: вебхук для неизвестного платежа")
			return nil
		}
		return fmt.Errorf("payment service: find by gateway ref %w", err)
	}

	switch event.Type {
	case gateway.EventPaymentSucceeded:
		return s.completePayment(ctx, payment)
	case gateway.EventPaymentFailed:
		if payment.Status.IsTerminal() {
			return nil
		}
		reason := event.Intent.FailureReason
		if reason == "" {
			reason = "отклонено платёжным шлюзом"
		}
		return s.failPayment(ctx, payment, reason)
	case gateway.EventPaymentRefunded:
		return s.refundPayment(ctx, payment)
	case gateway.EventDisputeCreated:
		// Автоматизация споров вне этой системы: платёж лишь помечается
		// для ручного разбора, статус не меняется.
		if payment.ManualReview {
			return nil
		}
		payment.ManualReview = true
		payment.UpdatedAt = time.Now()
		if err := s.payments.Update(ctx, payment); err != nil {
			return fmt.Errorf("payment service: mark manual review %w", err)
		}
		logger.WithFields(map[string]interface{}{
			"payment_id":  payment.ID,
			"gateway_ref": event.Intent.ID,
		}).Info("payment service: по платежу открыт спор, требуется ручной разбор")
		return nil
	default:
		logger.WithFields(map[string]interface{}{
			"event_type": event.Type,
		}).Info("payment service: событие вебхука пропущено")
		return nil
	}
}

// ensurePayment возвращает незавершённый платёж этапа или создаёт
// новый. Частичный уникальный индекс в БД закрывает гонку двух
// параллельных принятий: проигравший переиспользует платёж победителя.
func (s *PaymentService) ensurePayment(ctx context.Context, contract *models.Contract, milestone *models.Milestone) (*models.Payment, error) {
	existing, err := s.payments.FindActiveByMilestone(ctx, milestone.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repository.ErrPaymentNotFound) {
		return nil, fmt.Errorf("payment service: find active payment %w", err)
	}

	payment := models.NewPayment(contract, milestone, s.policy.FeePercent)
	if err := s.payments.Create(ctx, payment); err != nil {
		if errors.Is(err, repository.ErrActivePaymentExists) {
			return s.payments.FindActiveByMilestone(ctx, milestone.ID)
		}
		return nil, fmt.Errorf("payment service: create payment %w", err)
	}
	return payment, nil
}

// charge проводит pending платёж через шлюз указанным способом оплаты.
// Ошибки шлюза переводят платёж в failed и не возвращаются вызывающей
// стороне.
func (s *PaymentService) charge(ctx context.Context, contract *models.Contract, payment *models.Payment, gatewayMethodID string) (*models.Contract, error) {
	intent, err := s.gateway.CreatePaymentIntent(ctx, gateway.CreateIntentRequest{
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		PaymentMethodID: gatewayMethodID,
		Metadata: map[string]string{
			"payment_id":   payment.ID.String(),
			"contract_id":  payment.ContractID.String(),
			"milestone_id": payment.MilestoneID.String(),
		},
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"payment_id": payment.ID,
			"error":      err.Error(),
		}).Error("payment service: шлюз недоступен")
		if failErr := s.failPayment(ctx, payment, "платёжный шлюз недоступен"); failErr != nil {
			return nil, failErr
		}
		return contract, nil
	}

	payment.MarkProcessing(intent.ID, gatewayMethodID)
	if err := s.payments.Update(ctx, payment); err != nil {
		return nil, fmt.Errorf("payment service: mark processing %w", err)
	}

	if intent.Status == gateway.IntentStatusRequiresCapture {
		captured, err := s.gateway.CapturePayment(ctx, intent.ID)
		if err != nil {
			// Платёж уже в processing: окончательный статус принесёт
			// вебхук.
			logger.WithFields(map[string]interface{}{
				"payment_id":  payment.ID,
				"gateway_ref": intent.ID,
				"error":       err.Error(),
			}).Warn("payment service: не удалось списать средства по платежу")
			return contract, nil
		}
		intent = captured
	}

	switch intent.Status {
	case gateway.IntentStatusSucceeded:
		if err := s.completePayment(ctx, payment); err != nil {
			return nil, err
		}
		return loadContract(ctx, s.contracts, contract.ID)
	case gateway.IntentStatusFailed:
		reason := intent.FailureReason
		if reason == "" {
			reason = "отклонено платёжным шлюзом"
		}
		if err := s.failPayment(ctx, payment, reason); err != nil {
			return nil, err
		}
		return contract, nil
	default:
		// processing: окончательный статус придёт вебхуком.
		return contract, nil
	}
}

// completePayment идемпотентно завершает платёж: отмечает этап
// оплаченным, при необходимости завершает контракт и уведомляет стороны.
func (s *PaymentService) completePayment(ctx context.Context, payment *models.Payment) error {
	if !payment.MarkCompleted() {
		return nil
	}
	if err := s.payments.Update(ctx, payment); err != nil {
		return fmt.Errorf("payment service: mark completed %w", err)
	}

	var contractCompleted bool
	contract, err := mutateContract(ctx, s.contracts, payment.ContractID, func(c *models.Contract) error {
		if err := c.MarkMilestonePaid(payment.MilestoneID); err != nil {
			return err
		}
		contractCompleted = c.CompleteIfAllApproved()
		return nil
	})
	if err != nil {
		// Платёж завершён, а этап не отмечен: фиксируем расхождение в
		// логе, следующий вебхук или ручной разбор устранит его.
		logger.WithFields(map[string]interface{}{
			"payment_id":   payment.ID,
			"milestone_id": payment.MilestoneID,
			"error":        err.Error(),
		}).Error("payment service: платёж завершён, но этап не отмечен оплаченным")
		return nil
	}

	s.notifyAsync(payment.PayeeID, models.NotificationPaymentCompleted, "Оплата получена",
		fmt.Sprintf("Оплата этапа зачислена: %.2f %s", payment.NetAmount, payment.Currency),
		payment.ID, models.NotificationPriorityNormal, payment)

	if contractCompleted {
		s.notifyAsync(contract.ClientID, models.NotificationContractCompleted, "Контракт завершён",
			"Все этапы контракта приняты и оплачены", contract.ID, models.NotificationPriorityNormal, nil)
		s.notifyAsync(contract.FreelancerID, models.NotificationContractCompleted, "Контракт завершён",
			"Все этапы контракта приняты и оплачены", contract.ID, models.NotificationPriorityNormal, nil)
	}

	return nil
}

// failPayment переводит платёж в failed, назначает время следующего
// повтора с экспоненциальной задержкой и уведомляет плательщика.
func (s *PaymentService) failPayment(ctx context.Context, payment *models.Payment, reason string) error {
	payment.MarkFailed(reason)

	backoff := s.policy.RetryBackoff << payment.RetryCount
	nextRetry := time.Now().Add(backoff)
	payment.NextRetryAt = &nextRetry

	if payment.RetryCount >= s.policy.RetryLimit {
		payment.ManualReview = true
	}

	if err := s.payments.Update(ctx, payment); err != nil {
		return fmt.Errorf("payment service: mark failed %w", err)
	}

	s.notifyAsync(payment.PayerID, models.NotificationPaymentFailed, "Оплата не прошла",
		fmt.Sprintf("Не удалось оплатить этап: %s", reason),
		payment.ID, models.NotificationPriorityHigh, payment)

	return nil
}

// refundPayment идемпотентно отмечает платёж возвращённым.
func (s *PaymentService) refundPayment(ctx context.Context, payment *models.Payment) error {
	if payment.Status == models.PaymentStatusRefunded {
		return nil
	}
	now := time.Now()
	payment.Status = models.PaymentStatusRefunded
	payment.UpdatedAt = now
	if err := s.payments.Update(ctx, payment); err != nil {
		return fmt.Errorf("payment service: mark refunded %w", err)
	}

	s.notifyAsync(payment.PayerID, models.NotificationPaymentFailed, "Возврат средств",
		"Средства по платежу возвращены", payment.ID, models.NotificationPriorityHigh, payment)

	return nil
}

func (s *PaymentService) getPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentNotFound) {
			return nil, apperror.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("payment service: get %w", err)
	}
	return payment, nil
}

func (s *PaymentService) notifyAsync(userID uuid.UUID, notificationType, title, content string, relatedEntityID uuid.UUID, priority string, data interface{}) {
	if s.notifier == nil {
		return
	}
	related := relatedEntityID
	goroutine.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := s.notifier.Notify(ctx, userID, notificationType, title, content, &related, priority, data); err != nil {
			logger.WithFields(map[string]interface{}{
				"user_id": userID,
				"type":    notificationType,
				"error":   err.Error(),
			}).Warn("payment service: не удалось отправить уведомление")
		}
	})
}
