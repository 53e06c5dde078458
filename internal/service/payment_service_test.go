package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/freelance-contracts/internal/gateway"
	"github.com/ignatzorin/freelance-contracts/internal/models"
	"github.com/ignatzorin/freelance-contracts/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-contracts/internal/repository"
)

type mockPaymentRepo struct {
	mock.Mock
}

func (m *mockPaymentRepo) Create(ctx context.Context, p *models.Payment) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockPaymentRepo) Update(ctx context.Context, p *models.Payment) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

func (m *mockPaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockPaymentRepo) FindActiveByMilestone(ctx context.Context, milestoneID uuid.UUID) (*models.Payment, error) {
	args := m.Called(ctx, milestoneID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockPaymentRepo) FindByGatewayRef(ctx context.Context, gatewayRef string) (*models.Payment, error) {
	args := m.Called(ctx, gatewayRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Payment), args.Error(1)
}

func (m *mockPaymentRepo) ListByContract(ctx context.Context, contractID uuid.UUID) ([]models.Payment, error) {
	args := m.Called(ctx, contractID)
	return args.Get(0).([]models.Payment), args.Error(1)
}

func (m *mockPaymentRepo) ListByMilestone(ctx context.Context, milestoneID uuid.UUID) ([]models.Payment, error) {
	args := m.Called(ctx, milestoneID)
	return args.Get(0).([]models.Payment), args.Error(1)
}

type mockMethodRepo struct {
	mock.Mock
}

func (m *mockMethodRepo) Create(ctx context.Context, pm *models.PaymentMethod) error {
	args := m.Called(ctx, pm)
	return args.Error(0)
}

func (m *mockMethodRepo) HasSavedMethods(ctx context.Context, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *mockMethodRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PaymentMethod, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]models.PaymentMethod), args.Error(1)
}

func (m *mockMethodRepo) Delete(ctx context.Context, id, userID uuid.UUID) error {
	args := m.Called(ctx, id, userID)
	return args.Error(0)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreatePaymentIntent(ctx context.Context, req gateway.CreateIntentRequest) (*gateway.PaymentIntent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PaymentIntent), args.Error(1)
}

func (m *mockGateway) CapturePayment(ctx context.Context, intentID string) (*gateway.PaymentIntent, error) {
	args := m.Called(ctx, intentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PaymentIntent), args.Error(1)
}

func (m *mockGateway) CreateSetupIntent(ctx context.Context, customerRef string) (*gateway.SetupIntent, error) {
	args := m.Called(ctx, customerRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.SetupIntent), args.Error(1)
}

func (m *mockGateway) ConfirmSetupIntent(ctx context.Context, setupIntentID string) (*gateway.PaymentMethodDetails, error) {
	args := m.Called(ctx, setupIntentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.PaymentMethodDetails), args.Error(1)
}

func testPolicy() PaymentPolicy {
	return PaymentPolicy{FeePercent: 10, RetryLimit: 3, RetryBackoff: time.Minute}
}

func newPaymentEnv(t *testing.T) (*mockContractRepo, *mockPaymentRepo, *mockMethodRepo, *mockGateway, *PaymentService) {
	t.Helper()
	contracts := new(mockContractRepo)
	payments := new(mockPaymentRepo)
	methods := new(mockMethodRepo)
	gw := new(mockGateway)
	svc := NewPaymentService(contracts, payments, methods, gw, nil, testPolicy())
	return contracts, payments, methods, gw, svc
}

func savedMethod(userID uuid.UUID) models.PaymentMethod {
	return models.PaymentMethod{
		ID:              uuid.New(),
		UserID:          userID,
		GatewayMethodID: "pm_test_visa",
		IsDefault:       true,
	}
}

func approveOpts(methodID string) ApproveOptions {
	return ApproveOptions{ProcessPayment: true, PaymentMethodID: methodID}
}

func TestPaymentService_ApproveMilestone_SuccessfulCharge(t *testing.T) {
	contracts, payments, methods, gw, svc := newPaymentEnv(t)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusSubmitted)
	milestoneID := contract.Milestones[0].ID

	contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	contracts.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(nil)

	payments.On("FindActiveByMilestone", ctx, milestoneID).Return(nil, repository.ErrPaymentNotFound)
	payments.On("Create", ctx, mock.AnythingOfType("*models.Payment")).Return(nil)
	payments.On("Update", ctx, mock.AnythingOfType("*models.Payment")).Return(nil)

	methods.On("HasSavedMethods", ctx, contract.ClientID).Return(true, nil)
	methods.On("ListByUser", ctx, contract.ClientID).Return([]models.PaymentMethod{savedMethod(contract.ClientID)}, nil)

	gw.On("CreatePaymentIntent", ctx, mock.AnythingOfType("gateway.CreateIntentRequest")).
		Return(&gateway.PaymentIntent{ID: "pi_1", Status: gateway.IntentStatusSucceeded}, nil)

	result, err := svc.ApproveMilestoneWithPayment(ctx, contract.ID, milestoneID, contract.ClientID, approveOpts("pm_test_visa"))
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, result.Payment.Status)
	assert.Equal(t, models.MilestoneStatusPaid, result.Contract.Milestones[0].Status)
	// Единственный этап принят: контракт завершается.
	assert.Equal(t, models.ContractStatusCompleted, result.Contract.Status)

	// Комиссия удержана из суммы этапа.
	assert.Equal(t, float64(100), result.Payment.PlatformFee)
	assert.Equal(t, float64(900), result.Payment.NetAmount)
}

func TestPaymentService_ApproveMilestone_CapturesWhenRequired(t *testing.T) {
	contracts, payments, methods, gw, svc := newPaymentEnv(t)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusSubmitted)
	milestoneID := contract.Milestones[0].ID

	contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	contracts.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(nil)
	payments.On("FindActiveByMilestone", ctx, milestoneID).Return(nil, repository.ErrPaymentNotFound)
	payments.On("Create", ctx, mock.AnythingOfType("*models.Payment")).Return(nil)
	payments.On("Update", ctx, mock.AnythingOfType("*models.Payment")).Return(nil)
	methods.On("HasSavedMethods", ctx, contract.ClientID).Return(true, nil)
	methods.On("ListByUser", ctx, contract.ClientID).Return([]models.PaymentMethod{savedMethod(contract.ClientID)}, nil)

	gw.On("CreatePaymentIntent", ctx, mock.AnythingOfType("gateway.CreateIntentRequest")).
		Return(&gateway.PaymentIntent{ID: "pi_cap", Status: gateway.IntentStatusRequiresCapture}, nil)
	gw.On("CapturePayment", ctx, "pi_cap").
		Return(&gateway.PaymentIntent{ID: "pi_cap", Status: gateway.IntentStatusSucceeded}, nil)

	result, err := svc.ApproveMilestoneWithPayment(ctx, contract.ID, milestoneID, contract.ClientID, approveOpts("pm_test_visa"))
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, result.Payment.Status)
	gw.AssertExpectations(t)
}

func TestPaymentService_ApproveMilestone_WithoutPaymentProcessing(t *testing.T) {
	contracts, payments, methods, gw, svc := newPaymentEnv(t)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusSubmitted)
	milestoneID := contract.Milestones[0].ID

	contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	contracts.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(nil)

	result, err := svc.ApproveMilestoneWithPayment(ctx, contract.ID, milestoneID, contract.ClientID, ApproveOptions{ProcessPayment: false})
	assert.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusApproved, result.Contract.Milestones[0].Status)
	assert.Nil(t, result.Payment)

	// Платёжная часть полностью выключена.
	payments.AssertNotCalled(t, "FindActiveByMilestone")
	payments.AssertNotCalled(t, "Create")
	methods.AssertNotCalled(t, "HasSavedMethods")
	gw.AssertNotCalled(t, "CreatePaymentIntent")
}

func TestPaymentService_ApproveMilestone_OnlyClient(t *testing.T) {
	contracts, payments, _, gw, svc := newPaymentEnv(t)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusSubmitted)
	contracts.On("GetByID", ctx, contract.ID).Return(cloneContract(contract), nil)

	_, err := svc.ApproveMilestoneWithPayment(ctx, contract.ID, contract.Milestones[0].ID, contract.FreelancerID, approveOpts("pm_test_visa"))
	assert.True(t, apperror.IsForbidden(err))
	contracts.AssertNotCalled(t, "Save")
	payments.AssertNotCalled(t, "Create")
	gw.AssertNotCalled(t, "CreatePaymentIntent")
}

func TestPaymentService_ApproveMilestone_NoPaymentMethod(t *testing.T) {
	contracts, payments, methods, gw, svc := newPaymentEnv(t)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusSubmitted)
	milestoneID := contract.Milestones[0].ID

	contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	contracts.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(nil)
	payments.On("FindActiveByMilestone", ctx, milestoneID).Return(nil, repository.ErrPaymentNotFound)
	payments.On("Create", ctx, mock.AnythingOfType("*models.Payment")).Return(nil)
	methods.On("HasSavedMethods", ctx, contract.ClientID).Return(false, nil)

	_, err := svc.ApproveMilestoneWithPayment(ctx, contract.ID, milestoneID, contract.ClientID, approveOpts(""))

	var appErr *apperror.AppError
	assert.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.ErrCodePaymentMethodRequired, appErr.Code)
	assert.True(t, appErr.RequiresPaymentSetup)

	// Принятие не откатывается, платёж создан и остаётся pending.
	assert.Equal(t, models.MilestoneStatusApproved, contract.Milestones[0].Status)
	payments.AssertCalled(t, "Create", ctx, mock.AnythingOfType("*models.Payment"))
	gw.AssertNotCalled(t, "CreatePaymentIntent")
	payments.AssertNotCalled(t, "Update")
}

func TestPaymentService_ApproveMilestone_SavedMethodNotSpecified(t *testing.T) {
	contracts, payments, methods, gw, svc := newPaymentEnv(t)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusSubmitted)
	milestoneID := contract.Milestones[0].ID

	contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	contracts.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(nil)
	payments.On("FindActiveByMilestone", ctx, milestoneID).Return(nil, repository.ErrPaymentNotFound)
	payments.On("Create", ctx, mock.AnythingOfType("*models.Payment")).Return(nil)
	methods.On("HasSavedMethods", ctx, contract.ClientID).Return(true, nil)

	// Сохранённые способы есть, но какой из них списывать — не указано.
	_, err := svc.ApproveMilestoneWithPayment(ctx, contract.ID, milestoneID, contract.ClientID, approveOpts(""))

	var appErr *apperror.AppError
	assert.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.ErrCodePaymentMethodRequired, appErr.Code)
	assert.False(t, appErr.RequiresPaymentSetup)
	gw.AssertNotCalled(t, "CreatePaymentIntent")
}

func TestPaymentService_ApproveMilestone_SetupIntentFlow(t *testing.T) {
	contracts, payments, methods, gw, svc := newPaymentEnv(t)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusSubmitted)
	milestoneID := contract.Milestones[0].ID

	contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	contracts.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(nil)
	payments.On("FindActiveByMilestone", ctx, milestoneID).Return(nil, repository.ErrPaymentNotFound)
	payments.On("Create", ctx, mock.AnythingOfType("*models.Payment")).Return(nil)
	payments.On("Update", ctx, mock.AnythingOfType("*models.Payment")).Return(nil)

	methods.On("HasSavedMethods", ctx, contract.ClientID).Return(false, nil)
	methods.On("Create", ctx, mock.AnythingOfType("*models.PaymentMethod")).Return(nil)

	gw.On("ConfirmSetupIntent", ctx, "seti_fresh").
		Return(&gateway.PaymentMethodDetails{ID: "pm_fresh", Brand: "mir", Last4: "1111"}, nil)
	gw.On("CreatePaymentIntent", ctx, mock.MatchedBy(func(req gateway.CreateIntentRequest) bool {
		return req.PaymentMethodID == "pm_fresh"
	})).Return(&gateway.PaymentIntent{ID: "pi_seti", Status: gateway.IntentStatusSucceeded}, nil)

	opts := ApproveOptions{ProcessPayment: true, SetupIntentID: "seti_fresh"}
	result, err := svc.ApproveMilestoneWithPayment(ctx, contract.ID, milestoneID, contract.ClientID, opts)
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentStatusCompleted, result.Payment.Status)
	// Свежепривязанный способ сохранён для будущих оплат.
	methods.AssertCalled(t, "Create", ctx, mock.AnythingOfType("*models.PaymentMethod"))
}

func TestPaymentService_ApproveMilestone_ForeignMethodRejected(t *testing.T) {
	contracts, payments, methods, gw, svc := newPaymentEnv(t)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusSubmitted)
	milestoneID := contract.Milestones[0].ID

	contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	contracts.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(nil)
	payments.On("FindActiveByMilestone", ctx, milestoneID).Return(nil, repository.ErrPaymentNotFound)
	payments.On("Create", ctx, mock.AnythingOfType("*models.Payment")).Return(nil)
	methods.On("HasSavedMethods", ctx, contract.ClientID).Return(true, nil)
	methods.On("ListByUser", ctx, contract.ClientID).Return([]models.PaymentMethod{savedMethod(contract.ClientID)}, nil)

	_, err := svc.ApproveMilestoneWithPayment(ctx, contract.ID, milestoneID, contract.ClientID, approveOpts("pm_someone_else"))
	assert.True(t, apperror.IsValidation(err))
	gw.AssertNotCalled(t, "CreatePaymentIntent")
}

func TestPaymentService_ApproveMilestone_GatewayDown(t *testing.T) {
	contracts, payments, methods, gw, svc := newPaymentEnv(t)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusSubmitted)
	milestoneID := contract.Milestones[0].ID

	contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	contracts.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(nil)
	payments.On("FindActiveByMilestone", ctx, milestoneID).Return(nil, repository.ErrPaymentNotFound)
	payments.On("Create", ctx, mock.AnythingOfType("*models.Payment")).Return(nil)
	payments.On("Update", ctx, mock.AnythingOfType("*models.Payment")).Return(nil)
	methods.On("HasSavedMethods", ctx, contract.ClientID).Return(true, nil)
	methods.On("ListByUser", ctx, contract.ClientID).Return([]models.PaymentMethod{savedMethod(contract.ClientID)}, nil)
	gw.On("CreatePaymentIntent", ctx, mock.AnythingOfType("gateway.CreateIntentRequest")).
		Return(nil, errors.New("connection refused"))

	result, err := svc.ApproveMilestoneWithPayment(ctx, contract.ID, milestoneID, contract.ClientID, approveOpts("pm_test_visa"))

	// Ошибка шлюза наружу не поднимается.
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, result.Payment.Status)
	assert.NotNil(t, result.Payment.NextRetryAt)
	// Принятие сохранилось несмотря на сбой оплаты.
	assert.Equal(t, models.MilestoneStatusApproved, result.Contract.Milestones[0].Status)
}

func TestPaymentService_ApproveMilestone_ReusesProcessingPayment(t *testing.T) {
	contracts, payments, _, gw, svc := newPaymentEnv(t)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusApproved)
	milestoneID := contract.Milestones[0].ID

	active := &models.Payment{
		ID:          uuid.New(),
		ContractID:  contract.ID,
		MilestoneID: milestoneID,
		PayerID:     contract.ClientID,
		PayeeID:     contract.FreelancerID,
		Status:      models.PaymentStatusProcessing,
	}

	contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	contracts.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(nil)
	payments.On("FindActiveByMilestone", ctx, milestoneID).Return(active, nil)

	result, err := svc.ApproveMilestoneWithPayment(ctx, contract.ID, milestoneID, contract.ClientID, approveOpts("pm_test_visa"))
	assert.NoError(t, err)
	assert.Equal(t, active.ID, result.Payment.ID)
	// Платёж уже в шлюзе: новое списание не запускается.
	payments.AssertNotCalled(t, "Create")
	gw.AssertNotCalled(t, "CreatePaymentIntent")
}

func TestPaymentService_ApproveMilestone_LosesCreateRace(t *testing.T) {
	contracts, payments, _, gw, svc := newPaymentEnv(t)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusSubmitted)
	milestoneID := contract.Milestones[0].ID

	winner := &models.Payment{
		ID:          uuid.New(),
		ContractID:  contract.ID,
		MilestoneID: milestoneID,
		PayerID:     contract.ClientID,
		PayeeID:     contract.FreelancerID,
		Status:      models.PaymentStatusProcessing,
	}

	contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	contracts.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(nil)
	// Первая проверка не видит платежа, вставка ловит уникальный индекс,
	// перечитывание возвращает платёж победителя.
	payments.On("FindActiveByMilestone", ctx, milestoneID).Return(nil, repository.ErrPaymentNotFound).Once()
	payments.On("Create", ctx, mock.AnythingOfType("*models.Payment")).Return(repository.ErrActivePaymentExists)
	payments.On("FindActiveByMilestone", ctx, milestoneID).Return(winner, nil).Once()

	result, err := svc.ApproveMilestoneWithPayment(ctx, contract.ID, milestoneID, contract.ClientID, approveOpts("pm_test_visa"))
	assert.NoError(t, err)
	assert.Equal(t, winner.ID, result.Payment.ID)
	gw.AssertNotCalled(t, "CreatePaymentIntent")
}

func TestPaymentService_ApproveMilestone_PaidMilestoneIsNoop(t *testing.T) {
	contracts, payments, _, gw, svc := newPaymentEnv(t)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusPaid)
	milestoneID := contract.Milestones[0].ID

	completed := models.Payment{
		ID:          uuid.New(),
		MilestoneID: milestoneID,
		Status:      models.PaymentStatusCompleted,
	}

	contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	contracts.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(nil)
	payments.On("ListByMilestone", ctx, milestoneID).Return([]models.Payment{completed}, nil)

	result, err := svc.ApproveMilestoneWithPayment(ctx, contract.ID, milestoneID, contract.ClientID, approveOpts("pm_test_visa"))
	assert.NoError(t, err)
	assert.Equal(t, completed.ID, result.Payment.ID)
	payments.AssertNotCalled(t, "Create")
	gw.AssertNotCalled(t, "CreatePaymentIntent")
}

func TestPaymentService_RetryPayment_OnlyPayer(t *testing.T) {
	_, payments, _, _, svc := newPaymentEnv(t)
	ctx := context.Background()

	payment := &models.Payment{ID: uuid.New(), PayerID: uuid.New(), Status: models.PaymentStatusFailed}
	payments.On("GetByID", ctx, payment.ID).Return(payment, nil)

	_, err := svc.RetryPayment(ctx, payment.ID, uuid.New())
	assert.True(t, apperror.IsForbidden(err))
}

func TestPaymentService_RetryPayment_OnlyFailed(t *testing.T) {
	_, payments, _, _, svc := newPaymentEnv(t)
	ctx := context.Background()

	payerID := uuid.New()
	payment := &models.Payment{ID: uuid.New(), PayerID: payerID, Status: models.PaymentStatusCompleted}
	payments.On("GetByID", ctx, payment.ID).Return(payment, nil)

	_, err := svc.RetryPayment(ctx, payment.ID, payerID)
	assert.True(t, apperror.IsInvalidTransition(err))
}

func TestPaymentService_RetryPayment_BeforeBackoffExpires(t *testing.T) {
	_, payments, _, _, svc := newPaymentEnv(t)
	ctx := context.Background()

	payerID := uuid.New()
	nextRetry := time.Now().Add(10 * time.Minute)
	payment := &models.Payment{
		ID:          uuid.New(),
		PayerID:     payerID,
		Status:      models.PaymentStatusFailed,
		NextRetryAt: &nextRetry,
	}
	payments.On("GetByID", ctx, payment.ID).Return(payment, nil)

	_, err := svc.RetryPayment(ctx, payment.ID, payerID)
	assert.True(t, apperror.IsConflict(err))
	payments.AssertNotCalled(t, "Update")
}

func TestPaymentService_RetryPayment_LimitExhausted(t *testing.T) {
	_, payments, _, _, svc := newPaymentEnv(t)
	ctx := context.Background()

	payerID := uuid.New()
	payment := &models.Payment{
		ID:         uuid.New(),
		PayerID:    payerID,
		Status:     models.PaymentStatusFailed,
		RetryCount: 3,
	}
	payments.On("GetByID", ctx, payment.ID).Return(payment, nil)
	payments.On("Update", ctx, payment).Return(nil)

	_, err := svc.RetryPayment(ctx, payment.ID, payerID)
	assert.True(t, apperror.IsConflict(err))
	assert.True(t, payment.ManualReview)
}

func TestPaymentService_RetryPayment_ResetsForNewOrchestration(t *testing.T) {
	_, payments, _, gw, svc := newPaymentEnv(t)
	ctx := context.Background()

	payerID := uuid.New()
	past := time.Now().Add(-time.Minute)
	reason := "недостаточно средств"
	payment := &models.Payment{
		ID:            uuid.New(),
		PayerID:       payerID,
		Status:        models.PaymentStatusFailed,
		FailureReason: &reason,
		NextRetryAt:   &past,
	}

	payments.On("GetByID", ctx, payment.ID).Return(payment, nil)
	payments.On("Update", ctx, payment).Return(nil)

	updated, err := svc.RetryPayment(ctx, payment.ID, payerID)
	assert.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPending, updated.Status)
	assert.Equal(t, 1, updated.RetryCount)
	assert.Nil(t, updated.FailureReason)
	assert.Nil(t, updated.NextRetryAt)

	// Сброс не трогает шлюз: списание запустит повторное принятие этапа.
	gw.AssertNotCalled(t, "CreatePaymentIntent")
}

func TestPaymentService_HandleGatewayEvent_UnknownRefIsIgnored(t *testing.T) {
	_, payments, _, _, svc := newPaymentEnv(t)
	ctx := context.Background()

	payments.On("FindByGatewayRef", ctx, "pi_unknown").Return(nil, repository.ErrGatewayRefNotMatched)

	event := &gateway.WebhookEvent{Type: gateway.EventPaymentSucceeded}
	event.Intent.ID = "pi_unknown"

	// Неизвестная ссылка не считается ошибкой: шлюз не должен повторять.
	assert.NoError(t, svc.HandleGatewayEvent(ctx, event))
	payments.AssertNotCalled(t, "Update")
}

func TestPaymentService_HandleGatewayEvent_SucceededCompletesPayment(t *testing.T) {
	contracts, payments, _, _, svc := newPaymentEnv(t)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusApproved)
	ref := "pi_hook"
	payment := &models.Payment{
		ID:          uuid.New(),
		ContractID:  contract.ID,
		MilestoneID: contract.Milestones[0].ID,
		PayerID:     contract.ClientID,
		PayeeID:     contract.FreelancerID,
		Status:      models.PaymentStatusProcessing,
		GatewayRef:  &ref,
	}

	payments.On("FindByGatewayRef", ctx, ref).Return(payment, nil)
	payments.On("Update", ctx, payment).Return(nil)
	contracts.On("GetByID", ctx, contract.ID).Return(contract, nil)
	contracts.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(nil)

	event := &gateway.WebhookEvent{Type: gateway.EventPaymentSucceeded}
	event.Intent.ID = ref

	assert.NoError(t, svc.HandleGatewayEvent(ctx, event))
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	assert.Equal(t, models.MilestoneStatusPaid, contract.Milestones[0].Status)
	assert.Equal(t, models.ContractStatusCompleted, contract.Status)
}

func TestPaymentService_HandleGatewayEvent_DuplicateSucceededIsNoop(t *testing.T) {
	_, payments, _, _, svc := newPaymentEnv(t)
	ctx := context.Background()

	ref := "pi_dup"
	payment := &models.Payment{
		ID:         uuid.New(),
		Status:     models.PaymentStatusCompleted,
		GatewayRef: &ref,
	}
	payments.On("FindByGatewayRef", ctx, ref).Return(payment, nil)

	event := &gateway.WebhookEvent{Type: gateway.EventPaymentSucceeded}
	event.Intent.ID = ref

	assert.NoError(t, svc.HandleGatewayEvent(ctx, event))
	payments.AssertNotCalled(t, "Update")
}

func TestPaymentService_HandleGatewayEvent_FailedAfterCompletedIsIgnored(t *testing.T) {
	_, payments, _, _, svc := newPaymentEnv(t)
	ctx := context.Background()

	ref := "pi_late_fail"
	payment := &models.Payment{
		ID:         uuid.New(),
		Status:     models.PaymentStatusCompleted,
		GatewayRef: &ref,
	}
	payments.On("FindByGatewayRef", ctx, ref).Return(payment, nil)

	event := &gateway.WebhookEvent{Type: gateway.EventPaymentFailed}
	event.Intent.ID = ref
	event.Intent.FailureReason = "карта отклонена"

	assert.NoError(t, svc.HandleGatewayEvent(ctx, event))
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	payments.AssertNotCalled(t, "Update")
}

func TestPaymentService_HandleGatewayEvent_FailedSchedulesRetry(t *testing.T) {
	_, payments, _, _, svc := newPaymentEnv(t)
	ctx := context.Background()

	ref := "pi_fail"
	payment := &models.Payment{
		ID:         uuid.New(),
		PayerID:    uuid.New(),
		Status:     models.PaymentStatusProcessing,
		GatewayRef: &ref,
	}
	payments.On("FindByGatewayRef", ctx, ref).Return(payment, nil)
	payments.On("Update", ctx, payment).Return(nil)

	event := &gateway.WebhookEvent{Type: gateway.EventPaymentFailed}
	event.Intent.ID = ref
	event.Intent.FailureReason = "недостаточно средств"

	assert.NoError(t, svc.HandleGatewayEvent(ctx, event))
	assert.Equal(t, models.PaymentStatusFailed, payment.Status)
	assert.Equal(t, "недостаточно средств", *payment.FailureReason)
	assert.NotNil(t, payment.NextRetryAt)
	assert.False(t, payment.ManualReview)
}

func TestPaymentService_HandleGatewayEvent_DisputeMarksManualReview(t *testing.T) {
	_, payments, _, _, svc := newPaymentEnv(t)
	ctx := context.Background()

	ref := "pi_disputed"
	payment := &models.Payment{
		ID:         uuid.New(),
		Status:     models.PaymentStatusCompleted,
		GatewayRef: &ref,
	}
	payments.On("FindByGatewayRef", ctx, ref).Return(payment, nil)
	payments.On("Update", ctx, payment).Return(nil)

	event := &gateway.WebhookEvent{Type: gateway.EventDisputeCreated}
	event.Intent.ID = ref

	assert.NoError(t, svc.HandleGatewayEvent(ctx, event))
	// Статус не меняется, платёж лишь помечен для ручного разбора.
	assert.Equal(t, models.PaymentStatusCompleted, payment.Status)
	assert.True(t, payment.ManualReview)

	// Дубликат события ничего не меняет.
	assert.NoError(t, svc.HandleGatewayEvent(ctx, event))
	payments.AssertNumberOfCalls(t, "Update", 1)
}

func TestPaymentService_ConfirmSetupIntent_SavesMethod(t *testing.T) {
	_, _, methods, gw, svc := newPaymentEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	gw.On("ConfirmSetupIntent", ctx, "seti_1").
		Return(&gateway.PaymentMethodDetails{ID: "pm_new", Brand: "visa", Last4: "4242"}, nil)
	methods.On("Create", ctx, mock.AnythingOfType("*models.PaymentMethod")).Return(nil)

	pm, err := svc.ConfirmSetupIntent(ctx, userID, "seti_1")
	assert.NoError(t, err)
	assert.Equal(t, "pm_new", pm.GatewayMethodID)
	assert.Equal(t, "visa", *pm.Brand)
	assert.Equal(t, "4242", *pm.Last4)
}

func TestPaymentService_CreateSetupIntent_GatewayError(t *testing.T) {
	_, _, _, gw, svc := newPaymentEnv(t)
	ctx := context.Background()

	gw.On("CreateSetupIntent", ctx, mock.AnythingOfType("string")).Return(nil, errors.New("timeout"))

	_, err := svc.CreateSetupIntent(ctx, uuid.New())
	var appErr *apperror.AppError
	assert.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperror.ErrCodeGateway, appErr.Code)
}
