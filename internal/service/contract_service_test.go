package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ignatzorin/freelance-contracts/internal/models"
	"github.com/ignatzorin/freelance-contracts/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-contracts/internal/repository"
)

type mockContractRepo struct {
	mock.Mock
}

func (m *mockContractRepo) Create(ctx context.Context, contract *models.Contract) error {
	args := m.Called(ctx, contract)
	return args.Error(0)
}

func (m *mockContractRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Contract, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Contract), args.Error(1)
}

func (m *mockContractRepo) Save(ctx context.Context, contract *models.Contract) error {
	args := m.Called(ctx, contract)
	return args.Error(0)
}

func (m *mockContractRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.Contract, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]models.Contract), args.Error(1)
}

func (m *mockContractRepo) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

// testContract собирает контракт с одним этапом в заданном статусе.
func testContract(milestoneStatus models.MilestoneStatus) *models.Contract {
	contract, err := models.NewContract(uuid.New(), uuid.New(), uuid.New(), 1000, "RUB", []models.MilestoneInput{
		{Title: "Первый этап", Amount: 1000},
	})
	if err != nil {
		panic(err)
	}
	contract.Milestones[0].Status = milestoneStatus
	return contract
}

// cloneContract делает глубокую копию агрегата: мок GetByID должен
// отдавать свежий экземпляр на каждое перечитывание.
func cloneContract(c *models.Contract) *models.Contract {
	cp := *c
	cp.Milestones = make([]models.Milestone, len(c.Milestones))
	copy(cp.Milestones, c.Milestones)
	return &cp
}

func TestContractService_CreateContract(t *testing.T) {
	repo := new(mockContractRepo)
	svc := NewContractService(repo, nil)
	ctx := context.Background()

	clientID := uuid.New()
	freelancerID := uuid.New()

	repo.On("Create", ctx, mock.AnythingOfType("*models.Contract")).Return(nil)

	contract, err := svc.CreateContract(ctx, clientID, uuid.New(), freelancerID, 5000, "RUB", []models.MilestoneInput{
		{Title: "Дизайн", Amount: 2000},
		{Title: "Вёрстка", Amount: 3000},
	})
	assert.NoError(t, err)
	assert.Equal(t, models.ContractStatusActive, contract.Status)
	assert.Equal(t, 1, contract.Version)
	assert.Len(t, contract.Milestones, 2)
	assert.Equal(t, 0, contract.Milestones[0].Position)
	assert.Equal(t, 1, contract.Milestones[1].Position)
	repo.AssertExpectations(t)
}

func TestContractService_CreateContract_MilestonesSumExceedsTotal(t *testing.T) {
	repo := new(mockContractRepo)
	svc := NewContractService(repo, nil)

	_, err := svc.CreateContract(context.Background(), uuid.New(), uuid.New(), uuid.New(), 1000, "RUB", []models.MilestoneInput{
		{Title: "Этап", Amount: 1500},
	})
	assert.Error(t, err)
	assert.True(t, apperror.IsValidation(err))
	repo.AssertNotCalled(t, "Create")
}

func TestContractService_GetContract_Forbidden(t *testing.T) {
	repo := new(mockContractRepo)
	svc := NewContractService(repo, nil)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusPending)
	repo.On("GetByID", ctx, contract.ID).Return(contract, nil)

	_, err := svc.GetContract(ctx, contract.ID, uuid.New())
	assert.True(t, apperror.IsForbidden(err))
}

func TestContractService_StartMilestone_OnlyFreelancer(t *testing.T) {
	repo := new(mockContractRepo)
	svc := NewContractService(repo, nil)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusPending)
	repo.On("GetByID", ctx, contract.ID).Return(cloneContract(contract), nil)

	_, err := svc.StartMilestone(ctx, contract.ID, contract.Milestones[0].ID, contract.ClientID)
	assert.True(t, apperror.IsForbidden(err))
	repo.AssertNotCalled(t, "Save")
}

func TestContractService_StartMilestone_Success(t *testing.T) {
	repo := new(mockContractRepo)
	svc := NewContractService(repo, nil)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusPending)
	repo.On("GetByID", ctx, contract.ID).Return(cloneContract(contract), nil)
	repo.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(nil)

	updated, err := svc.StartMilestone(ctx, contract.ID, contract.Milestones[0].ID, contract.FreelancerID)
	assert.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusInProgress, updated.Milestones[0].Status)
}

func TestContractService_SubmitMilestone_InvalidTransition(t *testing.T) {
	repo := new(mockContractRepo)
	svc := NewContractService(repo, nil)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusPending)
	repo.On("GetByID", ctx, contract.ID).Return(cloneContract(contract), nil)

	_, err := svc.SubmitMilestone(ctx, contract.ID, contract.Milestones[0].ID, contract.FreelancerID)
	assert.True(t, apperror.IsInvalidTransition(err))
}

func TestContractService_RejectMilestone_KeepsFeedbackAndAllowsResubmit(t *testing.T) {
	repo := new(mockContractRepo)
	svc := NewContractService(repo, nil)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusSubmitted)
	repo.On("GetByID", ctx, contract.ID).Return(cloneContract(contract), nil)
	repo.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(nil)

	updated, err := svc.RejectMilestone(ctx, contract.ID, contract.Milestones[0].ID, contract.ClientID, "нужно исправить шапку")
	assert.NoError(t, err)

	m := updated.Milestones[0]
	assert.Equal(t, models.MilestoneStatusRejected, m.Status)
	assert.NotNil(t, m.Feedback)
	assert.Equal(t, "нужно исправить шапку", *m.Feedback)
	// Отклонённый этап можно вернуть в работу.
	assert.True(t, m.Status.CanTransitionTo(models.MilestoneStatusInProgress))
}

func TestContractService_VersionConflict_RetriesAndSucceeds(t *testing.T) {
	repo := new(mockContractRepo)
	svc := NewContractService(repo, nil)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusPending)

	// Два конфликта версии подряд, третья попытка проходит.
	repo.On("GetByID", ctx, contract.ID).Return(cloneContract(contract), nil).Once()
	repo.On("GetByID", ctx, contract.ID).Return(cloneContract(contract), nil).Once()
	repo.On("GetByID", ctx, contract.ID).Return(cloneContract(contract), nil).Once()
	repo.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(repository.ErrVersionConflict).Twice()
	repo.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(nil).Once()

	updated, err := svc.StartMilestone(ctx, contract.ID, contract.Milestones[0].ID, contract.FreelancerID)
	assert.NoError(t, err)
	assert.Equal(t, models.MilestoneStatusInProgress, updated.Milestones[0].Status)
	repo.AssertExpectations(t)
}

func TestContractService_VersionConflict_Exhausted(t *testing.T) {
	repo := new(mockContractRepo)
	svc := NewContractService(repo, nil)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusPending)

	repo.On("GetByID", ctx, contract.ID).Return(cloneContract(contract), nil).Once()
	repo.On("GetByID", ctx, contract.ID).Return(cloneContract(contract), nil).Once()
	repo.On("GetByID", ctx, contract.ID).Return(cloneContract(contract), nil).Once()
	repo.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(repository.ErrVersionConflict).Times(3)

	_, err := svc.StartMilestone(ctx, contract.ID, contract.Milestones[0].ID, contract.FreelancerID)
	assert.True(t, apperror.IsConflict(err))
}

func TestContractService_CancelContract_OnlyFromActive(t *testing.T) {
	repo := new(mockContractRepo)
	svc := NewContractService(repo, nil)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusPending)
	contract.Status = models.ContractStatusCompleted
	repo.On("GetByID", ctx, contract.ID).Return(cloneContract(contract), nil)

	_, err := svc.CancelContract(ctx, contract.ID, contract.ClientID)
	assert.True(t, apperror.IsInvalidTransition(err))
}

func TestContractService_DisputeContract_EitherParty(t *testing.T) {
	repo := new(mockContractRepo)
	svc := NewContractService(repo, nil)
	ctx := context.Background()

	contract := testContract(models.MilestoneStatusInProgress)
	repo.On("GetByID", ctx, contract.ID).Return(cloneContract(contract), nil)
	repo.On("Save", ctx, mock.AnythingOfType("*models.Contract")).Return(nil)

	updated, err := svc.DisputeContract(ctx, contract.ID, contract.FreelancerID)
	assert.NoError(t, err)
	assert.Equal(t, models.ContractStatusDisputed, updated.Status)
}

func TestContractService_ListContracts(t *testing.T) {
	repo := new(mockContractRepo)
	svc := NewContractService(repo, nil)
	ctx := context.Background()
	userID := uuid.New()

	repo.On("ListByUser", ctx, userID, 20, 0).Return([]models.Contract{}, nil)
	repo.On("CountByUser", ctx, userID).Return(7, nil)

	contracts, total, err := svc.ListContracts(ctx, userID, 0, -5)
	assert.NoError(t, err)
	assert.Empty(t, contracts)
	assert.Equal(t, 7, total)
}
