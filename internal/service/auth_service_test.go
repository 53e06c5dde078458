package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"

	"github.com/ignatzorin/freelance-contracts/internal/models"
	"github.com/ignatzorin/freelance-contracts/internal/pkg/apperror"
	"github.com/ignatzorin/freelance-contracts/internal/repository"
)

type mockAuthRepo struct {
	mock.Mock
}

func (m *mockAuthRepo) Create(ctx context.Context, user *models.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockAuthRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockAuthRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *mockAuthRepo) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func testTokenManager() *TokenManager {
	return NewTokenManager("access-secret-for-tests", "refresh-secret-for-tests", 15*time.Minute, 24*time.Hour)
}

func TestAuthService_Register_Success(t *testing.T) {
	repo := new(mockAuthRepo)
	svc := NewAuthService(repo, testTokenManager())
	ctx := context.Background()

	repo.On("Create", ctx, mock.AnythingOfType("*models.User")).Return(nil)

	result, err := svc.Register(ctx, RegisterInput{
		Email:    "Ivan.Petrov@example.com",
		Password: "Sup3rSecret",
		Role:     "client",
	})
	assert.NoError(t, err)
	assert.Equal(t, "ivan.petrov@example.com", result.User.Email)
	assert.Equal(t, "ivan_petrov", result.User.Username)
	assert.Equal(t, models.RoleClient, result.User.Role)
	assert.NotEmpty(t, result.TokenPair.AccessToken)
	assert.NotEmpty(t, result.TokenPair.RefreshToken)

	// Пароль хранится только в виде bcrypt хэша.
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(result.User.PasswordHash), []byte("Sup3rSecret")))
}

func TestAuthService_Register_WeakPassword(t *testing.T) {
	repo := new(mockAuthRepo)
	svc := NewAuthService(repo, testTokenManager())

	_, err := svc.Register(context.Background(), RegisterInput{Email: "a@b.com", Password: "short"})
	assert.True(t, apperror.IsValidation(err))
	repo.AssertNotCalled(t, "Create")
}

func TestAuthService_Register_Duplicate(t *testing.T) {
	repo := new(mockAuthRepo)
	svc := NewAuthService(repo, testTokenManager())
	ctx := context.Background()

	repo.On("Create", ctx, mock.AnythingOfType("*models.User")).Return(repository.ErrDuplicateUser)

	_, err := svc.Register(ctx, RegisterInput{Email: "taken@example.com", Password: "Sup3rSecret"})
	assert.True(t, apperror.IsConflict(err))
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	repo := new(mockAuthRepo)
	svc := NewAuthService(repo, testTokenManager())
	ctx := context.Background()

	hash, _ := bcrypt.GenerateFromPassword([]byte("Sup3rSecret"), bcrypt.DefaultCost)
	user := &models.User{ID: uuid.New(), Email: "u@example.com", PasswordHash: string(hash), IsActive: true}
	repo.On("GetByEmail", ctx, "u@example.com").Return(user, nil)

	_, err := svc.Login(ctx, LoginInput{Email: "u@example.com", Password: "WrongPass1"})
	assert.Error(t, err)

	var appErr *apperror.AppError
	assert.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperror.ErrCodeUnauthorized, appErr.Code)
}

func TestAuthService_Login_InactiveAccount(t *testing.T) {
	repo := new(mockAuthRepo)
	svc := NewAuthService(repo, testTokenManager())
	ctx := context.Background()

	user := &models.User{ID: uuid.New(), Email: "banned@example.com", IsActive: false}
	repo.On("GetByEmail", ctx, "banned@example.com").Return(user, nil)

	_, err := svc.Login(ctx, LoginInput{Email: "banned@example.com", Password: "Sup3rSecret"})
	assert.True(t, apperror.IsForbidden(err))
}

func TestAuthService_Login_Success(t *testing.T) {
	repo := new(mockAuthRepo)
	tokens := testTokenManager()
	svc := NewAuthService(repo, tokens)
	ctx := context.Background()

	hash, _ := bcrypt.GenerateFromPassword([]byte("Sup3rSecret"), bcrypt.DefaultCost)
	user := &models.User{ID: uuid.New(), Email: "u@example.com", PasswordHash: string(hash), Role: models.RoleClient, IsActive: true}
	repo.On("GetByEmail", ctx, "u@example.com").Return(user, nil)
	repo.On("UpdateLastLogin", ctx, user.ID, mock.AnythingOfType("time.Time")).Return(nil)

	result, err := svc.Login(ctx, LoginInput{Email: "U@example.com", Password: "Sup3rSecret"})
	assert.NoError(t, err)

	// Access токен разбирается обратно в того же пользователя.
	parsedID, role, err := tokens.ParseAccess(result.TokenPair.AccessToken)
	assert.NoError(t, err)
	assert.Equal(t, user.ID, parsedID)
	assert.Equal(t, models.RoleClient, role)
}

func TestAuthService_Refresh_RoundTrip(t *testing.T) {
	repo := new(mockAuthRepo)
	tokens := testTokenManager()
	svc := NewAuthService(repo, tokens)
	ctx := context.Background()

	user := &models.User{ID: uuid.New(), Role: models.RoleFreelancer, IsActive: true}
	pair, err := tokens.GeneratePair(user)
	assert.NoError(t, err)

	repo.On("GetByID", ctx, user.ID).Return(user, nil)

	fresh, err := svc.Refresh(ctx, pair.RefreshToken)
	assert.NoError(t, err)
	assert.NotEmpty(t, fresh.AccessToken)
}

func TestAuthService_Refresh_AccessTokenRejected(t *testing.T) {
	repo := new(mockAuthRepo)
	tokens := testTokenManager()
	svc := NewAuthService(repo, tokens)

	user := &models.User{ID: uuid.New(), Role: models.RoleFreelancer}
	pair, err := tokens.GeneratePair(user)
	assert.NoError(t, err)

	// Access токен подписан другим секретом и не проходит как refresh.
	_, err = svc.Refresh(context.Background(), pair.AccessToken)
	assert.Error(t, err)
}
