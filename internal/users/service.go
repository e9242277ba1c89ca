package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmerrifield20/NodeRegistrar/internal/registry/model"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown login, a
// wrong password or a disabled account. The cases are not distinguished.
var ErrInvalidCredentials = errors.New("invalid credentials")

// minPasswordLen is the shortest password accepted for a new account.
const minPasswordLen = 8

// userRepo is the storage interface consumed by UserService.
type userRepo interface {
	Create(ctx context.Context, u *User) error
	GetByLogin(ctx context.Context, login string) (*User, error)
	SetPasswordHash(ctx context.Context, userID uuid.UUID, hash string) error
	SetRole(ctx context.Context, userID uuid.UUID, role string) error
}

// UserService implements business logic for registrar accounts.
type UserService struct {
	repo   userRepo
	cost   int
	logger *zap.Logger
}

// NewUserService creates a new UserService.
func NewUserService(repo userRepo, logger *zap.Logger) *UserService {
	return &UserService{repo: repo, cost: bcrypt.DefaultCost, logger: logger}
}

// SetHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *UserService) SetHashCost(cost int) {
	s.cost = cost
}

// Create adds an account with the given role.
func (s *UserService) Create(ctx context.Context, login, password, role string) (*User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, fmt.Errorf("login and password are required")
	}
	if len(password) < minPasswordLen {
		return nil, fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("unknown role %q", role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{Login: login, PasswordHash: string(hash), Role: role}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, ErrDuplicateLogin) {
			return nil, ErrDuplicateLogin
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user created", zap.String("login", login), zap.String("role", role))
	return u, nil
}

// Authenticate verifies login/password credentials and returns the user on
// success.
func (s *UserService) Authenticate(ctx context.Context, login, password string) (*User, error) {
	u, err := s.repo.GetByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if u.Disabled || u.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// GetByLogin retrieves a user by login.
func (s *UserService) GetByLogin(ctx context.Context, login string) (*User, error) {
	return s.repo.GetByLogin(ctx, login)
}

// SetPassword replaces a user's password.
func (s *UserService) SetPassword(ctx context.Context, login, password string) error {
	if len(password) < minPasswordLen {
		return fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	u, err := s.repo.GetByLogin(ctx, login)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.repo.SetPasswordHash(ctx, u.ID, string(hash))
}

// SetRole changes a user's role.
func (s *UserService) SetRole(ctx context.Context, login, role string) error {
	if !ValidRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	u, err := s.repo.GetByLogin(ctx, login)
	if err != nil {
		return err
	}
	return s.repo.SetRole(ctx, u.ID, role)
}

// ValidRole reports whether role is one the access gate understands.
func ValidRole(role string) bool {
	switch role {
	case model.RoleAdmin, model.RoleRegistrar, model.RoleViewer:
		return true
	}
	return false
}
