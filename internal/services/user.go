package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/taskhub/apiserver/internal/store"
	"github.com/taskhub/apiserver/types"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	UpdateRole(ctx context.Context, email string, role types.Role) (types.User, error)
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo     UserRepository
	validate *validator.Validate
	cost     int
	timeout  time.Duration
}

// UserServiceOption customizes a UserService.
type UserServiceOption func(*UserService)

// WithBcryptCost overrides the password hashing cost.
func WithBcryptCost(cost int) UserServiceOption {
	return func(s *UserService) {
		s.cost = cost
	}
}

// WithUserTimeout bounds every repository call. Non-positive values keep the default.
func WithUserTimeout(d time.Duration) UserServiceOption {
	return func(s *UserService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewUserService(repo UserRepository, opts ...UserServiceOption) *UserService {
	s := &UserService{
		repo:     repo,
		validate: validator.New(),
		cost:     bcrypt.DefaultCost,
		timeout:  defaultOperationTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return types.User{}, translate(ctx, err)
	}
	return user, nil
}

// Register creates an account with the default role.
func (s *UserService) Register(ctx context.Context, email, password string) (types.User, error) {
	email = normalizeEmail(email)

	var v ValidationError
	v.check(email != "", "email", "must be provided")
	v.check(s.validate.Var(email, "email") == nil, "email", "must be a valid email address")
	v.check(password != "", "password", "must be provided")
	v.check(len(password) >= minPasswordLength, "password", "must be at least 8 characters long")
	v.check(len(password) <= maxPasswordLength, "password", "must be at most 72 characters long")
	if err := v.err(); err != nil {
		return types.User{}, err
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return types.User{}, ErrConflict
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, translate(ctx, err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.repo.Create(ctx, types.User{
		Email:        email,
		Role:         types.RoleUser,
		PasswordHash: string(hashed),
	})
	if err != nil {
		return types.User{}, translate(ctx, err)
	}
	return user, nil
}

// Authenticate verifies credentials. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (types.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return types.User{}, invalid("credentials", "email and password are required")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrUnauthenticated
		}
		return types.User{}, translate(ctx, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return types.User{}, ErrUnauthenticated
	}
	return user, nil
}

// Promote changes the role of the account registered under email.
func (s *UserService) Promote(ctx context.Context, email string, role types.Role) (types.User, error) {
	if !role.Valid() {
		return types.User{}, invalid("role", "must be one of user, admin")
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	user, err := s.repo.UpdateRole(ctx, normalizeEmail(email), role)
	if err != nil {
		return types.User{}, translate(ctx, err)
	}
	return user, nil
}

func (s *UserService) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
