package users

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/stockroom/stockroom/internal/rbac"
	"github.com/stockroom/stockroom/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	GetByUsername(ctx context.Context, username string) (User, error)
	List(ctx context.Context) ([]User, error)
	Insert(ctx context.Context, u User) error
	Update(ctx context.Context, u User) error
	Delete(ctx context.Context, username string) error
}

// ErrUsernameTaken reports a duplicate username.
func ErrUsernameTaken(username string) error {
	return shared.Validationf("username %s already exists", username)
}

// Service handles user business logic.
type Service struct {
	repo     RepositoryPort
	validate *validator.Validate
	cost     int
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, validate: validator.New(), cost: bcrypt.DefaultCost}
}

// WithHashCost overrides the bcrypt cost, tests use bcrypt.MinCost.
func (s *Service) WithHashCost(cost int) *Service {
	s.cost = cost
	return s
}

// Get returns an account by username.
func (s *Service) Get(ctx context.Context, username string) (User, error) {
	return s.repo.GetByUsername(ctx, NormalizeUsername(username))
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// Create adds an account the actor's rank allows.
func (s *Service) Create(ctx context.Context, actor rbac.Principal, req CreateRequest) (User, error) {
	if err := s.validate.Struct(req); err != nil {
		return User{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	target, _ := rbac.ParseRole(req.Type)
	if !actor.Role.CanCreate(target) {
		return User{}, fmt.Errorf("%w: %s may not create %s accounts", shared.ErrForbidden, actor.Role, target)
	}
	return s.insert(ctx, shared.NewActor(actor.Username), req.Username, req.Password, target)
}

// Bootstrap creates an owner account without an acting principal. It is used
// by the seed script.
func (s *Service) Bootstrap(ctx context.Context, username, password string) (User, error) {
	req := CreateRequest{Username: username, Password: password, Type: string(rbac.RoleOwner)}
	if err := s.validate.Struct(req); err != nil {
		return User{}, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	return s.insert(ctx, shared.NewActor("system"), username, password, rbac.RoleOwner)
}

func (s *Service) insert(ctx context.Context, actor shared.Actor, username, password string, role rbac.Role) (User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{
		ID:           uuid.New(),
		Username:     NormalizeUsername(username),
		PasswordHash: string(hash),
		Type:         role,
		Audit:        shared.CreatedBy(actor),
	}
	if err := s.repo.Insert(ctx, u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Update applies req to the named account. It reports whether the account
// was deleted.
func (s *Service) Update(ctx context.Context, actor rbac.Principal, username string, req UpdateRequest) (User, bool, error) {
	if req.IsEmpty() {
		return User{}, false, shared.Validationf("no changes supplied")
	}
	if err := s.validate.Struct(req); err != nil {
		return User{}, false, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}
	target, err := s.repo.GetByUsername(ctx, NormalizeUsername(username))
	if err != nil {
		return User{}, false, err
	}
	self := target.Username == actor.Username
	switch {
	case req.Deleted:
		if !actor.Role.CanDelete(target.Type) {
			return User{}, false, fmt.Errorf("%w: insufficient access privileges", shared.ErrForbidden)
		}
	case req.Disabled != nil:
		if self || !actor.Role.CanManage(target.Type) {
			return User{}, false, fmt.Errorf("%w: insufficient access privileges", shared.ErrForbidden)
		}
	default:
		if !self && !actor.Role.CanManage(target.Type) {
			return User{}, false, fmt.Errorf("%w: insufficient access privileges", shared.ErrForbidden)
		}
	}

	if req.Deleted {
		if err := s.repo.Delete(ctx, target.Username); err != nil {
			return User{}, false, err
		}
		return target, true, nil
	}

	if req.Disabled != nil {
		if *req.Disabled && target.Disabled {
			return User{}, false, &shared.ConflictError{Message: fmt.Sprintf("user %s is already disabled", target.Username)}
		}
		target.Disabled = *req.Disabled
	}
	if req.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), s.cost)
		if err != nil {
			return User{}, false, fmt.Errorf("hash password: %w", err)
		}
		target.PasswordHash = string(hash)
	}
	target.Touch(shared.NewActor(actor.Username))
	if err := s.repo.Update(ctx, target); err != nil {
		return User{}, false, err
	}
	return target, false, nil
}
