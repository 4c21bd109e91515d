package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stockroom/stockroom/internal/rbac"
	"github.com/stockroom/stockroom/internal/shared"
	"github.com/stockroom/stockroom/internal/users"
)

// UserFinder loads accounts by username.
type UserFinder interface {
	GetByUsername(ctx context.Context, username string) (users.User, error)
}

// Service wraps authentication business rules.
type Service struct {
	users   UserFinder
	tokens  *TokenIssuer
	revoker Revoker
}

// NewService constructs a new Service.
func NewService(finder UserFinder, tokens *TokenIssuer, revoker Revoker) *Service {
	return &Service{users: finder, tokens: tokens, revoker: revoker}
}

// Login validates username/password credentials and issues a token.
// Disabled accounts cannot sign in.
func (s *Service) Login(ctx context.Context, username, password string) (Token, error) {
	user, err := s.users.GetByUsername(ctx, users.NormalizeUsername(username))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Token{}, fmt.Errorf("%w: username %s doesn't exist", shared.ErrInvalidCredentials, username)
		}
		return Token{}, err
	}
	if user.Disabled {
		return Token{}, fmt.Errorf("%w: username %s is not currently active", shared.ErrInvalidCredentials, user.Username)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Token{}, fmt.Errorf("%w: username and password don't match", shared.ErrInvalidCredentials)
	}
	return s.tokens.Issue(user.Username, user.Type)
}

// Authenticate resolves a bearer token into a principal. The account is
// reloaded so disabled users and changed roles take effect immediately.
func (s *Service) Authenticate(ctx context.Context, raw string) (rbac.Principal, error) {
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return rbac.Principal{}, err
	}
	if s.revoker != nil {
		revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return rbac.Principal{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return rbac.Principal{}, fmt.Errorf("%w: token revoked", shared.ErrUnauthorized)
		}
	}
	user, err := s.users.GetByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return rbac.Principal{}, fmt.Errorf("%w: user is invalid", shared.ErrUnauthorized)
		}
		return rbac.Principal{}, err
	}
	if user.Disabled {
		return rbac.Principal{}, fmt.Errorf("%w: user is disabled", shared.ErrUnauthorized)
	}
	return rbac.Principal{
		UserID:   user.ID.String(),
		Username: user.Username,
		Role:     user.Type,
		TokenID:  claims.ID,
	}, nil
}

// Logout revokes the token until its expiry.
func (s *Service) Logout(ctx context.Context, raw string) error {
	claims, err := s.tokens.Parse(raw)
	if err != nil {
		return err
	}
	if s.revoker == nil {
		return nil
	}
	until := time.Now().Add(time.Minute)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	return s.revoker.Revoke(ctx, claims.ID, until)
}
