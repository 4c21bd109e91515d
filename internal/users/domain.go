package users

import (
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/stockroom/stockroom/internal/rbac"
	"github.com/stockroom/stockroom/internal/shared"
)

// User represents an account able to sign in.
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Type         rbac.Role `json:"type"`
	Disabled     bool      `json:"disabled"`
	shared.Audit
}

// CreateRequest carries the fields for a new account.
type CreateRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Type     string `json:"type" validate:"required,oneof=owner admin user"`
}

// UpdateRequest carries the optional changes to an account. Deleted removes
// the account and ignores the other fields.
type UpdateRequest struct {
	Password *string `json:"password,omitempty" validate:"omitempty,min=8,max=72"`
	Disabled *bool   `json:"disabled,omitempty"`
	Deleted  bool    `json:"deleted,omitempty"`
}

// IsEmpty reports whether the request changes nothing.
func (r UpdateRequest) IsEmpty() bool {
	return r.Password == nil && r.Disabled == nil && !r.Deleted
}

var folder = cases.Fold()

// NormalizeUsername trims and case-folds a username.
func NormalizeUsername(raw string) string {
	return folder.String(strings.TrimSpace(raw))
}
