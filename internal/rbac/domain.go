package rbac

import (
	"context"
	"strings"
)

// Role is an account type. Ranks are ordered owner > admin > user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	RoleOwner Role = "owner"
)

// ParseRole normalizes raw into a Role.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	return r, r.IsValid()
}

// IsValid reports whether r is a known role.
func (r Role) IsValid() bool {
	return r.Rank() > 0
}

// Rank returns the numeric rank, zero for unknown roles.
func (r Role) Rank() int {
	switch r {
	case RoleUser:
		return 1
	case RoleAdmin:
		return 2
	case RoleOwner:
		return 3
	}
	return 0
}

// AtLeast reports whether r ranks at or above min.
func (r Role) AtLeast(min Role) bool {
	return r.IsValid() && r.Rank() >= min.Rank()
}

// Outranks reports whether r ranks strictly above other.
func (r Role) Outranks(other Role) bool {
	return r.Rank() > other.Rank()
}

// CanCreate reports whether r may create an account of type target.
// Owners create anyone, admins create admins and users, users create users.
func (r Role) CanCreate(target Role) bool {
	if !r.IsValid() || !target.IsValid() {
		return false
	}
	if r == RoleOwner {
		return true
	}
	return r.Rank() >= target.Rank()
}

// CanManage reports whether r may update another account of type target.
// Owners manage everyone except other owners; admins manage plain users.
func (r Role) CanManage(target Role) bool {
	switch r {
	case RoleOwner:
		return target != RoleOwner && target.IsValid()
	case RoleAdmin:
		return target == RoleUser
	}
	return false
}

// CanDelete reports whether r may delete or disable an account of type target.
func (r Role) CanDelete(target Role) bool {
	return r == RoleOwner && target != RoleOwner && target.IsValid()
}

// Principal describes the authenticated actor.
type Principal struct {
	UserID   string
	Username string
	Role     Role
	TokenID  string
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
