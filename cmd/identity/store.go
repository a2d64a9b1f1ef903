package identity

import (
	"context"
	"time"
)

// UserFilter selects users for Repository.GetBy. Empty fields do not filter.
// Email is matched case-insensitively.
type UserFilter struct {
	Email      string
	IsActive   *bool
	IsVerified *bool
}

// Empty reports whether the filter constrains nothing.
func (f UserFilter) Empty() bool {
	return f.Email == "" && f.IsActive == nil && f.IsVerified == nil
}

// Match reports whether u satisfies the filter.
func (f UserFilter) Match(u *User) bool {
	if f.Email != "" && NormalizeEmail(u.Email) != NormalizeEmail(f.Email) {
		return false
	}
	if f.IsActive != nil && u.IsActive != *f.IsActive {
		return false
	}
	if f.IsVerified != nil && u.IsVerified != *f.IsVerified {
		return false
	}
	return true
}

// UserPatch is a partial update. Nil fields are left untouched.
// Mutate, when set, runs after the base fields are applied and may change
// application-specific fields of U.
type UserPatch[U Principal] struct {
	Email        *string
	PasswordHash *string
	IsActive     *bool
	IsVerified   *bool
	Mutate       func(U)
}

// Apply writes the patch onto u and stamps UpdatedAt.
func (p UserPatch[U]) Apply(u U, now time.Time) {
	id := u.Identity()
	if p.Email != nil {
		id.Email = *p.Email
	}
	if p.PasswordHash != nil {
		id.PasswordHash = *p.PasswordHash
	}
	if p.IsActive != nil {
		id.IsActive = *p.IsActive
	}
	if p.IsVerified != nil {
		id.IsVerified = *p.IsVerified
	}
	if p.Mutate != nil {
		p.Mutate(u)
	}
	id.UpdatedAt = now
}

// RolePatch is a partial role update.
type RolePatch struct {
	Name        *string
	Description *string
}

// Apply writes the patch onto r and stamps UpdatedAt.
func (p RolePatch) Apply(r *Role, now time.Time) {
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Description != nil {
		r.Description = *p.Description
	}
	r.UpdatedAt = now
}

// Repository is the persistence boundary of the identity service.
//
// Contract:
//   - Get/GetRole/Update/Delete and the role operations return a NotFoundError
//     when the referenced row is missing.
//   - GetBy returns NotFoundError when no user or more than one user matches.
//   - Add/AddRole/UpdateRole and AssignRole return a ConflictError when a
//     uniqueness constraint (email, role name, membership) is violated.
//   - RevokeRole returns NotFoundError when the membership does not exist.
type Repository[U Principal] interface {
	Get(ctx context.Context, id string) (U, error)
	GetBy(ctx context.Context, f UserFilter) (U, error)
	Add(ctx context.Context, u U) (U, error)
	Update(ctx context.Context, id string, p UserPatch[U]) (U, error)
	Delete(ctx context.Context, id string) error

	GetRole(ctx context.Context, id string) (Role, error)
	GetRoleByName(ctx context.Context, name string) (Role, error)
	AddRole(ctx context.Context, r Role) (Role, error)
	UpdateRole(ctx context.Context, id string, p RolePatch) (Role, error)
	DeleteRole(ctx context.Context, id string) error

	AssignRole(ctx context.Context, userID, roleID string) (U, error)
	RevokeRole(ctx context.Context, userID, roleID string) (U, error)
}
