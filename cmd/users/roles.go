package users

import (
	"context"
	"fmt"

	"warden/cmd/identity"
	"warden/cmd/identity/ids"
)

// RoleCreate is the input of CreateRole.
type RoleCreate struct {
	Name        string
	Description string
}

// CreateRole stores a new role. Name uniqueness is enforced by the repository.
func (s *Service[U]) CreateRole(ctx context.Context, in RoleCreate) (identity.Role, error) {
	const op = "users.CreateRole"

	name := identity.NormalizeRoleName(in.Name)
	if name == "" {
		return identity.Role{}, identity.InvalidInput(op, "role name is required")
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return identity.Role{}, fmt.Errorf("%s: id: %w", op, err)
	}

	return s.repo.AddRole(ctx, identity.Role{
		ID:          id,
		Name:        name,
		Description: in.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// UpdateRole applies a partial role update.
func (s *Service[U]) UpdateRole(ctx context.Context, id string, p identity.RolePatch) (identity.Role, error) {
	if p.Name != nil && identity.NormalizeRoleName(*p.Name) == "" {
		return identity.Role{}, identity.InvalidInput("users.UpdateRole", "role name is required")
	}
	return s.repo.UpdateRole(ctx, id, p)
}

// DeleteRole removes a role and its memberships.
func (s *Service[U]) DeleteRole(ctx context.Context, id string) error {
	return s.repo.DeleteRole(ctx, id)
}

// GetRole returns the role with id.
func (s *Service[U]) GetRole(ctx context.Context, id string) (identity.Role, error) {
	return s.repo.GetRole(ctx, id)
}

// GetRoleByName returns the role named name.
func (s *Service[U]) GetRoleByName(ctx context.Context, name string) (identity.Role, error) {
	return s.repo.GetRoleByName(ctx, name)
}

// AssignRole gives a role to a user. Both must exist (NotFound); a role the
// user already holds is a Conflict.
func (s *Service[U]) AssignRole(ctx context.Context, userID, roleID string) (U, error) {
	const op = "users.AssignRole"

	var zero U
	user, role, err := s.resolveMembership(ctx, userID, roleID)
	if err != nil {
		return zero, err
	}
	if user.Identity().HasRoleID(role.ID) {
		return zero, identity.ConflictError{Op: op, Field: "role"}
	}
	return s.repo.AssignRole(ctx, userID, roleID)
}

// RevokeRole takes a role from a user. Both must exist (NotFound); a role
// the user does not hold is a Conflict.
func (s *Service[U]) RevokeRole(ctx context.Context, userID, roleID string) (U, error) {
	const op = "users.RevokeRole"

	var zero U
	user, role, err := s.resolveMembership(ctx, userID, roleID)
	if err != nil {
		return zero, err
	}
	if !user.Identity().HasRoleID(role.ID) {
		return zero, identity.ConflictError{Op: op, Field: "role"}
	}
	return s.repo.RevokeRole(ctx, userID, roleID)
}

// HasRole reports whether user holds the role called name.
func HasRole[U identity.Principal](user U, name string) bool {
	var zero U
	return user != zero && user.Identity().HasRole(name)
}

func (s *Service[U]) resolveMembership(ctx context.Context, userID, roleID string) (U, identity.Role, error) {
	var zero U
	user, err := s.repo.Get(ctx, userID)
	if err != nil {
		return zero, identity.Role{}, err
	}
	role, err := s.repo.GetRole(ctx, roleID)
	if err != nil {
		return zero, identity.Role{}, err
	}
	return user, role, nil
}
