package app

import (
	"context"
	"fmt"

	"warden/cmd/identity"
	"warden/cmd/users"
)

// bootstrapAdmin makes sure the account email exists, is active and verified,
// and holds roleName, creating the role first when needed. It is idempotent:
// an existing account keeps its password and only gains the role.
func bootstrapAdmin(ctx context.Context, svc *users.Service[*identity.User], log Logger, roleName, email, password string) error {
	role, err := svc.GetRoleByName(ctx, roleName)
	if identity.IsNotFound(err) {
		role, err = svc.CreateRole(ctx, users.RoleCreate{Name: roleName, Description: "Warden administrators"})
		if identity.IsConflict(err) {
			role, err = svc.GetRoleByName(ctx, roleName)
		}
	}
	if err != nil {
		return fmt.Errorf("bootstrap admin role %q: %w", roleName, err)
	}

	u, err := svc.Create(ctx, users.UserCreate[*identity.User]{
		Record:   &identity.User{Email: email, IsActive: true, IsVerified: true},
		Password: password,
	}, true)
	switch {
	case err == nil:
		log.Info("bootstrap.admin.created", "user_id", u.ID, "role", role.Name)
	case identity.IsConflict(err):
		u, err = svc.GetBy(ctx, identity.UserFilter{Email: email})
		if err != nil {
			return fmt.Errorf("bootstrap admin lookup: %w", err)
		}
	default:
		return fmt.Errorf("bootstrap admin user: %w", err)
	}

	if users.HasRole(u, role.Name) {
		return nil
	}
	if _, err := svc.AssignRole(ctx, u.ID, role.ID); err != nil && !identity.IsConflict(err) {
		return fmt.Errorf("bootstrap admin assign: %w", err)
	}
	log.Info("bootstrap.admin.role_assigned", "user_id", u.ID, "role", role.Name)
	return nil
}
