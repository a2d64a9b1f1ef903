package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/cmd/identity/ids"
)

type member struct {
	User
	Title      string
	LoginCount int
}

func cloneMember(m *member) *member {
	c := *m
	c.User = *CloneUser(&m.User)
	return &c
}

func newMemID(t *testing.T) string {
	t.Helper()
	id, err := ids.NewULID(timeZero)
	require.NoError(t, err)
	return id
}

func TestMemoryStore_AddAndGetBy_CaseInsensitiveEmail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewUserMemoryStore()

	u := &User{ID: newMemID(t), Email: "User@Example.com", PasswordHash: "h", IsActive: true}
	_, err := s.Add(ctx, u)
	require.NoError(t, err)

	got, err := s.GetBy(ctx, UserFilter{Email: "  user@EXAMPLE.com "})
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, "User@Example.com", got.Email)

	_, err = s.Add(ctx, &User{ID: newMemID(t), Email: "USER@example.com", PasswordHash: "h"})
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	var ce ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "email", ce.Field)
}

func TestMemoryStore_GetBy_AmbiguousIsNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewUserMemoryStore()

	for _, email := range []string{"a@example.com", "b@example.com"} {
		_, err := s.Add(ctx, &User{ID: newMemID(t), Email: email, IsActive: true})
		require.NoError(t, err)
	}

	active := true
	_, err := s.GetBy(ctx, UserFilter{IsActive: &active})
	assert.True(t, IsNotFound(err))

	_, err = s.GetBy(ctx, UserFilter{Email: "missing@example.com"})
	assert.True(t, IsNotFound(err))

	_, err = s.GetBy(ctx, UserFilter{})
	assert.True(t, IsInvalidInput(err))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewUserMemoryStore()

	u := &User{ID: newMemID(t), Email: "copy@example.com"}
	_, err := s.Add(ctx, u)
	require.NoError(t, err)

	u.Email = "changed@example.com"
	got, err := s.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "copy@example.com", got.Email)

	got.IsVerified = true
	again, err := s.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, again.IsVerified)
}

func TestMemoryStore_UpdateAppliesPatchAndMutate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore(cloneMember)

	m := &member{User: User{ID: newMemID(t), Email: "m@example.com"}, Title: "Mr"}
	_, err := s.Add(ctx, m)
	require.NoError(t, err)

	verified := true
	got, err := s.Update(ctx, m.ID, UserPatch[*member]{
		IsVerified: &verified,
		Mutate:     func(x *member) { x.LoginCount++; x.Title = "Dr" },
	})
	require.NoError(t, err)
	assert.True(t, got.IsVerified)
	assert.Equal(t, 1, got.LoginCount)
	assert.Equal(t, "Dr", got.Title)
	assert.False(t, got.UpdatedAt.IsZero())

	_, err = s.Update(ctx, "missing", UserPatch[*member]{IsVerified: &verified})
	assert.True(t, IsNotFound(err))
}

func TestMemoryStore_UpdateEmailConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewUserMemoryStore()

	a := &User{ID: newMemID(t), Email: "a@example.com"}
	b := &User{ID: newMemID(t), Email: "b@example.com"}
	_, err := s.Add(ctx, a)
	require.NoError(t, err)
	_, err = s.Add(ctx, b)
	require.NoError(t, err)

	email := "A@example.com"
	_, err = s.Update(ctx, b.ID, UserPatch[*User]{Email: &email})
	assert.True(t, IsConflict(err))

	// Changing only the case of one's own email is allowed.
	_, err = s.Update(ctx, a.ID, UserPatch[*User]{Email: &email})
	assert.NoError(t, err)
}

func TestMemoryStore_RolesLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewUserMemoryStore()

	u := &User{ID: newMemID(t), Email: "r@example.com"}
	_, err := s.Add(ctx, u)
	require.NoError(t, err)

	admin, err := s.AddRole(ctx, Role{ID: newMemID(t), Name: "admin"})
	require.NoError(t, err)

	_, err = s.AddRole(ctx, Role{ID: newMemID(t), Name: "admin"})
	assert.True(t, IsConflict(err))

	got, err := s.AssignRole(ctx, u.ID, admin.ID)
	require.NoError(t, err)
	assert.True(t, got.HasRole("admin"))

	_, err = s.AssignRole(ctx, u.ID, admin.ID)
	assert.True(t, IsConflict(err))

	_, err = s.AssignRole(ctx, u.ID, "missing")
	assert.True(t, IsNotFound(err))

	name := "administrator"
	_, err = s.UpdateRole(ctx, admin.ID, RolePatch{Name: &name})
	require.NoError(t, err)

	got, err = s.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.HasRole("administrator"))

	byName, err := s.GetRoleByName(ctx, "administrator")
	require.NoError(t, err)
	assert.Equal(t, admin.ID, byName.ID)

	got, err = s.RevokeRole(ctx, u.ID, admin.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Roles)

	_, err = s.RevokeRole(ctx, u.ID, admin.ID)
	assert.True(t, IsNotFound(err))

	_, err = s.AssignRole(ctx, u.ID, admin.ID)
	require.NoError(t, err)
	require.NoError(t, s.DeleteRole(ctx, admin.ID))

	got, err = s.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Roles)

	assert.True(t, IsNotFound(s.DeleteRole(ctx, admin.ID)))
}

func TestMemoryStore_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewUserMemoryStore()

	u := &User{ID: newMemID(t), Email: "d@example.com"}
	_, err := s.Add(ctx, u)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, u.ID))
	assert.True(t, IsNotFound(s.Delete(ctx, u.ID)))

	_, err = s.Get(ctx, u.ID)
	assert.True(t, IsNotFound(err))
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewUserMemoryStore().Get(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}
