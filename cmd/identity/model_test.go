package identity

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var timeZero time.Time

func TestUserFilter_Match(t *testing.T) {
	u := &User{Email: "Alice@Example.com", IsActive: true}
	yes, no := true, false

	assert.True(t, UserFilter{Email: "alice@example.com"}.Match(u))
	assert.True(t, UserFilter{Email: "alice@example.com", IsActive: &yes}.Match(u))
	assert.False(t, UserFilter{IsActive: &no}.Match(u))
	assert.False(t, UserFilter{IsVerified: &yes}.Match(u))
	assert.True(t, UserFilter{}.Empty())
}

func TestCloneUser_DoesNotShareRoles(t *testing.T) {
	u := &User{ID: "1", Roles: []Role{{ID: "r", Name: "admin"}}}
	c := CloneUser(u)
	c.Roles[0].Name = "other"

	assert.Equal(t, "admin", u.Roles[0].Name)
	assert.Nil(t, CloneUser(nil))
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", ConflictError{Op: "identity.Add", Field: "email"})
	assert.True(t, IsConflict(err))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.EqualError(t, errors.Unwrap(err), "identity.Add: conflict: email")

	assert.True(t, IsNotFound(NotFoundError{Op: "op"}))
	assert.True(t, IsInvalidInput(InvalidInput("op", "bad")))
	assert.True(t, IsInvalidToken(InvalidToken("op")))
	assert.EqualError(t, InvalidToken("users.Verify"), "users.Verify: invalid_token")
}
