package users

import (
	"context"
	"fmt"

	"warden/cmd/identity"
)

// Hook stages, as reported by HookError.Stage.
const (
	StagePreLogin         = "pre_login"
	StagePostLogin        = "post_login"
	StagePreRegistration  = "pre_registration"
	StagePostRegistration = "post_registration"
	StagePostVerification = "post_verification"
)

// Hooks are the service's extension points. Embed NopHooks[U] and override
// only the methods you need.
type Hooks[U identity.Principal] interface {
	// PreLogin runs before any lookup. Returning false rejects the attempt.
	PreLogin(ctx context.Context, creds Credentials) (bool, error)
	// PostLogin runs after a successful password check.
	PostLogin(ctx context.Context, user U) error
	// PreRegistration may veto a registration by returning an error.
	PreRegistration(ctx context.Context, in UserCreate[U]) error
	// PostRegistration runs after the user is stored and verification was sent.
	PostRegistration(ctx context.Context, user U) error
	// PostVerification runs after the user was marked verified.
	PostVerification(ctx context.Context, user U) error
}

// NopHooks allows everything and does nothing.
type NopHooks[U identity.Principal] struct{}

func (NopHooks[U]) PreLogin(context.Context, Credentials) (bool, error) { return true, nil }

func (NopHooks[U]) PostLogin(context.Context, U) error { return nil }

func (NopHooks[U]) PreRegistration(context.Context, UserCreate[U]) error { return nil }

func (NopHooks[U]) PostRegistration(context.Context, U) error { return nil }

func (NopHooks[U]) PostVerification(context.Context, U) error { return nil }

// Sender delivers tokens out of band (email, SMS, queue).
type Sender[U identity.Principal] interface {
	SendVerificationToken(ctx context.Context, user U, token string) error
	SendPasswordResetToken(ctx context.Context, user U, token string) error
}

// NopSender drops every token.
type NopSender[U identity.Principal] struct{}

func (NopSender[U]) SendVerificationToken(context.Context, U, string) error { return nil }

func (NopSender[U]) SendPasswordResetToken(context.Context, U, string) error { return nil }

// HookError wraps a failure raised by a hook. For post-* stages the primary
// mutation has already been committed.
type HookError struct {
	Stage string
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("users: %s hook: %v", e.Stage, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
