package users

import (
	"context"
	"log/slog"

	"warden/cmd/identity"
)

// Credentials is a login attempt.
type Credentials struct {
	Email    string
	Password string
}

// LogValue keeps the password out of logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("email", c.Email))
}

// Authenticate checks creds and returns the user, or the zero U with a nil
// error when the attempt is rejected. Rejections (blocked by PreLogin,
// unknown email, wrong password) are indistinguishable to the caller and
// only show up in logs and metrics.
//
// A stored hash that needs upgrading is replaced before PostLogin runs;
// failing to persist it does not fail the login. A PostLogin error aborts
// the call as a *HookError.
func (s *Service[U]) Authenticate(ctx context.Context, creds Credentials) (U, error) {
	var zero U

	allowed, err := s.hooks.PreLogin(ctx, creds)
	if err != nil {
		s.metrics.login(outcomeError)
		return zero, &HookError{Stage: StagePreLogin, Err: err}
	}
	if !allowed {
		s.metrics.login(outcomeBlocked)
		s.log.Info("users.authenticate.blocked")
		return zero, nil
	}

	user, err := s.userByEmail(ctx, "users.Authenticate", creds.Email)
	if err != nil {
		if identity.IsNotFound(err) {
			if s.dummyHash != "" {
				s.passwords.VerifyAndUpdate(creds.Password, s.dummyHash)
			}
			s.metrics.login(outcomeNotFound)
			s.log.Info("users.authenticate.not_found")
			return zero, nil
		}
		s.metrics.login(outcomeError)
		return zero, err
	}

	id := user.Identity()
	matched, newHash := s.passwords.VerifyAndUpdate(creds.Password, id.PasswordHash)
	if !matched {
		s.metrics.login(outcomeBadPassword)
		s.log.Info("users.authenticate.bad_password", "user_id", id.ID)
		return zero, nil
	}

	if newHash != "" {
		updated, err := s.repo.Update(ctx, id.ID, identity.UserPatch[U]{PasswordHash: &newHash})
		if err != nil {
			s.metrics.rehash(outcomeFailed)
			s.log.Warn("users.authenticate.rehash.fail", "err", err, "user_id", id.ID)
		} else {
			s.metrics.rehash(outcomePersisted)
			user = updated
		}
	}

	if err := s.hooks.PostLogin(ctx, user); err != nil {
		s.metrics.login(outcomeError)
		return zero, &HookError{Stage: StagePostLogin, Err: err}
	}

	s.metrics.login(outcomeOK)
	return user, nil
}
