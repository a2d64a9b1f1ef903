package users

import (
	"context"
	"fmt"

	"warden/cmd/identity"
	"warden/cmd/security/token"
)

// InitiateVerification issues a verify token for user and hands it to the
// Sender.
func (s *Service[U]) InitiateVerification(ctx context.Context, user U) error {
	const op = "users.InitiateVerification"

	var zero U
	if user == zero {
		return identity.InvalidInput(op, "user is required")
	}

	tok, err := s.tokens.Issue(user.Identity().ID, token.AudienceVerify, s.cfg.VerifyTokenTTL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.token(token.AudienceVerify, outcomeIssued)

	if err := s.sender.SendVerificationToken(ctx, user, tok); err != nil {
		return fmt.Errorf("%s: send: %w", op, err)
	}
	return nil
}

// Verify redeems a verify token and marks its user verified. Every token
// problem, including a subject that no longer exists, is ErrInvalidToken.
// A PostVerification failure is returned as *HookError with the updated user.
func (s *Service[U]) Verify(ctx context.Context, tok string) (U, error) {
	const op = "users.Verify"

	var zero U
	claims, err := s.decode(op, tok, token.AudienceVerify)
	if err != nil {
		return zero, err
	}
	if err := s.consume(ctx, op, claims); err != nil {
		return zero, err
	}

	verified := true
	user, err := s.repo.Update(ctx, claims.Subject, identity.UserPatch[U]{IsVerified: &verified})
	if err != nil {
		if identity.IsNotFound(err) {
			s.metrics.token(token.AudienceVerify, outcomeInvalid)
			return zero, identity.InvalidToken(op)
		}
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.token(token.AudienceVerify, outcomeRedeemed)

	if err := s.hooks.PostVerification(ctx, user); err != nil {
		s.log.Error("users.verify.post_hook.fail", "err", err, "user_id", claims.Subject)
		return user, &HookError{Stage: StagePostVerification, Err: err}
	}
	return user, nil
}

// InitiatePasswordReset sends a reset token to the user with email. An
// unknown email returns nil so callers cannot enumerate accounts.
func (s *Service[U]) InitiatePasswordReset(ctx context.Context, email string) error {
	const op = "users.InitiatePasswordReset"

	user, err := s.userByEmail(ctx, op, email)
	if err != nil {
		if identity.IsNotFound(err) {
			s.log.Info("users.password_reset.unknown_email")
			return nil
		}
		return fmt.Errorf("%s: lookup: %w", op, err)
	}

	tok, err := s.tokens.Issue(user.Identity().ID, token.AudienceResetPassword, s.cfg.ResetTokenTTL)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.token(token.AudienceResetPassword, outcomeIssued)

	if err := s.sender.SendPasswordResetToken(ctx, user, tok); err != nil {
		return fmt.Errorf("%s: send: %w", op, err)
	}
	return nil
}

// ResetPassword redeems a reset token and stores a hash of newPassword.
//
// Without a TokenStore the token stays valid until it expires and can be
// redeemed again. With one, a second redemption is ErrInvalidToken.
func (s *Service[U]) ResetPassword(ctx context.Context, tok, newPassword string) error {
	const op = "users.ResetPassword"

	claims, err := s.decode(op, tok, token.AudienceResetPassword)
	if err != nil {
		return err
	}

	// Hash first so a policy rejection does not burn a single-use token.
	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return passwordError(op, err)
	}

	if err := s.consume(ctx, op, claims); err != nil {
		return err
	}

	if _, err := s.repo.Update(ctx, claims.Subject, identity.UserPatch[U]{PasswordHash: &hash}); err != nil {
		if identity.IsNotFound(err) {
			s.metrics.token(token.AudienceResetPassword, outcomeInvalid)
			return identity.InvalidToken(op)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.token(token.AudienceResetPassword, outcomeRedeemed)
	return nil
}

// IssueAccessToken returns a bearer token for user, valid for
// Config.AccessTokenTTL.
func (s *Service[U]) IssueAccessToken(user U) (string, error) {
	const op = "users.IssueAccessToken"

	var zero U
	if user == zero {
		return "", identity.InvalidInput(op, "user is required")
	}
	tok, err := s.tokens.Issue(user.Identity().ID, token.AudienceAccess, s.cfg.AccessTokenTTL)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.token(token.AudienceAccess, outcomeIssued)
	return tok, nil
}

// UserFromAccessToken resolves a bearer token to its user.
func (s *Service[U]) UserFromAccessToken(ctx context.Context, tok string) (U, error) {
	const op = "users.UserFromAccessToken"

	var zero U
	claims, err := s.decode(op, tok, token.AudienceAccess)
	if err != nil {
		return zero, err
	}
	user, err := s.repo.Get(ctx, claims.Subject)
	if err != nil {
		if identity.IsNotFound(err) {
			return zero, identity.InvalidToken(op)
		}
		return zero, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func (s *Service[U]) decode(op, tok, audience string) (token.Claims, error) {
	claims, err := s.tokens.Decode(tok, audience)
	if err != nil {
		s.metrics.token(audience, outcomeInvalid)
		return token.Claims{}, identity.InvalidToken(op)
	}
	return claims, nil
}

func (s *Service[U]) consume(ctx context.Context, op string, c token.Claims) error {
	if s.used == nil {
		return nil
	}
	err := s.used.Consume(ctx, c)
	switch {
	case err == nil:
		return nil
	case token.IsInvalid(err):
		s.metrics.token(c.Audience, outcomeReplayed)
		return identity.InvalidToken(op)
	default:
		return fmt.Errorf("%s: consume token: %w", op, err)
	}
}
