package users

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"warden/cmd/identity"
	"warden/cmd/identity/ids"
	"warden/cmd/security/password"
	"warden/cmd/security/token"
)

// Service is the identity service over user records of type U.
// It holds no mutable state and is safe for concurrent use.
type Service[U identity.Principal] struct {
	repo      identity.Repository[U]
	passwords *password.Manager
	tokens    *token.Codec

	hooks   Hooks[U]
	sender  Sender[U]
	used    token.Store
	metrics *Metrics
	log     *slog.Logger
	cfg     Config
	now     func() time.Time

	// dummyHash is verified against when a login email is unknown so that
	// path costs one hash verification like the others.
	dummyHash string
}

// Options carries the optional collaborators of a Service.
type Options[U identity.Principal] struct {
	Hooks  Hooks[U]
	Sender Sender[U]
	// TokenStore makes verification and reset tokens single-use when set.
	TokenStore token.Store
	Metrics    *Metrics
	Logger     *slog.Logger
	Config     Config
	Now        func() time.Time
}

// New constructs a Service.
func New[U identity.Principal](repo identity.Repository[U], pw *password.Manager, codec *token.Codec, opts Options[U]) (*Service[U], error) {
	if repo == nil || pw == nil || codec == nil {
		return nil, fmt.Errorf("users: repository, password manager and token codec are required")
	}

	s := &Service[U]{
		repo:      repo,
		passwords: pw,
		tokens:    codec,
		hooks:     opts.Hooks,
		sender:    opts.Sender,
		used:      opts.TokenStore,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		cfg:       opts.Config.withDefaults(),
		now:       opts.Now,
	}
	if s.hooks == nil {
		s.hooks = NopHooks[U]{}
	}
	if s.sender == nil {
		s.sender = NopSender[U]{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}

	var buf [24]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("users: dummy hash: %w", err)
	}
	if h, err := pw.Hash(hex.EncodeToString(buf[:])); err == nil {
		s.dummyHash = h
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Service[U]) Config() Config { return s.cfg }

// UserCreate is the input of Create and Register. Record carries the email,
// any application fields and, for trusted callers, the flags and roles.
// Create fills in ID, PasswordHash and timestamps.
type UserCreate[U identity.Principal] struct {
	Record   U
	Password string
}

// UserUpdate is a partial update. Nil fields are left untouched. Password,
// when set, is hashed under the current policy. Mutate may change
// application fields of U.
type UserUpdate[U identity.Principal] struct {
	Email      *string
	Password   *string
	IsActive   *bool
	IsVerified *bool
	Mutate     func(U)
}

// Create stores a new user. With trustFlags false (self-service paths) the
// record is forced active and unverified and any roles are dropped; with
// trustFlags true the caller's values are kept.
//
// On success in.Record has been filled in (ID, PasswordHash, timestamps) and
// is what the repository stored; on failure it is left as the caller passed
// it.
//
// The email pre-check is best effort. The repository's unique constraint is
// the authority, and its Conflict is returned as is.
func (s *Service[U]) Create(ctx context.Context, in UserCreate[U], trustFlags bool) (U, error) {
	const op = "users.Create"

	var zero U
	if in.Record == zero {
		return zero, identity.InvalidInput(op, "record is required")
	}

	rec := in.Record.Identity()
	email := strings.TrimSpace(rec.Email)
	if !plausibleEmail(email) {
		return zero, identity.InvalidInput(op, "valid email is required")
	}

	switch _, err := s.repo.GetBy(ctx, identity.UserFilter{Email: email}); {
	case err == nil:
		return zero, identity.ConflictError{Op: op, Field: "email"}
	case !identity.IsNotFound(err):
		return zero, fmt.Errorf("%s: lookup: %w", op, err)
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return zero, passwordError(op, err)
	}

	now := s.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return zero, fmt.Errorf("%s: id: %w", op, err)
	}

	saved := *rec
	rec.ID = id
	rec.Email = email
	rec.PasswordHash = hash
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if !trustFlags {
		rec.IsActive = true
		rec.IsVerified = false
		rec.Roles = nil
	}

	stored, err := s.repo.Add(ctx, in.Record)
	if err != nil {
		*rec = saved
		return zero, err
	}
	return stored, nil
}

// Register runs self-service registration: PreRegistration, Create without
// trusted flags, InitiateVerification, PostRegistration.
//
// Once the user is stored, later failures do not undo it. They are returned
// together with the created user: a *HookError for PostRegistration, a
// wrapped delivery error for InitiateVerification.
func (s *Service[U]) Register(ctx context.Context, in UserCreate[U]) (U, error) {
	var zero U

	if err := s.hooks.PreRegistration(ctx, in); err != nil {
		s.metrics.registration(outcomeVetoed)
		return zero, &HookError{Stage: StagePreRegistration, Err: err}
	}

	user, err := s.Create(ctx, in, false)
	if err != nil {
		if identity.IsConflict(err) {
			s.metrics.registration(outcomeConflict)
		} else {
			s.metrics.registration(outcomeError)
		}
		return zero, err
	}

	if err := s.InitiateVerification(ctx, user); err != nil {
		s.metrics.registration(outcomeError)
		s.log.Error("users.register.verification.fail", "err", err, "user_id", user.Identity().ID)
		return user, fmt.Errorf("users.Register: %w", err)
	}

	if err := s.hooks.PostRegistration(ctx, user); err != nil {
		s.metrics.registration(outcomeHookFailed)
		s.log.Error("users.register.post_hook.fail", "err", err, "user_id", user.Identity().ID)
		return user, &HookError{Stage: StagePostRegistration, Err: err}
	}

	s.metrics.registration(outcomeOK)
	return user, nil
}

// Get returns the user with id.
func (s *Service[U]) Get(ctx context.Context, id string) (U, error) {
	return s.repo.Get(ctx, id)
}

// GetBy returns the single user matching f.
func (s *Service[U]) GetBy(ctx context.Context, f identity.UserFilter) (U, error) {
	return s.repo.GetBy(ctx, f)
}

// userByEmail looks up a login or reset email. A blank email is reported
// as not found without reaching the repository.
func (s *Service[U]) userByEmail(ctx context.Context, op, email string) (U, error) {
	if strings.TrimSpace(email) == "" {
		var zero U
		return zero, identity.NotFoundError{Op: op, Resource: "user"}
	}
	return s.repo.GetBy(ctx, identity.UserFilter{Email: email})
}

// Update applies a partial update.
func (s *Service[U]) Update(ctx context.Context, id string, in UserUpdate[U]) (U, error) {
	const op = "users.Update"

	var zero U
	patch := identity.UserPatch[U]{
		IsActive:   in.IsActive,
		IsVerified: in.IsVerified,
		Mutate:     in.Mutate,
	}

	if in.Email != nil {
		email := strings.TrimSpace(*in.Email)
		if !plausibleEmail(email) {
			return zero, identity.InvalidInput(op, "valid email is required")
		}
		patch.Email = &email
	}

	if in.Password != nil {
		hash, err := s.passwords.Hash(*in.Password)
		if err != nil {
			return zero, passwordError(op, err)
		}
		patch.PasswordHash = &hash
	}

	return s.repo.Update(ctx, id, patch)
}

// Delete removes the user with id.
func (s *Service[U]) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}

func passwordError(op string, err error) error {
	if password.IsPolicyViolation(err) {
		return identity.InvalidInput(op, err.Error())
	}
	return fmt.Errorf("%s: hash password: %w", op, err)
}

// plausibleEmail is a shape check only; syntax validation belongs to the
// transport layer.
func plausibleEmail(s string) bool {
	at := strings.LastIndexByte(s, '@')
	return at > 0 && at < len(s)-1 && !strings.ContainsAny(s, " \t\r\n")
}
