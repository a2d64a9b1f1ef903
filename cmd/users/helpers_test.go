package users

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"warden/cmd/identity"
	"warden/cmd/security/password"
	"warden/cmd/security/token"
)

type member struct {
	identity.User
	Title      string
	LoginCount int
}

func cloneMember(m *member) *member {
	c := *m
	c.User = *identity.CloneUser(&m.User)
	return &c
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func cheapPasswordConfig() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params = password.Argon2idParams{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	return cfg
}

func mustPasswords(t *testing.T, cfg password.Config) *password.Manager {
	t.Helper()
	m, err := password.NewManager(cfg)
	require.NoError(t, err)
	return m
}

// recordingSender keeps the last token sent per email.
type recordingSender[U identity.Principal] struct {
	mu     sync.Mutex
	verify map[string]string
	reset  map[string]string
	err    error
}

func newRecordingSender[U identity.Principal]() *recordingSender[U] {
	return &recordingSender[U]{verify: map[string]string{}, reset: map[string]string{}}
}

func (r *recordingSender[U]) SendVerificationToken(_ context.Context, u U, tok string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.verify[u.Identity().Email] = tok
	return nil
}

func (r *recordingSender[U]) SendPasswordResetToken(_ context.Context, u U, tok string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.reset[u.Identity().Email] = tok
	return nil
}

func (r *recordingSender[U]) verifyToken(email string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verify[email]
}

func (r *recordingSender[U]) resetToken(email string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reset[email]
}

// memTokenStore is an in-process token.Store.
type memTokenStore struct {
	mu   sync.Mutex
	used map[string]bool
}

func (s *memTokenStore) Consume(_ context.Context, c token.Claims) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.used == nil {
		s.used = map[string]bool{}
	}
	if s.used[c.ID] {
		return token.ErrTokenUsed
	}
	s.used[c.ID] = true
	return nil
}

// countingRepo wraps a repository to observe and fail calls.
type countingRepo[U identity.Principal] struct {
	identity.Repository[U]

	mu          sync.Mutex
	getByCalls  int
	updateCalls int
	updateErr   error
	hideByEmail bool
}

func (r *countingRepo[U]) GetBy(ctx context.Context, f identity.UserFilter) (U, error) {
	r.mu.Lock()
	r.getByCalls++
	hide := r.hideByEmail
	r.mu.Unlock()
	if hide {
		var zero U
		return zero, identity.NotFoundError{Op: "test.GetBy", Resource: "user"}
	}
	return r.Repository.GetBy(ctx, f)
}

func (r *countingRepo[U]) Update(ctx context.Context, id string, p identity.UserPatch[U]) (U, error) {
	r.mu.Lock()
	r.updateCalls++
	err := r.updateErr
	r.mu.Unlock()
	if err != nil {
		var zero U
		return zero, err
	}
	return r.Repository.Update(ctx, id, p)
}

type fixture struct {
	svc    *Service[*identity.User]
	repo   *countingRepo[*identity.User]
	sender *recordingSender[*identity.User]
	clock  *fakeClock
	codec  *token.Codec
	pw     *password.Manager
}

type fixtureOpt func(*Options[*identity.User])

func newFixture(t *testing.T, opts ...fixtureOpt) *fixture {
	t.Helper()

	clk := &fakeClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	codec, err := token.NewCodec([]byte("users-test-secret-users-test-secret"), token.Options{Now: clk.Now})
	require.NoError(t, err)

	pw := mustPasswords(t, cheapPasswordConfig())
	repo := &countingRepo[*identity.User]{Repository: identity.NewUserMemoryStore()}
	sender := newRecordingSender[*identity.User]()

	o := Options[*identity.User]{
		Sender: sender,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    clk.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	svc, err := New[*identity.User](repo, pw, codec, o)
	require.NoError(t, err)

	return &fixture{svc: svc, repo: repo, sender: sender, clock: clk, codec: codec, pw: pw}
}

func (f *fixture) register(t *testing.T, email, pw string) *identity.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), UserCreate[*identity.User]{
		Record:   &identity.User{Email: email},
		Password: pw,
	})
	require.NoError(t, err)
	return u
}

var errBoom = errors.New("boom")
