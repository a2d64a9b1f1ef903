package users

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"warden/cmd/identity"
	"warden/cmd/security/token"
)

func TestAuthenticate_Success(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	u := f.register(t, "alice@example.com", "correct horse battery")

	got, err := f.svc.Authenticate(ctx, Credentials{Email: "ALICE@example.com", Password: "correct horse battery"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
}

func TestAuthenticate_UnknownEmailReturnsNoUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	got, err := f.svc.Authenticate(context.Background(), Credentials{Email: "ghost@example.com", Password: "whatever it is"})
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestAuthenticate_BlankEmailReturnsNoUser(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	f := newFixture(t, func(o *Options[*identity.User]) { o.Metrics = m })

	for _, email := range []string{"", "   "} {
		got, err := f.svc.Authenticate(context.Background(), Credentials{Email: email, Password: "whatever it is"})
		assert.NoError(t, err)
		assert.Nil(t, got)
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.logins.WithLabelValues(outcomeNotFound)))
}

func TestAuthenticate_WrongPasswordReturnsNoUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	f.register(t, "bob@example.com", "correct horse battery")

	got, err := f.svc.Authenticate(context.Background(), Credentials{Email: "bob@example.com", Password: "incorrect horse"})
	assert.NoError(t, err)
	assert.Nil(t, got)
}

type loginHooks struct {
	NopHooks[*identity.User]
	allow     bool
	preErr    error
	postErr   error
	postCalls *int
}

func (h loginHooks) PreLogin(context.Context, Credentials) (bool, error) {
	return h.allow, h.preErr
}

func (h loginHooks) PostLogin(context.Context, *identity.User) error {
	if h.postCalls != nil {
		*h.postCalls++
	}
	return h.postErr
}

func TestAuthenticate_PreLoginBlocksBeforeLookup(t *testing.T) {
	t.Parallel()
	calls := 0
	f := newFixture(t, func(o *Options[*identity.User]) {
		o.Hooks = loginHooks{allow: false, postCalls: &calls}
	})
	f.register(t, "blocked@example.com", "correct horse battery")
	before := f.repo.getByCalls

	got, err := f.svc.Authenticate(context.Background(), Credentials{Email: "blocked@example.com", Password: "correct horse battery"})
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, before, f.repo.getByCalls, "no lookup after a PreLogin veto")
	assert.Zero(t, calls)
}

func TestAuthenticate_PreLoginErrorPropagates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(o *Options[*identity.User]) {
		o.Hooks = loginHooks{preErr: errBoom}
	})

	_, err := f.svc.Authenticate(context.Background(), Credentials{Email: "x@example.com", Password: "whatever it is"})
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, StagePreLogin, he.Stage)
}

func TestAuthenticate_PostLoginErrorAbortsAfterRehash(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(o *Options[*identity.User]) {
		o.Hooks = loginHooks{allow: true, postErr: errBoom}
	})
	ctx := context.Background()

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy password"), bcrypt.MinCost)
	require.NoError(t, err)
	u, err := f.svc.Create(ctx, UserCreate[*identity.User]{Record: &identity.User{Email: "carol@example.com"}, Password: "placeholder pw"}, false)
	require.NoError(t, err)
	hash := string(legacy)
	_, err = f.repo.Repository.Update(ctx, u.ID, identity.UserPatch[*identity.User]{PasswordHash: &hash})
	require.NoError(t, err)

	got, err := f.svc.Authenticate(ctx, Credentials{Email: "carol@example.com", Password: "legacy password"})
	assert.Nil(t, got)
	var he *HookError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, StagePostLogin, he.Stage)
	assert.ErrorIs(t, err, errBoom)

	stored, err := f.svc.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.PasswordHash, "$argon2id$", "rehash is persisted before PostLogin runs")
}

func TestAuthenticate_LegacyBcryptUpgraded(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Create(ctx, UserCreate[*identity.User]{Record: &identity.User{Email: "dave@example.com"}, Password: "placeholder pw"}, false)
	require.NoError(t, err)
	legacy, err := bcrypt.GenerateFromPassword([]byte("old school pw"), bcrypt.MinCost)
	require.NoError(t, err)
	hash := string(legacy)
	_, err = f.repo.Repository.Update(ctx, u.ID, identity.UserPatch[*identity.User]{PasswordHash: &hash})
	require.NoError(t, err)

	got, err := f.svc.Authenticate(ctx, Credentials{Email: "dave@example.com", Password: "old school pw"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Contains(t, got.PasswordHash, "$argon2id$")

	// The upgraded hash keeps working.
	again, err := f.svc.Authenticate(ctx, Credentials{Email: "dave@example.com", Password: "old school pw"})
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, got.PasswordHash, again.PasswordHash)
}

func TestAuthenticate_ParamChangeRehashPersisted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	u := f.register(t, "erin@example.com", "correct horse battery")

	stronger := cheapPasswordConfig()
	stronger.Params.Iterations = 2
	svc, err := New[*identity.User](f.repo, mustPasswords(t, stronger), f.codec, Options[*identity.User]{})
	require.NoError(t, err)

	got, err := svc.Authenticate(ctx, Credentials{Email: "erin@example.com", Password: "correct horse battery"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.NotEqual(t, u.PasswordHash, got.PasswordHash)
	assert.Contains(t, got.PasswordHash, "t=2")

	stored, err := f.svc.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, got.PasswordHash, stored.PasswordHash)
}

func TestAuthenticate_RehashFailureIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	u := f.register(t, "frank@example.com", "correct horse battery")

	stronger := cheapPasswordConfig()
	stronger.Params.Iterations = 2
	svc, err := New[*identity.User](f.repo, mustPasswords(t, stronger), f.codec, Options[*identity.User]{})
	require.NoError(t, err)

	f.repo.updateErr = errBoom
	got, err := svc.Authenticate(ctx, Credentials{Email: "frank@example.com", Password: "correct horse battery"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.PasswordHash, got.PasswordHash)
	assert.Equal(t, 1, f.repo.updateCalls)
}

func TestAuthenticate_OutcomeMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	f := newFixture(t, func(o *Options[*identity.User]) { o.Metrics = m })
	ctx := context.Background()

	f.register(t, "gina@example.com", "correct horse battery")

	_, _ = f.svc.Authenticate(ctx, Credentials{Email: "gina@example.com", Password: "correct horse battery"})
	_, _ = f.svc.Authenticate(ctx, Credentials{Email: "gina@example.com", Password: "wrong wrong wrong"})
	_, _ = f.svc.Authenticate(ctx, Credentials{Email: "nobody@example.com", Password: "wrong wrong wrong"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues(outcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues(outcomeBadPassword)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.logins.WithLabelValues(outcomeNotFound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues(outcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokens.WithLabelValues(token.AudienceVerify, outcomeIssued)))
}

func TestCredentials_LogValueHidesPassword(t *testing.T) {
	v := Credentials{Email: "a@example.com", Password: "secret"}.LogValue()
	assert.NotContains(t, v.String(), "secret")
	assert.Contains(t, v.String(), "a@example.com")
}
