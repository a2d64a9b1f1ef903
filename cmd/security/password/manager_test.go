package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func mustManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func TestManager_VerifyAndUpdate_CurrentParams(t *testing.T) {
	m := mustManager(t, cheapConfig())

	h, err := m.Hash("correct horse battery")
	require.NoError(t, err)

	matched, newHash := m.VerifyAndUpdate("correct horse battery", h)
	assert.True(t, matched)
	assert.Empty(t, newHash)
	assert.False(t, m.NeedsRehash(h))

	matched, newHash = m.VerifyAndUpdate("wrong horse battery", h)
	assert.False(t, matched)
	assert.Empty(t, newHash)
}

func TestManager_VerifyAndUpdate_ParamChangeRehashes(t *testing.T) {
	old := mustManager(t, cheapConfig())
	h, err := old.Hash("correct horse battery")
	require.NoError(t, err)

	cfg := cheapConfig()
	cfg.Params.Iterations = 2
	cur := mustManager(t, cfg)

	require.True(t, cur.NeedsRehash(h))

	matched, newHash := cur.VerifyAndUpdate("correct horse battery", h)
	require.True(t, matched)
	require.NotEmpty(t, newHash)
	assert.Contains(t, newHash, "t=2")
	assert.False(t, cur.NeedsRehash(newHash))
	assert.True(t, cur.Verify("correct horse battery", newHash))

	// A mismatch never produces a replacement.
	matched, newHash = cur.VerifyAndUpdate("nope nope nope", h)
	assert.False(t, matched)
	assert.Empty(t, newHash)
}

func TestManager_VerifyAndUpdate_LegacyBcrypt(t *testing.T) {
	m := mustManager(t, cheapConfig())

	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy secret"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, m.NeedsRehash(string(legacy)))

	matched, newHash := m.VerifyAndUpdate("legacy secret", string(legacy))
	require.True(t, matched)
	assert.Contains(t, newHash, "$argon2id$")
	assert.True(t, m.Verify("legacy secret", newHash))

	matched, newHash = m.VerifyAndUpdate("other secret", string(legacy))
	assert.False(t, matched)
	assert.Empty(t, newHash)
}

func TestManager_VerifyAndUpdate_MalformedHash(t *testing.T) {
	m := mustManager(t, cheapConfig())

	for _, stored := range []string{"", "plaintext", "$2a$99$garbage", "$argon2id$v=19$broken"} {
		matched, newHash := m.VerifyAndUpdate("anything at all", stored)
		assert.False(t, matched, stored)
		assert.Empty(t, newHash, stored)
	}
}

func TestManager_RehashIgnoresTightenedPolicy(t *testing.T) {
	old := mustManager(t, cheapConfig())
	h, err := old.Hash("short pw")
	require.NoError(t, err)

	cfg := cheapConfig()
	cfg.Params.Iterations = 2
	cfg.Policy.MinLength = 20
	cur := mustManager(t, cfg)

	matched, newHash := cur.VerifyAndUpdate("short pw", h)
	assert.True(t, matched)
	assert.NotEmpty(t, newHash)
}

func TestNewManager_RejectsInvalidConfig(t *testing.T) {
	cfg := cheapConfig()
	cfg.Params.Iterations = 0

	_, err := NewManager(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
