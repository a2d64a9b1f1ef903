package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("WARDEN_API_MAX_BODY_BYTES", "")
	t.Setenv("WARDEN_API_ADMIN_ROLE", "")
	t.Setenv("WARDEN_API_LOGIN_IP_WINDOW", "")

	assert.Equal(t, DefaultConfig(), LoadConfigFromEnv())
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("WARDEN_API_MAX_BODY_BYTES", "4096")
	t.Setenv("WARDEN_API_TRUST_PROXY", "true")
	t.Setenv("WARDEN_API_ADMIN_ROLE", "root")
	t.Setenv("WARDEN_API_REQUIRE_VERIFIED", "1")
	t.Setenv("WARDEN_API_LOGIN_IP_MAX", "0")
	t.Setenv("WARDEN_API_LOGIN_IP_WINDOW", "1m")

	cfg := LoadConfigFromEnv()
	assert.Equal(t, int64(4096), cfg.MaxBodyBytes)
	assert.True(t, cfg.TrustProxy)
	assert.Equal(t, "root", cfg.AdminRole)
	assert.True(t, cfg.RequireVerified)
	assert.Equal(t, 0, cfg.LoginIPMax)
	assert.Equal(t, time.Minute, cfg.LoginIPWindow)
}

func TestLoadConfigFromEnv_InvalidFallsBack(t *testing.T) {
	t.Setenv("WARDEN_API_MAX_BODY_BYTES", "-1")
	t.Setenv("WARDEN_API_TRUST_PROXY", "maybe")
	t.Setenv("WARDEN_API_LOGIN_IP_WINDOW", "soon")

	cfg := LoadConfigFromEnv()
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.False(t, cfg.TrustProxy)
	assert.Equal(t, 5*time.Minute, cfg.LoginIPWindow)
}
