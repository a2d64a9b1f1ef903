package api

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls HTTP API behavior.
type Config struct {
	MaxBodyBytes int64
	TrustProxy   bool

	// AdminRole is the role name required by the /users/{id} and /roles
	// endpoints.
	AdminRole string
	// RequireVerified refuses logins from users who have not verified their
	// email.
	RequireVerified bool

	LoginIPMax    int
	LoginIPWindow time.Duration
}

// DefaultConfig returns the values LoadConfigFromEnv falls back to.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:  1 << 20,
		AdminRole:     "admin",
		LoginIPMax:    20,
		LoginIPWindow: 5 * time.Minute,
	}
}

// LoadConfigFromEnv loads API config from WARDEN_API_* variables. Unset or
// unparsable values keep their defaults.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		MaxBodyBytes:    envInt64("WARDEN_API_MAX_BODY_BYTES", def.MaxBodyBytes),
		TrustProxy:      envBool("WARDEN_API_TRUST_PROXY", false),
		AdminRole:       envString("WARDEN_API_ADMIN_ROLE", def.AdminRole),
		RequireVerified: envBool("WARDEN_API_REQUIRE_VERIFIED", false),
		LoginIPMax:      envInt("WARDEN_API_LOGIN_IP_MAX", def.LoginIPMax),
		LoginIPWindow:   envDuration("WARDEN_API_LOGIN_IP_WINDOW", def.LoginIPWindow),
	}
	return cfg.withDefaults()
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if strings.TrimSpace(c.AdminRole) == "" {
		c.AdminRole = def.AdminRole
	}
	if c.LoginIPWindow <= 0 {
		c.LoginIPWindow = def.LoginIPWindow
	}
	return c
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
