package users

import "time"

// Config holds token lifetimes for the service flows.
type Config struct {
	VerifyTokenTTL time.Duration
	ResetTokenTTL  time.Duration
	AccessTokenTTL time.Duration
}

// DefaultConfig returns 24h verification and reset tokens and 15m access tokens.
func DefaultConfig() Config {
	return Config{
		VerifyTokenTTL: 24 * time.Hour,
		ResetTokenTTL:  24 * time.Hour,
		AccessTokenTTL: 15 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.VerifyTokenTTL <= 0 {
		c.VerifyTokenTTL = def.VerifyTokenTTL
	}
	if c.ResetTokenTTL <= 0 {
		c.ResetTokenTTL = def.ResetTokenTTL
	}
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = def.AccessTokenTTL
	}
	return c
}
