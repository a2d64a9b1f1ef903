package app

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"warden/cmd/security/token"
)

// DigestKeyEnvKey holds the optional HMAC key for single-use token keys.
// #nosec G101 -- not a credential; it's an environment variable name.
const DigestKeyEnvKey = "WARDEN_TOKEN_DIGEST_KEY"

// Secrets are the key materials read at startup.
type Secrets struct {
	Signing []byte
	// Digest is nil when unset; token keys then use plain SHA-256.
	Digest []byte
}

// LoadSecrets reads and checks the token secrets. It fails fast rather than
// running with a missing or short key.
func LoadSecrets(cfg Config) (Secrets, error) {
	signing, err := token.SecretFromEnv(token.MinSecretBytes)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrSecretMissing):
			return Secrets{}, fmt.Errorf("security policy: %s is missing", token.SecretEnvKey)
		case errors.Is(err, token.ErrSecretTooShort):
			return Secrets{}, fmt.Errorf("security policy: %s is too short (min %d bytes)", token.SecretEnvKey, token.MinSecretBytes)
		default:
			return Secrets{}, err
		}
	}

	s := Secrets{Signing: signing}
	if raw := strings.TrimSpace(os.Getenv(DigestKeyEnvKey)); raw != "" {
		if len(raw) < token.MinSecretBytes {
			return Secrets{}, fmt.Errorf("security policy: %s is too short (min %d bytes)", DigestKeyEnvKey, token.MinSecretBytes)
		}
		s.Digest = []byte(raw)
	}
	if cfg.RequireTokenHMAC && s.Digest == nil {
		return Secrets{}, fmt.Errorf("security policy: WARDEN_REQUIRE_TOKEN_HMAC=true but %s is missing", DigestKeyEnvKey)
	}
	return s, nil
}
