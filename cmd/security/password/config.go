package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Cost ceilings shared by FromEnv and Verify.
const (
	minMemoryKiB   = 8 * 1024
	maxMemoryKiB   = 1024 * 1024 // 1 GiB
	maxIterations  = 20
	maxParallelism = 64
	minSaltLen     = 8
	maxSaltLen     = 64
	minKeyLen      = 16
	maxKeyLen      = 64
)

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds the passwords accepted by Hash.
type Policy struct {
	MinLength int
	MaxLength int
	// RejectVeryWeak enables a small blocklist of trivial passwords.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns the production baseline. Parallelism follows the CPU
// count clamped to [1..4] so container limits stay predictable.
func DefaultConfig() Config {
	threads := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 8,
			MaxLength: 256,
		},
	}
}

// Check validates the configuration itself.
func (c Config) Check() error {
	p := c.Params
	switch {
	case p.MemoryKiB < 8*uint32(p.Parallelism):
		return fmt.Errorf("%w: memory_kib must be at least 8*parallelism", ErrInvalidConfig)
	case p.Iterations == 0:
		return fmt.Errorf("%w: iterations must be positive", ErrInvalidConfig)
	case p.Parallelism == 0:
		return fmt.Errorf("%w: parallelism must be positive", ErrInvalidConfig)
	case p.SaltLength < minSaltLen || p.SaltLength > maxSaltLen:
		return fmt.Errorf("%w: salt length out of range [%d..%d]", ErrInvalidConfig, minSaltLen, maxSaltLen)
	case p.KeyLength < minKeyLen || p.KeyLength > maxKeyLen:
		return fmt.Errorf("%w: key length out of range [%d..%d]", ErrInvalidConfig, minKeyLen, maxKeyLen)
	case c.Policy.MinLength < 1:
		return fmt.Errorf("%w: min_len must be positive", ErrInvalidConfig)
	case c.Policy.MinLength > c.Policy.MaxLength:
		return fmt.Errorf("%w: min_len(%d) > max_len(%d)", ErrInvalidConfig, c.Policy.MinLength, c.Policy.MaxLength)
	}
	return nil
}

// FromEnv loads config from environment variables on top of DefaultConfig.
//
// Env surface:
//   - WARDEN_PASSWORD_MIN_LEN
//   - WARDEN_PASSWORD_MAX_LEN
//   - WARDEN_PASSWORD_REJECT_VERY_WEAK (true/false)
//   - WARDEN_ARGON2_MEMORY_KIB
//   - WARDEN_ARGON2_ITERATIONS
//   - WARDEN_ARGON2_PARALLELISM
//   - WARDEN_ARGON2_SALT_LEN
//   - WARDEN_ARGON2_KEY_LEN
func FromEnv() (Config, error) {
	return fromLookup(os.LookupEnv)
}

func fromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		min, max int
		dst      *int
	}{
		{"WARDEN_PASSWORD_MIN_LEN", 1, 1024, &cfg.Policy.MinLength},
		{"WARDEN_PASSWORD_MAX_LEN", 1, 4096, &cfg.Policy.MaxLength},
	}
	for _, f := range ints {
		v, ok := lookup(f.key)
		if !ok {
			continue
		}
		n, err := atoiInRange(v, f.min, f.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = n
	}

	if v, ok := lookup("WARDEN_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("WARDEN_PASSWORD_REJECT_VERY_WEAK: %w", err)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	u32s := []struct {
		key      string
		min, max uint32
		dst      *uint32
	}{
		{"WARDEN_ARGON2_MEMORY_KIB", minMemoryKiB, maxMemoryKiB, &cfg.Params.MemoryKiB},
		{"WARDEN_ARGON2_ITERATIONS", 1, maxIterations, &cfg.Params.Iterations},
		{"WARDEN_ARGON2_SALT_LEN", minSaltLen, maxSaltLen, &cfg.Params.SaltLength},
		{"WARDEN_ARGON2_KEY_LEN", minKeyLen, maxKeyLen, &cfg.Params.KeyLength},
	}
	for _, f := range u32s {
		v, ok := lookup(f.key)
		if !ok {
			continue
		}
		u, err := atou32(v, f.min, f.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = u
	}

	if v, ok := lookup("WARDEN_ARGON2_PARALLELISM"); ok {
		u, err := atou32(v, 1, maxParallelism)
		if err != nil {
			return Config{}, fmt.Errorf("WARDEN_ARGON2_PARALLELISM: %w", err)
		}
		p, err := u32ToU8(u)
		if err != nil {
			return Config{}, fmt.Errorf("WARDEN_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = p
	}

	if err := cfg.Check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func atoiInRange(s string, minVal, maxVal int) (int, error) {
	i64, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}

	i := int(i64)
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}

	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}

func u32ToU8(u uint32) (uint8, error) {
	if u > math.MaxUint8 {
		return 0, fmt.Errorf("out of range [0..%d]", math.MaxUint8)
	}
	return uint8(u), nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean")
	}
}
