package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains the runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Empty DatabaseURL selects the in-memory repository.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBMigrate   bool

	// Empty RedisAddr disables single-use tokens and login throttling.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Empty RabbitURL logs tokens instead of queueing emails.
	RabbitURL  string
	EmailQueue string

	// PublicBaseURL is where emailed links point.
	PublicBaseURL string
	TokenIssuer   string
	TokenLeeway   time.Duration

	VerifyTokenTTL time.Duration
	ResetTokenTTL  time.Duration
	AccessTokenTTL time.Duration

	// If true, /readyz returns 503 unless the database is configured and reachable.
	ReadinessRequireDB bool

	// When both are set, New makes sure this account exists and holds the
	// API admin role.
	BootstrapAdminEmail    string
	BootstrapAdminPassword string

	// If true, WARDEN_TOKEN_DIGEST_KEY must be set and single-use token keys
	// are HMAC digests.
	RequireTokenHMAC bool
}

// LoadDotEnv loads .env files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !isNotExist(err) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("WARDEN_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("WARDEN_LOG_LEVEL", "info"),
		LogFormat: EnvString("WARDEN_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("WARDEN_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("WARDEN_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("WARDEN_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("WARDEN_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("WARDEN_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("WARDEN_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("WARDEN_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("WARDEN_DB_MIN_CONNS", 0),
		DBMigrate:   EnvBool("WARDEN_DB_MIGRATE", true),

		RedisAddr:     EnvString("WARDEN_REDIS_ADDR", ""),
		RedisPassword: EnvString("WARDEN_REDIS_PASSWORD", ""),
		RedisDB:       EnvInt("WARDEN_REDIS_DB", 0),

		RabbitURL:  EnvString("WARDEN_RABBITMQ_URL", ""),
		EmailQueue: EnvString("WARDEN_EMAIL_QUEUE", "warden.email"),

		PublicBaseURL: EnvString("WARDEN_PUBLIC_BASE_URL", "http://localhost:3000"),
		TokenIssuer:   EnvString("WARDEN_TOKEN_ISSUER", "warden"),
		TokenLeeway:   EnvDuration("WARDEN_TOKEN_LEEWAY", 0),

		VerifyTokenTTL: EnvDuration("WARDEN_VERIFY_TOKEN_TTL", 24*time.Hour),
		ResetTokenTTL:  EnvDuration("WARDEN_RESET_TOKEN_TTL", 24*time.Hour),
		AccessTokenTTL: EnvDuration("WARDEN_ACCESS_TOKEN_TTL", 15*time.Minute),

		BootstrapAdminEmail:    EnvString("WARDEN_BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword: EnvString("WARDEN_BOOTSTRAP_ADMIN_PASSWORD", ""),

		ReadinessRequireDB: EnvBool("WARDEN_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("WARDEN_REQUIRE_TOKEN_HMAC", false),
	}
}

// Validate reports every inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("WARDEN_HTTP_ADDR is empty"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("WARDEN_LOG_FORMAT %q is not json or text", c.LogFormat))
	}
	if c.DBMinConns > c.DBMaxConns {
		errs = append(errs, errors.New("WARDEN_DB_MIN_CONNS exceeds WARDEN_DB_MAX_CONNS"))
	}
	if c.ReadinessRequireDB && c.DatabaseURL == "" {
		errs = append(errs, errors.New("WARDEN_READINESS_REQUIRE_DB is set but WARDEN_DATABASE_URL is empty"))
	}
	if c.RabbitURL != "" && strings.TrimSpace(c.EmailQueue) == "" {
		errs = append(errs, errors.New("WARDEN_EMAIL_QUEUE is empty"))
	}
	if c.RequireTokenHMAC && c.RedisAddr == "" {
		errs = append(errs, errors.New("WARDEN_REQUIRE_TOKEN_HMAC is set but WARDEN_REDIS_ADDR is empty"))
	}
	if (c.BootstrapAdminEmail == "") != (c.BootstrapAdminPassword == "") {
		errs = append(errs, errors.New("WARDEN_BOOTSTRAP_ADMIN_EMAIL and WARDEN_BOOTSTRAP_ADMIN_PASSWORD must be set together"))
	}
	return errors.Join(errs...)
}
