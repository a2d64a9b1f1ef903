package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Audiences understood by Warden. Any non-empty string is a valid audience;
// these are the ones the service issues.
const (
	AudienceVerify        = "verify"
	AudienceResetPassword = "reset_password"
	AudienceAccess        = "access"
)

// Claims is the decoded content of a valid token.
type Claims struct {
	Subject   string
	Audience  string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Options tunes a Codec.
type Options struct {
	// Issuer is written to and required in the iss claim when set.
	Issuer string
	// Leeway tolerates clock skew on expiry. Zero means strict.
	Leeway time.Duration
	// Now overrides the clock; tests use it to move time.
	Now func() time.Time
}

// Codec signs and verifies HS256 tokens. It is immutable and safe for
// concurrent use.
type Codec struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewCodec returns a Codec signing with secret.
func NewCodec(secret []byte, opts Options) (*Codec, error) {
	if len(secret) == 0 {
		return nil, ErrSecretMissing
	}
	if opts.Leeway < 0 {
		return nil, fmt.Errorf("token: negative leeway")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(opts.Leeway),
		jwt.WithTimeFunc(now),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}

	return &Codec{
		secret: append([]byte(nil), secret...),
		issuer: opts.Issuer,
		leeway: opts.Leeway,
		now:    now,
		parser: jwt.NewParser(parserOpts...),
	}, nil
}

// Issue signs a token for subject, bound to audience and valid for ttl.
func (c *Codec) Issue(subject, audience string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(audience) == "" {
		return "", fmt.Errorf("token: subject and audience are required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token: ttl must be positive")
	}

	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(floorSecond(now.Add(ttl))),
		ID:        uuid.NewString(),
		Issuer:    c.issuer,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Decode verifies tok and returns its claims. The token must be signed with
// this codec's secret, unexpired (modulo leeway) and issued for exactly
// expectedAudience. Any failure is ErrInvalidToken.
func (c *Codec) Decode(tok, expectedAudience string) (Claims, error) {
	if tok == "" || expectedAudience == "" {
		return Claims{}, ErrInvalidToken
	}

	var rc jwt.RegisteredClaims
	parsed, err := c.parser.ParseWithClaims(tok, &rc, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}

	if len(rc.Audience) != 1 || rc.Audience[0] != expectedAudience {
		return Claims{}, ErrInvalidToken
	}
	if rc.Subject == "" || rc.ExpiresAt == nil {
		return Claims{}, ErrInvalidToken
	}

	out := Claims{
		Subject:   rc.Subject,
		Audience:  rc.Audience[0],
		ID:        rc.ID,
		ExpiresAt: rc.ExpiresAt.Time,
	}
	if rc.IssuedAt != nil {
		out.IssuedAt = rc.IssuedAt.Time
	}
	return out, nil
}

// Subject decodes tok and returns only its subject.
func (c *Codec) Subject(tok, expectedAudience string) (string, error) {
	claims, err := c.Decode(tok, expectedAudience)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// IsInvalid reports whether err is a token validation failure.
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenUsed)
}

// floorSecond drops the sub-second part. NumericDate has whole-second
// precision, and rounding down keeps exp at or before issue time + ttl.
func floorSecond(t time.Time) time.Time {
	return t.Truncate(time.Second)
}
