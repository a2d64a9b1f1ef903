// Package token issues and decodes the signed, time-limited tokens used by
// Warden's verification, password-reset and access flows.
//
// Tokens are HS256 JWTs in compact form, so they are URL-safe. Each token is
// bound to one audience; a token issued for one flow never decodes for
// another. Every decode failure is reported as ErrInvalidToken with the
// cause hidden.
//
// Tokens are stateless by default. A Store can be plugged in to make them
// single-use; RedisStore is the provided implementation.
//
// Environment:
//   - WARDEN_TOKEN_SECRET: signing secret; SecretFromEnv enforces a minimum size.
package token
