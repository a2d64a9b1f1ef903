package token

import "context"

// Store records token redemptions so a token can be used once.
//
// Consume marks the token identified by c.ID as used until c.ExpiresAt and
// returns ErrTokenUsed when it already was.
type Store interface {
	Consume(ctx context.Context, c Claims) error
}
