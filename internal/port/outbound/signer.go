package outbound

import (
	"context"
	"errors"
	"time"
)

// ErrTokenVerification indicates that a token's signature or shape
// could not be verified. It is distinct from an authorization failure.
var ErrTokenVerification = errors.New("token verification failed")

// SignedToken is an opaque signed token and its expiry.
type SignedToken struct {
	Token  string
	Expiry time.Time
}

// TokenSigner signs and verifies claim sets, typically as JWTs.
type TokenSigner interface {
	// Sign produces a signed token over the claims.
	Sign(ctx context.Context, claims map[string]any) (SignedToken, error)

	// Verify checks the signature and returns the claims verbatim.
	// Returns an error wrapping ErrTokenVerification on failure.
	Verify(ctx context.Context, token string) (map[string]any, error)
}
