// Package token signs deferral payloads as HMAC-signed JWTs.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/groupgate/groupgate/internal/port/outbound"
)

// DefaultValidity is how long a signed token stays valid.
const DefaultValidity = time.Hour

// Signer signs and verifies claim sets with a shared HMAC key.
type Signer struct {
	key      []byte
	validity time.Duration

	// now is swappable for tests.
	now func() time.Time
}

// NewSigner builds a signer. A zero validity selects DefaultValidity.
func NewSigner(key []byte, validity time.Duration) (*Signer, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("signing key must not be empty")
	}
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &Signer{key: key, validity: validity, now: time.Now}, nil
}

var _ outbound.TokenSigner = (*Signer)(nil)

// Sign implements outbound.TokenSigner.
func (s *Signer) Sign(_ context.Context, claims map[string]any) (outbound.SignedToken, error) {
	now := s.now()
	expiry := now.Add(s.validity)

	payload := jwt.MapClaims{}
	for name, value := range claims {
		payload[name] = value
	}
	payload["iat"] = jwt.NewNumericDate(now)
	payload["exp"] = jwt.NewNumericDate(expiry)

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, payload).SignedString(s.key)
	if err != nil {
		return outbound.SignedToken{}, fmt.Errorf("sign token: %w", err)
	}
	return outbound.SignedToken{Token: signed, Expiry: expiry}, nil
}

// Verify implements outbound.TokenSigner.
func (s *Signer) Verify(_ context.Context, token string) (map[string]any, error) {
	parsed, err := jwt.Parse(token,
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err, outbound.ErrTokenVerification)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, outbound.ErrTokenVerification
	}
	return claims, nil
}
