package rpc

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrAuthenticationFailed is returned when a bridge token fails
	// validation.
	ErrAuthenticationFailed = errors.New("platform/rpc: authentication failed")
)

// Claims is the payload of a platform-bridge auth token: it binds a
// connection to one execution so the in-process façade can scope
// permission checks per-call (spec §4.3 "bridge connections are
// execution-scoped, not process-scoped").
type Claims struct {
	jwt.RegisteredClaims
	ExecutionID string `json:"executionId"`
	PluginID    string `json:"pluginId"`
}

// TokenIssuer signs and validates bridge auth tokens with a single
// symmetric key held by the host process: short-lived, execution-scoped,
// cryptographically signed tokens rather than a plain shared secret
// (see DESIGN.md).
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer builds an issuer with the given signing secret and
// token lifetime. A zero ttl defaults to one minute, comfortably longer
// than the time between a subprocess spawning and completing its
// handshake.
func NewTokenIssuer(secret []byte, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &TokenIssuer{secret: secret, ttl: ttl}
}

// Issue signs a token scoped to one execution/plugin pair.
func (i *TokenIssuer) Issue(executionID, pluginID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		ExecutionID: executionID,
		PluginID:    pluginID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("platform/rpc: sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a bridge token, returning its claims.
func (i *TokenIssuer) Validate(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: unexpected signing method", ErrAuthenticationFailed)
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	return claims, nil
}
