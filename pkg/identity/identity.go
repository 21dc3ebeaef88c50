// Package identity authenticates the humans and pods calling the kernel.
// Tokens are JWTs signed with the platform secret; the resulting Principal
// travels on the request context so governance and audit know who acted.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PrincipalType distinguishes human operators from pods.
type PrincipalType string

const (
	PrincipalHuman PrincipalType = "HUMAN"
	PrincipalPod   PrincipalType = "POD"
)

// Principal is an authenticated caller.
type Principal struct {
	Subject string        `json:"subject"`
	Type    PrincipalType `json:"type"`
	PodID   string        `json:"pod_id,omitempty"`
	Roles   []string      `json:"roles,omitempty"`
}

// HasRole reports whether the principal carries the role. Admins carry
// every role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role || r == "admin" {
			return true
		}
	}
	return false
}

// Claims are the JWT claims the kernel issues and expects.
type Claims struct {
	jwt.RegisteredClaims
	Type  PrincipalType `json:"type"`
	PodID string        `json:"pod_id,omitempty"`
	Roles []string      `json:"roles,omitempty"`
}

const (
	tokenIssuer   = "tiller/identity"
	tokenAudience = "tiller.internal"
)

var (
	ErrTokenInvalid = errors.New("identity: token invalid")
	ErrNoSubject    = errors.New("identity: token subject is required")
	ErrPodUnbound   = errors.New("identity: pod token lacks pod binding")
)

// TokenManager issues and validates kernel JWTs with HMAC-SHA256.
type TokenManager struct {
	secret []byte
	clock  func() time.Time
}

// NewTokenManager builds a manager around the platform token secret.
func NewTokenManager(secret []byte) (*TokenManager, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("identity: empty token secret")
	}
	return &TokenManager{secret: secret, clock: time.Now}, nil
}

// WithClock overrides clock for testing.
func (tm *TokenManager) WithClock(clock func() time.Time) *TokenManager {
	tm.clock = clock
	return tm
}

// Issue creates a signed JWT for the principal.
func (tm *TokenManager) Issue(p Principal, ttl time.Duration) (string, error) {
	if p.Subject == "" {
		return "", ErrNoSubject
	}
	if p.Type == PrincipalPod && p.PodID == "" {
		return "", ErrPodUnbound
	}

	now := tm.clock().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
		},
		Type:  p.Type,
		PodID: p.PodID,
		Roles: p.Roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(tm.secret)
}

// Validate parses a token string and returns the principal it binds.
// Expired, mis-signed, or unbound tokens are rejected.
func (tm *TokenManager) Validate(tokenString string) (Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return tm.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithTimeFunc(tm.clock),
	)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return Principal{}, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return Principal{}, ErrNoSubject
	}
	if claims.Type == PrincipalPod && claims.PodID == "" {
		return Principal{}, ErrPodUnbound
	}

	return Principal{
		Subject: claims.Subject,
		Type:    claims.Type,
		PodID:   claims.PodID,
		Roles:   claims.Roles,
	}, nil
}
