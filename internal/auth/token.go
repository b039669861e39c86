// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token audiences. Primary, portal, and run tokens are disjoint trust
// domains: a verifier constructed for one audience rejects the others.
const (
	AudiencePrimary = "gatewarden"
	AudiencePortal  = "gatewarden/portal"
	AudienceRun     = "gatewarden/run"
)

// DefaultAccessTokenTTL is the primary access-token lifetime.
const DefaultAccessTokenTTL = 15 * time.Minute

// TokenConfig fixes the signing domain of a TokenIssuer at construction.
// There is no process-global signing state; each trust domain gets its own
// issuer so secrets and audiences can never be shared by accident.
type TokenConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	TTL      time.Duration
}

// AccessClaims are the claims carried by a primary access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	IdentityID string `json:"identity_id"`
	TenantID   string `json:"tenant_id"`
	Email      string `json:"email"`
	Role       string `json:"role"`
}

// TokenIssuer mints and verifies signed access tokens for one trust domain.
// The signing algorithm is pinned to HMAC-SHA256; tokens presenting any
// other algorithm, including "none", fail verification outright.
type TokenIssuer struct {
	config TokenConfig
	parser *jwt.Parser
}

// NewTokenIssuer creates a TokenIssuer for a single signing domain.
// The secret must be at least 32 bytes.
func NewTokenIssuer(config TokenConfig) (*TokenIssuer, error) {
	if len(config.Secret) < 32 {
		return nil, oops.Code("TOKEN_WEAK_SECRET").Errorf("signing secret must be at least 32 bytes")
	}
	if config.Audience == "" {
		return nil, oops.Code("TOKEN_NO_AUDIENCE").Errorf("audience is required")
	}
	if config.Issuer == "" {
		config.Issuer = "gatewarden"
	}
	if config.TTL <= 0 {
		config.TTL = DefaultAccessTokenTTL
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(config.Audience),
		jwt.WithIssuer(config.Issuer),
		jwt.WithExpirationRequired(),
	)

	return &TokenIssuer{config: config, parser: parser}, nil
}

// IssueAccessToken mints a signed access token for the identity.
func (t *TokenIssuer) IssueAccessToken(identity *Identity) (string, error) {
	if identity == nil {
		return "", oops.Code("TOKEN_NO_IDENTITY").Errorf("identity is required")
	}

	now := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.config.Issuer,
			Audience:  jwt.ClaimStrings{t.config.Audience},
			Subject:   identity.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.config.TTL)),
			ID:        ulid.Make().String(),
		},
		IdentityID: identity.ID.String(),
		TenantID:   identity.TenantID.String(),
		Email:      identity.Email,
		Role:       identity.Role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.config.Secret)
	if err != nil {
		return "", oops.Code("TOKEN_SIGN_FAILED").
			With("identity_id", identity.ID.String()).
			Wrap(err)
	}
	return signed, nil
}

// VerifyAccessToken parses and verifies a token against this issuer's
// signing domain. Returns ErrTokenMalformed, ErrTokenExpired, or
// ErrTokenInvalid.
func (t *TokenIssuer) VerifyAccessToken(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := t.parser.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return t.config.Secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, oops.Code("TOKEN_MALFORMED").Wrap(ErrTokenMalformed)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, oops.Code("TOKEN_EXPIRED").Wrap(ErrTokenExpired)
		default:
			return nil, oops.Code("TOKEN_INVALID").Wrap(ErrTokenInvalid)
		}
	}
	if !token.Valid {
		return nil, oops.Code("TOKEN_INVALID").Wrap(ErrTokenInvalid)
	}
	return claims, nil
}

// TTL returns the configured token lifetime.
func (t *TokenIssuer) TTL() time.Duration {
	return t.config.TTL
}
