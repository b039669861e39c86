// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package portal

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatewarden/gatewarden/internal/auth"
)

// Portal trust-domain lifetimes.
const (
	PortalTokenTTL = 24 * time.Hour
	RunTokenTTL    = 24 * time.Hour
)

// PortalClaims are the claims carried by a portal token. The portal flag
// distinguishes these from every other token class even if audiences were
// ever misconfigured to overlap.
type PortalClaims struct {
	jwt.RegisteredClaims
	Email  string `json:"email"`
	Portal bool   `json:"portal"`
}

// RunClaims are the claims carried by an anonymous run token. A run token
// authorizes exactly one workflow run and nothing else.
type RunClaims struct {
	jwt.RegisteredClaims
	RunID string `json:"run_id"`
}

// TokenIssuer mints and verifies portal and run tokens. The two classes
// share a constructor but never a verifier: each audience gets its own
// pinned parser, so a run token presented as a portal token fails exactly
// like a foreign signature.
type TokenIssuer struct {
	secret       []byte
	issuer       string
	portalParser *jwt.Parser
	runParser    *jwt.Parser
}

// NewTokenIssuer creates a portal-domain TokenIssuer. The secret must be
// at least 32 bytes and must differ from the primary signing secret.
func NewTokenIssuer(secret []byte, issuer string) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, oops.Code("TOKEN_WEAK_SECRET").Errorf("signing secret must be at least 32 bytes")
	}
	if issuer == "" {
		issuer = "gatewarden"
	}

	newParser := func(audience string) *jwt.Parser {
		return jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithAudience(audience),
			jwt.WithIssuer(issuer),
			jwt.WithExpirationRequired(),
		)
	}

	return &TokenIssuer{
		secret:       secret,
		issuer:       issuer,
		portalParser: newParser(auth.AudiencePortal),
		runParser:    newParser(auth.AudienceRun),
	}, nil
}

// IssuePortalToken mints a signed portal token for the email.
func (t *TokenIssuer) IssuePortalToken(email string) (string, error) {
	now := time.Now()
	claims := PortalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Audience:  jwt.ClaimStrings{auth.AudiencePortal},
			Subject:   auth.NormalizeEmail(email),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(PortalTokenTTL)),
			ID:        ulid.Make().String(),
		},
		Email:  auth.NormalizeEmail(email),
		Portal: true,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", oops.Code("PORTAL_TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// VerifyPortalToken parses and verifies a portal token.
func (t *TokenIssuer) VerifyPortalToken(tokenStr string) (*PortalClaims, error) {
	claims := &PortalClaims{}
	token, err := t.portalParser.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, oops.Code("TOKEN_MALFORMED").Wrap(auth.ErrTokenMalformed)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, oops.Code("TOKEN_EXPIRED").Wrap(auth.ErrTokenExpired)
		default:
			return nil, oops.Code("TOKEN_INVALID").Wrap(auth.ErrTokenInvalid)
		}
	}
	if !token.Valid || !claims.Portal {
		return nil, oops.Code("TOKEN_INVALID").Wrap(auth.ErrTokenInvalid)
	}
	return claims, nil
}

// IssueRunToken mints a bearer token scoped to a single workflow run.
func (t *TokenIssuer) IssueRunToken(runID string) (string, error) {
	if runID == "" {
		return "", oops.Code("RUN_TOKEN_NO_RUN").Errorf("run ID cannot be empty")
	}

	now := time.Now()
	claims := RunClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Audience:  jwt.ClaimStrings{auth.AudienceRun},
			Subject:   runID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(RunTokenTTL)),
			ID:        ulid.Make().String(),
		},
		RunID: runID,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", oops.Code("RUN_TOKEN_SIGN_FAILED").Wrap(err)
	}
	return signed, nil
}

// VerifyRunToken parses and verifies a run token, returning the run ID it
// is scoped to.
func (t *TokenIssuer) VerifyRunToken(tokenStr string) (string, error) {
	claims := &RunClaims{}
	token, err := t.runParser.ParseWithClaims(tokenStr, claims, func(_ *jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return "", oops.Code("TOKEN_MALFORMED").Wrap(auth.ErrTokenMalformed)
		case errors.Is(err, jwt.ErrTokenExpired):
			return "", oops.Code("TOKEN_EXPIRED").Wrap(auth.ErrTokenExpired)
		default:
			return "", oops.Code("TOKEN_INVALID").Wrap(auth.ErrTokenInvalid)
		}
	}
	if !token.Valid || claims.RunID == "" {
		return "", oops.Code("TOKEN_INVALID").Wrap(auth.ErrTokenInvalid)
	}
	return claims.RunID, nil
}
