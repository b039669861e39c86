// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package auth_test

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewarden/gatewarden/internal/auth"
)

var testSigningSecret = []byte("0123456789abcdef0123456789abcdef")

func testIdentity(t *testing.T) *auth.Identity {
	t.Helper()
	identity, err := auth.NewIdentity(ulid.Make(), "user@example.com", "member")
	require.NoError(t, err)
	return identity
}

func newTestIssuer(t *testing.T, audience string, ttl time.Duration) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		Secret:   testSigningSecret,
		Issuer:   "gatewarden-test",
		Audience: audience,
		TTL:      ttl,
	})
	require.NoError(t, err)
	return issuer
}

func TestNewTokenIssuer(t *testing.T) {
	t.Run("rejects short secret", func(t *testing.T) {
		_, err := auth.NewTokenIssuer(auth.TokenConfig{
			Secret:   []byte("too-short"),
			Audience: auth.AudiencePrimary,
		})
		assert.Error(t, err)
	})

	t.Run("requires audience", func(t *testing.T) {
		_, err := auth.NewTokenIssuer(auth.TokenConfig{Secret: testSigningSecret})
		assert.Error(t, err)
	})

	t.Run("defaults TTL", func(t *testing.T) {
		issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
			Secret:   testSigningSecret,
			Audience: auth.AudiencePrimary,
		})
		require.NoError(t, err)
		assert.Equal(t, auth.DefaultAccessTokenTTL, issuer.TTL())
	})
}

func TestIssueAccessToken(t *testing.T) {
	issuer := newTestIssuer(t, auth.AudiencePrimary, time.Minute)

	t.Run("round-trips claims", func(t *testing.T) {
		identity := testIdentity(t)
		token, err := issuer.IssueAccessToken(identity)
		require.NoError(t, err)

		claims, err := issuer.VerifyAccessToken(token)
		require.NoError(t, err)
		assert.Equal(t, identity.ID.String(), claims.IdentityID)
		assert.Equal(t, identity.ID.String(), claims.Subject)
		assert.Equal(t, identity.TenantID.String(), claims.TenantID)
		assert.Equal(t, identity.Email, claims.Email)
		assert.Equal(t, identity.Role, claims.Role)
		assert.NotEmpty(t, claims.ID)
	})

	t.Run("nil identity is rejected", func(t *testing.T) {
		_, err := issuer.IssueAccessToken(nil)
		assert.Error(t, err)
	})
}

func TestVerifyAccessToken(t *testing.T) {
	issuer := newTestIssuer(t, auth.AudiencePrimary, time.Minute)
	identity := testIdentity(t)

	t.Run("rejects malformed token", func(t *testing.T) {
		_, err := issuer.VerifyAccessToken("not.a.token")
		assert.ErrorIs(t, err, auth.ErrTokenMalformed)
	})

	t.Run("rejects empty token", func(t *testing.T) {
		_, err := issuer.VerifyAccessToken("")
		assert.ErrorIs(t, err, auth.ErrTokenMalformed)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		shortIssuer := newTestIssuer(t, auth.AudiencePrimary, time.Nanosecond)
		token, err := shortIssuer.IssueAccessToken(identity)
		require.NoError(t, err)

		time.Sleep(10 * time.Millisecond)
		_, verifyErr := shortIssuer.VerifyAccessToken(token)
		assert.ErrorIs(t, verifyErr, auth.ErrTokenExpired)
	})

	t.Run("rejects tampered signature", func(t *testing.T) {
		token, err := issuer.IssueAccessToken(identity)
		require.NoError(t, err)

		tampered := token[:len(token)-4] + "AAAA"
		_, verifyErr := issuer.VerifyAccessToken(tampered)
		assert.ErrorIs(t, verifyErr, auth.ErrTokenInvalid)
	})

	t.Run("rejects token signed with a different secret", func(t *testing.T) {
		other, err := auth.NewTokenIssuer(auth.TokenConfig{
			Secret:   []byte("ffffffffffffffffffffffffffffffff"),
			Issuer:   "gatewarden-test",
			Audience: auth.AudiencePrimary,
			TTL:      time.Minute,
		})
		require.NoError(t, err)

		token, err := other.IssueAccessToken(identity)
		require.NoError(t, err)

		_, verifyErr := issuer.VerifyAccessToken(token)
		assert.ErrorIs(t, verifyErr, auth.ErrTokenInvalid)
	})

	t.Run("rejects alg none", func(t *testing.T) {
		token, err := issuer.IssueAccessToken(identity)
		require.NoError(t, err)

		// Rewrite the header to alg=none and strip the signature.
		parts := strings.Split(token, ".")
		require.Len(t, parts, 3)

		header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
		forged := header + "." + parts[1] + "."
		_, verifyErr := issuer.VerifyAccessToken(forged)
		assert.Error(t, verifyErr)
	})

	t.Run("rejects token missing expiry", func(t *testing.T) {
		claims := jwt.MapClaims{
			"iss": "gatewarden-test",
			"aud": auth.AudiencePrimary,
			"sub": identity.ID.String(),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningSecret)
		require.NoError(t, err)

		_, verifyErr := issuer.VerifyAccessToken(token)
		assert.Error(t, verifyErr)
	})

	t.Run("rejects wrong issuer", func(t *testing.T) {
		other, err := auth.NewTokenIssuer(auth.TokenConfig{
			Secret:   testSigningSecret,
			Issuer:   "someone-else",
			Audience: auth.AudiencePrimary,
			TTL:      time.Minute,
		})
		require.NoError(t, err)

		token, err := other.IssueAccessToken(identity)
		require.NoError(t, err)

		_, verifyErr := issuer.VerifyAccessToken(token)
		assert.ErrorIs(t, verifyErr, auth.ErrTokenInvalid)
	})
}

func TestAudienceIsolation(t *testing.T) {
	identity := testIdentity(t)

	primary := newTestIssuer(t, auth.AudiencePrimary, time.Minute)
	portal := newTestIssuer(t, auth.AudiencePortal, time.Minute)
	run := newTestIssuer(t, auth.AudienceRun, time.Minute)

	tokens := map[string]string{}
	for name, issuer := range map[string]*auth.TokenIssuer{
		"primary": primary, "portal": portal, "run": run,
	} {
		token, err := issuer.IssueAccessToken(identity)
		require.NoError(t, err)
		tokens[name] = token
	}

	verifiers := map[string]*auth.TokenIssuer{
		"primary": primary, "portal": portal, "run": run,
	}

	for issuedBy, token := range tokens {
		for verifier, issuer := range verifiers {
			_, err := issuer.VerifyAccessToken(token)
			if issuedBy == verifier {
				assert.NoError(t, err, "%s token should verify against %s", issuedBy, verifier)
			} else {
				assert.ErrorIs(t, err, auth.ErrTokenInvalid,
					"%s token must not verify against %s", issuedBy, verifier)
			}
		}
	}
}

func TestAccessTokenPayload(t *testing.T) {
	// The claims payload should be plain JSON with our custom fields present.
	issuer := newTestIssuer(t, auth.AudiencePrimary, time.Minute)
	identity := testIdentity(t)

	token, err := issuer.IssueAccessToken(identity)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, identity.Email, decoded["email"])
	assert.Equal(t, identity.TenantID.String(), decoded["tenant_id"])
	assert.Contains(t, decoded, "exp")
	assert.Contains(t, decoded, "iat")
}
