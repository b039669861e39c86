// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Refresh token configuration.
const (
	RefreshTokenBytes = 32                  // 32 bytes = 64 hex chars
	RefreshTokenTTL   = 30 * 24 * time.Hour // 30 day expiry
)

// TokenStatus is the closed lifecycle state of a refresh token.
// Expiry is derived from ExpiresAt, not a stored transition. Rotated and
// Revoked are both terminal and equivalent to the verifier.
type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "active"
	TokenStatusRotated TokenStatus = "rotated"
	TokenStatusRevoked TokenStatus = "revoked"
)

// DeviceMetadata is the client context captured at token creation and
// refreshed on each rotation.
type DeviceMetadata struct {
	IPAddress string
	UserAgent string
}

// RefreshToken is one outstanding session grant. The raw token is never
// persisted; only its SHA256 hash is stored.
type RefreshToken struct {
	ID         ulid.ULID
	IdentityID ulid.ULID
	TokenHash  string
	Status     TokenStatus
	IPAddress  string
	UserAgent  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// NewRefreshToken creates a validated Active refresh token.
func NewRefreshToken(identityID ulid.ULID, tokenHash string, meta DeviceMetadata, expiresAt time.Time) (*RefreshToken, error) {
	if identityID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("REFRESH_INVALID_IDENTITY").Errorf("identity ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("REFRESH_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("REFRESH_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}

	now := time.Now()
	return &RefreshToken{
		ID:         ulid.Make(),
		IdentityID: identityID,
		TokenHash:  tokenHash,
		Status:     TokenStatusActive,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		LastUsedAt: now,
	}, nil
}

// IsExpired returns true if the token has expired.
func (t *RefreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsActive returns true if the token can still authorize a rotation.
func (t *RefreshToken) IsActive() bool {
	return t.Status == TokenStatusActive && !t.IsExpired()
}

// GenerateRefreshToken creates a secure random token and its hash.
// Returns (plaintext_token, sha256_hash, error). The plaintext token goes
// to the client; only the hash is stored.
func GenerateRefreshToken() (token, hash string, err error) {
	tokenBytes := make([]byte, RefreshTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("REFRESH_TOKEN_GENERATE_FAILED").
			With("operation", "crypto/rand.Read").
			With("requested_bytes", RefreshTokenBytes).
			Wrap(err)
	}

	token = hex.EncodeToString(tokenBytes)
	hash = HashRefreshToken(token)

	return token, hash, nil
}

// HashRefreshToken computes the SHA256 hash of a raw refresh token.
func HashRefreshToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// VerifyRefreshToken checks a raw token against a stored hash in constant
// time.
func VerifyRefreshToken(token, hash string) bool {
	if token == "" || hash == "" {
		return false
	}
	computed := HashRefreshToken(token)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
}

// RefreshTokenRepository manages refresh token persistence. The Rotate
// implementation must be a single atomic conditional update plus successor
// insert in one transaction: two concurrent rotations of the same token
// resolve to exactly one winner.
type RefreshTokenRepository interface {
	// Create stores a new Active refresh token.
	Create(ctx context.Context, token *RefreshToken) error

	// GetByTokenHash retrieves a token by hash regardless of status.
	GetByTokenHash(ctx context.Context, tokenHash string) (*RefreshToken, error)

	// GetActiveByID retrieves an Active, unexpired token owned by the
	// identity. Missing, terminal, expired, and foreign-identity rows all
	// return ErrNotFound.
	GetActiveByID(ctx context.Context, id, identityID ulid.ULID) (*RefreshToken, error)

	// ListActiveByIdentity returns Active, unexpired tokens, newest first.
	ListActiveByIdentity(ctx context.Context, identityID ulid.ULID) ([]*RefreshToken, error)

	// Rotate marks the Active, unexpired row matching oldHash as Rotated
	// and inserts the successor in the same transaction. Returns the
	// predecessor. If no Active row matches, returns ErrNotFound and
	// inserts nothing. Serialization races return ErrWriteConflict.
	Rotate(ctx context.Context, oldHash string, successor *RefreshToken) (*RefreshToken, error)

	// RevokeByID marks the Active token as Revoked if owned by the
	// identity. Returns ErrNotFound otherwise.
	RevokeByID(ctx context.Context, id, identityID ulid.ULID) error

	// RevokeAllForIdentity revokes every Active token for the identity
	// and returns the number revoked.
	RevokeAllForIdentity(ctx context.Context, identityID ulid.ULID) (int64, error)

	// RevokeAllExcept revokes every Active token for the identity except
	// the one matching keepHash, returning the number revoked.
	RevokeAllExcept(ctx context.Context, identityID ulid.ULID, keepHash string) (int64, error)

	// DeleteExpired removes expired rows and returns the count.
	DeleteExpired(ctx context.Context) (int64, error)
}
