// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// One-time token purposes and lifetimes.
const (
	PurposePasswordReset = "password_reset"
	PurposeEmailVerify   = "email_verify"

	PasswordResetTTL     = 1 * time.Hour
	EmailVerificationTTL = 24 * time.Hour
)

// OneTimeToken is a single-use, purpose-bound token (password reset or
// email verification). Only the hash is stored.
type OneTimeToken struct {
	ID         ulid.ULID
	IdentityID ulid.ULID
	Purpose    string
	TokenHash  string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// CredentialRepository manages password hash persistence.
type CredentialRepository interface {
	// Upsert stores the password hash for the identity, replacing any
	// existing credential.
	Upsert(ctx context.Context, identityID ulid.ULID, passwordHash string) error

	// GetHash retrieves the stored hash. Returns ErrNotFound for an
	// identity with no credential (external-IdP only).
	GetHash(ctx context.Context, identityID ulid.ULID) (string, error)
}

// OneTimeTokenRepository manages one-time token persistence.
type OneTimeTokenRepository interface {
	// Create stores a new pending token.
	Create(ctx context.Context, token *OneTimeToken) error

	// Consume marks the unconsumed, unexpired token matching hash and
	// purpose as consumed and returns it. The implementation must be an
	// atomic conditional update so a token works exactly once. Returns
	// ErrNotFound when nothing consumable matches.
	Consume(ctx context.Context, tokenHash, purpose string) (*OneTimeToken, error)

	// DeleteExpired removes expired rows and returns the count.
	DeleteExpired(ctx context.Context) (int64, error)
}

// sessionRevoker is the slice of the refresh ledger the credential flow
// needs: a password change invalidates every session and trusted device.
type sessionRevoker interface {
	RevokeAll(ctx context.Context, identityID ulid.ULID) error
}

// CredentialService manages passwords, one-time tokens, and identity
// provisioning from verified external-IdP claims.
type CredentialService struct {
	creds      CredentialRepository
	tokens     OneTimeTokenRepository
	identities IdentityRepository
	hasher     PasswordHasher
	sessions   sessionRevoker
	audit      *Recorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewCredentialService creates a CredentialService with a no-op logger.
func NewCredentialService(
	creds CredentialRepository,
	tokens OneTimeTokenRepository,
	identities IdentityRepository,
	hasher PasswordHasher,
	sessions sessionRevoker,
	audit *Recorder,
) (*CredentialService, error) {
	if creds == nil {
		return nil, oops.Errorf("credential repository is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("one-time token repository is required")
	}
	if identities == nil {
		return nil, oops.Errorf("identity repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if sessions == nil {
		return nil, oops.Errorf("session revoker is required")
	}
	if audit == nil {
		return nil, oops.Errorf("audit recorder is required")
	}
	return &CredentialService{
		creds:      creds,
		tokens:     tokens,
		identities: identities,
		hasher:     hasher,
		sessions:   sessions,
		audit:      audit,
		logger:     slog.New(slog.DiscardHandler),
		now:        time.Now,
	}, nil
}

// NewCredentialServiceWithLogger creates a CredentialService with logging
// enabled.
func NewCredentialServiceWithLogger(
	creds CredentialRepository,
	tokens OneTimeTokenRepository,
	identities IdentityRepository,
	hasher PasswordHasher,
	sessions sessionRevoker,
	audit *Recorder,
	logger *slog.Logger,
) (*CredentialService, error) {
	s, err := NewCredentialService(creds, tokens, identities, hasher, sessions, audit)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		s.logger = logger
	}
	return s, nil
}

// SetPassword hashes and stores a new password for the identity. Replacing
// a credential is a security boundary: every session and trusted device
// falls with it.
func (s *CredentialService) SetPassword(ctx context.Context, identityID ulid.ULID, plain string) error {
	hash, err := s.hasher.Hash(plain)
	if err != nil {
		return err
	}

	hadCredential := true
	if _, err := s.creds.GetHash(ctx, identityID); err != nil {
		if !errors.Is(err, ErrNotFound) {
			return oops.Code("CREDENTIAL_SET_FAILED").Wrap(err)
		}
		hadCredential = false
	}

	if err := s.creds.Upsert(ctx, identityID, hash); err != nil {
		return oops.Code("CREDENTIAL_SET_FAILED").Wrap(err)
	}

	if hadCredential {
		if err := s.sessions.RevokeAll(ctx, identityID); err != nil {
			return oops.Code("CREDENTIAL_SET_FAILED").
				With("operation", "revoke sessions").
				Wrap(err)
		}
		s.audit.Record(ctx, &identityID, EventPasswordChanged, nil)
	}

	return nil
}

// IssueEmailVerificationToken mints a 24h verification token for the
// identity and returns the raw token for delivery.
func (s *CredentialService) IssueEmailVerificationToken(ctx context.Context, identityID ulid.ULID) (string, error) {
	return s.issueToken(ctx, identityID, PurposeEmailVerify, EmailVerificationTTL)
}

// IssuePasswordResetToken mints a 1h reset token for the identity behind
// the email. Unknown addresses return an empty token with no error so the
// call reveals nothing about account existence; callers simply skip
// delivery when the token is empty.
func (s *CredentialService) IssuePasswordResetToken(ctx context.Context, tenantID ulid.ULID, email string) (string, error) {
	identity, err := s.identities.GetByEmail(ctx, tenantID, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", oops.Code("RESET_ISSUE_FAILED").Wrap(err)
	}

	token, err := s.issueToken(ctx, identity.ID, PurposePasswordReset, PasswordResetTTL)
	if err != nil {
		return "", err
	}

	s.audit.Record(ctx, &identity.ID, EventPasswordResetSent, nil)
	return token, nil
}

// ConsumeResetToken redeems a password reset token and sets the new
// password, revoking all sessions. Unknown, expired, and already-consumed
// tokens all fail with the same ErrInvalidCredentials.
func (s *CredentialService) ConsumeResetToken(ctx context.Context, rawToken, newPassword string) error {
	consumed, err := s.tokens.Consume(ctx, HashRefreshToken(rawToken), PurposePasswordReset)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_INVALID").Wrap(ErrInvalidCredentials)
		}
		return oops.Code("RESET_CONSUME_FAILED").Wrap(err)
	}

	return s.SetPassword(ctx, consumed.IdentityID, newPassword)
}

// ConsumeVerificationToken redeems an email verification token and marks
// the identity's email verified.
func (s *CredentialService) ConsumeVerificationToken(ctx context.Context, rawToken string) error {
	consumed, err := s.tokens.Consume(ctx, HashRefreshToken(rawToken), PurposeEmailVerify)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("VERIFY_INVALID").Wrap(ErrInvalidCredentials)
		}
		return oops.Code("VERIFY_CONSUME_FAILED").Wrap(err)
	}

	if err := s.identities.SetEmailVerified(ctx, consumed.IdentityID); err != nil {
		return oops.Code("VERIFY_CONSUME_FAILED").Wrap(err)
	}

	s.audit.Record(ctx, &consumed.IdentityID, EventEmailVerified, nil)
	return nil
}

// UpsertExternalIdentity creates or refreshes an identity from an
// already-verified external-IdP claims tuple. No credential is stored;
// signature verification happened upstream.
func (s *CredentialService) UpsertExternalIdentity(ctx context.Context, tenantID ulid.ULID, claims VerifiedIDPClaims) (*Identity, error) {
	if claims.SubjectID == "" {
		return nil, oops.Code("IDP_INVALID_CLAIMS").Errorf("subject ID cannot be empty")
	}
	if err := ValidateEmail(claims.Email); err != nil {
		return nil, err
	}

	identity, err := s.identities.GetByEmail(ctx, tenantID, claims.Email)
	switch {
	case err == nil:
		identity.FirstName = claims.GivenName
		identity.LastName = claims.FamilyName
		identity.AvatarURL = claims.Picture
		if claims.EmailVerified {
			identity.EmailVerified = true
		}
		identity.UpdatedAt = s.now()
		if err := s.identities.Update(ctx, identity); err != nil {
			return nil, oops.Code("IDP_UPSERT_FAILED").Wrap(err)
		}
		return identity, nil

	case errors.Is(err, ErrNotFound):
		identity, err := NewIdentity(tenantID, claims.Email, RoleMember)
		if err != nil {
			return nil, err
		}
		identity.FirstName = claims.GivenName
		identity.LastName = claims.FamilyName
		identity.AvatarURL = claims.Picture
		identity.EmailVerified = claims.EmailVerified
		if err := s.identities.Create(ctx, identity); err != nil {
			return nil, oops.Code("IDP_UPSERT_FAILED").Wrap(err)
		}
		return identity, nil

	default:
		return nil, oops.Code("IDP_UPSERT_FAILED").Wrap(err)
	}
}

// issueToken mints and stores a one-time token, returning the raw form.
func (s *CredentialService) issueToken(ctx context.Context, identityID ulid.ULID, purpose string, ttl time.Duration) (string, error) {
	raw, hash, err := GenerateRefreshToken()
	if err != nil {
		return "", err
	}

	now := s.now()
	if err := s.tokens.Create(ctx, &OneTimeToken{
		ID:         ulid.Make(),
		IdentityID: identityID,
		Purpose:    purpose,
		TokenHash:  hash,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}); err != nil {
		return "", oops.Code("TOKEN_ISSUE_FAILED").
			With("purpose", purpose).
			Wrap(err)
	}

	return raw, nil
}
