// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// dummyPasswordHash is used when an email doesn't resolve to an identity,
// so password verification still runs and response time stays consistent.
// This is NOT a real credential - it's a fake hash that will never match
// any password.
//
//nolint:gosec // G101: intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// LoginInput carries everything one login attempt presents.
type LoginInput struct {
	TenantID          ulid.ULID
	Email             string
	Password          string
	MFACode           string // empty on the first leg of an MFA login
	DeviceFingerprint string
	IPAddress         string
	UserAgent         string
}

// LoginResult is a successful authentication outcome.
type LoginResult struct {
	Identity     *Identity
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// LoginService composes credential verification, lockout, MFA, and token
// issuance into the login operation.
type LoginService struct {
	identities IdentityRepository
	creds      CredentialRepository
	hasher     PasswordHasher
	lockout    *LockoutGuard
	mfa        *MFAService
	ledger     *RefreshLedger
	issuer     *TokenIssuer
	audit      *Recorder
	logger     *slog.Logger
}

// NewLoginService creates a LoginService with a no-op logger.
func NewLoginService(
	identities IdentityRepository,
	creds CredentialRepository,
	hasher PasswordHasher,
	lockout *LockoutGuard,
	mfa *MFAService,
	ledger *RefreshLedger,
	issuer *TokenIssuer,
	audit *Recorder,
) (*LoginService, error) {
	if identities == nil {
		return nil, oops.Errorf("identity repository is required")
	}
	if creds == nil {
		return nil, oops.Errorf("credential repository is required")
	}
	if hasher == nil {
		return nil, oops.Errorf("password hasher is required")
	}
	if lockout == nil {
		return nil, oops.Errorf("lockout guard is required")
	}
	if mfa == nil {
		return nil, oops.Errorf("MFA service is required")
	}
	if ledger == nil {
		return nil, oops.Errorf("refresh ledger is required")
	}
	if issuer == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	if audit == nil {
		return nil, oops.Errorf("audit recorder is required")
	}
	return &LoginService{
		identities: identities,
		creds:      creds,
		hasher:     hasher,
		lockout:    lockout,
		mfa:        mfa,
		ledger:     ledger,
		issuer:     issuer,
		audit:      audit,
		logger:     slog.New(slog.DiscardHandler),
	}, nil
}

// NewLoginServiceWithLogger creates a LoginService with logging enabled.
func NewLoginServiceWithLogger(
	identities IdentityRepository,
	creds CredentialRepository,
	hasher PasswordHasher,
	lockout *LockoutGuard,
	mfa *MFAService,
	ledger *RefreshLedger,
	issuer *TokenIssuer,
	audit *Recorder,
	logger *slog.Logger,
) (*LoginService, error) {
	s, err := NewLoginService(identities, creds, hasher, lockout, mfa, ledger, issuer, audit)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		s.logger = logger
	}
	return s, nil
}

// Login authenticates an identity and issues an access/refresh token pair.
// Uses constant-time operations to prevent timing-based email enumeration:
// password verification always runs, against a dummy hash when the email is
// unknown or has no credential.
//
// Outcome precedence: an active lockout wins even over a correct password,
// so a locked account leaks nothing about whether the password was right.
// When MFA is enabled and the device isn't trusted, the first leg returns
// ErrMFARequired; the caller repeats the call with MFACode set.
func (s *LoginService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	identity, lookupErr := s.identities.GetByEmail(ctx, input.TenantID, input.Email)

	targetHash := dummyPasswordHash
	identityExists := false

	switch {
	case lookupErr == nil:
		hash, credErr := s.creds.GetHash(ctx, identity.ID)
		if credErr == nil {
			targetHash = hash
			identityExists = true
		} else if !errors.Is(credErr, ErrNotFound) {
			return nil, oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get credential").
				Wrap(credErr)
		}
		// Identity without a credential (external IdP only) verifies
		// against the dummy hash and fails like an unknown email.

	case errors.Is(lookupErr, ErrNotFound):
		// Unknown email: still verify against the dummy hash.

	default:
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get identity by email").
			Wrap(lookupErr)
	}

	valid, verifyErr := s.hasher.Verify(input.Password, targetHash)
	if verifyErr != nil {
		if !identityExists {
			return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
		}
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	// Lock state is evaluated after verification and wins over a correct
	// password: a locked account reveals nothing about the password.
	lock, err := s.lockout.CheckLocked(ctx, input.Email)
	if err != nil {
		return nil, err
	}
	if lock.Locked {
		// No attempt row is recorded while locked: hammering a locked
		// account must not extend the lock.
		s.audit.Record(ctx, identityIDRef(identity), EventLoginLocked, map[string]string{
			"email": NormalizeEmail(input.Email),
		})
		retryAfter := time.Until(lock.LockedUntil).Round(time.Second)
		return nil, oops.Code("AUTH_ACCOUNT_LOCKED").
			With("retry_after", strconv.Itoa(int(retryAfter.Seconds()))).
			Wrap(ErrAccountLocked)
	}

	if !valid || !identityExists {
		if recordErr := s.lockout.RecordAttempt(ctx, input.Email, false); recordErr != nil {
			return nil, recordErr
		}
		s.audit.Record(ctx, identityIDRef(identity), EventLoginFailure, map[string]string{
			"email": NormalizeEmail(input.Email),
		})
		return nil, oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	// Credentials accepted. MFA gate before anything is issued.
	if identity.MFAEnabled {
		trusted, trustErr := s.mfa.IsDeviceTrusted(ctx, identity.ID, input.DeviceFingerprint)
		if trustErr != nil {
			return nil, trustErr
		}
		if !trusted {
			if input.MFACode == "" {
				s.audit.Record(ctx, &identity.ID, EventMFARequired, nil)
				return nil, oops.Code("AUTH_MFA_REQUIRED").Wrap(ErrMFARequired)
			}
			if mfaErr := s.mfa.Verify(ctx, identity.ID, input.MFACode); mfaErr != nil {
				return nil, mfaErr
			}
		}
	}

	if recordErr := s.lockout.RecordAttempt(ctx, input.Email, true); recordErr != nil {
		return nil, recordErr
	}

	accessToken, err := s.issuer.IssueAccessToken(identity)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.ledger.Create(ctx, identity.ID, DeviceMetadata{
		IPAddress: input.IPAddress,
		UserAgent: input.UserAgent,
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, &identity.ID, EventLoginSuccess, map[string]string{
		"ip_address": input.IPAddress,
	})

	return &LoginResult{
		Identity:     identity,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    s.issuer.TTL(),
	}, nil
}

// Logout revokes the session backing the presented refresh token. An
// already-invalid token is not an error; logout is idempotent.
func (s *LoginService) Logout(ctx context.Context, rawRefreshToken string) error {
	if rawRefreshToken == "" {
		return nil
	}

	hash := HashRefreshToken(rawRefreshToken)
	current, err := s.ledger.tokens.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("AUTH_LOGOUT_FAILED").Wrap(err)
	}

	if err := s.ledger.tokens.RevokeByID(ctx, current.ID, current.IdentityID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return oops.Code("AUTH_LOGOUT_FAILED").Wrap(err)
	}

	s.audit.Record(ctx, &current.IdentityID, EventSessionRevoked, map[string]string{
		"session_id": current.ID.String(),
		"reason":     "logout",
	})
	return nil
}

// LogoutAll revokes every session and trusted device for the identity.
func (s *LoginService) LogoutAll(ctx context.Context, identityID ulid.ULID) error {
	return s.ledger.RevokeAll(ctx, identityID)
}

// identityIDRef returns a pointer to the identity's ID for audit records,
// or nil when the identity was never resolved.
func identityIDRef(identity *Identity) *ulid.ULID {
	if identity == nil {
		return nil
	}
	return &identity.ID
}
