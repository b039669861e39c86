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
	"github.com/sethvargo/go-retry"

	"github.com/gatewarden/gatewarden/pkg/errutil"
)

// rotateRetryBase and rotateMaxRetries bound the backoff applied to
// serialization conflicts on the atomic rotate/revoke updates.
const (
	rotateRetryBase  = 10 * time.Millisecond
	rotateMaxRetries = 3
)

// RefreshPolicy tunes ledger behavior.
type RefreshPolicy struct {
	// TTL is the refresh token lifetime. Zero means RefreshTokenTTL.
	TTL time.Duration

	// RevokeSiblingsOnReuse escalates reuse detection into revoking every
	// session for the identity. Off by default: reuse is always audited
	// and the reused token stays terminal, but forcing logout on all
	// devices is an explicit policy opt-in.
	RevokeSiblingsOnReuse bool
}

func (p RefreshPolicy) ttl() time.Duration {
	if p.TTL <= 0 {
		return RefreshTokenTTL
	}
	return p.TTL
}

// RotateResult is the outcome of a successful rotation.
type RotateResult struct {
	RawToken   string
	IdentityID ulid.ULID
}

// RefreshLedger owns the refresh-token state machine: creation, rotation
// with reuse detection, session enumeration, and revocation.
type RefreshLedger struct {
	tokens  RefreshTokenRepository
	devices TrustedDeviceRepository
	audit   *Recorder
	logger  *slog.Logger
	policy  RefreshPolicy
}

// NewRefreshLedger creates a RefreshLedger with a no-op logger.
func NewRefreshLedger(tokens RefreshTokenRepository, devices TrustedDeviceRepository, audit *Recorder, policy RefreshPolicy) (*RefreshLedger, error) {
	if tokens == nil {
		return nil, oops.Errorf("refresh token repository is required")
	}
	if devices == nil {
		return nil, oops.Errorf("trusted device repository is required")
	}
	if audit == nil {
		return nil, oops.Errorf("audit recorder is required")
	}
	return &RefreshLedger{
		tokens:  tokens,
		devices: devices,
		audit:   audit,
		logger:  slog.New(slog.DiscardHandler),
		policy:  policy,
	}, nil
}

// NewRefreshLedgerWithLogger creates a RefreshLedger with the given logger.
func NewRefreshLedgerWithLogger(tokens RefreshTokenRepository, devices TrustedDeviceRepository, audit *Recorder, policy RefreshPolicy, logger *slog.Logger) (*RefreshLedger, error) {
	l, err := NewRefreshLedger(tokens, devices, audit, policy)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, oops.Errorf("logger is required")
	}
	l.logger = logger
	return l, nil
}

// Create mints a new refresh token for the identity and returns the raw
// token. Only the hash is persisted.
func (l *RefreshLedger) Create(ctx context.Context, identityID ulid.ULID, meta DeviceMetadata) (string, error) {
	raw, hash, err := GenerateRefreshToken()
	if err != nil {
		return "", err
	}

	token, err := NewRefreshToken(identityID, hash, meta, time.Now().Add(l.policy.ttl()))
	if err != nil {
		return "", err
	}

	if err := l.tokens.Create(ctx, token); err != nil {
		return "", oops.Code("REFRESH_CREATE_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}

	return raw, nil
}

// Rotate exchanges a raw refresh token for its successor. The predecessor
// is atomically marked Rotated; exactly one of two concurrent rotations of
// the same token succeeds, and the loser observes ErrInvalidRefreshToken.
// Presenting an already-rotated or revoked token is indistinguishable from
// an unknown one to the caller but is audited as a theft signal.
func (l *RefreshLedger) Rotate(ctx context.Context, rawToken string, meta DeviceMetadata) (*RotateResult, error) {
	if rawToken == "" {
		return nil, oops.Code("REFRESH_INVALID").Wrap(ErrInvalidRefreshToken)
	}
	oldHash := HashRefreshToken(rawToken)

	newRaw, newHash, err := GenerateRefreshToken()
	if err != nil {
		return nil, err
	}

	var predecessor *RefreshToken
	backoff := retry.WithMaxRetries(rotateMaxRetries, retry.NewExponential(rotateRetryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		successor, buildErr := newSuccessor(oldHash, newHash, meta, l.policy.ttl())
		if buildErr != nil {
			return buildErr
		}
		rotated, rotateErr := l.tokens.Rotate(ctx, oldHash, successor)
		if rotateErr != nil {
			if errors.Is(rotateErr, ErrWriteConflict) {
				return retry.RetryableError(rotateErr)
			}
			return rotateErr
		}
		predecessor = rotated
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, l.classifyRotateMiss(ctx, oldHash)
		}
		return nil, oops.Code("REFRESH_ROTATE_FAILED").Wrap(err)
	}

	l.audit.Record(ctx, &predecessor.IdentityID, EventRefreshRotated, map[string]string{
		"session_id": predecessor.ID.String(),
	})

	return &RotateResult{RawToken: newRaw, IdentityID: predecessor.IdentityID}, nil
}

// newSuccessor builds the replacement token. The identity is unknown until
// the conditional update resolves, so the repository fills it in from the
// predecessor row inside the transaction; the zero check in
// NewRefreshToken is bypassed deliberately here.
func newSuccessor(oldHash, newHash string, meta DeviceMetadata, ttl time.Duration) (*RefreshToken, error) {
	if newHash == "" || oldHash == "" {
		return nil, oops.Code("REFRESH_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	now := time.Now()
	return &RefreshToken{
		ID:         ulid.Make(),
		TokenHash:  newHash,
		Status:     TokenStatusActive,
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
		LastUsedAt: now,
	}, nil
}

// classifyRotateMiss distinguishes reuse of a terminal token from a plain
// unknown token for auditing. The caller-visible error is identical.
func (l *RefreshLedger) classifyRotateMiss(ctx context.Context, oldHash string) error {
	existing, err := l.tokens.GetByTokenHash(ctx, oldHash)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			errutil.LogError(l.logger, "refresh reuse classification failed", err)
		}
		l.audit.Record(ctx, nil, EventRefreshInvalid, map[string]string{"reason": "unknown_token"})
		return oops.Code("REFRESH_INVALID").Wrap(ErrInvalidRefreshToken)
	}

	if existing.Status == TokenStatusRotated || existing.Status == TokenStatusRevoked {
		// Theft signal: a superseded token came back.
		l.audit.Record(ctx, &existing.IdentityID, EventRefreshReuseDetected, map[string]string{
			"session_id": existing.ID.String(),
			"status":     string(existing.Status),
		})
		if l.policy.RevokeSiblingsOnReuse {
			if _, revokeErr := l.tokens.RevokeAllForIdentity(ctx, existing.IdentityID); revokeErr != nil {
				errutil.LogError(l.logger, "sibling revocation after reuse failed", revokeErr)
			} else {
				l.audit.Record(ctx, &existing.IdentityID, EventSessionsRevokedAll, map[string]string{
					"reason": "refresh_reuse",
				})
			}
		}
	} else {
		l.audit.Record(ctx, &existing.IdentityID, EventRefreshInvalid, map[string]string{
			"session_id": existing.ID.String(),
			"reason":     "expired",
		})
	}

	return oops.Code("REFRESH_INVALID").Wrap(ErrInvalidRefreshToken)
}

// ListSessions returns every Active, unexpired token for the identity as a
// session view, flagging the one matching currentRawToken.
func (l *RefreshLedger) ListSessions(ctx context.Context, identityID ulid.ULID, currentRawToken string) ([]Session, error) {
	tokens, err := l.tokens.ListActiveByIdentity(ctx, identityID)
	if err != nil {
		return nil, oops.Code("REFRESH_LIST_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}

	currentHash := ""
	if currentRawToken != "" {
		currentHash = HashRefreshToken(currentRawToken)
	}

	sessions := make([]Session, 0, len(tokens))
	for _, token := range tokens {
		sessions = append(sessions, sessionView(token, currentHash))
	}
	return sessions, nil
}

// Revoke revokes one session owned by the identity. Revoking the session
// backing currentRawToken is rejected; a session owned by a different
// identity is reported exactly like a missing one.
func (l *RefreshLedger) Revoke(ctx context.Context, sessionID, identityID ulid.ULID, currentRawToken string) error {
	target, err := l.tokens.GetActiveByID(ctx, sessionID, identityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("SESSION_NOT_FOUND").Wrap(ErrSessionNotFound)
		}
		return oops.Code("SESSION_REVOKE_FAILED").Wrap(err)
	}

	if currentRawToken != "" && target.TokenHash == HashRefreshToken(currentRawToken) {
		return oops.Code("SESSION_REVOKE_CURRENT").Wrap(ErrCannotRevokeCurrentSession)
	}

	if err := l.tokens.RevokeByID(ctx, sessionID, identityID); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Lost a race with expiry or another revocation.
			return oops.Code("SESSION_NOT_FOUND").Wrap(ErrSessionNotFound)
		}
		return oops.Code("SESSION_REVOKE_FAILED").Wrap(err)
	}

	l.audit.Record(ctx, &identityID, EventSessionRevoked, map[string]string{
		"session_id": sessionID.String(),
	})
	return nil
}

// RevokeAllExceptCurrent revokes every other Active session and all
// trusted devices for the identity. The current session must resolve to an
// Active token or the call fails with ErrNoActiveSession. Idempotent:
// calling it twice leaves exactly one Active session both times.
func (l *RefreshLedger) RevokeAllExceptCurrent(ctx context.Context, identityID ulid.ULID, currentRawToken string) error {
	currentHash := HashRefreshToken(currentRawToken)
	current, err := l.tokens.GetByTokenHash(ctx, currentHash)
	if err != nil || current.IdentityID != identityID || !current.IsActive() {
		return oops.Code("SESSION_NO_ACTIVE").Wrap(ErrNoActiveSession)
	}

	if _, err := l.tokens.RevokeAllExcept(ctx, identityID, currentHash); err != nil {
		return oops.Code("SESSION_REVOKE_ALL_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	if err := l.devices.RevokeAllForIdentity(ctx, identityID); err != nil {
		return oops.Code("SESSION_REVOKE_ALL_FAILED").
			With("operation", "revoke trusted devices").
			With("identity_id", identityID.String()).
			Wrap(err)
	}

	l.audit.Record(ctx, &identityID, EventSessionsRevokedAll, map[string]string{
		"kept_current": "true",
	})
	return nil
}

// RevokeAll unconditionally revokes every session and trusted device for
// the identity. Used by password change and reset.
func (l *RefreshLedger) RevokeAll(ctx context.Context, identityID ulid.ULID) error {
	if _, err := l.tokens.RevokeAllForIdentity(ctx, identityID); err != nil {
		return oops.Code("SESSION_REVOKE_ALL_FAILED").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	if err := l.devices.RevokeAllForIdentity(ctx, identityID); err != nil {
		return oops.Code("SESSION_REVOKE_ALL_FAILED").
			With("operation", "revoke trusted devices").
			With("identity_id", identityID.String()).
			Wrap(err)
	}

	l.audit.Record(ctx, &identityID, EventSessionsRevokedAll, nil)
	return nil
}
