// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Backup code and trusted device configuration.
const (
	// BackupCodeCount is the number of backup codes issued per enrollment.
	BackupCodeCount = 10

	// BackupCodeLength is the character length of each backup code.
	BackupCodeLength = 10

	// BackupCodeAlphabet excludes ambiguous characters (0/O, 1/I/L).
	BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// TrustedDeviceTTL is how long an MFA verification exempts a device.
	TrustedDeviceTTL = 30 * 24 * time.Hour
)

// MFASecret is a per-identity TOTP seed. A secret stored with Enabled
// false is a pending enrollment and grants no login capability.
type MFASecret struct {
	IdentityID ulid.ULID
	Secret     string // base32, unpadded
	Enabled    bool
	CreatedAt  time.Time
}

// BackupCode is one single-use recovery code, stored hashed.
type BackupCode struct {
	ID         ulid.ULID
	IdentityID ulid.ULID
	CodeHash   string
	Used       bool
}

// TrustedDevice records an MFA exemption for a device fingerprint.
type TrustedDevice struct {
	ID           ulid.ULID
	IdentityID   ulid.ULID
	Fingerprint  string
	TrustedUntil time.Time
	Revoked      bool
}

// MFASecretRepository manages TOTP secret persistence.
type MFASecretRepository interface {
	// Upsert stores the secret, replacing any existing row for the
	// identity. Re-enrollment overwrites a pending or enabled secret.
	Upsert(ctx context.Context, secret *MFASecret) error

	// Get retrieves the identity's secret. Returns ErrNotFound if absent.
	Get(ctx context.Context, identityID ulid.ULID) (*MFASecret, error)

	// Enable flips the secret to enabled. Returns ErrNotFound if absent.
	Enable(ctx context.Context, identityID ulid.ULID) error

	// Delete removes the secret if present.
	Delete(ctx context.Context, identityID ulid.ULID) error
}

// BackupCodeRepository manages single-use recovery codes.
type BackupCodeRepository interface {
	// Replace atomically swaps the identity's code set for a new batch.
	Replace(ctx context.Context, identityID ulid.ULID, codes []*BackupCode) error

	// Consume marks the matching unused code as used. The implementation
	// must be an atomic conditional update so a code can never be consumed
	// twice. Returns ErrNotFound when no unused code matches.
	Consume(ctx context.Context, identityID ulid.ULID, codeHash string) error

	// DeleteAll removes every code for the identity.
	DeleteAll(ctx context.Context, identityID ulid.ULID) error
}

// TrustedDeviceRepository manages trusted device persistence.
type TrustedDeviceRepository interface {
	// Upsert stores the device, refreshing trusted_until and clearing any
	// prior revocation for the same (identity, fingerprint).
	Upsert(ctx context.Context, device *TrustedDevice) error

	// IsTrusted reports whether an unrevoked, unexpired trust record
	// exists for the fingerprint.
	IsTrusted(ctx context.Context, identityID ulid.ULID, fingerprint string) (bool, error)

	// RevokeAllForIdentity revokes every trusted device for the identity.
	RevokeAllForIdentity(ctx context.Context, identityID ulid.ULID) error
}

// Enrollment is the material handed to the user at enrollment start. The
// secret and backup codes appear in clear exactly once, here.
type Enrollment struct {
	Secret      string // base32 TOTP seed
	QRPayload   string // otpauth:// URI
	BackupCodes []string
}

// MFAService manages TOTP enrollment, second-factor verification, backup
// codes, and trusted devices.
type MFAService struct {
	secrets    MFASecretRepository
	codes      BackupCodeRepository
	devices    TrustedDeviceRepository
	identities IdentityRepository
	audit      *Recorder
	logger     *slog.Logger
	issuer     string
	now        func() time.Time
}

// NewMFAService creates an MFAService with a no-op logger. The issuer
// string labels provisioning URIs in authenticator apps.
func NewMFAService(
	secrets MFASecretRepository,
	codes BackupCodeRepository,
	devices TrustedDeviceRepository,
	identities IdentityRepository,
	audit *Recorder,
	issuer string,
) (*MFAService, error) {
	if secrets == nil {
		return nil, oops.Errorf("MFA secret repository is required")
	}
	if codes == nil {
		return nil, oops.Errorf("backup code repository is required")
	}
	if devices == nil {
		return nil, oops.Errorf("trusted device repository is required")
	}
	if identities == nil {
		return nil, oops.Errorf("identity repository is required")
	}
	if audit == nil {
		return nil, oops.Errorf("audit recorder is required")
	}
	if issuer == "" {
		issuer = "Gatewarden"
	}
	return &MFAService{
		secrets:    secrets,
		codes:      codes,
		devices:    devices,
		identities: identities,
		audit:      audit,
		logger:     slog.New(slog.DiscardHandler),
		issuer:     issuer,
		now:        time.Now,
	}, nil
}

// NewMFAServiceWithLogger creates an MFAService with logging enabled.
func NewMFAServiceWithLogger(
	secrets MFASecretRepository,
	codes BackupCodeRepository,
	devices TrustedDeviceRepository,
	identities IdentityRepository,
	audit *Recorder,
	issuer string,
	logger *slog.Logger,
) (*MFAService, error) {
	s, err := NewMFAService(secrets, codes, devices, identities, audit, issuer)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		s.logger = logger
	}
	return s, nil
}

// BeginEnrollment generates a fresh TOTP secret and backup code batch for
// the identity. The secret is stored disabled; until ConfirmEnrollment
// succeeds it grants nothing. Calling again replaces any pending state.
func (s *MFAService) BeginEnrollment(ctx context.Context, identityID ulid.ULID) (*Enrollment, error) {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, oops.Code("MFA_ENROLL_FAILED").Wrap(err)
	}

	_, encoded, err := GenerateTOTPSecret()
	if err != nil {
		return nil, oops.Code("MFA_ENROLL_FAILED").Wrap(err)
	}

	if err := s.secrets.Upsert(ctx, &MFASecret{
		IdentityID: identityID,
		Secret:     encoded,
		Enabled:    false,
		CreatedAt:  s.now(),
	}); err != nil {
		return nil, oops.Code("MFA_ENROLL_FAILED").Wrap(err)
	}

	plain, hashed, err := generateBackupCodes(identityID)
	if err != nil {
		return nil, oops.Code("MFA_ENROLL_FAILED").Wrap(err)
	}
	if err := s.codes.Replace(ctx, identityID, hashed); err != nil {
		return nil, oops.Code("MFA_ENROLL_FAILED").Wrap(err)
	}

	return &Enrollment{
		Secret:      encoded,
		QRPayload:   TOTPProvisionURI(encoded, s.issuer, identity.Email),
		BackupCodes: plain,
	}, nil
}

// ConfirmEnrollment verifies a live code against the pending secret, then
// enables it and flips the identity's MFA flag.
func (s *MFAService) ConfirmEnrollment(ctx context.Context, identityID ulid.ULID, code string) error {
	secret, err := s.secrets.Get(ctx, identityID)
	if err != nil {
		return oops.Code("MFA_CONFIRM_FAILED").Wrap(err)
	}

	raw, err := DecodeTOTPSecret(secret.Secret)
	if err != nil {
		return oops.Code("MFA_CONFIRM_FAILED").Wrap(err)
	}
	if !VerifyTOTP(raw, code, s.now()) {
		s.audit.Record(ctx, &identityID, EventMFAFailure, map[string]string{"phase": "enroll"})
		return ErrInvalidMFACode
	}

	if err := s.secrets.Enable(ctx, identityID); err != nil {
		return oops.Code("MFA_CONFIRM_FAILED").Wrap(err)
	}
	if err := s.identities.SetMFAEnabled(ctx, identityID, true); err != nil {
		return oops.Code("MFA_CONFIRM_FAILED").Wrap(err)
	}

	s.audit.Record(ctx, &identityID, EventMFAEnrolled, nil)
	return nil
}

// Verify checks a second-factor code: a windowed TOTP code against the
// enabled secret, or an unused backup code. Backup codes are consumed
// atomically and work exactly once.
func (s *MFAService) Verify(ctx context.Context, identityID ulid.ULID, code string) error {
	secret, err := s.secrets.Get(ctx, identityID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.audit.Record(ctx, &identityID, EventMFAFailure, map[string]string{"reason": "not_enrolled"})
			return ErrInvalidMFACode
		}
		return oops.Code("MFA_VERIFY_FAILED").Wrap(err)
	}
	if !secret.Enabled {
		s.audit.Record(ctx, &identityID, EventMFAFailure, map[string]string{"reason": "not_enabled"})
		return ErrInvalidMFACode
	}

	raw, err := DecodeTOTPSecret(secret.Secret)
	if err != nil {
		return oops.Code("MFA_VERIFY_FAILED").Wrap(err)
	}
	if VerifyTOTP(raw, code, s.now()) {
		s.audit.Record(ctx, &identityID, EventMFASuccess, map[string]string{"method": "totp"})
		return nil
	}

	// Not a valid TOTP code; try it as a backup code.
	if looksLikeBackupCode(code) {
		err := s.codes.Consume(ctx, identityID, HashBackupCode(code))
		if err == nil {
			s.audit.Record(ctx, &identityID, EventMFASuccess, map[string]string{"method": "backup_code"})
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return oops.Code("MFA_VERIFY_FAILED").Wrap(err)
		}
	}

	s.audit.Record(ctx, &identityID, EventMFAFailure, nil)
	return ErrInvalidMFACode
}

// Disable removes the identity's second factor entirely: secret, backup
// codes, trusted devices, and the identity flag.
func (s *MFAService) Disable(ctx context.Context, identityID ulid.ULID) error {
	if err := s.secrets.Delete(ctx, identityID); err != nil {
		return oops.Code("MFA_DISABLE_FAILED").Wrap(err)
	}
	if err := s.codes.DeleteAll(ctx, identityID); err != nil {
		return oops.Code("MFA_DISABLE_FAILED").Wrap(err)
	}
	if err := s.devices.RevokeAllForIdentity(ctx, identityID); err != nil {
		return oops.Code("MFA_DISABLE_FAILED").Wrap(err)
	}
	if err := s.identities.SetMFAEnabled(ctx, identityID, false); err != nil {
		return oops.Code("MFA_DISABLE_FAILED").Wrap(err)
	}

	s.audit.Record(ctx, &identityID, EventMFADisabled, nil)
	return nil
}

// TrustDevice records an MFA exemption for the fingerprint, valid for
// TrustedDeviceTTL. Repeated calls refresh the expiry.
func (s *MFAService) TrustDevice(ctx context.Context, identityID ulid.ULID, fingerprint string) (time.Time, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return time.Time{}, oops.Code("MFA_INVALID_FINGERPRINT").Errorf("device fingerprint cannot be empty")
	}

	trustedUntil := s.now().Add(TrustedDeviceTTL)
	if err := s.devices.Upsert(ctx, &TrustedDevice{
		ID:           ulid.Make(),
		IdentityID:   identityID,
		Fingerprint:  fingerprint,
		TrustedUntil: trustedUntil,
	}); err != nil {
		return time.Time{}, oops.Code("MFA_TRUST_FAILED").Wrap(err)
	}

	s.audit.Record(ctx, &identityID, EventDeviceTrusted, nil)
	return trustedUntil, nil
}

// IsDeviceTrusted reports whether the fingerprint holds an unexpired,
// unrevoked trust record. An empty fingerprint is never trusted.
func (s *MFAService) IsDeviceTrusted(ctx context.Context, identityID ulid.ULID, fingerprint string) (bool, error) {
	fingerprint = strings.TrimSpace(fingerprint)
	if fingerprint == "" {
		return false, nil
	}
	trusted, err := s.devices.IsTrusted(ctx, identityID, fingerprint)
	if err != nil {
		return false, oops.Code("MFA_TRUST_CHECK_FAILED").Wrap(err)
	}
	return trusted, nil
}

// RevokeTrustedDevices revokes every trusted device for the identity.
// Called by the revoke-all paths alongside session revocation.
func (s *MFAService) RevokeTrustedDevices(ctx context.Context, identityID ulid.ULID) error {
	if err := s.devices.RevokeAllForIdentity(ctx, identityID); err != nil {
		return oops.Code("MFA_REVOKE_DEVICES_FAILED").Wrap(err)
	}
	return nil
}

// HashBackupCode computes the stored hash of a backup code. Codes are
// normalized to upper case so user transcription is case-insensitive.
func HashBackupCode(code string) string {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	h := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(h[:])
}

// generateBackupCodes creates the per-enrollment code batch, returning
// both the clear codes (for one-time display) and their stored forms.
func generateBackupCodes(identityID ulid.ULID) ([]string, []*BackupCode, error) {
	plain := make([]string, 0, BackupCodeCount)
	hashed := make([]*BackupCode, 0, BackupCodeCount)

	alphabetLen := big.NewInt(int64(len(BackupCodeAlphabet)))
	for i := 0; i < BackupCodeCount; i++ {
		var b strings.Builder
		for j := 0; j < BackupCodeLength; j++ {
			n, err := rand.Int(rand.Reader, alphabetLen)
			if err != nil {
				return nil, nil, oops.Code("MFA_BACKUP_GENERATE_FAILED").Wrap(err)
			}
			b.WriteByte(BackupCodeAlphabet[n.Int64()])
		}
		code := b.String()
		plain = append(plain, code)
		hashed = append(hashed, &BackupCode{
			ID:         ulid.Make(),
			IdentityID: identityID,
			CodeHash:   HashBackupCode(code),
		})
	}
	return plain, hashed, nil
}

// looksLikeBackupCode filters obvious non-candidates before hitting the
// store. TOTP codes are 6 digits; backup codes are 10 alphanumerics.
func looksLikeBackupCode(code string) bool {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if len(trimmed) != BackupCodeLength {
		return false
	}
	for _, r := range trimmed {
		if !strings.ContainsRune(BackupCodeAlphabet, r) {
			return false
		}
	}
	return true
}
