// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package postgres

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatewarden/gatewarden/internal/auth"
)

// TrustedDeviceRepository implements auth.TrustedDeviceRepository using
// PostgreSQL.
type TrustedDeviceRepository struct {
	pool DB
}

// NewTrustedDeviceRepository creates a new TrustedDeviceRepository.
func NewTrustedDeviceRepository(pool DB) *TrustedDeviceRepository {
	return &TrustedDeviceRepository{pool: pool}
}

// Upsert stores the device, refreshing trusted_until and clearing any
// prior revocation for the same (identity, fingerprint).
func (r *TrustedDeviceRepository) Upsert(ctx context.Context, device *auth.TrustedDevice) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO trusted_devices (id, identity_id, fingerprint, trusted_until, revoked)
		VALUES ($1, $2, $3, $4, FALSE)
		ON CONFLICT (identity_id, fingerprint) DO UPDATE
		SET trusted_until = EXCLUDED.trusted_until, revoked = FALSE
	`,
		device.ID.String(),
		device.IdentityID.String(),
		device.Fingerprint,
		device.TrustedUntil,
	)
	if err != nil {
		return oops.Code("DEVICE_UPSERT_FAILED").
			With("operation", "upsert trusted_device").
			With("identity_id", device.IdentityID.String()).
			Wrap(err)
	}
	return nil
}

// IsTrusted reports whether an unrevoked, unexpired trust record exists
// for the fingerprint.
func (r *TrustedDeviceRepository) IsTrusted(ctx context.Context, identityID ulid.ULID, fingerprint string) (bool, error) {
	var trusted bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM trusted_devices
			WHERE identity_id = $1 AND fingerprint = $2 AND revoked = FALSE AND trusted_until > $3
		)
	`, identityID.String(), fingerprint, time.Now()).Scan(&trusted)
	if err != nil {
		return false, oops.Code("DEVICE_CHECK_FAILED").
			With("operation", "check trusted_device").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return trusted, nil
}

// RevokeAllForIdentity revokes every trusted device for the identity.
func (r *TrustedDeviceRepository) RevokeAllForIdentity(ctx context.Context, identityID ulid.ULID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE trusted_devices SET revoked = TRUE
		WHERE identity_id = $1 AND revoked = FALSE
	`, identityID.String())
	if err != nil {
		return oops.Code("DEVICE_REVOKE_ALL_FAILED").
			With("operation", "revoke trusted_devices").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	// Zero devices revoked is a valid state, not an error.
	return nil
}

// Compile-time interface check.
var _ auth.TrustedDeviceRepository = (*TrustedDeviceRepository)(nil)
