// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatewarden/gatewarden/internal/auth"
)

// IdentityRepository implements auth.IdentityRepository using PostgreSQL.
type IdentityRepository struct {
	pool DB
}

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository(pool DB) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

const identityColumns = `id, tenant_id, email, role, mfa_enabled, email_verified, first_name, last_name, avatar_url, created_at, updated_at`

// Create stores a new identity.
func (r *IdentityRepository) Create(ctx context.Context, identity *auth.Identity) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO identities (`+identityColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		identity.ID.String(),
		identity.TenantID.String(),
		identity.Email,
		identity.Role,
		identity.MFAEnabled,
		identity.EmailVerified,
		identity.FirstName,
		identity.LastName,
		identity.AvatarURL,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("IDENTITY_EMAIL_TAKEN").
				With("tenant_id", identity.TenantID.String()).
				Wrap(auth.ErrEmailTaken)
		}
		return oops.Code("IDENTITY_CREATE_FAILED").
			With("operation", "insert identity").
			Wrap(err)
	}
	return nil
}

// GetByID retrieves an identity by ID.
func (r *IdentityRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Identity, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE id = $1
	`, id.String())

	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("IDENTITY_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_GET_BY_ID_FAILED").
			With("operation", "get identity by id").
			With("id", id.String()).
			Wrap(err)
	}
	return identity, nil
}

// GetByEmail retrieves an identity by email within a tenant. The lookup is
// case-insensitive; the unique index covers (tenant_id, lower(email)).
func (r *IdentityRepository) GetByEmail(ctx context.Context, tenantID ulid.ULID, email string) (*auth.Identity, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+identityColumns+`
		FROM identities
		WHERE tenant_id = $1 AND lower(email) = lower($2)
	`, tenantID.String(), email)

	identity, err := scanIdentity(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("IDENTITY_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_GET_BY_EMAIL_FAILED").
			With("operation", "get identity by email").
			With("tenant_id", tenantID.String()).
			Wrap(err)
	}
	return identity, nil
}

// Update updates an existing identity.
func (r *IdentityRepository) Update(ctx context.Context, identity *auth.Identity) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE identities
		SET email = $2, role = $3, mfa_enabled = $4, email_verified = $5,
		    first_name = $6, last_name = $7, avatar_url = $8, updated_at = $9
		WHERE id = $1
	`,
		identity.ID.String(),
		identity.Email,
		identity.Role,
		identity.MFAEnabled,
		identity.EmailVerified,
		identity.FirstName,
		identity.LastName,
		identity.AvatarURL,
		time.Now(),
	)
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").
			With("operation", "update identity").
			With("id", identity.ID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("id", identity.ID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// SetMFAEnabled flips the identity's MFA flag.
func (r *IdentityRepository) SetMFAEnabled(ctx context.Context, id ulid.ULID, enabled bool) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE identities SET mfa_enabled = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), enabled, time.Now())
	if err != nil {
		return oops.Code("IDENTITY_SET_MFA_FAILED").
			With("operation", "update mfa_enabled").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// SetEmailVerified marks the identity's email as verified.
func (r *IdentityRepository) SetEmailVerified(ctx context.Context, id ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE identities SET email_verified = TRUE, updated_at = $2
		WHERE id = $1
	`, id.String(), time.Now())
	if err != nil {
		return oops.Code("IDENTITY_SET_VERIFIED_FAILED").
			With("operation", "update email_verified").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanIdentity scans a single row into an Identity.
// Callers are responsible for handling pgx.ErrNoRows.
func scanIdentity(row pgx.Row) (*auth.Identity, error) {
	var (
		idStr       string
		tenantIDStr string
		identity    auth.Identity
	)

	err := row.Scan(
		&idStr,
		&tenantIDStr,
		&identity.Email,
		&identity.Role,
		&identity.MFAEnabled,
		&identity.EmailVerified,
		&identity.FirstName,
		&identity.LastName,
		&identity.AvatarURL,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("IDENTITY_SCAN_FAILED").
			With("operation", "scan identity").
			Wrap(err)
	}

	identity.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("IDENTITY_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	identity.TenantID, err = ulid.Parse(tenantIDStr)
	if err != nil {
		return nil, oops.Code("IDENTITY_INVALID_TENANT_ID").
			With("tenant_id", tenantIDStr).
			Wrap(err)
	}

	return &identity, nil
}

// Compile-time interface check.
var _ auth.IdentityRepository = (*IdentityRepository)(nil)
