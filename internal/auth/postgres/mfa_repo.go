// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatewarden/gatewarden/internal/auth"
)

// MFASecretRepository implements auth.MFASecretRepository using
// PostgreSQL.
type MFASecretRepository struct {
	pool DB
}

// NewMFASecretRepository creates a new MFASecretRepository.
func NewMFASecretRepository(pool DB) *MFASecretRepository {
	return &MFASecretRepository{pool: pool}
}

// Upsert stores the secret, replacing any existing row for the identity.
func (r *MFASecretRepository) Upsert(ctx context.Context, secret *auth.MFASecret) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO mfa_secrets (identity_id, secret, enabled, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity_id) DO UPDATE
		SET secret = EXCLUDED.secret, enabled = EXCLUDED.enabled, created_at = EXCLUDED.created_at
	`,
		secret.IdentityID.String(),
		secret.Secret,
		secret.Enabled,
		secret.CreatedAt,
	)
	if err != nil {
		return oops.Code("MFA_SECRET_UPSERT_FAILED").
			With("operation", "upsert mfa_secret").
			With("identity_id", secret.IdentityID.String()).
			Wrap(err)
	}
	return nil
}

// Get retrieves the identity's secret.
func (r *MFASecretRepository) Get(ctx context.Context, identityID ulid.ULID) (*auth.MFASecret, error) {
	secret := &auth.MFASecret{IdentityID: identityID}
	err := r.pool.QueryRow(ctx, `
		SELECT secret, enabled, created_at FROM mfa_secrets WHERE identity_id = $1
	`, identityID.String()).Scan(&secret.Secret, &secret.Enabled, &secret.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("MFA_SECRET_NOT_FOUND").
			With("identity_id", identityID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("MFA_SECRET_GET_FAILED").
			With("operation", "get mfa_secret").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return secret, nil
}

// Enable flips the secret to enabled.
func (r *MFASecretRepository) Enable(ctx context.Context, identityID ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE mfa_secrets SET enabled = TRUE WHERE identity_id = $1
	`, identityID.String())
	if err != nil {
		return oops.Code("MFA_SECRET_ENABLE_FAILED").
			With("operation", "enable mfa_secret").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("MFA_SECRET_NOT_FOUND").
			With("identity_id", identityID.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// Delete removes the secret if present.
func (r *MFASecretRepository) Delete(ctx context.Context, identityID ulid.ULID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM mfa_secrets WHERE identity_id = $1
	`, identityID.String())
	if err != nil {
		return oops.Code("MFA_SECRET_DELETE_FAILED").
			With("operation", "delete mfa_secret").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	// Absent secret is a valid state, not an error.
	return nil
}

// BackupCodeRepository implements auth.BackupCodeRepository using
// PostgreSQL.
type BackupCodeRepository struct {
	pool DB
}

// NewBackupCodeRepository creates a new BackupCodeRepository.
func NewBackupCodeRepository(pool DB) *BackupCodeRepository {
	return &BackupCodeRepository{pool: pool}
}

// Replace atomically swaps the identity's code set for a new batch.
func (r *BackupCodeRepository) Replace(ctx context.Context, identityID ulid.ULID, codes []*auth.BackupCode) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return oops.Code("MFA_BACKUP_REPLACE_FAILED").
			With("operation", "begin replace transaction").
			Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		DELETE FROM mfa_backup_codes WHERE identity_id = $1
	`, identityID.String()); err != nil {
		return oops.Code("MFA_BACKUP_REPLACE_FAILED").
			With("operation", "delete old backup codes").
			Wrap(err)
	}

	for _, code := range codes {
		if _, err := tx.Exec(ctx, `
			INSERT INTO mfa_backup_codes (id, identity_id, code_hash, used)
			VALUES ($1, $2, $3, FALSE)
		`, code.ID.String(), code.IdentityID.String(), code.CodeHash); err != nil {
			return oops.Code("MFA_BACKUP_REPLACE_FAILED").
				With("operation", "insert backup code").
				Wrap(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return oops.Code("MFA_BACKUP_REPLACE_FAILED").
			With("operation", "commit replace transaction").
			Wrap(err)
	}
	return nil
}

// Consume marks the matching unused code as used. The used = FALSE filter
// makes consumption exactly-once under concurrent attempts.
func (r *BackupCodeRepository) Consume(ctx context.Context, identityID ulid.ULID, codeHash string) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE mfa_backup_codes SET used = TRUE
		WHERE identity_id = $1 AND code_hash = $2 AND used = FALSE
	`, identityID.String(), codeHash)
	if err != nil {
		return oops.Code("MFA_BACKUP_CONSUME_FAILED").
			With("operation", "consume backup code").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("MFA_BACKUP_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteAll removes every code for the identity.
func (r *BackupCodeRepository) DeleteAll(ctx context.Context, identityID ulid.ULID) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM mfa_backup_codes WHERE identity_id = $1
	`, identityID.String())
	if err != nil {
		return oops.Code("MFA_BACKUP_DELETE_FAILED").
			With("operation", "delete backup codes").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return nil
}

// Compile-time interface checks.
var (
	_ auth.MFASecretRepository  = (*MFASecretRepository)(nil)
	_ auth.BackupCodeRepository = (*BackupCodeRepository)(nil)
)
