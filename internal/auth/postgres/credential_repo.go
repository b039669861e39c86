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

// CredentialRepository implements auth.CredentialRepository using
// PostgreSQL.
type CredentialRepository struct {
	pool DB
}

// NewCredentialRepository creates a new CredentialRepository.
func NewCredentialRepository(pool DB) *CredentialRepository {
	return &CredentialRepository{pool: pool}
}

// Upsert stores the password hash for the identity, replacing any
// existing credential.
func (r *CredentialRepository) Upsert(ctx context.Context, identityID ulid.ULID, passwordHash string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO credentials (identity_id, password_hash, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity_id) DO UPDATE
		SET password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at
	`, identityID.String(), passwordHash, time.Now())
	if err != nil {
		return oops.Code("CREDENTIAL_UPSERT_FAILED").
			With("operation", "upsert credential").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return nil
}

// GetHash retrieves the stored password hash for the identity.
func (r *CredentialRepository) GetHash(ctx context.Context, identityID ulid.ULID) (string, error) {
	var hash string
	err := r.pool.QueryRow(ctx, `
		SELECT password_hash FROM credentials WHERE identity_id = $1
	`, identityID.String()).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", oops.Code("CREDENTIAL_NOT_FOUND").
			With("identity_id", identityID.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return "", oops.Code("CREDENTIAL_GET_FAILED").
			With("operation", "get credential").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return hash, nil
}

// Compile-time interface check.
var _ auth.CredentialRepository = (*CredentialRepository)(nil)
