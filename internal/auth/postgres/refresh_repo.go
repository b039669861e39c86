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

// RefreshTokenRepository implements auth.RefreshTokenRepository using
// PostgreSQL. Rotation is a conditional UPDATE plus successor INSERT in
// one transaction; the status filter in the UPDATE is what makes exactly
// one of two concurrent rotations win.
type RefreshTokenRepository struct {
	pool DB
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository.
func NewRefreshTokenRepository(pool DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: pool}
}

const refreshColumns = `id, identity_id, token_hash, status, ip_address, user_agent, expires_at, created_at, last_used_at`

// Create stores a new Active refresh token.
func (r *RefreshTokenRepository) Create(ctx context.Context, token *auth.RefreshToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (`+refreshColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		token.ID.String(),
		token.IdentityID.String(),
		token.TokenHash,
		string(token.Status),
		token.IPAddress,
		token.UserAgent,
		token.ExpiresAt,
		token.CreatedAt,
		token.LastUsedAt,
	)
	if err != nil {
		return oops.Code("REFRESH_CREATE_FAILED").
			With("operation", "insert refresh_token").
			With("identity_id", token.IdentityID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a token by hash regardless of status.
func (r *RefreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.RefreshToken, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+refreshColumns+`
		FROM refresh_tokens
		WHERE token_hash = $1
	`, tokenHash)

	token, err := scanRefreshToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("REFRESH_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("REFRESH_GET_BY_HASH_FAILED").
			With("operation", "get refresh token by hash").
			Wrap(err)
	}
	return token, nil
}

// GetActiveByID retrieves an Active, unexpired token owned by the
// identity. Missing, terminal, expired, and foreign-identity rows all look
// identical: ErrNotFound.
func (r *RefreshTokenRepository) GetActiveByID(ctx context.Context, id, identityID ulid.ULID) (*auth.RefreshToken, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+refreshColumns+`
		FROM refresh_tokens
		WHERE id = $1 AND identity_id = $2 AND status = 'active' AND expires_at > $3
	`, id.String(), identityID.String(), time.Now())

	token, err := scanRefreshToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("REFRESH_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("REFRESH_GET_ACTIVE_FAILED").
			With("operation", "get active refresh token by id").
			With("id", id.String()).
			Wrap(err)
	}
	return token, nil
}

// ListActiveByIdentity returns Active, unexpired tokens, newest first.
func (r *RefreshTokenRepository) ListActiveByIdentity(ctx context.Context, identityID ulid.ULID) ([]*auth.RefreshToken, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+refreshColumns+`
		FROM refresh_tokens
		WHERE identity_id = $1 AND status = 'active' AND expires_at > $2
		ORDER BY created_at DESC
	`, identityID.String(), time.Now())
	if err != nil {
		return nil, oops.Code("REFRESH_LIST_FAILED").
			With("operation", "list active refresh tokens").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var tokens []*auth.RefreshToken
	for rows.Next() {
		token, err := scanRefreshToken(rows)
		if err != nil {
			return nil, oops.Code("REFRESH_SCAN_FAILED").
				With("operation", "scan refresh token row").
				Wrap(err)
		}
		tokens = append(tokens, token)
	}

	if err := rows.Err(); err != nil {
		return nil, oops.Code("REFRESH_ROWS_ERROR").
			With("operation", "iterate refresh token rows").
			Wrap(err)
	}

	return tokens, nil
}

// Rotate marks the Active, unexpired row matching oldHash as Rotated and
// inserts the successor in the same transaction, inheriting the
// predecessor's identity. Returns the predecessor row as it was before the
// update. Zero matching rows aborts with ErrNotFound and inserts nothing.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldHash string, successor *auth.RefreshToken) (*auth.RefreshToken, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, oops.Code("REFRESH_ROTATE_FAILED").
			With("operation", "begin rotate transaction").
			Wrap(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE refresh_tokens
		SET status = 'rotated', last_used_at = $2
		WHERE token_hash = $1 AND status = 'active' AND expires_at > $2
		RETURNING `+refreshColumns+`
	`, oldHash, time.Now())

	predecessor, err := scanRefreshToken(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("REFRESH_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		if isSerializationFailure(err) {
			return nil, oops.Code("REFRESH_ROTATE_CONFLICT").Wrap(auth.ErrWriteConflict)
		}
		return nil, oops.Code("REFRESH_ROTATE_FAILED").
			With("operation", "mark predecessor rotated").
			Wrap(err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (`+refreshColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		successor.ID.String(),
		predecessor.IdentityID.String(),
		successor.TokenHash,
		string(auth.TokenStatusActive),
		successor.IPAddress,
		successor.UserAgent,
		successor.ExpiresAt,
		successor.CreatedAt,
		successor.LastUsedAt,
	)
	if err != nil {
		if isSerializationFailure(err) {
			return nil, oops.Code("REFRESH_ROTATE_CONFLICT").Wrap(auth.ErrWriteConflict)
		}
		return nil, oops.Code("REFRESH_ROTATE_FAILED").
			With("operation", "insert successor").
			Wrap(err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return nil, oops.Code("REFRESH_ROTATE_CONFLICT").Wrap(auth.ErrWriteConflict)
		}
		return nil, oops.Code("REFRESH_ROTATE_FAILED").
			With("operation", "commit rotate transaction").
			Wrap(err)
	}

	successor.IdentityID = predecessor.IdentityID
	return predecessor, nil
}

// RevokeByID marks the Active token as Revoked if owned by the identity.
func (r *RefreshTokenRepository) RevokeByID(ctx context.Context, id, identityID ulid.ULID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET status = 'revoked'
		WHERE id = $1 AND identity_id = $2 AND status = 'active'
	`, id.String(), identityID.String())
	if err != nil {
		return oops.Code("REFRESH_REVOKE_FAILED").
			With("operation", "revoke refresh token").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("REFRESH_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

// RevokeAllForIdentity revokes every Active token for the identity.
func (r *RefreshTokenRepository) RevokeAllForIdentity(ctx context.Context, identityID ulid.ULID) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET status = 'revoked'
		WHERE identity_id = $1 AND status = 'active'
	`, identityID.String())
	if err != nil {
		return 0, oops.Code("REFRESH_REVOKE_ALL_FAILED").
			With("operation", "revoke all refresh tokens").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	// Zero rows revoked is a valid state, not an error.
	return result.RowsAffected(), nil
}

// RevokeAllExcept revokes every Active token for the identity except the
// one matching keepHash.
func (r *RefreshTokenRepository) RevokeAllExcept(ctx context.Context, identityID ulid.ULID, keepHash string) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET status = 'revoked'
		WHERE identity_id = $1 AND status = 'active' AND token_hash <> $2
	`, identityID.String(), keepHash)
	if err != nil {
		return 0, oops.Code("REFRESH_REVOKE_OTHERS_FAILED").
			With("operation", "revoke other refresh tokens").
			With("identity_id", identityID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// DeleteExpired removes expired rows and returns the count.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at < $1
	`, time.Now())
	if err != nil {
		return 0, oops.Code("REFRESH_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired refresh_tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanRefreshToken scans a single row into a RefreshToken.
// Callers are responsible for handling pgx.ErrNoRows.
func scanRefreshToken(row pgx.Row) (*auth.RefreshToken, error) {
	var (
		idStr         string
		identityIDStr string
		status        string
		token         auth.RefreshToken
	)

	err := row.Scan(
		&idStr,
		&identityIDStr,
		&token.TokenHash,
		&status,
		&token.IPAddress,
		&token.UserAgent,
		&token.ExpiresAt,
		&token.CreatedAt,
		&token.LastUsedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
		}
		return nil, oops.Code("REFRESH_SCAN_FAILED").
			With("operation", "scan refresh_token").
			Wrap(err)
	}

	token.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("REFRESH_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	token.IdentityID, err = ulid.Parse(identityIDStr)
	if err != nil {
		return nil, oops.Code("REFRESH_INVALID_IDENTITY_ID").
			With("identity_id", identityIDStr).
			Wrap(err)
	}
	token.Status = auth.TokenStatus(status)

	return &token, nil
}

// Compile-time interface check.
var _ auth.RefreshTokenRepository = (*RefreshTokenRepository)(nil)
