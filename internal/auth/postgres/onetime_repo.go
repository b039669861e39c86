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

// OneTimeTokenRepository implements auth.OneTimeTokenRepository using
// PostgreSQL.
type OneTimeTokenRepository struct {
	pool DB
}

// NewOneTimeTokenRepository creates a new OneTimeTokenRepository.
func NewOneTimeTokenRepository(pool DB) *OneTimeTokenRepository {
	return &OneTimeTokenRepository{pool: pool}
}

// Create stores a new pending token.
func (r *OneTimeTokenRepository) Create(ctx context.Context, token *auth.OneTimeToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO one_time_tokens (id, identity_id, purpose, token_hash, expires_at, consumed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, NULL, $6)
	`,
		token.ID.String(),
		token.IdentityID.String(),
		token.Purpose,
		token.TokenHash,
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		return oops.Code("ONETIME_CREATE_FAILED").
			With("operation", "insert one_time_token").
			With("purpose", token.Purpose).
			Wrap(err)
	}
	return nil
}

// Consume marks the unconsumed, unexpired token matching hash and purpose
// as consumed and returns it. The consumed_at IS NULL filter makes the
// redemption exactly-once under concurrent attempts.
func (r *OneTimeTokenRepository) Consume(ctx context.Context, tokenHash, purpose string) (*auth.OneTimeToken, error) {
	now := time.Now()
	row := r.pool.QueryRow(ctx, `
		UPDATE one_time_tokens SET consumed_at = $3
		WHERE token_hash = $1 AND purpose = $2 AND consumed_at IS NULL AND expires_at > $3
		RETURNING id, identity_id, purpose, token_hash, expires_at, consumed_at, created_at
	`, tokenHash, purpose, now)

	var (
		idStr         string
		identityIDStr string
		token         auth.OneTimeToken
	)
	err := row.Scan(
		&idStr,
		&identityIDStr,
		&token.Purpose,
		&token.TokenHash,
		&token.ExpiresAt,
		&token.ConsumedAt,
		&token.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ONETIME_NOT_FOUND").
			With("purpose", purpose).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ONETIME_CONSUME_FAILED").
			With("operation", "consume one_time_token").
			With("purpose", purpose).
			Wrap(err)
	}

	token.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ONETIME_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	token.IdentityID, err = ulid.Parse(identityIDStr)
	if err != nil {
		return nil, oops.Code("ONETIME_INVALID_IDENTITY_ID").
			With("identity_id", identityIDStr).
			Wrap(err)
	}

	return &token, nil
}

// DeleteExpired removes expired rows and returns the count.
func (r *OneTimeTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM one_time_tokens WHERE expires_at < $1
	`, time.Now())
	if err != nil {
		return 0, oops.Code("ONETIME_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired one_time_tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// Compile-time interface check.
var _ auth.OneTimeTokenRepository = (*OneTimeTokenRepository)(nil)
