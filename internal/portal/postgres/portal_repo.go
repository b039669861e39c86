// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

// Package postgres provides PostgreSQL implementations of the portal
// repositories.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/internal/portal"
)

// DB is the subset of pgxpool.Pool the repositories use. Satisfied by
// *pgxpool.Pool in production and pgxmock.PgxPoolIface in tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PortalUserRepository implements portal.PortalUserRepository using
// PostgreSQL.
type PortalUserRepository struct {
	pool DB
}

// NewPortalUserRepository creates a new PortalUserRepository.
func NewPortalUserRepository(pool DB) *PortalUserRepository {
	return &PortalUserRepository{pool: pool}
}

// Upsert stores the user if the (email, workflow) pair is new. An existing
// row keeps its original ID and creation time.
func (r *PortalUserRepository) Upsert(ctx context.Context, user *portal.PortalUser) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO portal_users (id, email, workflow_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email, workflow_id) DO NOTHING
	`,
		user.ID.String(),
		user.Email,
		user.WorkflowID,
		user.CreatedAt,
	)
	if err != nil {
		return oops.Code("PORTAL_USER_UPSERT_FAILED").
			With("operation", "upsert portal_user").
			With("workflow_id", user.WorkflowID).
			Wrap(err)
	}
	return nil
}

// GetByEmailAndWorkflow retrieves a portal user.
func (r *PortalUserRepository) GetByEmailAndWorkflow(ctx context.Context, email, workflowID string) (*portal.PortalUser, error) {
	var (
		idStr string
		user  portal.PortalUser
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, workflow_id, created_at
		FROM portal_users
		WHERE email = lower($1) AND workflow_id = $2
	`, email, workflowID).Scan(&idStr, &user.Email, &user.WorkflowID, &user.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("PORTAL_USER_NOT_FOUND").
			With("workflow_id", workflowID).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("PORTAL_USER_GET_FAILED").
			With("operation", "get portal_user").
			With("workflow_id", workflowID).
			Wrap(err)
	}

	user.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("PORTAL_USER_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	return &user, nil
}

// MagicLinkRepository implements portal.MagicLinkRepository using
// PostgreSQL.
type MagicLinkRepository struct {
	pool DB
}

// NewMagicLinkRepository creates a new MagicLinkRepository.
func NewMagicLinkRepository(pool DB) *MagicLinkRepository {
	return &MagicLinkRepository{pool: pool}
}

// Create stores a new pending token.
func (r *MagicLinkRepository) Create(ctx context.Context, token *portal.MagicLinkToken) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO magic_link_tokens (id, email, token_hash, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		token.ID.String(),
		token.Email,
		token.TokenHash,
		string(token.Status),
		token.ExpiresAt,
		token.CreatedAt,
	)
	if err != nil {
		return oops.Code("MAGIC_LINK_CREATE_FAILED").
			With("operation", "insert magic_link_token").
			Wrap(err)
	}
	return nil
}

// Consume marks the pending, unexpired token matching hash as consumed and
// returns it. The status filter makes redemption exactly-once under
// concurrent verification.
func (r *MagicLinkRepository) Consume(ctx context.Context, tokenHash string) (*portal.MagicLinkToken, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE magic_link_tokens SET status = 'consumed'
		WHERE token_hash = $1 AND status = 'pending' AND expires_at > $2
		RETURNING id, email, token_hash, status, expires_at, created_at
	`, tokenHash, time.Now())

	var (
		idStr  string
		status string
		token  portal.MagicLinkToken
	)
	err := row.Scan(&idStr, &token.Email, &token.TokenHash, &status, &token.ExpiresAt, &token.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("MAGIC_LINK_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("MAGIC_LINK_CONSUME_FAILED").
			With("operation", "consume magic_link_token").
			Wrap(err)
	}

	token.ID, err = ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("MAGIC_LINK_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}
	token.Status = portal.MagicLinkStatus(status)
	return &token, nil
}

// DeleteExpired removes expired rows and returns the count.
func (r *MagicLinkRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM magic_link_tokens WHERE expires_at < $1
	`, time.Now())
	if err != nil {
		return 0, oops.Code("MAGIC_LINK_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired magic_link_tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// Compile-time interface checks.
var (
	_ portal.PortalUserRepository = (*PortalUserRepository)(nil)
	_ portal.MagicLinkRepository  = (*MagicLinkRepository)(nil)
)
