// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package postgres

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/gatewarden/gatewarden/internal/auth"
)

// LoginAttemptRepository implements auth.LoginAttemptRepository using
// PostgreSQL. The table is append-only; lock state is always derived by
// counting rows at read time.
type LoginAttemptRepository struct {
	pool DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository.
func NewLoginAttemptRepository(pool DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{pool: pool}
}

// Record appends one attempt row.
func (r *LoginAttemptRepository) Record(ctx context.Context, attempt *auth.LoginAttempt) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO login_attempts (id, email, success, created_at)
		VALUES ($1, $2, $3, $4)
	`,
		attempt.ID.String(),
		attempt.Email,
		attempt.Success,
		attempt.CreatedAt,
	)
	if err != nil {
		return oops.Code("ATTEMPT_RECORD_FAILED").
			With("operation", "insert login_attempt").
			Wrap(err)
	}
	return nil
}

// FailureWindow counts failures for the email newer than since and newer
// than the last successful attempt, along with the most recent failure
// time.
func (r *LoginAttemptRepository) FailureWindow(ctx context.Context, email string, since time.Time) (auth.FailureWindow, error) {
	var (
		failures    int
		lastFailure *time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*), MAX(created_at)
		FROM login_attempts
		WHERE email = $1
		  AND success = FALSE
		  AND created_at > $2
		  AND created_at > COALESCE(
			(SELECT MAX(created_at) FROM login_attempts WHERE email = $1 AND success = TRUE),
			'-infinity'::timestamptz
		  )
	`, email, since).Scan(&failures, &lastFailure)
	if err != nil {
		return auth.FailureWindow{}, oops.Code("ATTEMPT_WINDOW_FAILED").
			With("operation", "count login failures").
			Wrap(err)
	}

	window := auth.FailureWindow{Failures: failures}
	if lastFailure != nil {
		window.LastFailure = *lastFailure
	}
	return window, nil
}

// Compile-time interface check.
var _ auth.LoginAttemptRepository = (*LoginAttemptRepository)(nil)
