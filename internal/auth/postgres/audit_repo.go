// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package postgres

import (
	"context"
	"encoding/json"

	"github.com/samber/oops"

	"github.com/gatewarden/gatewarden/internal/auth"
)

// AuditRepository implements auth.AuditRepository using PostgreSQL. The
// table is append-only; there is no update or delete path.
type AuditRepository struct {
	pool DB
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(pool DB) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// Append stores one audit event. Details are stored as JSONB.
func (r *AuditRepository) Append(ctx context.Context, event *auth.AuditEvent) error {
	var identityIDStr *string
	if event.IdentityID != nil {
		s := event.IdentityID.String()
		identityIDStr = &s
	}

	details, err := json.Marshal(event.Details)
	if err != nil {
		return oops.Code("AUDIT_MARSHAL_FAILED").
			With("event_type", event.EventType).
			Wrap(err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO audit_log (id, identity_id, event_type, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`,
		event.ID.String(),
		identityIDStr,
		event.EventType,
		details,
		event.CreatedAt,
	)
	if err != nil {
		return oops.Code("AUDIT_APPEND_FAILED").
			With("operation", "insert audit_log").
			With("event_type", event.EventType).
			Wrap(err)
	}
	return nil
}

// Compile-time interface check.
var _ auth.AuditRepository = (*AuditRepository)(nil)
