// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

// Package portal implements the low-trust, magic-link authentication path
// for anonymous workflow users. It is authorizationally isolated from the
// primary flow: portal and run tokens carry their own audiences and are
// never accepted by primary-auth verifiers, and vice versa.
package portal

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/gatewarden/gatewarden/internal/auth"
)

// MagicLinkTTL is the magic-link token lifetime.
const MagicLinkTTL = 24 * time.Hour

// MagicLinkStatus is the closed lifecycle state of a magic-link token.
// Expiry is derived from ExpiresAt, not a stored transition.
type MagicLinkStatus string

const (
	MagicLinkPending  MagicLinkStatus = "pending"
	MagicLinkConsumed MagicLinkStatus = "consumed"
)

// PortalUser is an anonymous identity scoped to one workflow. It is
// created on the first magic-link request for an (email, workflow) pair.
type PortalUser struct {
	ID         ulid.ULID
	Email      string
	WorkflowID string
	CreatedAt  time.Time
}

// NewPortalUser creates a validated PortalUser.
func NewPortalUser(email, workflowID string) (*PortalUser, error) {
	if err := auth.ValidateEmail(email); err != nil {
		return nil, err
	}
	if workflowID == "" {
		return nil, oops.Code("PORTAL_INVALID_WORKFLOW").Errorf("workflow ID cannot be empty")
	}
	return &PortalUser{
		ID:         ulid.Make(),
		Email:      auth.NormalizeEmail(email),
		WorkflowID: workflowID,
		CreatedAt:  time.Now(),
	}, nil
}

// MagicLinkToken is a one-time portal login credential. Only the hash is
// stored; the raw token travels in the emailed link.
type MagicLinkToken struct {
	ID        ulid.ULID
	Email     string
	TokenHash string
	Status    MagicLinkStatus
	ExpiresAt time.Time
	CreatedAt time.Time
}

// NewMagicLinkToken creates a pending magic-link token.
func NewMagicLinkToken(email, tokenHash string, expiresAt time.Time) (*MagicLinkToken, error) {
	if tokenHash == "" {
		return nil, oops.Code("PORTAL_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("PORTAL_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}
	return &MagicLinkToken{
		ID:        ulid.Make(),
		Email:     auth.NormalizeEmail(email),
		TokenHash: tokenHash,
		Status:    MagicLinkPending,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}, nil
}

// PortalUserRepository manages portal user persistence.
type PortalUserRepository interface {
	// Upsert stores the user if the (email, workflow) pair is new and
	// leaves the existing row untouched otherwise.
	Upsert(ctx context.Context, user *PortalUser) error

	// GetByEmailAndWorkflow retrieves a portal user. Returns
	// auth.ErrNotFound if absent.
	GetByEmailAndWorkflow(ctx context.Context, email, workflowID string) (*PortalUser, error)
}

// MagicLinkRepository manages magic-link token persistence.
type MagicLinkRepository interface {
	// Create stores a new pending token.
	Create(ctx context.Context, token *MagicLinkToken) error

	// Consume marks the pending, unexpired token matching hash as
	// consumed and returns it. Must be an atomic conditional update so a
	// link works exactly once even under concurrent verification.
	// Returns auth.ErrNotFound when nothing consumable matches.
	Consume(ctx context.Context, tokenHash string) (*MagicLinkToken, error)

	// DeleteExpired removes expired rows and returns the count.
	DeleteExpired(ctx context.Context) (int64, error)
}

// Mailer delivers magic-link email. Implementations must not block past
// the passed context.
type Mailer interface {
	SendMagicLink(ctx context.Context, email, link string) error
}
