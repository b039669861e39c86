// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role names recognized by the subsystem. Authorization semantics beyond
// carrying the role in token claims belong to the caller.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// emailRegex is a pragmatic check, not an RFC 5322 validator. Delivery
// failures are handled by the mail collaborator.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Identity represents an authenticatable principal within a tenant.
type Identity struct {
	ID            ulid.ULID
	TenantID      ulid.ULID
	Email         string
	Role          string
	MFAEnabled    bool
	EmailVerified bool
	FirstName     string
	LastName      string
	AvatarURL     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewIdentity creates a validated Identity.
func NewIdentity(tenantID ulid.ULID, email, role string) (*Identity, error) {
	if tenantID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("AUTH_INVALID_TENANT").Errorf("tenant ID cannot be zero")
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if role == "" {
		role = RoleMember
	}

	now := time.Now()
	return &Identity{
		ID:        ulid.Make(),
		TenantID:  tenantID,
		Email:     NormalizeEmail(email),
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ValidateEmail validates an email address shape.
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email cannot be empty")
	}
	if len(email) > 254 {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email must be at most 254 characters")
	}
	if !emailRegex.MatchString(email) {
		return oops.Code("AUTH_INVALID_EMAIL").Errorf("email is not a valid address")
	}
	return nil
}

// NormalizeEmail lowercases and trims an email for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// VerifiedIDPClaims is the already-verified claims tuple handed over by an
// external identity-provider collaborator. Signature verification happened
// upstream; this subsystem only consumes the result.
type VerifiedIDPClaims struct {
	SubjectID     string
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
	Picture       string
}

// IdentityRepository manages identity persistence.
type IdentityRepository interface {
	// Create stores a new identity.
	Create(ctx context.Context, identity *Identity) error

	// GetByID retrieves an identity by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*Identity, error)

	// GetByEmail retrieves an identity by email within a tenant
	// (case-insensitive). Returns ErrNotFound if absent.
	GetByEmail(ctx context.Context, tenantID ulid.ULID, email string) (*Identity, error)

	// Update updates an existing identity.
	Update(ctx context.Context, identity *Identity) error

	// SetMFAEnabled flips the identity's MFA flag.
	SetMFAEnabled(ctx context.Context, id ulid.ULID, enabled bool) error

	// SetEmailVerified marks the identity's email as verified.
	SetEmailVerified(ctx context.Context, id ulid.ULID) error
}
