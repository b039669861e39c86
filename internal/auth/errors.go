// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Terminal, user-visible outcomes. Callers map these to HTTP statuses.
// The messages are deliberately generic: bad-password and unknown-email
// produce the same ErrInvalidCredentials, and unknown/expired/rotated
// refresh tokens all produce the same ErrInvalidRefreshToken.
var (
	// ErrInvalidCredentials covers wrong password and unknown email alike.
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrAccountLocked is returned while a lockout window is active.
	// Wrapping oops errors carry a retry_after context value.
	ErrAccountLocked = errors.New("account is temporarily locked")

	// ErrMFARequired signals that credentials were accepted but a second
	// factor must be presented before tokens are issued.
	ErrMFARequired = errors.New("multi-factor code required")

	// ErrInvalidMFACode is returned for a wrong TOTP or backup code.
	ErrInvalidMFACode = errors.New("invalid multi-factor code")

	// ErrInvalidRefreshToken covers unknown, expired, rotated, and
	// revoked refresh tokens without distinguishing them to the caller.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrSessionNotFound is returned for a missing session and,
	// identically, for a session owned by another identity.
	ErrSessionNotFound = errors.New("session not found")

	// ErrCannotRevokeCurrentSession rejects revoking the session backing
	// the caller's own refresh token.
	ErrCannotRevokeCurrentSession = errors.New("cannot revoke current session")

	// ErrNoActiveSession is returned when an operation requires a
	// resolvable current session and none exists.
	ErrNoActiveSession = errors.New("no active session")

	// ErrInvalidMagicLink covers unknown, expired, and already-consumed
	// magic-link tokens.
	ErrInvalidMagicLink = errors.New("invalid magic link")

	// ErrEmailTaken is returned when creating an identity with an email
	// already registered in the tenant.
	ErrEmailTaken = errors.New("email already registered")
)

// ErrWriteConflict is returned by repositories when an atomic conditional
// update loses a serialization race. Services retry it a bounded number of
// times before surfacing a terminal error.
var ErrWriteConflict = errors.New("write conflict")

// Access-token verification outcomes.
var (
	// ErrTokenMalformed is returned for structurally invalid tokens.
	ErrTokenMalformed = errors.New("malformed token")

	// ErrTokenExpired is returned for tokens past their expiry claim.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenInvalid is returned for bad signatures, wrong signing
	// algorithms (including "none"), and foreign audiences.
	ErrTokenInvalid = errors.New("invalid token")
)
