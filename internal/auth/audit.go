// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/gatewarden/gatewarden/pkg/errutil"
)

// Audit event types. Security-sensitive failures (refresh reuse, repeated
// MFA failure, lockout trips) are always recorded even when the
// user-facing error is intentionally generic.
const (
	EventLoginSuccess         = "login.success"
	EventLoginFailure         = "login.failure"
	EventLoginLocked          = "login.locked"
	EventMFARequired          = "mfa.required"
	EventMFASuccess           = "mfa.success"
	EventMFAFailure           = "mfa.failure"
	EventMFAEnrolled          = "mfa.enrolled"
	EventMFADisabled          = "mfa.disabled"
	EventDeviceTrusted        = "mfa.device_trusted"
	EventRefreshRotated       = "refresh.rotated"
	EventRefreshInvalid       = "refresh.invalid"
	EventRefreshReuseDetected = "refresh.reuse_detected"
	EventSessionRevoked       = "session.revoked"
	EventSessionsRevokedAll   = "sessions.revoked_all"
	EventPasswordChanged      = "password.changed"
	EventPasswordResetSent    = "password.reset_requested"
	EventEmailVerified        = "email.verified"
	EventMagicLinkSent        = "portal.magic_link_sent"
	EventMagicLinkConsumed    = "portal.magic_link_consumed"
	EventMagicLinkInvalid     = "portal.magic_link_invalid"
)

// AuditEvent is one immutable security event record.
type AuditEvent struct {
	ID         ulid.ULID
	IdentityID *ulid.ULID // nil for pre-authentication events
	EventType  string
	Details    map[string]string
	CreatedAt  time.Time
}

// AuditRepository appends immutable audit events. There is no update or
// delete operation; querying is out of scope.
type AuditRepository interface {
	Append(ctx context.Context, event *AuditEvent) error
}

// Recorder appends security events to the audit log. Append failures are
// logged and counted but never veto the operation being audited.
type Recorder struct {
	repo    AuditRepository
	logger  *slog.Logger
	onDrop  func()
	onEvent func(eventType string)
}

// NewRecorder creates a Recorder with a no-op logger.
func NewRecorder(repo AuditRepository) *Recorder {
	return &Recorder{
		repo:   repo,
		logger: slog.New(slog.DiscardHandler),
	}
}

// NewRecorderWithLogger creates a Recorder that logs append failures.
func NewRecorderWithLogger(repo AuditRepository, logger *slog.Logger) *Recorder {
	r := NewRecorder(repo)
	if logger != nil {
		r.logger = logger
	}
	return r
}

// SetDropHook registers a callback invoked when an event fails to persist.
// Used to wire a metrics counter without coupling to the registry.
func (r *Recorder) SetDropHook(hook func()) {
	r.onDrop = hook
}

// SetEventHook registers a callback invoked with every recorded event
// type, whether or not the append succeeds. Used to feed outcome counters
// without coupling services to the registry.
func (r *Recorder) SetEventHook(hook func(eventType string)) {
	r.onEvent = hook
}

// Record appends a security event. Never returns an error; a failed append
// is logged and reported through the drop hook.
func (r *Recorder) Record(ctx context.Context, identityID *ulid.ULID, eventType string, details map[string]string) {
	if r == nil || r.repo == nil {
		return
	}
	if r.onEvent != nil {
		r.onEvent(eventType)
	}

	event := &AuditEvent{
		ID:         ulid.Make(),
		IdentityID: identityID,
		EventType:  eventType,
		Details:    details,
		CreatedAt:  time.Now(),
	}

	if err := r.repo.Append(ctx, event); err != nil {
		errutil.LogError(r.logger, "audit append failed", err)
		if r.onDrop != nil {
			r.onDrop()
		}
	}
}
