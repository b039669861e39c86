// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package auth

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Lockout policy defaults.
const (
	// LockoutThreshold is the number of consecutive failures that locks
	// the account.
	LockoutThreshold = 5

	// LockoutWindow is the rolling window in which failures accumulate.
	LockoutWindow = 15 * time.Minute

	// LockoutDuration is how long the account stays locked once the
	// threshold is crossed.
	LockoutDuration = 15 * time.Minute
)

// LoginAttempt is one recorded login outcome. Append-only; lock state is
// derived by counting rows, never from a mutable counter, so it stays
// correct under concurrent attempts.
type LoginAttempt struct {
	ID        ulid.ULID
	Email     string
	Success   bool
	CreatedAt time.Time
}

// LockState is the derived lockout status for an email.
type LockState struct {
	Locked            bool
	RemainingAttempts int
	LockedUntil       time.Time
}

// FailureWindow summarizes the unresolved failures for an email: failures
// newer than both the window start and the most recent success.
type FailureWindow struct {
	Failures    int
	LastFailure time.Time
}

// LoginAttemptRepository manages login attempt persistence.
type LoginAttemptRepository interface {
	// Record appends one attempt row.
	Record(ctx context.Context, attempt *LoginAttempt) error

	// FailureWindow counts failures for the email newer than since and
	// newer than the last successful attempt, along with the most recent
	// failure time. Zero failures yields a zero LastFailure.
	FailureWindow(ctx context.Context, email string, since time.Time) (FailureWindow, error)
}

// LockoutPolicy tunes the lockout guard. Zero values fall back to the
// package defaults.
type LockoutPolicy struct {
	Threshold    int
	Window       time.Duration
	LockDuration time.Duration
}

func (p LockoutPolicy) threshold() int {
	if p.Threshold <= 0 {
		return LockoutThreshold
	}
	return p.Threshold
}

func (p LockoutPolicy) window() time.Duration {
	if p.Window <= 0 {
		return LockoutWindow
	}
	return p.Window
}

func (p LockoutPolicy) lockDuration() time.Duration {
	if p.LockDuration <= 0 {
		return LockoutDuration
	}
	return p.LockDuration
}

// LockoutGuard tracks failed logins per email and enforces time-boxed
// lockout.
type LockoutGuard struct {
	attempts LoginAttemptRepository
	policy   LockoutPolicy
	now      func() time.Time
}

// NewLockoutGuard creates a LockoutGuard.
func NewLockoutGuard(attempts LoginAttemptRepository, policy LockoutPolicy) (*LockoutGuard, error) {
	if attempts == nil {
		return nil, oops.Errorf("login attempt repository is required")
	}
	return &LockoutGuard{
		attempts: attempts,
		policy:   policy,
		now:      time.Now,
	}, nil
}

// RecordAttempt appends one login attempt outcome.
func (g *LockoutGuard) RecordAttempt(ctx context.Context, email string, success bool) error {
	attempt := &LoginAttempt{
		ID:        ulid.Make(),
		Email:     NormalizeEmail(email),
		Success:   success,
		CreatedAt: g.now(),
	}
	if err := g.attempts.Record(ctx, attempt); err != nil {
		return oops.Code("LOCKOUT_RECORD_FAILED").Wrap(err)
	}
	return nil
}

// CheckLocked derives the lock state for an email from its unresolved
// failure rows.
func (g *LockoutGuard) CheckLocked(ctx context.Context, email string) (LockState, error) {
	now := g.now()
	window, err := g.attempts.FailureWindow(ctx, NormalizeEmail(email), now.Add(-g.policy.window()))
	if err != nil {
		return LockState{}, oops.Code("LOCKOUT_CHECK_FAILED").Wrap(err)
	}

	state := LockState{
		RemainingAttempts: g.policy.threshold() - window.Failures,
	}
	if state.RemainingAttempts < 0 {
		state.RemainingAttempts = 0
	}

	if window.Failures >= g.policy.threshold() {
		lockedUntil := window.LastFailure.Add(g.policy.lockDuration())
		if now.Before(lockedUntil) {
			state.Locked = true
			state.LockedUntil = lockedUntil
		}
	}

	return state, nil
}
