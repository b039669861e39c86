// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

// Package auth implements the token and session lifecycle subsystem:
// password verification, access-token issuance, refresh-token rotation
// with reuse detection, multi-factor authentication, account lockout,
// and audit recording.
//
// # Domain Types
//
// Domain types (Identity, RefreshToken, OneTimeToken, TrustedDevice)
// should be created through their constructors:
//   - NewIdentity - creates an Identity with a validated email and role
//   - NewRefreshToken - creates an Active refresh token from a token hash
//   - NewOneTimeToken - creates a single-use reset/verification token
//
// Direct struct initialization bypasses validation and may create invalid
// state. Repository implementations receive pre-validated types from these
// constructors.
//
// # Services
//
// Service types coordinate domain operations:
//   - LoginService - login orchestration (lockout, credentials, MFA, tokens)
//   - RefreshLedger - refresh-token rotation and session revocation
//   - CredentialService - password changes, reset and verification tokens
//   - MFAService - TOTP enrollment, backup codes, trusted devices
//   - LockoutGuard - failed-attempt tracking and lockout evaluation
//   - Recorder - append-only security audit events
//
// Services are created with New* constructors that validate dependencies.
// All durable state lives in the relational store; correctness under
// concurrent calls is enforced with atomic conditional updates, never
// in-process locks.
package auth
