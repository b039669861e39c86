// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package portal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/gatewarden/gatewarden/internal/auth"
	"github.com/gatewarden/gatewarden/pkg/errutil"
)

// minSendLatency is the floor on SendMagicLink response time. The send
// path does different amounts of work for new and returning users; padding
// every response to the floor blunts timing-based enumeration.
const minSendLatency = 500 * time.Millisecond

// PortalGrant is a successful magic-link verification outcome.
type PortalGrant struct {
	Token string
	Email string
}

// PortalAuth is the soft authentication result for portal routes. Portal
// routes serve a mixed anonymous/authenticated audience, so a bad token
// degrades to unauthenticated instead of a hard error.
type PortalAuth struct {
	Authenticated bool
	Email         string
}

// Service implements the magic-link portal flow.
type Service struct {
	users  PortalUserRepository
	links  MagicLinkRepository
	mailer Mailer
	tokens *TokenIssuer
	audit  *auth.Recorder
	logger *slog.Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration)
}

// NewService creates a portal Service with a no-op logger.
func NewService(
	users PortalUserRepository,
	links MagicLinkRepository,
	mailer Mailer,
	tokens *TokenIssuer,
	audit *auth.Recorder,
) (*Service, error) {
	if users == nil {
		return nil, oops.Errorf("portal user repository is required")
	}
	if links == nil {
		return nil, oops.Errorf("magic link repository is required")
	}
	if mailer == nil {
		return nil, oops.Errorf("mailer is required")
	}
	if tokens == nil {
		return nil, oops.Errorf("token issuer is required")
	}
	if audit == nil {
		return nil, oops.Errorf("audit recorder is required")
	}
	return &Service{
		users:  users,
		links:  links,
		mailer: mailer,
		tokens: tokens,
		audit:  audit,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
		sleep:  sleepCtx,
	}, nil
}

// NewServiceWithLogger creates a portal Service with logging enabled.
func NewServiceWithLogger(
	users PortalUserRepository,
	links MagicLinkRepository,
	mailer Mailer,
	tokens *TokenIssuer,
	audit *auth.Recorder,
	logger *slog.Logger,
) (*Service, error) {
	s, err := NewService(users, links, mailer, tokens, audit)
	if err != nil {
		return nil, err
	}
	if logger != nil {
		s.logger = logger
	}
	return s, nil
}

// SendMagicLink upserts the portal user for the (email, workflow) pair,
// mints a single-use link token, and hands the link to the mailer. The
// response reveals nothing about the email: delivery failures are logged
// but not surfaced, and total latency never drops below the floor.
func (s *Service) SendMagicLink(ctx context.Context, email, workflowID string) error {
	started := s.now()
	defer func() {
		if remaining := minSendLatency - time.Since(started); remaining > 0 {
			s.sleep(ctx, remaining)
		}
	}()

	user, err := NewPortalUser(email, workflowID)
	if err != nil {
		return err
	}
	if err := s.users.Upsert(ctx, user); err != nil {
		return oops.Code("PORTAL_SEND_FAILED").
			With("operation", "upsert portal user").
			Wrap(err)
	}

	raw, hash, err := auth.GenerateRefreshToken()
	if err != nil {
		return err
	}
	link, err := NewMagicLinkToken(email, hash, s.now().Add(MagicLinkTTL))
	if err != nil {
		return err
	}
	if err := s.links.Create(ctx, link); err != nil {
		return oops.Code("PORTAL_SEND_FAILED").
			With("operation", "create magic link").
			Wrap(err)
	}

	if err := s.mailer.SendMagicLink(ctx, user.Email, raw); err != nil {
		// Surfacing delivery failure would confirm the address exists.
		errutil.LogError(s.logger, "magic link delivery failed", err)
	}

	s.audit.Record(ctx, nil, auth.EventMagicLinkSent, map[string]string{
		"workflow_id": workflowID,
	})
	return nil
}

// VerifyMagicLink consumes a magic-link token and issues a portal token.
// A link verifies at most once, ever; unknown, expired, and consumed links
// are indistinguishable to the caller.
func (s *Service) VerifyMagicLink(ctx context.Context, rawToken string) (*PortalGrant, error) {
	if rawToken == "" {
		return nil, oops.Code("PORTAL_LINK_INVALID").Wrap(auth.ErrInvalidMagicLink)
	}

	consumed, err := s.links.Consume(ctx, auth.HashRefreshToken(rawToken))
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			s.audit.Record(ctx, nil, auth.EventMagicLinkInvalid, nil)
			return nil, oops.Code("PORTAL_LINK_INVALID").Wrap(auth.ErrInvalidMagicLink)
		}
		return nil, oops.Code("PORTAL_VERIFY_FAILED").Wrap(err)
	}

	token, err := s.tokens.IssuePortalToken(consumed.Email)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, nil, auth.EventMagicLinkConsumed, map[string]string{
		"email": consumed.Email,
	})
	return &PortalGrant{Token: token, Email: consumed.Email}, nil
}

// AuthenticatePortal checks a portal token and returns a soft result.
// Invalid, expired, and foreign tokens all degrade to unauthenticated;
// this never returns an error.
func (s *Service) AuthenticatePortal(tokenStr string) PortalAuth {
	claims, err := s.tokens.VerifyPortalToken(tokenStr)
	if err != nil {
		return PortalAuth{}
	}
	return PortalAuth{Authenticated: true, Email: claims.Email}
}

// sleepCtx sleeps for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
