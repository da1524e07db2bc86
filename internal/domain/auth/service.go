package auth

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Mailer delivers password reset links.
type Mailer interface {
	SendPasswordReset(ctx context.Context, to User, link string) error
}

// Service exposes account operations. Everything except ForgotPassword is
// served by the embedded Provider.
type Service struct {
	Provider
	mailer  Mailer
	baseURL string
}

// NewService creates an account Service. Reset links are built on baseURL.
func NewService(p Provider, m Mailer, baseURL string) *Service {
	return &Service{
		Provider: p,
		mailer:   m,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// ForgotPassword mails a reset link to every account registered with email.
// It reports success for unknown addresses so accounts cannot be enumerated.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	tokens, err := s.IssueResetToken(ctx, strings.TrimSpace(email))
	if err != nil {
		return fmt.Errorf("issue reset token: %w", err)
	}
	for _, t := range tokens {
		if err := s.mailer.SendPasswordReset(ctx, t.User, s.ResetLink(t)); err != nil {
			return fmt.Errorf("send reset link to user %d: %w", t.User.ID, err)
		}
	}
	return nil
}

// ResetLink returns the absolute URL of the reset form for t.
func (s *Service) ResetLink(t ResetToken) string {
	return fmt.Sprintf("%s/reset-password/%s/%s/", s.baseURL, url.PathEscape(t.UID), url.PathEscape(t.Token))
}
