package identity

import (
	"context"

	"go.uber.org/zap"

	"github.com/xenking/bookstore/internal/domain/auth"
)

var _ auth.Mailer = (*LogMailer)(nil)

// LogMailer writes reset links to the log instead of sending email.
type LogMailer struct {
	lg *zap.Logger
}

// NewLogMailer returns a LogMailer writing to lg.
func NewLogMailer(lg *zap.Logger) *LogMailer {
	return &LogMailer{lg: lg}
}

func (m *LogMailer) SendPasswordReset(_ context.Context, to auth.User, link string) error {
	m.lg.Info("Password reset requested",
		zap.Int64("user_id", to.ID),
		zap.String("email", to.Email),
		zap.String("link", link),
	)
	return nil
}
