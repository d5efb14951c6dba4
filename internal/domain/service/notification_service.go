package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
	"github.com/sofia-platform/billing/internal/domain/valueobject"
)

// PaymentPortalPath is appended to the site URL to build the payment link in dunning emails.
const PaymentPortalPath = "/dashboard/billing"

// DunningNotice is everything a dunning email needs
type DunningNotice struct {
	To          string     `json:"to"`
	Name        string     `json:"name,omitempty"`
	RetryCount  int        `json:"retry_count"`
	NextRetryAt *time.Time `json:"next_retry_at"`
	CancelAt    *time.Time `json:"cancel_at"`
	PaymentURL  string     `json:"payment_url"`
}

// IsFinal returns true if the notice announces a cancellation
func (n DunningNotice) IsFinal() bool {
	return n.CancelAt != nil
}

// Mailer delivers dunning notices through a concrete channel (email provider, queue, log)
type Mailer interface {
	SendDunningEmail(ctx context.Context, notice DunningNotice) error
}

// PaymentURL builds the payment portal link from the configured site base
func PaymentURL(siteURL string) string {
	return strings.TrimRight(siteURL, "/") + PaymentPortalPath
}

// NotificationService handles sending notifications to users
type NotificationService struct {
	mailer Mailer
	logger *zap.Logger
}

// NewNotificationService creates a new notification service.
// A nil mailer turns every notice into a log line.
func NewNotificationService(mailer Mailer, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		mailer: mailer,
		logger: logger,
	}
}

// SendDunningNotice validates the recipient and hands the notice to the mailer
func (s *NotificationService) SendDunningNotice(ctx context.Context, notice DunningNotice) error {
	email, err := valueobject.NewEmail(notice.To)
	if err != nil {
		return fmt.Errorf("%w: %v", domainErrors.ErrNotificationFailed, err)
	}
	notice.To = email.String()

	if s.mailer == nil {
		s.logger.Info("Dunning notice (no mailer configured)",
			zap.String("to", notice.To),
			zap.Int("retry_count", notice.RetryCount),
			zap.Bool("final", notice.IsFinal()),
		)
		return nil
	}

	if err := s.mailer.SendDunningEmail(ctx, notice); err != nil {
		return fmt.Errorf("%w: %v", domainErrors.ErrNotificationFailed, err)
	}
	return nil
}
