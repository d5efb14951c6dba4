// Package email delivers dunning notices through the Resend HTTP API.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
	"github.com/sofia-platform/billing/internal/domain/service"
)

const (
	// DefaultBaseURL is the Resend API endpoint
	DefaultBaseURL = "https://api.resend.com"
	// DefaultTimeout for HTTP requests
	DefaultTimeout = 10 * time.Second
)

// Config represents the Resend client configuration
type Config struct {
	APIKey  string
	BaseURL string
	From    string
	Timeout time.Duration
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// ResendMailer sends dunning emails through Resend
type ResendMailer struct {
	config     Config
	httpClient *http.Client
	templates  *template.Template
	logger     *zap.Logger
}

// NewResendMailer creates a new Resend mailer
func NewResendMailer(config Config, logger *zap.Logger) (*ResendMailer, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("resend API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	templates, err := loadTemplates()
	if err != nil {
		return nil, fmt.Errorf("error loading email templates: %w", err)
	}

	return &ResendMailer{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		templates:  templates,
		logger:     logger,
	}, nil
}

// SendDunningEmail renders the retry or cancellation template and posts it to Resend
func (m *ResendMailer) SendDunningEmail(ctx context.Context, notice service.DunningNotice) error {
	msg, err := render(m.templates, notice)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(sendRequest{
		From:    m.config.From,
		To:      []string{notice.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("error marshaling email data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(m.config.BaseURL, "/")+"/emails", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: resend: %v", domainErrors.ErrExternalServiceUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: resend returned status %d: %s", domainErrors.ErrExternalServiceUnavailable, resp.StatusCode, string(body))
		}
		return fmt.Errorf("resend API error (status %d): %s", resp.StatusCode, string(body))
	}

	var sent sendResponse
	_ = json.Unmarshal(body, &sent)
	m.logger.Debug("Dunning email sent",
		zap.String("email_id", sent.ID),
		zap.Int("retry_count", notice.RetryCount),
		zap.Bool("final", notice.IsFinal()),
	)
	return nil
}

// LogMailer writes notices to the log instead of sending them
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a mailer for environments without an email provider
func NewLogMailer(logger *zap.Logger) *LogMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogMailer{logger: logger}
}

// SendDunningEmail logs the notice
func (m *LogMailer) SendDunningEmail(_ context.Context, notice service.DunningNotice) error {
	m.logger.Info("Dunning email (log only)",
		zap.String("to", notice.To),
		zap.Int("retry_count", notice.RetryCount),
		zap.Timep("next_retry_at", notice.NextRetryAt),
		zap.Timep("cancel_at", notice.CancelAt),
		zap.String("payment_url", notice.PaymentURL),
	)
	return nil
}
