// Package supabase implements the billing store on top of the Supabase PostgREST API.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	domainErrors "github.com/sofia-platform/billing/internal/domain/errors"
)

const (
	// DefaultTimeout for HTTP requests
	DefaultTimeout = 15 * time.Second
	// MaxRetries for failed reads
	MaxRetries = 3
	// RetryDelay between read retries
	RetryDelay = 300 * time.Millisecond

	restPrefix = "/rest/v1/"
)

// Config represents the PostgREST endpoint configuration
type Config struct {
	BaseURL        string
	ServiceRoleKey string
	Timeout        time.Duration
	MaxRetries     int
}

// APIError is a non-2xx response from PostgREST
type APIError struct {
	Method string
	Table  string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supabase %s %s returned status %d: %s", e.Method, e.Table, e.Status, e.Body)
}

// Unwrap classifies server-side failures as an unavailable external service
func (e *APIError) Unwrap() error {
	if e.Status >= 500 || e.Status == http.StatusTooManyRequests {
		return domainErrors.ErrExternalServiceUnavailable
	}
	return nil
}

// Client is a minimal PostgREST client authenticated with the service-role key
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a new PostgREST client
func NewClient(config Config, logger *zap.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = MaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
	}
}

// get reads rows from a table, retrying transport errors and 5xx responses
func (c *Client) get(ctx context.Context, table string, params url.Values, result any) error {
	var lastErr error

	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, RetryDelay*time.Duration(attempt)); err != nil {
				return err
			}
		}

		body, err := c.do(ctx, http.MethodGet, table, params, nil)
		if err == nil {
			if err := json.Unmarshal(body, result); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", table, err)
			}
			return nil
		}

		if !retryable(ctx, err) {
			return err
		}
		lastErr = err
		c.logger.Warn("Supabase request failed, retrying",
			zap.String("table", table),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// patch updates the rows matched by filter and decodes the returned representation.
// Writes are not retried.
func (c *Client) patch(ctx context.Context, table string, filter url.Values, payload any, result any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s patch: %w", table, err)
	}

	body, err := c.do(ctx, http.MethodPatch, table, filter, raw)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", table, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, table string, params url.Values, payload []byte) ([]byte, error) {
	fullURL := c.config.BaseURL + restPrefix + table
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("apikey", c.config.ServiceRoleKey)
	httpReq.Header.Set("Authorization", "Bearer "+c.config.ServiceRoleKey)
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: supabase %s %s: %v", domainErrors.ErrExternalServiceUnavailable, method, table, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read supabase response: %v", domainErrors.ErrExternalServiceUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Method: method, Table: table, Status: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	return body, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(err, domainErrors.ErrExternalServiceUnavailable)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
