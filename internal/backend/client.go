// Package backend talks to the administration backend that owns formations.
package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/fablab-manager/calendar-sync/internal/storage/models"
)

// ErrorBody is the JSON error document the backend sends with 4xx/5xx.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// StatusError is returned when the backend answers with a non-2xx status.
// Message is filled when the body was a JSON ErrorBody.
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Status)
}

// Client fetches formation records for the current manager.
type Client struct {
	http           *resty.Client
	formationsPath string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying resty client, mainly for tests.
func WithHTTPClient(rc *resty.Client) Option {
	return func(c *Client) { c.http = rc }
}

// WithLogger routes resty's own diagnostics through logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.http.SetLogger(restyLogger{logger.With().Str("component", "backend_client").Logger()})
	}
}

type restyLogger struct {
	logger zerolog.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) { l.logger.Error().Msgf(format, v...) }
func (l restyLogger) Warnf(format string, v ...interface{})  { l.logger.Warn().Msgf(format, v...) }
func (l restyLogger) Debugf(format string, v ...interface{}) { l.logger.Debug().Msgf(format, v...) }

// NewClient creates a backend client rooted at baseURL. An empty token
// disables the Authorization header.
func NewClient(baseURL, token, formationsPath string, timeout time.Duration, opts ...Option) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if token != "" {
		rc.SetAuthToken(token)
	}

	c := &Client{
		http:           rc,
		formationsPath: formationsPath,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListFormations returns the full formation list of the current manager.
// The body is decoded as JSON whatever Content-Type the backend sets.
func (c *Client) ListFormations(ctx context.Context) ([]models.FormationRecord, error) {
	var formations []models.FormationRecord
	var apiErr ErrorBody

	resp, err := c.http.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(&formations).
		SetError(&apiErr).
		Get(c.formationsPath)
	if err != nil {
		return nil, fmt.Errorf("fetching formations: %w", err)
	}

	if !resp.IsSuccess() {
		msg := apiErr.Message
		if msg == "" {
			msg = apiErr.Error
		}
		return nil, &StatusError{
			StatusCode: resp.StatusCode(),
			Status:     resp.Status(),
			Message:    msg,
			Body:       truncate(resp.String(), 512),
		}
	}

	if formations == nil {
		formations = []models.FormationRecord{}
	}
	return formations, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
