package waclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"waroom/internal/errors"
	"waroom/pkg/circuitbreaker"

	"github.com/sirupsen/logrus"
)

// Config represents the configuration for the engine HTTP binding
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	RetryCount int
}

// HTTPClient is the production binding to a WAHA-style engine API.
// Session control calls go through a circuit breaker so a dead engine fails
// fast instead of tying up lifecycle workers on timeouts.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *errors.Logger
}

// NewHTTPClient creates the engine HTTP binding
func NewHTTPClient(cfg Config, logger *logrus.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		breaker: circuitbreaker.NewWithLogger("waclient", 5, 30*time.Second, logger),
		logger:  errors.WrapLogger(logger),
	}
}

func (c *HTTPClient) StartSession(ctx context.Context, sessionID string) error {
	return c.post(ctx, sessionID, fmt.Sprintf("/api/sessions/%s/start", url.PathEscape(sessionID)))
}

func (c *HTTPClient) StopSession(ctx context.Context, sessionID string) error {
	return c.post(ctx, sessionID, fmt.Sprintf("/api/sessions/%s/stop", url.PathEscape(sessionID)))
}

func (c *HTTPClient) DeleteSession(ctx context.Context, sessionID string) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
			c.baseURL+"/api/sessions/"+url.PathEscape(sessionID), nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		return c.do(req, sessionID, http.StatusNotFound)
	})
}

func (c *HTTPClient) post(ctx context.Context, sessionID, path string) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		return c.do(req, sessionID)
	})
}

// do executes the request, treating 2xx and any status in tolerated as
// success. The engine returns 404 for deletes of unknown sessions, which we
// must accept for remove idempotency. Transport faults and 5xx responses come
// back retryable; engine 4xx responses do not, since repeating the same call
// cannot fix them.
func (c *HTTPClient) do(req *http.Request, sessionID string, tolerated ...int) error {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		appErr := errors.NewExternalClientError(sessionID, err)
		c.logger.LogRetryableError(appErr, "Engine request failed")
		return appErr
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	for _, code := range tolerated {
		if resp.StatusCode == code {
			return nil
		}
	}

	var appErr *errors.AppError
	if resp.StatusCode >= 500 {
		appErr = errors.NewExternalClientError(sessionID, fmt.Errorf("engine returned status %d", resp.StatusCode))
	} else {
		appErr = errors.Wrap(fmt.Errorf("engine returned status %d", resp.StatusCode),
			errors.ErrCodeExternalClient, "engine rejected request").
			WithContext("session", sessionID)
	}
	c.logger.LogRetryableError(appErr, "Engine request failed")
	return appErr
}
