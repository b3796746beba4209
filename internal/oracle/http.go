package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	gerrors "github.com/p-blackswan/grimoire/internal/errors"
)

// httpConfig is shared by the REST providers.
type httpConfig struct {
	baseURL   string
	model     string
	maxTokens int
	client    *http.Client
	logger    zerolog.Logger
}

// HTTPOption configures a REST provider.
type HTTPOption func(*httpConfig)

// WithModel overrides the provider's default model. Empty keeps the default.
func WithModel(model string) HTTPOption {
	return func(c *httpConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL overrides the API base URL. Empty keeps the default.
func WithBaseURL(u string) HTTPOption {
	return func(c *httpConfig) {
		if u != "" {
			c.baseURL = u
		}
	}
}

func WithMaxTokens(n int) HTTPOption {
	return func(c *httpConfig) { c.maxTokens = n }
}

func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *httpConfig) { c.client = hc }
}

func WithLogger(l zerolog.Logger) HTTPOption {
	return func(c *httpConfig) { c.logger = l }
}

func newHTTPConfig(baseURL, model string, opts []HTTPOption) httpConfig {
	c := httpConfig{
		baseURL:   baseURL,
		model:     model,
		maxTokens: 1024,
		client:    &http.Client{Timeout: 30 * time.Second},
		logger:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}

// postJSON sends body and decodes a 2xx response into out. Non-2xx statuses
// become *gerrors.APIError so retry can classify them.
func (c httpConfig) postJSON(ctx context.Context, service, url string, headers map[string]string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s http: %w", service, gerrors.ErrTimeout)
		}
		return fmt.Errorf("%s http: %w: %v", service, gerrors.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := gerrors.NewAPIError(service, resp.StatusCode, string(bytes.TrimSpace(raw)))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			apiErr.Err = gerrors.ErrAuthFailure
		case http.StatusTooManyRequests:
			apiErr.Err = gerrors.ErrRateLimit
		}
		return apiErr
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
