// Package httputil provides HTTP helpers for calling third-party providers and
// for writing JSON responses.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/omniplex-ai/omniplex/internal/metrics"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 8 << 20 // 8 MiB
	maxErrorBodyBytes   = 64 << 10
)

// =============================================================================
// Provider Client
// =============================================================================

// Client performs outbound requests to a single third-party provider and
// records per-provider metrics.
type Client struct {
	name       string
	httpClient *http.Client
	maxBody    int64
}

// ClientConfig configures a provider client.
type ClientConfig struct {
	// Name labels metrics and errors, e.g. "finnhub".
	Name         string
	Timeout      time.Duration
	MaxBodyBytes int64
	// HTTPClient overrides the underlying client (tests, custom transports).
	HTTPClient *http.Client
	// BlockPrivateNetworks refuses connections to loopback, private and
	// link-local addresses. Required for user-supplied URLs. Ignored when
	// HTTPClient is set.
	BlockPrivateNetworks bool
}

// NewClient creates a provider client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody == 0 {
		maxBody = defaultMaxBodyBytes
	}
	httpClient := cfg.HTTPClient
	switch {
	case httpClient != nil:
	case cfg.BlockPrivateNetworks:
		httpClient = newGuardedHTTPClient(timeout)
	default:
		httpClient = &http.Client{Timeout: timeout}
	}
	name := cfg.Name
	if name == "" {
		name = "upstream"
	}
	return &Client{name: name, httpClient: httpClient, maxBody: maxBody}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return c.name
}

// StatusError is returned when a provider answers with a non-2xx status.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s responded with status %d", e.Provider, e.StatusCode)
}

// StatusCode returns the upstream status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// Get issues a GET request. Non-2xx responses are returned as *StatusError and
// the body is closed.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/html;q=0.9, */*;q=0.8")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstream(c.name, "error", time.Since(start))
		return nil, fmt.Errorf("%s request failed: %w", c.name, err)
	}
	metrics.RecordUpstream(c.name, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, truncated, _ := ReadAllWithLimit(resp.Body, maxErrorBodyBytes)
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return nil, &StatusError{Provider: c.name, StatusCode: resp.StatusCode, Body: msg}
	}
	return resp, nil
}

// GetBytes fetches rawURL and returns the bounded body and headers.
func (c *Client) GetBytes(ctx context.Context, rawURL string) ([]byte, http.Header, error) {
	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := ReadAllStrict(resp.Body, c.maxBody)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s response: %w", c.name, err)
	}
	return body, resp.Header, nil
}

// GetJSON fetches rawURL and decodes the JSON body into target.
func (c *Client) GetJSON(ctx context.Context, rawURL string, target interface{}) error {
	body, _, err := c.GetBytes(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode %s response: %w", c.name, err)
	}
	return nil
}

// DecodeResponse decodes a JSON response into the target struct.
func DecodeResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, truncated, err := ReadAllWithLimit(resp.Body, maxErrorBodyBytes)
		if err != nil {
			return fmt.Errorf("read error response body: %w", err)
		}
		msg := strings.TrimSpace(string(body))
		if truncated {
			msg += "...(truncated)"
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, msg)
	}

	if target == nil {
		if _, err := io.Copy(io.Discard, io.LimitReader(resp.Body, defaultMaxBodyBytes)); err != nil {
			return fmt.Errorf("discard response body: %w", err)
		}
		return nil
	}

	body, err := ReadAllStrict(resp.Body, defaultMaxBodyBytes)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// =============================================================================
// Bounded Reads
// =============================================================================

// ErrBodyTooLarge is returned by ReadAllStrict when the body exceeds the limit.
var ErrBodyTooLarge = fmt.Errorf("response body too large")

// ReadAllWithLimit reads at most limit bytes and reports whether more remained.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}

// ReadAllStrict reads the whole body and fails if it exceeds limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	body, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("%w (limit %d bytes)", ErrBodyTooLarge, limit)
	}
	return body, nil
}
