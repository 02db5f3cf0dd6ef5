// Package remote talks to a point-to-rectangle prediction endpoint over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/menta2k/pointrect/pkg/types"
)

// ProcessPath is appended to the endpoint URL for submissions.
const ProcessPath = "/process"

// DefaultTimeout bounds a single request when the caller's context has no deadline.
const DefaultTimeout = 2 * time.Minute

// TransportError means the request never produced an HTTP response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a non-200 reply from the endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// IsTransport reports whether err came from the network layer rather than the endpoint.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Client is an HTTP client for the prediction endpoint
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	token      string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithSecurityToken sends token as a bearer credential.
func WithSecurityToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// NewClient creates a client for the endpoint rooted at url.
func NewClient(url string, opts ...Option) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("endpoint url must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(url, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  "pointrect/1.0",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// URL returns the endpoint root.
func (c *Client) URL() string {
	return c.baseURL
}

// Probe issues GET on the endpoint root and returns the status code.
func (c *Client) Probe(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create request")
	}
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &TransportError{Op: "probe", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}

// Submit posts the full asset metadata and decodes the predicted metadata.
func (c *Client) Submit(ctx context.Context, md *types.AssetMetadata) (*types.AssetMetadata, error) {
	if md == nil {
		return nil, errors.New("asset metadata is nil")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	body, err := c.sendRequest(ctx, ProcessPath, md)
	if err != nil {
		return nil, err
	}

	var out types.AssetMetadata
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.Wrap(err, "failed to parse response")
	}
	return &out, nil
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "submit", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return body, nil
}

func (c *Client) decorate(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
