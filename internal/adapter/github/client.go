// Package github implements issuesource.Source for GitHub Issues using the
// REST API for listing and the GraphQL API for project linkage.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/ledgersync/internal/resilience"
)

const (
	defaultBaseURL    = "https://api.github.com"
	defaultGraphQLURL = "https://api.github.com/graphql"
	apiVersion        = "2022-11-28"
	maxErrorBody      = 4 << 10
)

// APIError is a non-2xx response from the GitHub API.
type APIError struct {
	Status     int
	Message    string
	retryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github API %d: %s", e.Status, e.Message)
}

// RetryAfter returns the server-requested delay, if any.
func (e *APIError) RetryAfter() time.Duration { return e.retryAfter }

// Temporary reports whether the request may succeed when repeated: rate
// limits and server errors.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500 ||
		(e.Status == http.StatusForbidden && e.retryAfter > 0)
}

// retryable classifies errors for retries and the breaker. Transport
// errors count; a cancelled context or an open circuit does not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, resilience.ErrCircuitOpen) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

// Client talks to the GitHub API.
type Client struct {
	baseURL    string
	graphqlURL string
	token      string
	httpClient *http.Client
	breaker    *resilience.Breaker
	retry      resilience.RetryPolicy
	log        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client (timeouts, tracing transport).
func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.httpClient = c } }

// WithGraphQLURL overrides the GraphQL endpoint.
func WithGraphQLURL(u string) Option {
	return func(cl *Client) {
		if u != "" {
			cl.graphqlURL = u
		}
	}
}

// WithBreaker guards every request with b.
func WithBreaker(b *resilience.Breaker) Option {
	return func(cl *Client) {
		if b != nil {
			cl.breaker = b.WithClassifier(retryable)
		}
	}
}

// WithRetryPolicy sets the retry policy for rate limits and server errors.
func WithRetryPolicy(p resilience.RetryPolicy) Option { return func(cl *Client) { cl.retry = p } }

// NewClient creates a GitHub client. An empty baseURL selects api.github.com;
// an empty token makes unauthenticated requests.
func NewClient(baseURL, token string, log *slog.Logger, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		graphqlURL: defaultGraphQLURL,
		token:      token,
		httpClient: http.DefaultClient,
		retry:      resilience.DefaultRetryPolicy(),
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type response struct {
	body   []byte
	header http.Header
}

// doRequest sends one request with retries and the breaker. body is resent
// on every attempt.
func (c *Client) doRequest(ctx context.Context, method, reqURL string, body []byte) (*response, error) {
	var out *response
	err := resilience.Retry(ctx, c.retry, retryable, func(ctx context.Context) error {
		return c.breaker.Execute(func() error {
			resp, err := c.send(ctx, method, reqURL, body)
			if err != nil {
				return err
			}
			out = resp
			return nil
		})
	})
	return out, err
}

func (c *Client) send(ctx context.Context, method, reqURL string, body []byte) (*response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL is built from the configured base URL
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, decodeError(resp, respBody)
	}
	return &response{body: respBody, header: resp.Header}, nil
}

func decodeError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{Status: resp.StatusCode, retryAfter: retryAfter(resp.Header)}
	var msg struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
		apiErr.Message = msg.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body[:min(len(body), maxErrorBody)]))
	}
	return apiErr
}

// retryAfter reads Retry-After (seconds) or, for an exhausted primary rate
// limit, the time until X-RateLimit-Reset.
func retryAfter(h http.Header) time.Duration {
	if s, err := strconv.Atoi(h.Get("Retry-After")); err == nil && s > 0 {
		return time.Duration(s) * time.Second
	}
	if h.Get("X-RateLimit-Remaining") == "0" {
		if reset, err := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			if d := time.Until(time.Unix(reset, 0)); d > 0 {
				return d
			}
		}
	}
	return 0
}
