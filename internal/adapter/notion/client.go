// Package notion implements ledgerstore.Store on a Notion database through
// the Notion REST API.
package notion

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

	"github.com/Strob0t/ledgersync/internal/domain"
	"github.com/Strob0t/ledgersync/internal/fanout"
	"github.com/Strob0t/ledgersync/internal/resilience"
)

const (
	defaultBaseURL = "https://api.notion.com"
	defaultVersion = "2022-06-28"
	maxErrorBody   = 4 << 10
)

// APIError is an error object returned by the Notion API.
type APIError struct {
	Status     int
	Code       string
	Message    string
	retryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("notion API %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("notion API %d %s: %s", e.Status, e.Code, e.Message)
}

// Unwrap maps a missing object to domain.ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return domain.ErrNotFound
	}
	return nil
}

// RetryAfter returns the server-requested delay, if any.
func (e *APIError) RetryAfter() time.Duration { return e.retryAfter }

// Temporary reports whether the request may succeed when repeated: rate
// limits, transaction conflicts and server errors.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status == http.StatusConflict || e.Status >= 500
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

// uncommitted reports errors after which Notion has certainly not applied
// the request: rate limiting and transaction conflicts. Only these are
// retried for requests that are not idempotent; a server error or timeout
// may follow a committed write.
func uncommitted(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		(apiErr.Status == http.StatusTooManyRequests || apiErr.Status == http.StatusConflict)
}

// Client talks to the Notion API. Every request, from any caller, takes a
// slot of the shared pool so the integration's rate budget is respected.
type Client struct {
	baseURL    string
	token      string
	version    string
	httpClient *http.Client
	pool       *fanout.Pool
	breaker    *resilience.Breaker
	retry      resilience.RetryPolicy
	log        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client (timeouts, tracing transport).
func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.httpClient = c } }

// WithBaseURL overrides the API host.
func WithBaseURL(u string) Option {
	return func(cl *Client) {
		if u != "" {
			cl.baseURL = strings.TrimSuffix(u, "/")
		}
	}
}

// WithVersion overrides the Notion-Version header.
func WithVersion(v string) Option {
	return func(cl *Client) {
		if v != "" {
			cl.version = v
		}
	}
}

// WithPool bounds in-flight requests.
func WithPool(p *fanout.Pool) Option { return func(cl *Client) { cl.pool = p } }

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

// NewClient creates a Notion client authenticated with an integration token.
func NewClient(token string, log *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		token:      token,
		version:    defaultVersion,
		httpClient: http.DefaultClient,
		retry:      resilience.DefaultRetryPolicy(),
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doRequest sends an idempotent API request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	return c.do(ctx, retryable, method, path, payload)
}

// doWrite sends a request that must not be applied twice, such as a page
// creation or a block append.
func (c *Client) doWrite(ctx context.Context, method, path string, payload any) ([]byte, error) {
	return c.do(ctx, uncommitted, method, path, payload)
}

// do sends one API request, retrying errors for which retryIf holds. The
// payload is encoded once and resent on every attempt.
func (c *Client) do(ctx context.Context, retryIf func(error) bool, method, path string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	var out []byte
	err := resilience.Retry(ctx, c.retry, retryIf, func(ctx context.Context) error {
		return c.pool.Run(ctx, func() error {
			return c.breaker.Execute(func() error {
				b, err := c.send(ctx, method, c.baseURL+path, body)
				if err != nil {
					return err
				}
				out = b
				return nil
			})
		})
	})
	return out, err
}

func (c *Client) send(ctx context.Context, method, reqURL string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Notion-Version", c.version)
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
	return respBody, nil
}

func decodeError(resp *http.Response, body []byte) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}
	if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
		apiErr.retryAfter = time.Duration(s) * time.Second
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &obj) == nil && obj.Message != "" {
		apiErr.Code, apiErr.Message = obj.Code, obj.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(body[:min(len(body), maxErrorBody)]))
	}
	return apiErr
}
