package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/ledgersync/internal/domain/issue"
	"github.com/Strob0t/ledgersync/internal/port/issuesource"
	"github.com/Strob0t/ledgersync/internal/resilience"
)

var (
	repo       = issue.Repo{Owner: "octo", Name: "widgets"}
	fastRetry  = resilience.RetryPolicy{MaxRetries: 2, Base: time.Millisecond, Max: 5 * time.Millisecond}
	discardLog = slog.New(slog.DiscardHandler)
)

func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	opts = append([]Option{
		WithHTTPClient(srv.Client()),
		WithRetryPolicy(fastRetry),
		WithGraphQLURL(srv.URL + "/graphql"),
	}, opts...)
	return NewClient(srv.URL, "test-token", discardLog, opts...)
}

func TestListIssuesPagination(t *testing.T) {
	var srvURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/octo/widgets/issues" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected auth header %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "" {
			if r.URL.Query().Get("state") != "all" || r.URL.Query().Get("per_page") != "2" {
				t.Errorf("unexpected first page query %s", r.URL.RawQuery)
			}
			w.Header().Set("Link", fmt.Sprintf(`<%s/repositories/1/issues?page=2&per_page=2&state=all>; rel="next", <%s/repositories/1/issues?page=2&per_page=2&state=all>; rel="last"`, srvURL, srvURL))
			_, _ = io.WriteString(w, `[
				{"number":1,"id":101,"title":"Bug","body":"broken","state":"open","user":{"login":"ana"},
				 "assignees":[{"login":"bo"}],"labels":[{"name":"bug"}],"milestone":{"title":"v1"},
				 "created_at":"2024-01-02T03:04:05Z","updated_at":"2024-01-03T03:04:05Z",
				 "html_url":"https://github.com/octo/widgets/issues/1","repository_url":"https://api.github.com/repos/octo/widgets"},
				{"number":2,"id":102,"title":"PR","state":"open","pull_request":{"url":"x"}}
			]`)
			return
		}
		_, _ = io.WriteString(w, `[{"number":3,"id":103,"title":"Done","body":null,"state":"closed","milestone":null}]`)
	}))
	defer srv.Close()
	srvURL = srv.URL

	c := newTestClient(srv)
	page, err := c.ListIssues(context.Background(), repo, issuesource.ListQuery{State: issuesource.StateAll, PerPage: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(page.Issues))
	}
	first := page.Issues[0]
	if first.Number != 1 || first.ID != 101 || first.Author != "ana" || first.Milestone != "v1" {
		t.Fatalf("unexpected issue %+v", first)
	}
	if len(first.Assignees) != 1 || first.Assignees[0] != "bo" || len(first.Labels) != 1 || first.Labels[0] != "bug" {
		t.Fatalf("unexpected lists %+v", first)
	}
	if first.PullRequest || !page.Issues[1].PullRequest {
		t.Fatal("pull request flag not decoded")
	}
	if page.NextPageToken != "page=2&per_page=2&state=all" {
		t.Fatalf("unexpected token %q", page.NextPageToken)
	}

	page, err = c.ListIssues(context.Background(), repo, issuesource.ListQuery{PageToken: page.NextPageToken})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Issues) != 1 || page.Issues[0].State != issue.StateClosed || page.Issues[0].Body != "" {
		t.Fatalf("unexpected last page %+v", page.Issues)
	}
	if page.NextPageToken != "" {
		t.Fatalf("expected no next page, got %q", page.NextPageToken)
	}
}

func TestListIssuesRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	page, err := newTestClient(srv).ListIssues(context.Background(), repo, issuesource.ListQuery{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Issues) != 0 || calls.Load() != 2 {
		t.Fatalf("expected empty page after 2 calls, got %d issues, %d calls", len(page.Issues), calls.Load())
	}
}

func TestListIssuesNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"Not Found"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).ListIssues(context.Background(), repo, issuesource.ListQuery{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound || apiErr.Message != "Not Found" {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(srv,
		WithRetryPolicy(resilience.RetryPolicy{MaxRetries: 0, Base: time.Millisecond}),
		WithBreaker(resilience.NewBreaker(1, time.Minute)),
	)
	_, _ = c.ListIssues(context.Background(), repo, issuesource.ListQuery{})
	_, err := c.ListIssues(context.Background(), repo, issuesource.ListQuery{})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected the second call to fail fast, got %d calls", calls.Load())
	}
}

func TestProjectLink(t *testing.T) {
	tests := []struct {
		name    string
		resp    string
		want    *issue.ProjectLink
		wantErr bool
	}{
		{
			name: "linked",
			resp: `{"data":{"repository":{"issue":{"projectItems":{"nodes":[{"project":{"title":"Roadmap"},"fieldValueByName":{"name":"Todo"}}]}}}}}`,
			want: &issue.ProjectLink{Name: "Roadmap", Column: "Todo"},
		},
		{
			name: "no status field",
			resp: `{"data":{"repository":{"issue":{"projectItems":{"nodes":[{"project":{"title":"Roadmap"},"fieldValueByName":null}]}}}}}`,
			want: &issue.ProjectLink{Name: "Roadmap"},
		},
		{
			name: "unlinked",
			resp: `{"data":{"repository":{"issue":{"projectItems":{"nodes":[]}}}}}`,
		},
		{
			name:    "graphql error",
			resp:    `{"data":null,"errors":[{"message":"Resource not accessible by integration"}]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/graphql" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				var req graphQLRequest
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					t.Errorf("decode request: %v", err)
				}
				if req.Variables["owner"] != "octo" || req.Variables["name"] != "widgets" || req.Variables["number"] != float64(7) {
					t.Errorf("unexpected variables %v", req.Variables)
				}
				_, _ = io.WriteString(w, tt.resp)
			}))
			defer srv.Close()

			got, err := newTestClient(srv).ProjectLink(context.Background(), repo, 7)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestNextPageToken(t *testing.T) {
	tests := []struct {
		link, want string
	}{
		{"", ""},
		{`<https://api.github.com/repositories/1/issues?page=3>; rel="next", <https://api.github.com/repositories/1/issues?page=9>; rel="last"`, "page=3"},
		{`<https://api.github.com/repositories/1/issues?page=1>; rel="prev", <https://api.github.com/repositories/1/issues?page=1>; rel="first"`, ""},
	}
	for _, tt := range tests {
		if got := nextPageToken(tt.link); got != tt.want {
			t.Errorf("nextPageToken(%q) = %q, want %q", tt.link, got, tt.want)
		}
	}
}

func TestRetryAfterHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "3")
	if got := retryAfter(h); got != 3*time.Second {
		t.Fatalf("got %v", got)
	}

	h = http.Header{}
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(time.Minute).Unix()))
	if got := retryAfter(h); got <= 0 || got > time.Minute {
		t.Fatalf("got %v", got)
	}
	if !(&APIError{Status: http.StatusForbidden, retryAfter: time.Second}).Temporary() {
		t.Fatal("rate-limited 403 must be temporary")
	}
	if (&APIError{Status: http.StatusForbidden}).Temporary() {
		t.Fatal("plain 403 must not be temporary")
	}
}
