package notion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/ledgersync/internal/domain"
	"github.com/Strob0t/ledgersync/internal/domain/ledger"
	"github.com/Strob0t/ledgersync/internal/fanout"
	"github.com/Strob0t/ledgersync/internal/port/ledgerstore"
	"github.com/Strob0t/ledgersync/internal/resilience"
)

var fastRetry = resilience.RetryPolicy{MaxRetries: 2, Base: time.Millisecond, Max: 5 * time.Millisecond}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   map[string]any
}

// fakeAPI records requests and replies with the canned body for each
// "METHOD path" key.
type fakeAPI struct {
	t         *testing.T
	mu        sync.Mutex
	requests  []recordedRequest
	responses map[string]string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if got := r.Header.Get("Authorization"); got != "Bearer secret_test" {
		f.t.Errorf("unexpected auth header %q", got)
	}
	if got := r.Header.Get("Notion-Version"); got != "2022-06-28" {
		f.t.Errorf("unexpected Notion-Version %q", got)
	}
	rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		if err := json.Unmarshal(data, &rec.Body); err != nil {
			f.t.Errorf("request body is not JSON: %v", err)
		}
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	resp, ok := f.responses[r.Method+" "+r.URL.Path]
	if !ok {
		resp = `{}`
	}
	_, _ = io.WriteString(w, resp)
}

func newFake(t *testing.T, responses map[string]string) (*fakeAPI, *Client) {
	t.Helper()
	f := &fakeAPI{t: t, responses: responses}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c := NewClient("secret_test", slog.New(slog.DiscardHandler),
		WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithRetryPolicy(fastRetry),
		WithPool(fanout.NewPool(3)))
	return f, c
}

func TestQueryEntries(t *testing.T) {
	f, c := newFake(t, map[string]string{
		"POST /v1/databases/db-1/query": `{
			"object": "list",
			"results": [
				{"object":"page","id":"page-1","url":"https://notion.so/page-1","properties":{
					"Number":{"id":"a","type":"number","number":1},
					"Name":{"id":"title","type":"title","title":[{"type":"text","text":{"content":"Bug","link":null},"plain_text":"Bug"}]}}},
				{"object":"page","id":"page-2","properties":{"Number":{"id":"a","type":"number","number":null}}}
			],
			"next_cursor": "cursor-2",
			"has_more": true
		}`,
	})

	page, err := c.QueryEntries(context.Background(), "db-1", ledgerstore.Query{StartCursor: "cursor-1", PageSize: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Entries) != 2 || page.NextCursor != "cursor-2" {
		t.Fatalf("unexpected page %+v", page)
	}
	if n, ok := page.Entries[0].Properties.Number(ledger.PropNumber); !ok || n != 1 {
		t.Fatalf("expected Number 1, got %v %v", n, ok)
	}
	if page.Entries[0].Properties[ledger.PropName].PlainText() != "Bug" {
		t.Fatal("title not decoded")
	}
	if _, ok := page.Entries[1].Properties.Number(ledger.PropNumber); ok {
		t.Fatal("null number must not decode as set")
	}

	body := f.requests[0].Body
	if body["start_cursor"] != "cursor-1" || body["page_size"] != float64(50) {
		t.Fatalf("unexpected body %v", body)
	}
	if _, ok := body["filter"]; ok {
		t.Fatal("unfiltered query must not send a filter")
	}
}

func TestQueryEntriesFilterAndLastPage(t *testing.T) {
	f, c := newFake(t, map[string]string{
		"POST /v1/databases/db-1/query": `{"results":[],"next_cursor":null,"has_more":false}`,
	})

	page, err := c.QueryEntries(context.Background(), "db-1", ledgerstore.Query{
		Filter:   &ledgerstore.NumberFilter{Property: ledger.PropID, Equals: 9005},
		PageSize: 1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.NextCursor != "" || len(page.Entries) != 0 {
		t.Fatalf("unexpected page %+v", page)
	}
	filter, _ := f.requests[0].Body["filter"].(map[string]any)
	number, _ := filter["number"].(map[string]any)
	if filter["property"] != "ID" || number["equals"] != float64(9005) {
		t.Fatalf("unexpected filter %v", filter)
	}
}

func TestCreateEntryAppendsOverflowBlocks(t *testing.T) {
	f, c := newFake(t, map[string]string{
		"POST /v1/pages": `{"object":"page","id":"page-new","url":"https://notion.so/page-new","properties":{}}`,
	})

	blocks := make([]ledger.Block, 150)
	for i := range blocks {
		blocks[i] = ledger.Paragraph([]ledger.RichText{ledger.Plain("p")})
	}
	props := ledger.Properties{ledger.PropName: ledger.Title("Bug"), ledger.PropNumber: ledger.Number(3)}

	entry, err := c.CreateEntry(context.Background(), "db-1", props, blocks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.ID != "page-new" || len(entry.Blocks) != 150 {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if len(f.requests) != 2 {
		t.Fatalf("expected create + append, got %d requests", len(f.requests))
	}

	create := f.requests[0].Body
	parent, _ := create["parent"].(map[string]any)
	if parent["database_id"] != "db-1" {
		t.Fatalf("unexpected parent %v", parent)
	}
	if children, _ := create["children"].([]any); len(children) != 100 {
		t.Fatalf("expected 100 children on create, got %d", len(children))
	}
	appendReq := f.requests[1]
	if appendReq.Method != http.MethodPatch || appendReq.Path != "/v1/blocks/page-new/children" {
		t.Fatalf("unexpected append request %s %s", appendReq.Method, appendReq.Path)
	}
	if children, _ := appendReq.Body["children"].([]any); len(children) != 50 {
		t.Fatalf("expected 50 appended children, got %d", len(children))
	}
}

func TestCreateEntryWithoutBody(t *testing.T) {
	f, c := newFake(t, map[string]string{
		"POST /v1/pages": `{"object":"page","id":"page-new","properties":{}}`,
	})
	if _, err := c.CreateEntry(context.Background(), "db-1", ledger.Properties{ledger.PropName: ledger.Title("x")}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := f.requests[0].Body["children"]; ok {
		t.Fatal("empty body must not send children")
	}
}

func TestBlockOperations(t *testing.T) {
	f, c := newFake(t, map[string]string{
		"GET /v1/blocks/page-1/children": `{"results":[
			{"object":"block","id":"b1","type":"paragraph","paragraph":{"rich_text":[{"type":"text","text":{"content":"old"},"plain_text":"old"}]}},
			{"object":"block","id":"b2","type":"divider","divider":{}}
		],"next_cursor":null,"has_more":false}`,
	})
	ctx := context.Background()

	page, err := c.ListChildBlocks(ctx, "page-1", "cur")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Blocks) != 2 || page.Blocks[0].ID != "b1" || ledger.PlainText(page.Blocks[0].RichText) != "old" {
		t.Fatalf("unexpected blocks %+v", page.Blocks)
	}
	if page.Blocks[1].Type != "divider" || page.NextCursor != "" {
		t.Fatalf("unexpected second block %+v", page.Blocks[1])
	}
	if q := f.requests[0].Query; !strings.Contains(q, "start_cursor=cur") || !strings.Contains(q, "page_size=100") {
		t.Fatalf("unexpected query %q", q)
	}

	if err := c.UpdateBlock(ctx, "b1", ledger.Paragraph([]ledger.RichText{ledger.Plain("new")})); err != nil {
		t.Fatalf("update: %v", err)
	}
	upd := f.requests[1]
	if upd.Method != http.MethodPatch || upd.Path != "/v1/blocks/b1" {
		t.Fatalf("unexpected update request %s %s", upd.Method, upd.Path)
	}
	if _, ok := upd.Body["paragraph"]; !ok || len(upd.Body) != 1 {
		t.Fatalf("update must send only the paragraph payload, got %v", upd.Body)
	}

	if err := c.DeleteBlock(ctx, "b2"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if del := f.requests[2]; del.Method != http.MethodDelete || del.Path != "/v1/blocks/b2" {
		t.Fatalf("unexpected delete request %s %s", del.Method, del.Path)
	}

	if err := c.UpdateEntryProperties(ctx, "page-1", ledger.Properties{ledger.PropStatus: ledger.Select("Done")}); err != nil {
		t.Fatalf("update properties: %v", err)
	}
	props := f.requests[3]
	if props.Method != http.MethodPatch || props.Path != "/v1/pages/page-1" {
		t.Fatalf("unexpected properties request %s %s", props.Method, props.Path)
	}
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantCalls int32
		check     func(*testing.T, error)
	}{
		{
			name:      "validation error is final",
			status:    http.StatusBadRequest,
			body:      `{"object":"error","status":400,"code":"validation_error","message":"Name is not a property"}`,
			wantCalls: 1,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Code != "validation_error" || apiErr.Message != "Name is not a property" {
					t.Fatalf("unexpected error %v", err)
				}
			},
		},
		{
			name:      "not found",
			status:    http.StatusNotFound,
			body:      `{"object":"error","status":404,"code":"object_not_found","message":"Could not find page"}`,
			wantCalls: 1,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, domain.ErrNotFound) {
					t.Fatalf("expected ErrNotFound, got %v", err)
				}
			},
		},
		{
			name:      "rate limited is retried",
			status:    http.StatusTooManyRequests,
			body:      `{"object":"error","status":429,"code":"rate_limited","message":"slow down"}`,
			wantCalls: 3,
			check: func(t *testing.T, err error) {
				var apiErr *APIError
				if !errors.As(err, &apiErr) || apiErr.Status != http.StatusTooManyRequests {
					t.Fatalf("unexpected error %v", err)
				}
			},
		},
		{
			name:      "gateway error with html body",
			status:    http.StatusBadGateway,
			body:      `<html>bad gateway</html>`,
			wantCalls: 3,
			check: func(t *testing.T, err error) {
				if !strings.Contains(err.Error(), "bad gateway") {
					t.Fatalf("unexpected error %v", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := NewClient("secret_test", slog.New(slog.DiscardHandler),
				WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithRetryPolicy(fastRetry))
			err := c.DeleteBlock(context.Background(), "b1")
			if err == nil {
				t.Fatal("expected error")
			}
			tt.check(t, err)
			if calls.Load() != tt.wantCalls {
				t.Fatalf("expected %d calls, got %d", tt.wantCalls, calls.Load())
			}
		})
	}
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":"validation_error","message":"bad"}`)
	}))
	defer srv.Close()

	b := resilience.NewBreaker(1, time.Minute)
	c := NewClient("secret_test", slog.New(slog.DiscardHandler),
		WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithRetryPolicy(fastRetry), WithBreaker(b))
	for range 3 {
		_ = c.DeleteBlock(context.Background(), "b1")
	}
	if b.State() != "closed" {
		t.Fatalf("client errors must not open the breaker, got %s", b.State())
	}
}

// committingAPI creates a page on every POST and answers the first n of
// them with the given status, like a gateway failing after the write.
type committingAPI struct {
	mu      sync.Mutex
	created int
	failN   int
	status  int
}

func (a *committingAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Path != "/v1/pages" {
		_, _ = io.WriteString(w, `{}`)
		return
	}
	a.mu.Lock()
	a.created++
	n := a.created
	a.mu.Unlock()
	if n <= a.failN {
		w.WriteHeader(a.status)
		_, _ = io.WriteString(w, `{"object":"error","code":"internal_server_error","message":"upstream"}`)
		return
	}
	_, _ = io.WriteString(w, `{"object":"page","id":"page-new","properties":{}}`)
}

func TestCreateEntryIsNotRepeatedAfterAmbiguousFailure(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantCreated int
		wantErr     bool
	}{
		{"bad gateway", http.StatusBadGateway, 1, true},
		{"server error", http.StatusInternalServerError, 1, true},
		// Rate limits and conflicts commit nothing and are retried.
		{"rate limited", http.StatusTooManyRequests, 2, false},
		{"conflict", http.StatusConflict, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &committingAPI{failN: 1, status: tt.status}
			srv := httptest.NewServer(api)
			defer srv.Close()
			c := NewClient("secret_test", slog.New(slog.DiscardHandler),
				WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithRetryPolicy(fastRetry))

			_, err := c.CreateEntry(context.Background(), "db-1", ledger.Properties{ledger.PropName: ledger.Title("x")}, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, want error %v", err, tt.wantErr)
			}
			if api.created != tt.wantCreated {
				t.Fatalf("POST /v1/pages sent %d times, want %d", api.created, tt.wantCreated)
			}
		})
	}
}

func TestCreateEntryReportsIncompleteBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = io.WriteString(w, `{"object":"page","id":"page-new","properties":{}}`)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":"validation_error","message":"block too large"}`)
	}))
	defer srv.Close()
	c := NewClient("secret_test", slog.New(slog.DiscardHandler),
		WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithRetryPolicy(fastRetry))

	blocks := make([]ledger.Block, 120)
	for i := range blocks {
		blocks[i] = ledger.Paragraph([]ledger.RichText{ledger.Plain("p")})
	}
	entry, err := c.CreateEntry(context.Background(), "db-1", ledger.Properties{ledger.PropName: ledger.Title("x")}, blocks)

	var incomplete *ledgerstore.IncompleteBodyError
	if !errors.As(err, &incomplete) || incomplete.EntryID != "page-new" {
		t.Fatalf("expected IncompleteBodyError for page-new, got %v", err)
	}
	if entry == nil || entry.ID != "page-new" || len(entry.Blocks) != ledger.MaxBlocksPerRequest {
		t.Fatalf("the created entry must be returned with the blocks it has, got %+v", entry)
	}
	if !strings.Contains(err.Error(), "block too large") {
		t.Fatalf("error lost its cause: %v", err)
	}
}
