package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/Strob0t/ledgersync/internal/domain/ledger"
	"github.com/Strob0t/ledgersync/internal/port/ledgerstore"
)

// Compile-time interface check.
var _ ledgerstore.Store = (*Client)(nil)

const maxPageSize = 100

type numberCondition struct {
	Equals float64 `json:"equals"`
}

type queryFilter struct {
	Property string          `json:"property"`
	Number   numberCondition `json:"number"`
}

type queryRequest struct {
	Filter      *queryFilter `json:"filter,omitempty"`
	StartCursor string       `json:"start_cursor,omitempty"`
	PageSize    int          `json:"page_size,omitempty"`
}

type pageObject struct {
	ID         string            `json:"id"`
	URL        string            `json:"url"`
	Properties ledger.Properties `json:"properties"`
}

func (p *pageObject) toEntry() ledger.Entry {
	return ledger.Entry{ID: p.ID, URL: p.URL, Properties: p.Properties}
}

type listResponse[T any] struct {
	Results    []T     `json:"results"`
	NextCursor *string `json:"next_cursor"`
	HasMore    bool    `json:"has_more"`
}

func (r *listResponse[T]) cursor() string {
	if !r.HasMore || r.NextCursor == nil {
		return ""
	}
	return *r.NextCursor
}

func pageSize(n int) int {
	if n <= 0 || n > maxPageSize {
		return maxPageSize
	}
	return n
}

// QueryEntries returns one page of database entries, optionally filtered
// by a number property.
func (c *Client) QueryEntries(ctx context.Context, databaseID string, q ledgerstore.Query) (*ledgerstore.EntryPage, error) {
	req := queryRequest{StartCursor: q.StartCursor, PageSize: pageSize(q.PageSize)}
	if q.Filter != nil {
		req.Filter = &queryFilter{Property: q.Filter.Property, Number: numberCondition{Equals: q.Filter.Equals}}
	}

	body, err := c.doRequest(ctx, http.MethodPost, "/v1/databases/"+url.PathEscape(databaseID)+"/query", req)
	if err != nil {
		return nil, fmt.Errorf("notion query database %s: %w", databaseID, err)
	}

	var resp listResponse[pageObject]
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("notion parse query %s: %w", databaseID, err)
	}

	page := &ledgerstore.EntryPage{
		Entries:    make([]ledger.Entry, 0, len(resp.Results)),
		NextCursor: resp.cursor(),
	}
	for i := range resp.Results {
		page.Entries = append(page.Entries, resp.Results[i].toEntry())
	}
	return page, nil
}

type databaseParent struct {
	DatabaseID string `json:"database_id"`
}

type createPageRequest struct {
	Parent     databaseParent    `json:"parent"`
	Properties ledger.Properties `json:"properties"`
	Children   []ledger.Block    `json:"children,omitempty"`
}

// CreateEntry creates a page in the database. Bodies longer than one
// request allows are appended in further requests. Neither is repeated after
// an ambiguous failure: a page that was created anyway is found by the next
// reconciliation pass.
func (c *Client) CreateEntry(ctx context.Context, databaseID string, props ledger.Properties, children []ledger.Block) (*ledger.Entry, error) {
	first := children[:min(len(children), ledger.MaxBlocksPerRequest)]
	rest := children[len(first):]

	body, err := c.doWrite(ctx, http.MethodPost, "/v1/pages", createPageRequest{
		Parent:     databaseParent{DatabaseID: databaseID},
		Properties: props,
		Children:   first,
	})
	if err != nil {
		return nil, fmt.Errorf("notion create page in %s: %w", databaseID, err)
	}

	var page pageObject
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("notion parse created page: %w", err)
	}

	entry := page.toEntry()
	entry.Blocks = children
	if len(rest) > 0 {
		if err := c.AppendBlocks(ctx, page.ID, rest); err != nil {
			entry.Blocks = first
			return &entry, &ledgerstore.IncompleteBodyError{EntryID: page.ID, Err: err}
		}
	}
	return &entry, nil
}

// UpdateEntryProperties overwrites the given properties of a page.
func (c *Client) UpdateEntryProperties(ctx context.Context, entryID string, props ledger.Properties) error {
	payload := map[string]ledger.Properties{"properties": props}
	if _, err := c.doRequest(ctx, http.MethodPatch, "/v1/pages/"+url.PathEscape(entryID), payload); err != nil {
		return fmt.Errorf("notion update page %s: %w", entryID, err)
	}
	return nil
}

// ListChildBlocks returns one page of a page's child blocks.
func (c *Client) ListChildBlocks(ctx context.Context, entryID, cursor string) (*ledgerstore.BlockPage, error) {
	v := url.Values{}
	v.Set("page_size", fmt.Sprint(maxPageSize))
	if cursor != "" {
		v.Set("start_cursor", cursor)
	}

	body, err := c.doRequest(ctx, http.MethodGet, "/v1/blocks/"+url.PathEscape(entryID)+"/children?"+v.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("notion list blocks of %s: %w", entryID, err)
	}

	var resp listResponse[ledger.Block]
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("notion parse blocks of %s: %w", entryID, err)
	}
	return &ledgerstore.BlockPage{Blocks: resp.Results, NextCursor: resp.cursor()}, nil
}

// UpdateBlock replaces the rich text of a block.
func (c *Client) UpdateBlock(ctx context.Context, blockID string, block ledger.Block) error {
	content, err := block.ContentJSON()
	if err != nil {
		return fmt.Errorf("notion update block %s: %w", blockID, err)
	}
	if _, err := c.doRequest(ctx, http.MethodPatch, "/v1/blocks/"+url.PathEscape(blockID), json.RawMessage(content)); err != nil {
		return fmt.Errorf("notion update block %s: %w", blockID, err)
	}
	return nil
}

// AppendBlocks appends blocks to the end of a page, in request-sized
// chunks and in order.
func (c *Client) AppendBlocks(ctx context.Context, entryID string, blocks []ledger.Block) error {
	for len(blocks) > 0 {
		n := min(len(blocks), ledger.MaxBlocksPerRequest)
		payload := map[string][]ledger.Block{"children": blocks[:n]}
		if _, err := c.doWrite(ctx, http.MethodPatch, "/v1/blocks/"+url.PathEscape(entryID)+"/children", payload); err != nil {
			return fmt.Errorf("notion append blocks to %s: %w", entryID, err)
		}
		blocks = blocks[n:]
	}
	return nil
}

// DeleteBlock archives a block.
func (c *Client) DeleteBlock(ctx context.Context, blockID string) error {
	if _, err := c.doRequest(ctx, http.MethodDelete, "/v1/blocks/"+url.PathEscape(blockID), nil); err != nil {
		return fmt.Errorf("notion delete block %s: %w", blockID, err)
	}
	return nil
}
