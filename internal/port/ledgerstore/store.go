// Package ledgerstore defines the port interface for the ledger database
// (a Notion database).
package ledgerstore

import (
	"context"
	"fmt"

	"github.com/Strob0t/ledgersync/internal/domain/ledger"
)

// NumberFilter matches entries whose number property equals a value.
type NumberFilter struct {
	Property string
	Equals   float64
}

// Query selects one page of entries. A nil Filter matches every entry.
type Query struct {
	Filter      *NumberFilter
	StartCursor string
	PageSize    int
}

// EntryPage is one page of query results.
type EntryPage struct {
	Entries []ledger.Entry
	// NextCursor is empty on the last page.
	NextCursor string
}

// BlockPage is one page of an entry's child blocks.
type BlockPage struct {
	Blocks     []ledger.Block
	NextCursor string
}

// IncompleteBodyError reports an entry that was created but whose body
// could not be written in full.
type IncompleteBodyError struct {
	EntryID string
	Err     error
}

func (e *IncompleteBodyError) Error() string {
	return fmt.Sprintf("entry %s created with an incomplete body: %v", e.EntryID, e.Err)
}

func (e *IncompleteBodyError) Unwrap() error { return e.Err }

// Store is the port interface for the ledger.
type Store interface {
	// QueryEntries returns one page of the database's entries.
	QueryEntries(ctx context.Context, databaseID string, q Query) (*EntryPage, error)

	// CreateEntry creates an entry with its properties and body blocks. When
	// the entry exists but its body is incomplete, it returns the entry and
	// an *IncompleteBodyError.
	CreateEntry(ctx context.Context, databaseID string, props ledger.Properties, children []ledger.Block) (*ledger.Entry, error)

	// UpdateEntryProperties overwrites the given properties of an entry.
	UpdateEntryProperties(ctx context.Context, entryID string, props ledger.Properties) error

	// ListChildBlocks returns one page of an entry's body blocks.
	ListChildBlocks(ctx context.Context, entryID, cursor string) (*BlockPage, error)

	// UpdateBlock replaces the content of an existing block.
	UpdateBlock(ctx context.Context, blockID string, block ledger.Block) error

	// AppendBlocks appends at most ledger.MaxBlocksPerRequest blocks to the
	// end of an entry's body.
	AppendBlocks(ctx context.Context, entryID string, blocks []ledger.Block) error

	// DeleteBlock removes (archives) a block.
	DeleteBlock(ctx context.Context, blockID string) error
}
