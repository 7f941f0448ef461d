package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/ledgersync/internal/domain/ledger"
	"github.com/Strob0t/ledgersync/internal/domain/reconcile"
	"github.com/Strob0t/ledgersync/internal/port/ledgerstore"
)

// MappingBuilder indexes the ledger database by issue number.
type MappingBuilder struct {
	store      ledgerstore.Store
	databaseID string
	pageSize   int
	log        *slog.Logger
}

// NewMappingBuilder creates a MappingBuilder reading databaseID pageSize
// entries at a time.
func NewMappingBuilder(store ledgerstore.Store, databaseID string, pageSize int, log *slog.Logger) *MappingBuilder {
	return &MappingBuilder{store: store, databaseID: databaseID, pageSize: pageSize, log: log}
}

// Build reads every entry of the database and maps each numbered entry to
// its issue number. Entries without a Number are skipped. When two entries
// claim the same number the first one read wins. Any page error aborts the
// build.
func (b *MappingBuilder) Build(ctx context.Context) (reconcile.Mapping, error) {
	b.log.InfoContext(ctx, "reading ledger entries", "database_id", b.databaseID)

	mapping := reconcile.NewMapping()
	var cursor string
	var read, unnumbered int
	for {
		page, err := b.store.QueryEntries(ctx, b.databaseID, ledgerstore.Query{StartCursor: cursor, PageSize: b.pageSize})
		if err != nil {
			return reconcile.Mapping{}, fmt.Errorf("query ledger %s after %d entries: %w", b.databaseID, read, err)
		}

		for _, e := range page.Entries {
			read++
			n, ok := e.Properties.Number(ledger.PropNumber)
			if !ok {
				unnumbered++
				continue
			}
			if !mapping.Insert(int(n), e.ID) {
				prev, _ := mapping.Lookup(int(n))
				b.log.WarnContext(ctx, "duplicate ledger entry for issue, keeping the first",
					"number", int(n), "kept", prev, "skipped", e.ID, "database_id", b.databaseID)
			}
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	b.log.InfoContext(ctx, "ledger entries read", "database_id", b.databaseID,
		"entries", read, "mapped", mapping.Len(), "unnumbered", unnumbered)
	return mapping, nil
}
