package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	cfotel "github.com/Strob0t/ledgersync/internal/adapter/otel"
	"github.com/Strob0t/ledgersync/internal/domain/issue"
	"github.com/Strob0t/ledgersync/internal/domain/ledger"
	"github.com/Strob0t/ledgersync/internal/domain/reconcile"
	"github.com/Strob0t/ledgersync/internal/fanout"
	"github.com/Strob0t/ledgersync/internal/port/broadcast"
	"github.com/Strob0t/ledgersync/internal/port/ledgerstore"
	"github.com/Strob0t/ledgersync/internal/port/messagequeue"
)

// Actions reported for a synced issue.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

// IssueResult reports what an issue event did to the ledger.
type IssueResult struct {
	Repository string `json:"repository"`
	Number     int    `json:"number"`
	EntryID    string `json:"entry_id"`
	Action     string `json:"action"`
}

// EventHandler applies single-issue events to the ledger.
type EventHandler struct {
	store         ledgerstore.Store
	mapper        *PropertyMapper
	databaseID    string
	maxConcurrent int
	hub           broadcast.Broadcaster
	queue         messagequeue.Queue
	metrics       *cfotel.Metrics
	log           *slog.Logger
}

// NewEventHandler creates an EventHandler. maxConcurrent bounds the block
// mutations of one edit that run at once.
func NewEventHandler(store ledgerstore.Store, mapper *PropertyMapper, databaseID string, maxConcurrent int, log *slog.Logger) *EventHandler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &EventHandler{
		store:         store,
		mapper:        mapper,
		databaseID:    databaseID,
		maxConcurrent: maxConcurrent,
		hub:           broadcast.Nop{},
		log:           log,
	}
}

// SetBroadcaster sets the hub synced issues are pushed to.
func (h *EventHandler) SetBroadcaster(hub broadcast.Broadcaster) { h.hub = hub }

// SetQueue sets the queue synced issues are published to.
func (h *EventHandler) SetQueue(q messagequeue.Queue) { h.queue = q }

// SetMetrics sets the metric instruments events record to.
func (h *EventHandler) SetMetrics(m *cfotel.Metrics) { h.metrics = m }

// Opened creates the ledger entry of a newly opened issue.
func (h *EventHandler) Opened(ctx context.Context, repo issue.Repo, iss issue.Issue) (*IssueResult, error) {
	ctx, span := cfotel.StartEventSpan(ctx, string(issue.TriggerOpened), repo.String(), iss.Number)
	res, err := h.createEntry(ctx, repo, iss)
	cfotel.EndSpan(span, err)
	h.finish(ctx, string(issue.TriggerOpened), res, err)
	return res, err
}

// Edited re-derives the entry tracking iss from the issue's current state.
// The entry is found by the issue's global id; when there is none it is
// created instead.
func (h *EventHandler) Edited(ctx context.Context, repo issue.Repo, iss issue.Issue) (*IssueResult, error) {
	ctx, span := cfotel.StartEventSpan(ctx, string(issue.TriggerEdited), repo.String(), iss.Number)
	res, err := h.edit(ctx, repo, iss)
	cfotel.EndSpan(span, err)
	h.finish(ctx, string(issue.TriggerEdited), res, err)
	return res, err
}

func (h *EventHandler) edit(ctx context.Context, repo issue.Repo, iss issue.Issue) (*IssueResult, error) {
	page, err := h.store.QueryEntries(ctx, h.databaseID, ledgerstore.Query{
		Filter:   &ledgerstore.NumberFilter{Property: ledger.PropID, Equals: float64(iss.ID)},
		PageSize: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("find entry for issue #%d in %s: %w", iss.Number, h.databaseID, err)
	}
	if len(page.Entries) == 0 {
		h.log.WarnContext(ctx, "no ledger entry for edited issue, creating it",
			"repository", repo.String(), "number", iss.Number, "issue_id", iss.ID)
		return h.createEntry(ctx, repo, iss)
	}
	if page.NextCursor != "" {
		h.log.DebugContext(ctx, "several entries track the issue, updating the first",
			"number", iss.Number, "entry_id", page.Entries[0].ID)
	}
	entry := page.Entries[0]

	draft := h.mapper.Base(iss)
	if err := h.store.UpdateEntryProperties(ctx, entry.ID, draft.Properties); err != nil {
		return nil, fmt.Errorf("update properties of entry %s (issue #%d): %w", entry.ID, iss.Number, err)
	}

	existing, err := h.listBlocks(ctx, entry.ID)
	if err != nil {
		return nil, fmt.Errorf("list blocks of entry %s (issue #%d): %w", entry.ID, iss.Number, err)
	}
	plan := reconcile.PlanBlocks(draft.Blocks, existing)
	h.log.DebugContext(ctx, "block plan", "entry_id", entry.ID,
		"update", len(plan.Update), "append", len(plan.Append), "delete", len(plan.Delete))
	if err := h.applyPlan(ctx, entry.ID, plan); err != nil {
		return nil, fmt.Errorf("sync body of entry %s (issue #%d): %w", entry.ID, iss.Number, err)
	}

	return &IssueResult{Repository: repo.String(), Number: iss.Number, EntryID: entry.ID, Action: ActionUpdated}, nil
}

func (h *EventHandler) createEntry(ctx context.Context, repo issue.Repo, iss issue.Issue) (*IssueResult, error) {
	draft := h.mapper.Base(iss)
	entry, err := h.store.CreateEntry(ctx, h.databaseID, draft.Properties, draft.Blocks)
	var incomplete *ledgerstore.IncompleteBodyError
	if errors.As(err, &incomplete) {
		h.log.ErrorContext(ctx, "entry created with a truncated body", "repository", repo.String(),
			"number", iss.Number, "database_id", h.databaseID, "entry_id", incomplete.EntryID, "error", err)
	}
	if err != nil {
		return nil, fmt.Errorf("create entry for issue #%d in %s: %w", iss.Number, h.databaseID, err)
	}
	return &IssueResult{Repository: repo.String(), Number: iss.Number, EntryID: entry.ID, Action: ActionCreated}, nil
}

func (h *EventHandler) listBlocks(ctx context.Context, entryID string) ([]ledger.Block, error) {
	var blocks []ledger.Block
	var cursor string
	for {
		page, err := h.store.ListChildBlocks(ctx, entryID, cursor)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, page.Blocks...)
		if page.NextCursor == "" {
			return blocks, nil
		}
		cursor = page.NextCursor
	}
}

// applyPlan updates, then deletes, then appends. Every mutation of a set
// is attempted; the errors of all sets are joined.
func (h *EventHandler) applyPlan(ctx context.Context, entryID string, plan reconcile.BlockPlan) error {
	var errs []error

	updates := fanout.Settle(ctx, h.maxConcurrent, plan.Update, func(ctx context.Context, u reconcile.BlockUpdate) (struct{}, error) {
		if err := h.store.UpdateBlock(ctx, u.ExistingID, u.Block); err != nil {
			return struct{}{}, fmt.Errorf("update block %s: %w", u.ExistingID, err)
		}
		return struct{}{}, nil
	})
	errs = append(errs, fanout.Errors(updates)...)

	deletes := fanout.Settle(ctx, h.maxConcurrent, plan.Delete, func(ctx context.Context, id string) (struct{}, error) {
		if err := h.store.DeleteBlock(ctx, id); err != nil {
			return struct{}{}, fmt.Errorf("delete block %s: %w", id, err)
		}
		return struct{}{}, nil
	})
	errs = append(errs, fanout.Errors(deletes)...)

	// Appends go out one chunk at a time so the body keeps its order.
	for blocks := plan.Append; len(blocks) > 0; {
		n := min(len(blocks), ledger.MaxBlocksPerRequest)
		if err := h.store.AppendBlocks(ctx, entryID, blocks[:n]); err != nil {
			errs = append(errs, fmt.Errorf("append blocks: %w", err))
			break
		}
		blocks = blocks[n:]
	}

	return errors.Join(errs...)
}

func (h *EventHandler) finish(ctx context.Context, action string, res *IssueResult, err error) {
	h.metrics.RecordEvent(ctx, action, err)
	if err != nil {
		h.log.ErrorContext(ctx, "issue event failed", "action", action, "database_id", h.databaseID, "error", err)
		return
	}
	h.log.InfoContext(ctx, "issue synced", "repository", res.Repository, "number", res.Number,
		"entry_id", res.EntryID, "result", res.Action)

	payload := messagequeue.IssueSyncedPayload{
		Repository: res.Repository,
		Number:     res.Number,
		EntryID:    res.EntryID,
		Action:     res.Action,
	}
	h.hub.BroadcastEvent(ctx, broadcast.EventIssueSynced, payload)
	if h.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := h.queue.Publish(context.WithoutCancel(ctx), messagequeue.SubjectIssueSynced, data); err != nil {
		h.log.WarnContext(ctx, "publish issue synced", "number", res.Number, "error", err)
	}
}
