package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/ledgersync/internal/domain"
	"github.com/Strob0t/ledgersync/internal/domain/issue"
	"github.com/Strob0t/ledgersync/internal/domain/reconcile"
)

// DispatchResult is the result of the one path a trigger selected. Issue is
// set for opened and edited triggers, Outcome for reconciliations.
type DispatchResult struct {
	Kind    issue.TriggerKind  `json:"kind"`
	Issue   *IssueResult       `json:"issue,omitempty"`
	Outcome *reconcile.Outcome `json:"outcome,omitempty"`
}

// Dispatcher routes triggers to the event handlers or a reconciliation pass.
type Dispatcher struct {
	events     *EventHandler
	reconciler *Reconciler
	log        *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(events *EventHandler, reconciler *Reconciler, log *slog.Logger) *Dispatcher {
	return &Dispatcher{events: events, reconciler: reconciler, log: log}
}

// Dispatch runs the path selected by t. Ignored triggers succeed without
// touching the ledger.
func (d *Dispatcher) Dispatch(ctx context.Context, t issue.Trigger) (*DispatchResult, error) {
	res := &DispatchResult{Kind: t.Kind}
	var err error

	switch t.Kind {
	case issue.TriggerOpened, issue.TriggerEdited:
		if t.Issue == nil {
			return nil, fmt.Errorf("%w: %s trigger without issue", domain.ErrValidation, t.Kind)
		}
		if t.Kind == issue.TriggerOpened {
			res.Issue, err = d.events.Opened(ctx, t.Repo, *t.Issue)
		} else {
			res.Issue, err = d.events.Edited(ctx, t.Repo, *t.Issue)
		}
	case issue.TriggerReconcile:
		res.Outcome, err = d.reconciler.Reconcile(ctx, t.Repo)
	case issue.TriggerIgnored:
		d.log.InfoContext(ctx, "trigger ignored", "action", t.Action, "repository", t.Repo.String())
	default:
		return nil, fmt.Errorf("%w: unknown trigger kind %q", domain.ErrValidation, t.Kind)
	}

	if err != nil && res.Issue == nil && res.Outcome == nil {
		return nil, err
	}
	return res, err
}
