package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	cfotel "github.com/Strob0t/ledgersync/internal/adapter/otel"
	"github.com/Strob0t/ledgersync/internal/domain/issue"
	"github.com/Strob0t/ledgersync/internal/domain/ledger"
	"github.com/Strob0t/ledgersync/internal/domain/reconcile"
	"github.com/Strob0t/ledgersync/internal/fanout"
	"github.com/Strob0t/ledgersync/internal/logger"
	"github.com/Strob0t/ledgersync/internal/port/broadcast"
	"github.com/Strob0t/ledgersync/internal/port/issuesource"
	"github.com/Strob0t/ledgersync/internal/port/ledgerstore"
	"github.com/Strob0t/ledgersync/internal/port/messagequeue"
)

// ReconcileOptions tunes a Reconciler.
type ReconcileOptions struct {
	MaxConcurrent int           // creations in flight per pass
	PageSize      int           // source issues per page
	PassTimeout   time.Duration // zero means no pass deadline
}

// Reconciler creates a ledger entry for every source issue the ledger is
// missing.
type Reconciler struct {
	source     issuesource.Source
	store      ledgerstore.Store
	mapper     *PropertyMapper
	mappings   *MappingBuilder
	databaseID string
	opts       ReconcileOptions
	hub        broadcast.Broadcaster
	queue      messagequeue.Queue
	metrics    *cfotel.Metrics
	alerts     *Alerts
	log        *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(
	source issuesource.Source,
	store ledgerstore.Store,
	mapper *PropertyMapper,
	mappings *MappingBuilder,
	databaseID string,
	opts ReconcileOptions,
	log *slog.Logger,
) *Reconciler {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Reconciler{
		source:     source,
		store:      store,
		mapper:     mapper,
		mappings:   mappings,
		databaseID: databaseID,
		opts:       opts,
		hub:        broadcast.Nop{},
		log:        log,
	}
}

// SetBroadcaster sets the hub pass outcomes are pushed to.
func (r *Reconciler) SetBroadcaster(hub broadcast.Broadcaster) { r.hub = hub }

// SetQueue sets the queue pass outcomes are published to.
func (r *Reconciler) SetQueue(q messagequeue.Queue) { r.queue = q }

// SetMetrics sets the metric instruments passes record to.
func (r *Reconciler) SetMetrics(m *cfotel.Metrics) { r.metrics = m }

// SetAlerts sets where aborted and partially failed passes are reported.
func (r *Reconciler) SetAlerts(a *Alerts) { r.alerts = a }

// Reconcile runs one pass over repo. The pass id is taken from ctx when set
// with logger.WithPassID, otherwise a new one is generated.
//
// When some creations fail the complete outcome is still returned together
// with a *reconcile.PartialFailureError. Errors while reading the ledger or
// the source abort the pass and return a nil outcome.
func (r *Reconciler) Reconcile(ctx context.Context, repo issue.Repo) (*reconcile.Outcome, error) {
	passID := logger.PassID(ctx)
	if passID == "" {
		passID = uuid.NewString()
		ctx = logger.WithPassID(ctx, passID)
	}
	if r.opts.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.PassTimeout)
		defer cancel()
	}

	ctx, span := cfotel.StartPassSpan(ctx, passID, repo.String())
	start := time.Now()

	out, err := r.run(ctx, passID, repo)
	cfotel.EndSpan(span, err)

	status := "ok"
	switch {
	case out == nil:
		status = "error"
		r.metrics.RecordPass(ctx, repo.String(), status, 0, 0, 0, time.Since(start))
		r.log.ErrorContext(ctx, "reconciliation pass failed", "repository", repo.String(), "database_id", r.databaseID, "error", err)
		r.alerts.PassFailed(ctx, repo.String(), passID, nil, err)
		return nil, err
	case err != nil:
		status = "partial"
	}
	r.metrics.RecordPass(ctx, repo.String(), status, out.Considered, out.Created, out.Failed(), time.Since(start))
	r.announce(ctx, out)
	if err != nil {
		r.alerts.PassFailed(ctx, repo.String(), passID, out, err)
	}
	return out, err
}

func (r *Reconciler) run(ctx context.Context, passID string, repo issue.Repo) (*reconcile.Outcome, error) {
	var (
		mapping reconcile.Mapping
		issues  []issue.Issue
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		mapping, err = r.mappings.Build(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		issues, err = r.listIssues(gctx, repo)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", repo, err)
	}

	missing := Missing(issues, mapping)
	out := &reconcile.Outcome{
		PassID:     passID,
		Repository: repo.String(),
		Considered: len(issues),
		Missing:    len(missing),
	}
	r.log.InfoContext(ctx, "computed missing issues", "repository", repo.String(),
		"considered", len(issues), "mapped", mapping.Len(), "missing", len(missing))
	if len(missing) == 0 {
		return out, nil
	}

	results := fanout.Settle(ctx, r.opts.MaxConcurrent, missing, func(ctx context.Context, iss issue.Issue) (*ledger.Entry, error) {
		return r.create(ctx, repo, iss)
	})
	for _, res := range results {
		if res.Err != nil {
			out.Failures = append(out.Failures, reconcile.Failure{Number: res.Item.Number, Err: res.Err})
			continue
		}
		out.Created++
	}

	r.log.InfoContext(ctx, "reconciliation pass finished", "repository", repo.String(),
		"created", out.Created, "failed", out.Failed())
	if len(out.Failures) > 0 {
		return out, &reconcile.PartialFailureError{Repository: repo.String(), Failures: out.Failures}
	}
	return out, nil
}

// listIssues reads every page of the repository's issues, dropping pull
// requests and numbers already seen on an earlier page.
func (r *Reconciler) listIssues(ctx context.Context, repo issue.Repo) ([]issue.Issue, error) {
	r.log.InfoContext(ctx, "listing source issues", "repository", repo.String())

	var (
		out   []issue.Issue
		token string
		pulls int
	)
	seen := make(map[int]struct{})
	for {
		page, err := r.source.ListIssues(ctx, repo, issuesource.ListQuery{
			State:     issuesource.StateAll,
			PerPage:   r.opts.PageSize,
			PageToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list issues of %s after %d issues: %w", repo, len(out), err)
		}
		for _, iss := range page.Issues {
			if iss.PullRequest {
				pulls++
				continue
			}
			if _, dup := seen[iss.Number]; dup {
				continue
			}
			seen[iss.Number] = struct{}{}
			out = append(out, iss)
		}
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	r.log.InfoContext(ctx, "source issues listed", "repository", repo.String(), "issues", len(out), "pull_requests", pulls)
	return out, nil
}

func (r *Reconciler) create(ctx context.Context, repo issue.Repo, iss issue.Issue) (*ledger.Entry, error) {
	ctx, span := cfotel.StartCreateSpan(ctx, repo.String(), iss.Number)
	draft := r.mapper.Full(ctx, iss)
	entry, err := r.store.CreateEntry(ctx, r.databaseID, draft.Properties, draft.Blocks)
	var incomplete *ledgerstore.IncompleteBodyError
	switch {
	case errors.As(err, &incomplete):
		// Later passes see the entry as mapped; the log names it for repair.
		err = fmt.Errorf("create entry for issue #%d: %w", iss.Number, err)
		r.log.ErrorContext(ctx, "entry created with a truncated body", "repository", repo.String(),
			"number", iss.Number, "database_id", r.databaseID, "entry_id", incomplete.EntryID, "error", err)
	case err != nil:
		err = fmt.Errorf("create entry for issue #%d: %w", iss.Number, err)
		r.log.ErrorContext(ctx, "entry creation failed", "repository", repo.String(),
			"number", iss.Number, "database_id", r.databaseID, "error", err)
	default:
		r.log.DebugContext(ctx, "entry created", "number", iss.Number, "entry_id", entry.ID)
	}
	cfotel.EndSpan(span, err)
	return entry, err
}

// announce pushes a finished pass to the hub and the queue.
func (r *Reconciler) announce(ctx context.Context, out *reconcile.Outcome) {
	payload := messagequeue.PassCompletedPayload{
		PassID:     out.PassID,
		Repository: out.Repository,
		Considered: out.Considered,
		Missing:    out.Missing,
		Created:    out.Created,
		Failed:     out.Failed(),
	}
	for _, f := range out.Failures {
		payload.Failures = append(payload.Failures, messagequeue.FailurePayload{Number: f.Number, Error: f.Detail()})
	}

	r.hub.BroadcastEvent(ctx, broadcast.EventPassCompleted, payload)
	if r.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		r.log.ErrorContext(ctx, "marshal pass outcome", "error", err)
		return
	}
	// The pass deadline may already have expired; publishing is best effort
	// on a detached context.
	if err := r.queue.Publish(context.WithoutCancel(ctx), messagequeue.SubjectPassCompleted, data); err != nil {
		r.log.WarnContext(ctx, "publish pass outcome", "pass_id", out.PassID, "error", err)
	}
}

// HandleReconcileMessage runs a pass for a ledgersync.reconcile message.
// A pass with failed creations is reported as an error so the message is
// redelivered; already created entries are skipped on the next attempt.
func (r *Reconciler) HandleReconcileMessage(ctx context.Context, _ string, data []byte) error {
	var req messagequeue.ReconcileRequestPayload
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("decode reconcile request: %w", err)
	}
	repo, err := issue.ParseRepo(req.Repository)
	if err != nil {
		return err
	}
	if req.RequestID != "" && logger.RequestID(ctx) == "" {
		ctx = logger.WithRequestID(ctx, req.RequestID)
	}
	if req.PassID != "" {
		ctx = logger.WithPassID(ctx, req.PassID)
	}
	_, err = r.Reconcile(ctx, repo)
	return err
}

// Missing returns the issues whose number is not mapped, in source order.
func Missing(issues []issue.Issue, mapping reconcile.Mapping) []issue.Issue {
	var out []issue.Issue
	for _, iss := range issues {
		if !mapping.Has(iss.Number) {
			out = append(out, iss)
		}
	}
	return out
}
