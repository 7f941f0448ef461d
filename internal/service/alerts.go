package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/ledgersync/internal/domain/reconcile"
	"github.com/Strob0t/ledgersync/internal/port/broadcast"
	"github.com/Strob0t/ledgersync/internal/port/notifier"
)

const (
	alertTimeout = 10 * time.Second
	// failures listed in an alert before the rest is summarized
	maxListedFailures = 10
)

// Alerts tells operators about reconciliation passes that did not complete
// cleanly. A nil *Alerts sends nothing.
type Alerts struct {
	notifiers []notifier.Notifier
	log       *slog.Logger
}

// NewAlerts creates Alerts delivering to every notifier.
func NewAlerts(notifiers []notifier.Notifier, log *slog.Logger) *Alerts {
	return &Alerts{notifiers: notifiers, log: log}
}

// Notify sends n to every notifier. Delivery failures are logged and do not
// stop delivery to the others. The caller's deadline does not apply.
func (a *Alerts) Notify(ctx context.Context, n notifier.Notification) {
	if a == nil || len(a.notifiers) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()

	for _, provider := range a.notifiers {
		if err := provider.Send(ctx, n); err != nil {
			a.log.WarnContext(ctx, "alert send failed", "provider", provider.Name(), "title", n.Title, "error", err)
			continue
		}
		a.log.DebugContext(ctx, "alert sent", "provider", provider.Name(), "title", n.Title)
	}
}

// PassFailed reports a pass that aborted (out is nil) or had failed
// creations.
func (a *Alerts) PassFailed(ctx context.Context, repository, passID string, out *reconcile.Outcome, err error) {
	if a == nil {
		return
	}
	a.Notify(ctx, passAlert(repository, passID, out, err))
}

func passAlert(repository, passID string, out *reconcile.Outcome, err error) notifier.Notification {
	n := notifier.Notification{
		Source: broadcast.EventPassCompleted,
		Fields: []notifier.Field{
			{Name: "Repository", Value: repository},
			{Name: "Pass", Value: passID},
		},
	}

	if out == nil {
		n.Level = notifier.LevelError
		n.Title = fmt.Sprintf("Reconciliation of %s aborted", repository)
		if err != nil {
			n.Message = err.Error()
		}
		return n
	}

	n.Level = notifier.LevelWarning
	n.Title = fmt.Sprintf("Reconciliation of %s: %d of %d creations failed", repository, out.Failed(), out.Missing)
	n.Fields = append(n.Fields,
		notifier.Field{Name: "Created", Value: strconv.Itoa(out.Created)},
		notifier.Field{Name: "Failed", Value: strconv.Itoa(out.Failed())},
	)

	var b strings.Builder
	for i, f := range out.Failures {
		if i == maxListedFailures {
			fmt.Fprintf(&b, "and %d more\n", len(out.Failures)-maxListedFailures)
			break
		}
		fmt.Fprintf(&b, "#%d: %s\n", f.Number, f.Detail())
	}
	n.Message = strings.TrimSuffix(b.String(), "\n")
	return n
}
