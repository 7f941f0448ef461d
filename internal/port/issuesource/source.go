// Package issuesource defines the port interface for issue trackers that
// feed the ledger (GitHub Issues).
package issuesource

import (
	"context"

	"github.com/Strob0t/ledgersync/internal/domain/issue"
)

// Issue states accepted by ListQuery.State.
const (
	StateOpen   = "open"
	StateClosed = "closed"
	StateAll    = "all"
)

// ListQuery selects one page of a repository's issues.
type ListQuery struct {
	State     string // open, closed or all; empty means all
	PerPage   int    // at most 100
	PageToken string // opaque; empty requests the first page
}

// IssuePage is one page of issues in source order.
type IssuePage struct {
	Issues []issue.Issue
	// NextPageToken is empty on the last page.
	NextPageToken string
}

// Source is the port interface for the issue tracker.
type Source interface {
	// ListIssues returns one page of issues. Pull requests may be included
	// and are flagged with Issue.PullRequest.
	ListIssues(ctx context.Context, repo issue.Repo, q ListQuery) (*IssuePage, error)

	// ProjectLink returns the project board and column the issue sits in,
	// or nil when it is not on any board.
	ProjectLink(ctx context.Context, repo issue.Repo, number int) (*issue.ProjectLink, error)
}
