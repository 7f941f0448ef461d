// Package issue defines the source-side domain types: issues read from the
// tracker and the triggers that start a synchronization.
package issue

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Strob0t/ledgersync/internal/domain"
)

// State is the lifecycle state of an issue in the tracker.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// Issue is an immutable snapshot of one tracker issue, fetched fresh on every run.
type Issue struct {
	Number        int       `json:"number"`
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	State         State     `json:"state"`
	Assignees     []string  `json:"assignees"`
	Labels        []string  `json:"labels"`
	Author        string    `json:"author"`
	Milestone     string    `json:"milestone,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	HTMLURL       string    `json:"html_url"`
	RepositoryURL string    `json:"repository_url"`
	PullRequest   bool      `json:"pull_request,omitempty"`
}

// ProjectLink is the optional project board placement of an issue.
type ProjectLink struct {
	Name   string `json:"name"`
	Column string `json:"column"`
}

// Repo identifies a repository as owner/name.
type Repo struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// String returns the "owner/name" form.
func (r Repo) String() string { return r.Owner + "/" + r.Name }

// ParseRepo parses an "owner/name" reference.
func ParseRepo(ref string) (Repo, error) {
	parts := strings.Split(strings.TrimSpace(ref), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Repo{}, fmt.Errorf("%w: invalid repository %q: expected owner/repo", domain.ErrValidation, ref)
	}
	return Repo{Owner: parts[0], Name: parts[1]}, nil
}

// RepoFromAPIURL takes the last two path segments of a repository API URL
// (https://api.github.com/repos/owner/name) as owner and name.
func RepoFromAPIURL(apiURL string) (Repo, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return Repo{}, fmt.Errorf("%w: parse repository url: %v", domain.ErrValidation, err)
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) < 2 || segs[len(segs)-2] == "" || segs[len(segs)-1] == "" {
		return Repo{}, fmt.Errorf("%w: repository url %q has fewer than two path segments", domain.ErrValidation, apiURL)
	}
	return Repo{Owner: segs[len(segs)-2], Name: segs[len(segs)-1]}, nil
}
