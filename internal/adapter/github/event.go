package github

import (
	"encoding/json"
	"fmt"

	"github.com/Strob0t/ledgersync/internal/domain"
	"github.com/Strob0t/ledgersync/internal/domain/issue"
)

// Event names as sent in X-GitHub-Event and GITHUB_EVENT_NAME.
const (
	EventIssues           = "issues"
	EventPing             = "ping"
	EventWorkflowDispatch = "workflow_dispatch"
	EventSchedule         = "schedule"
)

type ghRepository struct {
	FullName string `json:"full_name"`
}

type eventPayload struct {
	Action     string        `json:"action"`
	Issue      *ghIssue      `json:"issue"`
	Repository *ghRepository `json:"repository"`
}

// ParseEvent decodes a webhook or Actions event payload into a trigger.
// issues events become opened, edited or ignored triggers; manual and
// scheduled workflow runs request a reconciliation. fallbackRepo is used
// when the payload has no repository (schedule events).
func ParseEvent(name string, data []byte, fallbackRepo string) (issue.Trigger, error) {
	var p eventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return issue.Trigger{}, fmt.Errorf("%w: decode %s event: %v", domain.ErrValidation, name, err)
	}

	ref := fallbackRepo
	if p.Repository != nil && p.Repository.FullName != "" {
		ref = p.Repository.FullName
	}

	switch name {
	case EventIssues:
		if p.Issue == nil {
			return issue.Trigger{}, fmt.Errorf("%w: issues event without issue", domain.ErrValidation)
		}
		iss := p.Issue.toDomain()
		repo, err := repoFor(ref, iss.RepositoryURL)
		if err != nil {
			return issue.Trigger{}, err
		}
		return issue.Trigger{Kind: issue.KindForAction(p.Action), Action: p.Action, Repo: repo, Issue: &iss}, nil

	case EventWorkflowDispatch, EventSchedule:
		repo, err := issue.ParseRepo(ref)
		if err != nil {
			return issue.Trigger{}, err
		}
		return issue.Trigger{Kind: issue.TriggerReconcile, Action: name, Repo: repo}, nil

	default:
		return issue.Trigger{Kind: issue.TriggerIgnored, Action: name}, nil
	}
}

func repoFor(ref, repositoryURL string) (issue.Repo, error) {
	if ref != "" {
		return issue.ParseRepo(ref)
	}
	return issue.RepoFromAPIURL(repositoryURL)
}
