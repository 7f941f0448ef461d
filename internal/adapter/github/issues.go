package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Strob0t/ledgersync/internal/domain/issue"
	"github.com/Strob0t/ledgersync/internal/port/issuesource"
)

// Compile-time interface check.
var _ issuesource.Source = (*Client)(nil)

// ghIssue mirrors the REST issue object, also used in webhook payloads.
type ghIssue struct {
	Number        int             `json:"number"`
	ID            int64           `json:"id"`
	Title         string          `json:"title"`
	Body          string          `json:"body"`
	State         string          `json:"state"`
	Assignees     []ghUser        `json:"assignees"`
	Labels        []ghLabel       `json:"labels"`
	User          *ghUser         `json:"user"`
	Milestone     *ghMilestone    `json:"milestone"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	HTMLURL       string          `json:"html_url"`
	RepositoryURL string          `json:"repository_url"`
	PullRequest   json.RawMessage `json:"pull_request"`
}

type ghUser struct {
	Login string `json:"login"`
}

type ghLabel struct {
	Name string `json:"name"`
}

type ghMilestone struct {
	Title string `json:"title"`
}

func (g *ghIssue) toDomain() issue.Issue {
	iss := issue.Issue{
		Number:        g.Number,
		ID:            g.ID,
		Title:         g.Title,
		Body:          g.Body,
		State:         issue.StateOpen,
		Assignees:     make([]string, 0, len(g.Assignees)),
		Labels:        make([]string, 0, len(g.Labels)),
		CreatedAt:     g.CreatedAt,
		UpdatedAt:     g.UpdatedAt,
		HTMLURL:       g.HTMLURL,
		RepositoryURL: g.RepositoryURL,
		PullRequest:   len(g.PullRequest) > 0 && string(g.PullRequest) != "null",
	}
	if strings.EqualFold(g.State, string(issue.StateClosed)) {
		iss.State = issue.StateClosed
	}
	for _, a := range g.Assignees {
		iss.Assignees = append(iss.Assignees, a.Login)
	}
	for _, l := range g.Labels {
		iss.Labels = append(iss.Labels, l.Name)
	}
	if g.User != nil {
		iss.Author = g.User.Login
	}
	if g.Milestone != nil {
		iss.Milestone = g.Milestone.Title
	}
	return iss
}

// ListIssues returns one page of the repository's issues (pull requests
// included, flagged). The page token is the query string of the next link.
func (c *Client) ListIssues(ctx context.Context, repo issue.Repo, q issuesource.ListQuery) (*issuesource.IssuePage, error) {
	query := q.PageToken
	if query == "" {
		v := url.Values{}
		state := q.State
		if state == "" {
			state = issuesource.StateAll
		}
		v.Set("state", state)
		perPage := q.PerPage
		if perPage <= 0 || perPage > 100 {
			perPage = 100
		}
		v.Set("per_page", strconv.Itoa(perPage))
		query = v.Encode()
	}

	reqURL := fmt.Sprintf("%s/repos/%s/%s/issues?%s", c.baseURL,
		url.PathEscape(repo.Owner), url.PathEscape(repo.Name), query)
	resp, err := c.doRequest(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("github list issues %s: %w", repo, err)
	}

	var raw []ghIssue
	if err := json.Unmarshal(resp.body, &raw); err != nil {
		return nil, fmt.Errorf("github parse issues %s: %w", repo, err)
	}

	page := &issuesource.IssuePage{
		Issues:        make([]issue.Issue, 0, len(raw)),
		NextPageToken: nextPageToken(resp.header.Get("Link")),
	}
	for i := range raw {
		page.Issues = append(page.Issues, raw[i].toDomain())
	}
	return page, nil
}

var linkNext = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?next"?`)

// nextPageToken extracts the query string of the rel="next" link.
func nextPageToken(link string) string {
	m := linkNext.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	u, err := url.Parse(m[1])
	if err != nil {
		return ""
	}
	return u.RawQuery
}

const projectQuery = `query($owner: String!, $name: String!, $number: Int!) {
  repository(owner: $owner, name: $name) {
    issue(number: $number) {
      projectItems(first: 1) {
        nodes {
          project { title }
          fieldValueByName(name: "Status") {
            ... on ProjectV2ItemFieldSingleSelectValue { name }
          }
        }
      }
    }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type projectResponse struct {
	Data struct {
		Repository *struct {
			Issue *struct {
				ProjectItems struct {
					Nodes []struct {
						Project struct {
							Title string `json:"title"`
						} `json:"project"`
						FieldValueByName *struct {
							Name string `json:"name"`
						} `json:"fieldValueByName"`
					} `json:"nodes"`
				} `json:"projectItems"`
			} `json:"issue"`
		} `json:"repository"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// ProjectLink returns the first project (v2) the issue belongs to and its
// Status column, or nil when the issue is on no project.
func (c *Client) ProjectLink(ctx context.Context, repo issue.Repo, number int) (*issue.ProjectLink, error) {
	payload, err := json.Marshal(graphQLRequest{
		Query: projectQuery,
		Variables: map[string]any{
			"owner":  repo.Owner,
			"name":   repo.Name,
			"number": number,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("github project query: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, c.graphqlURL, payload)
	if err != nil {
		return nil, fmt.Errorf("github project link %s#%d: %w", repo, number, err)
	}

	var out projectResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return nil, fmt.Errorf("github parse project link %s#%d: %w", repo, number, err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("github project link %s#%d: %s", repo, number, out.Errors[0].Message)
	}

	r := out.Data.Repository
	if r == nil || r.Issue == nil || len(r.Issue.ProjectItems.Nodes) == 0 {
		return nil, nil //nolint:nilnil // an issue on no project has no link
	}
	node := r.Issue.ProjectItems.Nodes[0]
	link := &issue.ProjectLink{Name: node.Project.Title}
	if node.FieldValueByName != nil {
		link.Column = node.FieldValueByName.Name
	}
	return link, nil
}
