package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Strob0t/ledgersync/internal/domain/issue"
	"github.com/Strob0t/ledgersync/internal/domain/ledger"
	"github.com/Strob0t/ledgersync/internal/richtext"
)

// ProjectLinker resolves the project board placement of an issue.
type ProjectLinker interface {
	ProjectLink(ctx context.Context, repo issue.Repo, number int) (*issue.ProjectLink, error)
}

// Draft is the ledger rendering of one issue: its properties and the
// paragraph blocks of its body.
type Draft struct {
	Properties ledger.Properties
	Blocks     []ledger.Block
}

// PropertyMapper turns issues into ledger properties and body blocks.
type PropertyMapper struct {
	converter *richtext.Converter
	projects  ProjectLinker
	log       *slog.Logger
}

// NewPropertyMapper creates a PropertyMapper. projects may be nil, in which
// case the project fields of full renderings stay empty.
func NewPropertyMapper(converter *richtext.Converter, projects ProjectLinker, log *slog.Logger) *PropertyMapper {
	return &PropertyMapper{converter: converter, projects: projects, log: log}
}

// Base renders the properties written by the single-issue handlers.
func (m *PropertyMapper) Base(iss issue.Issue) Draft {
	body := m.converter.Convert(iss.Body)
	return Draft{Properties: baseProperties(iss, body), Blocks: BodyBlocks(body)}
}

// Full renders every property of the schema, as written by reconciliation
// passes. A failed project lookup leaves the project fields empty.
func (m *PropertyMapper) Full(ctx context.Context, iss issue.Issue) Draft {
	body := m.converter.Convert(iss.Body)
	props := baseProperties(iss, body)

	var owner, name string
	repo, err := issue.RepoFromAPIURL(iss.RepositoryURL)
	if err != nil {
		m.log.WarnContext(ctx, "cannot derive repository from issue", "number", iss.Number, "repository_url", iss.RepositoryURL, "error", err)
	} else {
		owner, name = repo.Owner, repo.Name
	}

	props[ledger.PropOrganization] = ledger.Text(owner)
	props[ledger.PropRepository] = ledger.Text(name)
	props[ledger.PropMilestone] = ledger.Text(iss.Milestone)
	props[ledger.PropLabels] = ledger.MultiSelect(selectOptions(iss.Labels))
	props[ledger.PropAuthor] = ledger.Text(iss.Author)
	props[ledger.PropCreated] = ledger.Date(iss.CreatedAt)
	props[ledger.PropUpdated] = ledger.Date(iss.UpdatedAt)

	link := m.projectLink(ctx, repo, err == nil, iss.Number)
	props[ledger.PropProject] = ledger.Text(link.Name)
	props[ledger.PropProjectColumn] = ledger.Text(link.Column)

	return Draft{Properties: props, Blocks: BodyBlocks(body)}
}

func (m *PropertyMapper) projectLink(ctx context.Context, repo issue.Repo, known bool, number int) issue.ProjectLink {
	if m.projects == nil || !known {
		return issue.ProjectLink{}
	}
	link, err := m.projects.ProjectLink(ctx, repo, number)
	if err != nil {
		m.log.WarnContext(ctx, "project lookup failed, leaving project fields empty",
			"repository", repo.String(), "number", number, "error", err)
		return issue.ProjectLink{}
	}
	if link == nil {
		return issue.ProjectLink{}
	}
	return *link
}

func baseProperties(iss issue.Issue, body []ledger.RichText) ledger.Properties {
	return ledger.Properties{
		ledger.PropName:      ledger.Title(iss.Title),
		ledger.PropStatus:    ledger.Select(StatusOption(iss.State)),
		ledger.PropBody:      ledger.RichTextValue(body[:min(len(body), ledger.MaxRichTextSpans)]),
		ledger.PropAssignees: ledger.MultiSelect(selectOptions(iss.Assignees)),
		ledger.PropReviewer:  ledger.MultiSelect(nil),
		ledger.PropLink:      ledger.URL(iss.HTMLURL),
		ledger.PropNumber:    ledger.Number(float64(iss.Number)),
		ledger.PropID:        ledger.Number(float64(iss.ID)),
	}
}

// BodyBlocks packs converted body spans into paragraph blocks. An empty
// body yields no blocks.
func BodyBlocks(body []ledger.RichText) []ledger.Block {
	return ledger.ParagraphsFromSpans(body)
}

// StatusOption maps an issue state to the ledger's Status select option.
func StatusOption(state issue.State) string {
	if state == issue.StateClosed {
		return ledger.StatusDone
	}
	return ledger.StatusInProgress
}

// selectOptions drops blank names and replaces commas, which the ledger
// rejects in select option names.
func selectOptions(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(strings.ReplaceAll(n, ",", " "))
		if n != "" {
			out = append(out, n)
		}
	}
	return out
}
