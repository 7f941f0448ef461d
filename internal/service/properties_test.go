package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Strob0t/ledgersync/internal/domain/issue"
	"github.com/Strob0t/ledgersync/internal/domain/ledger"
	"github.com/Strob0t/ledgersync/internal/richtext"
)

func TestBaseProperties(t *testing.T) {
	iss := newIssue(7)
	iss.Body = "# Steps\nclick <b>here</b>"
	iss.Assignees = []string{"alice", "bob"}
	iss.State = issue.StateClosed

	draft := newMapper(nil).Base(iss)
	p := draft.Properties

	if got := p[ledger.PropName].PlainText(); got != "Issue 7" {
		t.Errorf("Name = %q", got)
	}
	if got := p[ledger.PropStatus].Select; got != ledger.StatusDone {
		t.Errorf("Status = %q", got)
	}
	if got := p[ledger.PropBody]; got.Type != ledger.PropertyRichText || strings.Contains(got.PlainText(), "#") {
		t.Errorf("Body = %+v", got)
	}
	if got := p[ledger.PropAssignees].MultiSelect; len(got) != 2 || got[0] != "alice" {
		t.Errorf("Assignees = %v", got)
	}
	if got := p[ledger.PropReviewer]; got.Type != ledger.PropertyMultiSelect || len(got.MultiSelect) != 0 {
		t.Errorf("Reviewer = %+v", got)
	}
	if got := p[ledger.PropLink].URL; got != iss.HTMLURL {
		t.Errorf("Link = %q", got)
	}
	if n, ok := p.Number(ledger.PropNumber); !ok || n != 7 {
		t.Errorf("Number = %v", n)
	}
	if n, ok := p.Number(ledger.PropID); !ok || n != float64(iss.ID) {
		t.Errorf("ID = %v", n)
	}
	for _, name := range []string{ledger.PropOrganization, ledger.PropLabels, ledger.PropProject} {
		if _, ok := p[name]; ok {
			t.Errorf("base rendering must not set %s", name)
		}
	}
	if len(draft.Blocks) != 1 || ledger.PlainText(draft.Blocks[0].RichText) != ledger.PlainText(p[ledger.PropBody].RichText) {
		t.Errorf("blocks must carry the converted body, got %+v", draft.Blocks)
	}
}

func TestFullProperties(t *testing.T) {
	src := &fakeSource{links: map[int]*issue.ProjectLink{3: {Name: "Roadmap", Column: "Todo"}}}
	iss := newIssue(3)
	iss.Milestone = "v1.0"
	iss.Labels = []string{"bug", "good first issue"}

	p := newMapper(src).Full(context.Background(), iss).Properties

	checks := map[string]string{
		ledger.PropOrganization:  "acme",
		ledger.PropRepository:    "widgets",
		ledger.PropMilestone:     "v1.0",
		ledger.PropAuthor:        "octocat",
		ledger.PropProject:       "Roadmap",
		ledger.PropProjectColumn: "Todo",
	}
	for name, want := range checks {
		if got := p[name].PlainText(); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	if got := p[ledger.PropLabels].MultiSelect; len(got) != 2 || got[1] != "good first issue" {
		t.Errorf("Labels = %v", got)
	}
	if got := p[ledger.PropCreated].Date; got == nil || !got.Equal(iss.CreatedAt) {
		t.Errorf("Created = %v", got)
	}
	if got := p[ledger.PropUpdated].Date; got == nil || !got.Equal(iss.UpdatedAt) {
		t.Errorf("Updated = %v", got)
	}
	if got := p[ledger.PropStatus].Select; got != ledger.StatusInProgress {
		t.Errorf("Status = %q", got)
	}
}

func TestFullPropertiesDegradesProjectLookup(t *testing.T) {
	tests := []struct {
		name string
		src  *fakeSource
		iss  func() issue.Issue
	}{
		{"lookup error", &fakeSource{linkErr: errors.New("graphql: rate limited")}, func() issue.Issue { return newIssue(1) }},
		{"unlinked", &fakeSource{}, func() issue.Issue { return newIssue(1) }},
		{"bad repository url", &fakeSource{}, func() issue.Issue {
			iss := newIssue(1)
			iss.RepositoryURL = "https://api.github.com/"
			return iss
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newMapper(tt.src).Full(context.Background(), tt.iss()).Properties
			if p[ledger.PropProject].PlainText() != "" || p[ledger.PropProjectColumn].PlainText() != "" {
				t.Fatalf("expected empty project fields, got %+v", p[ledger.PropProject])
			}
			if p[ledger.PropName].PlainText() != "Issue 1" {
				t.Fatal("other fields must still be mapped")
			}
		})
	}
}

func TestBodyCappedAndBlocksPacked(t *testing.T) {
	iss := newIssue(1)
	iss.Body = strings.Repeat("**b** x ", 120)

	total := len(richtext.New(discard()).Convert(iss.Body))
	if total <= 200 {
		t.Fatalf("test body should produce more than 200 spans, got %d", total)
	}

	draft := newMapper(nil).Base(iss)
	if got := len(draft.Properties[ledger.PropBody].RichText); got != ledger.MaxRichTextSpans {
		t.Fatalf("Body has %d spans, want %d", got, ledger.MaxRichTextSpans)
	}
	if want := (total + ledger.MaxRichTextSpans - 1) / ledger.MaxRichTextSpans; len(draft.Blocks) != want {
		t.Fatalf("got %d blocks, want %d", len(draft.Blocks), want)
	}
	var spans int
	for _, b := range draft.Blocks {
		spans += len(b.RichText)
	}
	if spans != total {
		t.Fatalf("blocks hold %d spans, want %d", spans, total)
	}
}

func TestEmptyBodyHasNoBlocks(t *testing.T) {
	iss := newIssue(1)
	iss.Body = ""
	draft := newMapper(nil).Base(iss)
	if len(draft.Blocks) != 0 {
		t.Fatalf("expected no blocks, got %d", len(draft.Blocks))
	}
	if body := draft.Properties[ledger.PropBody]; body.RichText == nil || len(body.RichText) != 0 {
		t.Fatalf("expected empty body, got %#v", body.RichText)
	}
}

func TestSelectOptions(t *testing.T) {
	got := selectOptions([]string{"area: ui, ux", " ", "bug"})
	if len(got) != 2 || got[0] != "area: ui  ux" || got[1] != "bug" {
		t.Fatalf("got %q", got)
	}
}
