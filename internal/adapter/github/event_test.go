package github

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Strob0t/ledgersync/internal/domain"
	"github.com/Strob0t/ledgersync/internal/domain/issue"
)

const issuePayload = `{
	"action": %q,
	"issue": {"number": 5, "id": 9005, "title": "Crash", "state": "open",
	          "repository_url": "https://api.github.com/repos/octo/widgets"},
	"repository": {"full_name": "octo/widgets"}
}`

func payload(action string) []byte {
	return []byte(fmt.Sprintf(issuePayload, action))
}

func TestParseEventIssues(t *testing.T) {
	tests := []struct {
		action string
		want   issue.TriggerKind
	}{
		{"opened", issue.TriggerOpened},
		{"edited", issue.TriggerEdited},
		{"labeled", issue.TriggerEdited},
		{"closed", issue.TriggerEdited},
		{"deleted", issue.TriggerIgnored},
		{"transferred", issue.TriggerIgnored},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			trig, err := ParseEvent(EventIssues, payload(tt.action), "")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if trig.Kind != tt.want || trig.Action != tt.action {
				t.Fatalf("got kind %s action %s", trig.Kind, trig.Action)
			}
			if trig.Repo != repo || trig.Issue == nil || trig.Issue.ID != 9005 {
				t.Fatalf("unexpected trigger %+v", trig)
			}
		})
	}
}

func TestParseEventRepoFromIssueURL(t *testing.T) {
	data := []byte(`{"action":"opened","issue":{"number":1,"id":2,"repository_url":"https://api.github.com/repos/octo/widgets"}}`)
	trig, err := ParseEvent(EventIssues, data, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trig.Repo != repo {
		t.Fatalf("got %v", trig.Repo)
	}
}

func TestParseEventReconcile(t *testing.T) {
	trig, err := ParseEvent(EventWorkflowDispatch, []byte(`{"repository":{"full_name":"octo/widgets"}}`), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if trig.Kind != issue.TriggerReconcile || trig.Repo != repo || trig.Issue != nil {
		t.Fatalf("unexpected trigger %+v", trig)
	}

	trig, err = ParseEvent(EventSchedule, []byte(`{"schedule":"0 * * * *"}`), "octo/widgets")
	if err != nil || trig.Kind != issue.TriggerReconcile || trig.Repo != repo {
		t.Fatalf("schedule: %+v, %v", trig, err)
	}
}

func TestParseEventErrors(t *testing.T) {
	tests := []struct {
		name, event, data string
	}{
		{"bad json", EventIssues, `{`},
		{"no issue", EventIssues, `{"action":"opened"}`},
		{"dispatch without repo", EventWorkflowDispatch, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEvent(tt.event, []byte(tt.data), "")
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestParseEventOtherIsIgnored(t *testing.T) {
	trig, err := ParseEvent("push", []byte(`{}`), "")
	if err != nil || trig.Kind != issue.TriggerIgnored {
		t.Fatalf("got %+v, %v", trig, err)
	}
}
