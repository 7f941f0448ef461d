// Package slack implements a notifier.Notifier for Slack incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Strob0t/ledgersync/internal/port/notifier"
)

const providerName = "slack"

// Slack shows at most ten fields per section.
const maxFields = 10

// Compile-time interface check.
var _ notifier.Notifier = (*Notifier)(nil)

// Notifier posts Block Kit messages to a Slack incoming webhook.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Slack notifier. A nil client uses http.DefaultClient.
func NewNotifier(webhookURL string, httpClient *http.Client) *Notifier {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Notifier{webhookURL: webhookURL, httpClient: httpClient}
}

func (n *Notifier) Name() string { return providerName }

type message struct {
	Text   string  `json:"text"` // shown in push notifications
	Blocks []block `json:"blocks"`
}

type block struct {
	Type     string `json:"type"`
	Text     *text  `json:"text,omitempty"`
	Fields   []text `json:"fields,omitempty"`
	Elements []text `json:"elements,omitempty"`
}

type text struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func mrkdwn(s string) text { return text{Type: "mrkdwn", Text: s} }

func render(nt notifier.Notification) message {
	header := fmt.Sprintf("%s %s", levelTag(nt.Level), nt.Title)
	msg := message{
		Text: header,
		Blocks: []block{
			{Type: "header", Text: &text{Type: "plain_text", Text: header}},
		},
	}
	if nt.Message != "" {
		msg.Blocks = append(msg.Blocks, block{Type: "section", Text: &text{Type: "mrkdwn", Text: nt.Message}})
	}
	if len(nt.Fields) > 0 {
		fields := make([]text, 0, min(len(nt.Fields), maxFields))
		for _, f := range nt.Fields[:min(len(nt.Fields), maxFields)] {
			fields = append(fields, mrkdwn(fmt.Sprintf("*%s*\n%s", f.Name, f.Value)))
		}
		msg.Blocks = append(msg.Blocks, block{Type: "section", Fields: fields})
	}
	if nt.Source != "" {
		msg.Blocks = append(msg.Blocks, block{Type: "context", Elements: []text{mrkdwn("_" + nt.Source + "_")}})
	}
	return msg
}

// Send posts the notification.
func (n *Notifier) Send(ctx context.Context, nt notifier.Notification) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	body, err := json.Marshal(render(nt))
	if err != nil {
		return fmt.Errorf("slack marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack API %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

func levelTag(level notifier.Level) string {
	switch level {
	case notifier.LevelError:
		return "[ERROR]"
	case notifier.LevelWarning:
		return "[WARN]"
	default:
		return "[INFO]"
	}
}
