// Package discord implements a notifier.Notifier for Discord webhooks.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Strob0t/ledgersync/internal/port/notifier"
)

const providerName = "discord"

// Discord rejects embeds with more than 25 fields or a longer description.
const (
	maxFields      = 25
	maxDescription = 4096
)

// Compile-time interface check.
var _ notifier.Notifier = (*Notifier)(nil)

// Notifier posts embeds to a Discord webhook.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
}

// NewNotifier creates a Discord notifier. A nil client uses http.DefaultClient.
func NewNotifier(webhookURL string, httpClient *http.Client) *Notifier {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Notifier{webhookURL: webhookURL, httpClient: httpClient}
}

func (n *Notifier) Name() string { return providerName }

type webhook struct {
	Username string  `json:"username,omitempty"`
	Embeds   []embed `json:"embeds"`
}

type embed struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color"`
	Fields      []field `json:"fields,omitempty"`
	Footer      *footer `json:"footer,omitempty"`
}

type field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type footer struct {
	Text string `json:"text"`
}

func render(nt notifier.Notification) webhook {
	e := embed{
		Title:       nt.Title,
		Description: truncate(nt.Message, maxDescription),
		Color:       levelColor(nt.Level),
	}
	for _, f := range nt.Fields[:min(len(nt.Fields), maxFields)] {
		e.Fields = append(e.Fields, field{Name: f.Name, Value: f.Value, Inline: true})
	}
	if nt.Source != "" {
		e.Footer = &footer{Text: nt.Source}
	}
	return webhook{Username: "ledgersync", Embeds: []embed{e}}
}

// Send posts the notification.
func (n *Notifier) Send(ctx context.Context, nt notifier.Notification) error {
	if n.webhookURL == "" {
		return notifier.ErrNotConfigured
	}

	body, err := json.Marshal(render(nt))
	if err != nil {
		return fmt.Errorf("discord marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req) //nolint:gosec // webhook URL from trusted config
	if err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Discord returns 204 on success
	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord API %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// levelColor returns Discord embed color integers for notification levels.
func levelColor(level notifier.Level) int {
	switch level {
	case notifier.LevelError:
		return 0xE74C3C // red
	case notifier.LevelWarning:
		return 0xF39C12 // orange
	default:
		return 0x3498DB // blue
	}
}
