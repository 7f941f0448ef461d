// Package notifier defines the port for operator alerts.
package notifier

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a notifier has no destination.
var ErrNotConfigured = errors.New("notifier: not configured")

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Field is one labelled value shown alongside the message.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title   string  `json:"title"`
	Message string  `json:"message"`
	Level   Level   `json:"level"`
	Source  string  `json:"source"` // event type, e.g. "sync.pass.completed"
	Fields  []Field `json:"fields,omitempty"`
}

// Notifier is the port interface for sending notifications.
type Notifier interface {
	// Name returns the unique identifier for this notifier (e.g. "slack").
	Name() string

	// Send delivers a notification.
	Send(ctx context.Context, notification Notification) error
}
