// Package broadcast defines the port for pushing sync events to connected
// dashboard clients.
package broadcast

import "context"

// Event types pushed to clients.
const (
	EventPassCompleted = "sync.pass.completed"
	EventIssueSynced   = "sync.issue.synced"
)

// Broadcaster sends real-time events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to all connected clients.
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Nop discards every event. It stands in when no hub is running, such as
// in the CLI.
type Nop struct{}

// BroadcastEvent implements Broadcaster.
func (Nop) BroadcastEvent(context.Context, string, any) {}
