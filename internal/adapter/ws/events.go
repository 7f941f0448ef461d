package ws

import (
	"context"
	"encoding/json"

	"github.com/Strob0t/ledgersync/internal/port/broadcast"
	"github.com/Strob0t/ledgersync/internal/port/messagequeue"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

// BroadcastEvent marshals a typed event and sends it to the clients
// following the event's repository.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.ErrorContext(ctx, "marshal ws event payload", "type", eventType, "error", err)
		return
	}
	h.Broadcast(ctx, repositoryOf(payload), Message{Type: eventType, Payload: data})
}

func repositoryOf(payload any) string {
	switch p := payload.(type) {
	case messagequeue.PassCompletedPayload:
		return p.Repository
	case *messagequeue.PassCompletedPayload:
		return p.Repository
	case messagequeue.IssueSyncedPayload:
		return p.Repository
	case *messagequeue.IssueSyncedPayload:
		return p.Repository
	default:
		return ""
	}
}
