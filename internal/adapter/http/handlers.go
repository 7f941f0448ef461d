package http

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/Strob0t/ledgersync/internal/adapter/github"
	"github.com/Strob0t/ledgersync/internal/domain/issue"
	"github.com/Strob0t/ledgersync/internal/logger"
	"github.com/Strob0t/ledgersync/internal/port/messagequeue"
	"github.com/Strob0t/ledgersync/internal/service"
)

// Dispatcher runs the synchronization path a trigger selects.
type Dispatcher interface {
	Dispatch(ctx context.Context, t issue.Trigger) (*service.DispatchResult, error)
}

// Handlers holds the dependencies of the HTTP handlers.
type Handlers struct {
	Dispatcher Dispatcher
	// Queue, when connected, receives reconcile requests so that any
	// instance may run the pass. Without it passes run in this process.
	Queue messagequeue.Queue
	// Connections reports live WebSocket clients for /health.
	Connections func() int
	Log         *slog.Logger

	background sync.WaitGroup
}

// Wait blocks until every pass started in this process has finished.
func (h *Handlers) Wait() {
	h.background.Wait()
}

type acceptedResponse struct {
	Status     string `json:"status"`
	PassID     string `json:"pass_id,omitempty"`
	Repository string `json:"repository,omitempty"`
	Event      string `json:"event,omitempty"`
	Action     string `json:"action,omitempty"`
}

// HandleGitHubWebhook handles POST /webhooks/github. Issue events are applied
// before responding; reconcile requests run in the background.
func (h *Handlers) HandleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	event := r.Header.Get("X-GitHub-Event")
	if event == "" {
		writeError(w, http.StatusBadRequest, "missing X-GitHub-Event header")
		return
	}
	if event == github.EventPing {
		writeJSON(w, http.StatusOK, acceptedResponse{Status: "pong", Event: event})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	trigger, err := github.ParseEvent(event, body, "")
	if err != nil {
		writeSyncError(w, h.Log, err)
		return
	}

	switch trigger.Kind {
	case issue.TriggerIgnored:
		h.Log.InfoContext(r.Context(), "webhook ignored", "event", event, "action", trigger.Action)
		writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "ignored", Event: event, Action: trigger.Action})
	case issue.TriggerReconcile:
		passID := h.startPass(r.Context(), trigger.Repo)
		writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", PassID: passID, Repository: trigger.Repo.String()})
	default:
		res, err := h.Dispatcher.Dispatch(r.Context(), trigger)
		if err != nil {
			writeSyncError(w, h.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type reconcileRequest struct {
	Repository string `json:"repository"`
}

// HandleReconcile handles POST /api/v1/reconcile.
func (h *Handlers) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[reconcileRequest](w, r)
	if !ok {
		return
	}
	repo, err := issue.ParseRepo(req.Repository)
	if err != nil {
		writeSyncError(w, h.Log, err)
		return
	}

	passID := h.startPass(r.Context(), repo)
	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", PassID: passID, Repository: repo.String()})
}

// startPass hands a reconciliation pass to the queue, or runs it here when
// no queue is connected or the publish fails. It returns the pass id.
func (h *Handlers) startPass(ctx context.Context, repo issue.Repo) string {
	passID := uuid.NewString()
	ctx = logger.WithPassID(context.WithoutCancel(ctx), passID)

	if h.Queue != nil && h.Queue.IsConnected() {
		data, err := json.Marshal(messagequeue.ReconcileRequestPayload{
			Repository: repo.String(),
			RequestID:  logger.RequestID(ctx),
			PassID:     passID,
		})
		if err == nil {
			if err = h.Queue.Publish(ctx, messagequeue.SubjectReconcile, data); err == nil {
				h.Log.InfoContext(ctx, "reconcile queued", "repository", repo.String())
				return passID
			}
		}
		h.Log.WarnContext(ctx, "reconcile publish failed, running locally", "repository", repo.String(), "error", err)
	}

	h.background.Add(1)
	go func() {
		defer h.background.Done()
		if _, err := h.Dispatcher.Dispatch(ctx, issue.Trigger{Kind: issue.TriggerReconcile, Repo: repo}); err != nil {
			h.Log.ErrorContext(ctx, "background reconcile failed", "repository", repo.String(), "error", err)
		}
	}()
	return passID
}

type healthResponse struct {
	Status        string `json:"status"`
	NATS          string `json:"nats"`
	WSConnections int    `json:"ws_connections"`
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", NATS: "disabled"}
	if h.Queue != nil {
		resp.NATS = "connected"
		if !h.Queue.IsConnected() {
			resp.NATS = "disconnected"
		}
	}
	if h.Connections != nil {
		resp.WSConnections = h.Connections()
	}
	writeJSON(w, http.StatusOK, resp)
}
