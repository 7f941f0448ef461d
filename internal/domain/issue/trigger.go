package issue

// TriggerKind selects which synchronization path handles a trigger.
type TriggerKind string

const (
	TriggerOpened    TriggerKind = "opened"
	TriggerEdited    TriggerKind = "edited"
	TriggerReconcile TriggerKind = "reconcile"
	TriggerIgnored   TriggerKind = "ignored"
)

// Trigger is one inbound request to synchronize. Opened and Edited carry a
// full issue snapshot; Reconcile carries only the repository.
type Trigger struct {
	Kind   TriggerKind `json:"kind"`
	Action string      `json:"action,omitempty"` // raw tracker action, e.g. "labeled"
	Repo   Repo        `json:"repo"`
	Issue  *Issue      `json:"issue,omitempty"`
}

// KindForAction maps a tracker issue action to the path that handles it.
// Anything other than opened, deleted or transferred is a full re-derivation.
func KindForAction(action string) TriggerKind {
	switch action {
	case "opened":
		return TriggerOpened
	case "deleted", "transferred":
		return TriggerIgnored
	default:
		return TriggerEdited
	}
}
