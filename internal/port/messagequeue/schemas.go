package messagequeue

// ReconcileRequestPayload is the schema for ledgersync.reconcile messages.
type ReconcileRequestPayload struct {
	Repository string `json:"repository"`
	RequestID  string `json:"request_id,omitempty"`
	PassID     string `json:"pass_id,omitempty"` // assigned by the requester when set
}

// PassCompletedPayload is the schema for ledgersync.pass.completed messages.
type PassCompletedPayload struct {
	PassID     string           `json:"pass_id"`
	Repository string           `json:"repository"`
	Considered int              `json:"considered"`
	Missing    int              `json:"missing"`
	Created    int              `json:"created"`
	Failed     int              `json:"failed"`
	Failures   []FailurePayload `json:"failures,omitempty"`
}

// FailurePayload names one issue whose entry could not be created.
type FailurePayload struct {
	Number int    `json:"number"`
	Error  string `json:"error"`
}

// IssueSyncedPayload is the schema for ledgersync.issue.synced messages.
type IssueSyncedPayload struct {
	Repository string `json:"repository"`
	Number     int    `json:"number"`
	EntryID    string `json:"entry_id"`
	Action     string `json:"action"`
}
