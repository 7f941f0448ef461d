package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Failure records one issue whose ledger mutation failed.
type Failure struct {
	Number int
	Err    error
}

// Detail returns the failure's error text.
func (f Failure) Detail() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

// MarshalJSON renders the error as text.
func (f Failure) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Number int    `json:"number"`
		Error  string `json:"error"`
	}{f.Number, f.Detail()})
}

// Outcome summarizes a completed reconciliation pass.
type Outcome struct {
	PassID     string    `json:"pass_id"`
	Repository string    `json:"repository"`
	Considered int       `json:"considered"`
	Missing    int       `json:"missing"`
	Created    int       `json:"created"`
	Failures   []Failure `json:"failures,omitempty"`
}

// Failed returns the number of failed creations.
func (o *Outcome) Failed() int { return len(o.Failures) }

// PartialFailureError is returned alongside a complete Outcome when at least
// one creation failed. It carries every per-issue failure.
type PartialFailureError struct {
	Repository string
	Failures   []Failure
}

func (e *PartialFailureError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("reconcile %s: no failures", e.Repository)
	}
	first := e.Failures[0]
	var b strings.Builder
	fmt.Fprintf(&b, "reconcile %s: %d of the missing issues failed; first: issue #%d: %s",
		e.Repository, len(e.Failures), first.Number, first.Detail())
	return b.String()
}

// Unwrap exposes every per-issue error to errors.Is / errors.As.
func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}
