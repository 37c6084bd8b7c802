// Package harness probes a running CMU-TCP endpoint with crafted segments and
// checks its replies against the expected handshake and acknowledgment rules.
package harness

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"firestige.xyz/cmutcp/internal/core"
)

// FailureKind classifies a failed scenario.
type FailureKind string

const (
	KindNone                 FailureKind = ""
	KindTimeout              FailureKind = "timeout"
	KindUnexpectedReply      FailureKind = "unexpected_reply"
	KindFieldMismatch        FailureKind = "field_mismatch"
	KindDecodeError          FailureKind = "decode_error"
	KindOrchestration        FailureKind = "orchestration"
	KindInsufficientEvidence FailureKind = "insufficient_evidence"
)

// kindOf maps a scenario error onto its failure kind.
func kindOf(err error) FailureKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, core.ErrOrchestration):
		return KindOrchestration
	case errors.Is(err, core.ErrTimeout):
		return KindTimeout
	case errors.Is(err, core.ErrUnexpectedReply):
		return KindUnexpectedReply
	case errors.Is(err, core.ErrFieldMismatch):
		return KindFieldMismatch
	case errors.Is(err, core.ErrInsufficientEvidence):
		return KindInsufficientEvidence
	case core.IsDecodeError(err):
		return KindDecodeError
	default:
		return KindOrchestration
	}
}

// Mismatch names one field whose observed value differs from the expected one.
type Mismatch struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Observed string `json:"observed"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: expected %s, observed %s", m.Field, m.Expected, m.Observed)
}

// MismatchError carries the field mismatches of a failed check.
type MismatchError struct {
	Context    string
	Mismatches []Mismatch
}

func (e *MismatchError) Error() string {
	parts := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		parts[i] = m.String()
	}
	msg := strings.Join(parts, "; ")
	if e.Context != "" {
		msg = e.Context + ": " + msg
	}
	return core.ErrFieldMismatch.Error() + ": " + msg
}

func (e *MismatchError) Unwrap() error {
	return core.ErrFieldMismatch
}

// Result is the outcome of one scenario.
type Result struct {
	RunID      string        `json:"run_id"`
	Scenario   string        `json:"scenario"`
	Passed     bool          `json:"passed"`
	Kind       FailureKind   `json:"kind,omitempty"`
	Diagnostic string        `json:"diagnostic,omitempty"`
	Mismatches []Mismatch    `json:"mismatches,omitempty"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration_ns"`
}

// Outcome is "pass" or the failure kind.
func (r Result) Outcome() string {
	if r.Passed {
		return "pass"
	}
	return string(r.Kind)
}

func (r Result) String() string {
	if r.Passed {
		return fmt.Sprintf("PASS %s (%s)", r.Scenario, r.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("FAIL %s [%s] %s (%s)", r.Scenario, r.Kind, r.Diagnostic, r.Duration.Round(time.Millisecond))
}

// newResult turns the error returned by a scenario into a Result.
func newResult(runID, scenario string, started time.Time, err error) Result {
	res := Result{
		RunID:    runID,
		Scenario: scenario,
		Passed:   err == nil,
		Started:  started,
		Duration: time.Since(started),
	}
	if err == nil {
		return res
	}
	res.Kind = kindOf(err)
	res.Diagnostic = err.Error()
	var me *MismatchError
	if errors.As(err, &me) {
		res.Mismatches = me.Mismatches
	}
	return res
}
