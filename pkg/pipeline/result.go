package pipeline

import (
	"fmt"
	"time"
)

type Status int

const (
	// StatusOK means every sequence of the subject was written.
	StatusOK Status = iota

	// StatusFailed means a stage failed; nothing was written for the
	// subject or the partial output was abandoned.
	StatusFailed

	// StatusSkipped means the ledger already records the subject as done.
	StatusSkipped
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Stage names reported in Outcome.Reason.
const (
	StageRead       = "read"
	StageAnnotation = "annotation"
	StageResolve    = "resolve"
	StageCondition  = "condition"
	StageAlign      = "align"
	StagePack       = "pack"
	StageWrite      = "write"
	StageLedger     = "ledger"
)

// StageError ties a subject failure to the stage that produced it.
type StageError struct {
	Subject string
	Stage   string
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("subject %s: %s: %v", e.Subject, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Outcome is the result of one subject.
type Outcome struct {
	Subject    string
	Signal     string
	Annotation string

	Status Status

	// Reason is the failing stage, empty on success.
	Reason string
	Err    error

	Sequences int
	Epochs    int
	Bytes     int64
	// Checksum is the xxhash64 of every byte written for the subject, in
	// file order.
	Checksum uint64

	// Warnings carries non-fatal notes such as truncated tails or missing
	// references.
	Warnings []string
	Duration time.Duration
}

// IsOK returns true if the subject was written.
func (o Outcome) IsOK() bool {
	return o.Status == StatusOK
}

// Summary describes a finished run.
type Summary struct {
	RunID   string
	Dataset string

	Discovered int
	// Filtered counts subjects rejected by the filter expression.
	Filtered  int
	Attempted int
	Succeeded int
	Failed    int
	Skipped   int

	// Outcomes are in discovery order.
	Outcomes []Outcome

	// NoSubjects is set when discovery found nothing to pair; Diagnostic
	// then names the root and patterns searched.
	NoSubjects bool
	Diagnostic string
	// Unpaired lists signal files with no annotation.
	Unpaired []string

	Bytes   int64
	Elapsed time.Duration
}

// Add records an outcome and updates the counts.
func (s *Summary) Add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case StatusOK:
		s.Attempted++
		s.Succeeded++
		s.Bytes += o.Bytes
	case StatusFailed:
		s.Attempted++
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	}
}

// OK reports whether the run produced output or had nothing left to do:
// at least one subject succeeded, or every selected subject was already done.
func (s *Summary) OK() bool {
	if s.Succeeded > 0 {
		return true
	}
	return s.Failed == 0 && s.Skipped > 0
}

// Failures returns the failed outcomes.
func (s *Summary) Failures() []Outcome {
	var out []Outcome
	for _, o := range s.Outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}
