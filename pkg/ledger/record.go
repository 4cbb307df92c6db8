package ledger

import (
	"encoding/json"
	"strings"
)

// Subject states
const (
	StateStarted uint8 = 1
	StateDone    uint8 = 2
	StateFailed  uint8 = 3
)

// StateName returns the display name of a state.
func StateName(s uint8) string {
	switch s {
	case StateStarted:
		return "started"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SubjectRecord is the BoltDB value for a subject.
type SubjectRecord struct {
	// StateStarted, StateDone, or StateFailed
	State   uint8  `json:"state"`
	Dataset string `json:"dataset"`
	Subject string `json:"subject"`
	// Run that last touched the record
	RunID string `json:"run_id"`

	SignalPath     string `json:"signal_path,omitempty"`
	AnnotationPath string `json:"annotation_path,omitempty"`

	Sequences uint32 `json:"sequences,omitempty"`
	Epochs    uint32 `json:"epochs,omitempty"`
	Bytes     uint64 `json:"bytes,omitempty"`
	// xxhash64 over every byte written for the subject
	Checksum uint64 `json:"checksum,omitempty"`

	// Timestamps (microseconds since epoch)
	StartedAt  uint64 `json:"started_at"`
	FinishedAt uint64 `json:"finished_at,omitempty"`

	AttemptCount  uint32 `json:"attempt_count,omitempty"`
	FailureStage  string `json:"failure_stage,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Encode serializes the SubjectRecord to JSON bytes.
func (r *SubjectRecord) Encode() []byte {
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return data
}

func DecodeSubjectRecord(data []byte) *SubjectRecord {
	if len(data) == 0 {
		return nil
	}
	var r SubjectRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil
	}
	return &r
}

const keySep = "/"

// Key builds the bucket key of a subject.
func Key(dataset, subject string) []byte {
	return []byte(dataset + keySep + subject)
}

// SplitKey is the inverse of Key.
func SplitKey(k []byte) (dataset, subject string) {
	dataset, subject, _ = strings.Cut(string(k), keySep)
	return dataset, subject
}

func datasetPrefix(dataset string) []byte {
	return []byte(dataset + keySep)
}
