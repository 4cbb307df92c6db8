package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/unijord/sleepseq/pkg/condition"
	"github.com/unijord/sleepseq/pkg/ingestor/annotation"
	"github.com/unijord/sleepseq/pkg/ingestor/dataset"
)

var (
	// ErrNoDataset is returned when Dataset is empty.
	ErrNoDataset = errors.New("dataset is required")
	// ErrNoDataRoot is returned when DataRoot is empty.
	ErrNoDataRoot = errors.New("data_root is required")
	// ErrNoOutRoot is returned when OutRoot is empty.
	ErrNoOutRoot = errors.New("out_root is required")
	// ErrInvalidTargetRate is returned when target_rate is not positive.
	ErrInvalidTargetRate = errors.New("target_rate must be positive")
	// ErrInvalidEpochSeconds is returned when epoch_seconds is negative.
	ErrInvalidEpochSeconds = errors.New("epoch_seconds must not be negative")
	// ErrInvalidSeqLen is returned when seq_len is not positive.
	ErrInvalidSeqLen = errors.New("seq_len must be positive")
	// ErrInvalidStride is returned when stride is negative.
	ErrInvalidStride = errors.New("stride must not be negative")
	// ErrInvalidMaxSubjects is returned when max_subjects is negative.
	ErrInvalidMaxSubjects = errors.New("max_subjects must not be negative (0 means unbounded)")
	// ErrInvalidWorkers is returned when workers is negative.
	ErrInvalidWorkers = errors.New("workers must not be negative")
	// ErrInvalidMinEpochs is returned when min_epochs is negative.
	ErrInvalidMinEpochs = errors.New("min_epochs must not be negative")
	// ErrInvalidMaxGapEpochs is returned when max_gap_epochs is negative.
	ErrInvalidMaxGapEpochs = errors.New("max_gap_epochs must not be negative")
	// ErrEmptyLead is returned when a requested lead is blank.
	ErrEmptyLead = errors.New("lead name cannot be empty")
	// ErrDuplicateLead is returned when a lead is requested twice.
	ErrDuplicateLead = errors.New("duplicate lead")
	// ErrResumeWithoutLedger is returned when resume is set without ledger_path.
	ErrResumeWithoutLedger = errors.New("resume requires ledger_path")
)

// Config drives one dataset run. Zero values fall back to the dataset rule
// or to the defaults noted per field.
type Config struct {
	// Dataset is the rule ID, matched case-insensitively.
	Dataset  string `json:"dataset"`
	DataRoot string `json:"data_root"`
	OutRoot  string `json:"out_root"`

	// Leads is the canonical lead request in output channel order.
	// Empty means the rule's default leads.
	Leads []string `json:"leads,omitempty"`

	// TargetRate is the output sampling rate in Hz.
	TargetRate float64 `json:"target_rate"`

	// EpochSeconds overrides the rule's epoch length when positive.
	EpochSeconds float64 `json:"epoch_seconds,omitempty"`

	// SeqLen is the number of epochs per output sequence.
	SeqLen int `json:"seq_len"`
	// Stride between sequence starts in epochs. 0 means SeqLen.
	Stride int `json:"stride,omitempty"`

	// MaxSubjects caps the subjects attempted. 0 means unbounded.
	MaxSubjects int `json:"max_subjects,omitempty"`

	// MinEpochs is the smallest usable overlap. 0 means SeqLen.
	MinEpochs int `json:"min_epochs,omitempty"`

	// Workers bounds concurrent subjects. 0 means GOMAXPROCS.
	Workers int `json:"workers,omitempty"`

	Condition condition.Config `json:"condition"`

	// Resolver switches.
	DisableFuzzy       bool     `json:"disable_fuzzy,omitempty"`
	HemisphereFallback bool     `json:"hemisphere_fallback,omitempty"`
	AutoInfer          bool     `json:"auto_infer,omitempty"`
	Excluded           []string `json:"excluded,omitempty"`

	// Annotation discretization.
	AnnotationPolicy annotation.Policy `json:"annotation_policy,omitempty"`
	// MaxGapEpochs overrides the rule's gap repair limit when positive.
	MaxGapEpochs int `json:"max_gap_epochs,omitempty"`

	// Filter is a CEL predicate over discovered subjects.
	Filter string `json:"filter,omitempty"`

	// LedgerPath enables the run ledger.
	LedgerPath string `json:"ledger_path,omitempty"`
	// Resume skips subjects the ledger records as done.
	Resume bool `json:"resume,omitempty"`

	// Registry defaults to dataset.Builtin().
	Registry *dataset.Registry `json:"-"`
	Logger   *slog.Logger      `json:"-"`
}

// DefaultConfig returns a Config with the standard rate, sequence length and
// conditioning chain. Dataset and roots must still be set.
func DefaultConfig() Config {
	return Config{
		TargetRate: 100,
		SeqLen:     20,
		Condition:  condition.DefaultConfig(),
	}
}

// Validate checks the run configuration. The dataset itself is resolved by
// Run.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Dataset) == "" {
		return ErrNoDataset
	}
	if c.DataRoot == "" {
		return ErrNoDataRoot
	}
	if c.OutRoot == "" {
		return ErrNoOutRoot
	}
	if c.TargetRate <= 0 || math.IsNaN(c.TargetRate) || math.IsInf(c.TargetRate, 0) {
		return fmt.Errorf("%w: %g", ErrInvalidTargetRate, c.TargetRate)
	}
	if c.EpochSeconds < 0 {
		return fmt.Errorf("%w: %g", ErrInvalidEpochSeconds, c.EpochSeconds)
	}
	if c.SeqLen <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSeqLen, c.SeqLen)
	}
	if c.Stride < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidStride, c.Stride)
	}
	if c.MaxSubjects < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxSubjects, c.MaxSubjects)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Workers)
	}
	if c.MinEpochs < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMinEpochs, c.MinEpochs)
	}
	if c.MaxGapEpochs < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxGapEpochs, c.MaxGapEpochs)
	}

	seen := make(map[string]struct{}, len(c.Leads))
	for _, lead := range c.Leads {
		if strings.TrimSpace(lead) == "" {
			return ErrEmptyLead
		}
		key := strings.ToUpper(lead)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateLead, lead)
		}
		seen[key] = struct{}{}
	}

	if c.Resume && c.LedgerPath == "" {
		return ErrResumeWithoutLedger
	}

	cond := c.Condition
	cond.TargetRate = c.TargetRate
	if err := cond.Validate(); err != nil {
		return fmt.Errorf("condition: %w", err)
	}
	return nil
}
