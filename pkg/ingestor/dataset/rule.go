// Package dataset holds the per-dataset rules that configure channel
// resolution, signal reading and label parsing.
package dataset

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/unijord/sleepseq/pkg/ingestor/annotation"
	"github.com/unijord/sleepseq/pkg/ingestor/channel"
	"github.com/unijord/sleepseq/pkg/ingestor/reader"
)

// Rule describes one public PSG dataset. Rules are immutable once registered;
// Registry.Resolve hands out deep copies.
type Rule struct {
	ID string `json:"id"`

	// Leads is the default canonical lead request, in output channel order.
	Leads   []string           `json:"leads"`
	Aliases channel.AliasTable `json:"aliases,omitempty"`
	// AutoInfer adds inferred spellings even when Aliases is set.
	AutoInfer bool `json:"auto_infer,omitempty"`

	SignalFormat     reader.Format     `json:"signal_format"`
	AnnotationFormat annotation.Format `json:"annotation_format"`

	// SignalExt and AnnotationExt are the file extensions searched under the
	// data root, including the dot.
	SignalExt     []string `json:"signal_ext"`
	AnnotationExt []string `json:"annotation_ext"`
	// AnnotationSuffix tells annotation files from signal files sharing an
	// extension, e.g. "-arousal" for PHY. When both extensions match and the
	// suffix is empty, the signal file carries its own labels.
	AnnotationSuffix string `json:"annotation_suffix,omitempty"`

	EpochSeconds float64 `json:"epoch_seconds"`
	// SampleRate is the native rate for containers that do not record it.
	SampleRate float64 `json:"sample_rate,omitempty"`

	SignalLabels   []string `json:"signal_labels,omitempty"`
	SignalVariable string   `json:"signal_variable,omitempty"`
	SignalGroups   []string `json:"signal_groups,omitempty"`

	// SubjectPattern is matched against the signal file stem; its first
	// capture group is the subject ID.
	SubjectPattern string `json:"subject_pattern,omitempty"`
	// SubjectFromDir takes the subject ID from the parent directory, for
	// layouts with one generically named recording per folder.
	SubjectFromDir bool `json:"subject_from_dir,omitempty"`

	// MaxGapEpochs overrides the annotation gap repair limit when positive.
	MaxGapEpochs int `json:"max_gap_epochs,omitempty"`

	subjectRE *regexp.Regexp
}

// Validate checks the rule and compiles its subject pattern.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	if len(r.Leads) == 0 {
		return fmt.Errorf("%w: %s: at least one lead is required", ErrInvalidRule, r.ID)
	}
	for _, l := range r.Leads {
		if strings.TrimSpace(l) == "" {
			return fmt.Errorf("%w: %s: empty lead name", ErrInvalidRule, r.ID)
		}
	}

	switch r.SignalFormat {
	case reader.FormatEDF:
	case reader.FormatMAT, reader.FormatHDF5:
		if r.SampleRate <= 0 {
			return fmt.Errorf("%w: %s: %s signals need a sample_rate", ErrInvalidRule, r.ID, r.SignalFormat)
		}
	default:
		return fmt.Errorf("%w: %s: signal format %q", ErrInvalidRule, r.ID, r.SignalFormat)
	}
	if !slices.Contains(annotation.Formats(), r.AnnotationFormat) {
		return fmt.Errorf("%w: %s: annotation format %q", ErrInvalidRule, r.ID, r.AnnotationFormat)
	}

	if len(r.SignalExt) == 0 || len(r.AnnotationExt) == 0 {
		return fmt.Errorf("%w: %s: signal and annotation extensions are required", ErrInvalidRule, r.ID)
	}
	for _, ext := range append(slices.Clone(r.SignalExt), r.AnnotationExt...) {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("%w: %s: extension %q must start with a dot", ErrInvalidRule, r.ID, ext)
		}
	}

	if r.EpochSeconds <= 0 {
		return fmt.Errorf("%w: %s: epoch_seconds must be positive", ErrInvalidRule, r.ID)
	}
	if r.SampleRate < 0 || r.MaxGapEpochs < 0 {
		return fmt.Errorf("%w: %s: negative sample_rate or max_gap_epochs", ErrInvalidRule, r.ID)
	}

	r.subjectRE = nil
	if r.SubjectPattern != "" {
		re, err := regexp.Compile(r.SubjectPattern)
		if err != nil {
			return fmt.Errorf("%w: %s: subject_pattern: %v", ErrInvalidRule, r.ID, err)
		}
		if re.NumSubexp() < 1 {
			return fmt.Errorf("%w: %s: subject_pattern needs a capture group", ErrInvalidRule, r.ID)
		}
		r.subjectRE = re
	}
	return nil
}

// Clone returns a deep copy of r.
func (r Rule) Clone() Rule {
	out := r
	out.Leads = slices.Clone(r.Leads)
	out.Aliases = r.Aliases.Clone()
	out.SignalExt = slices.Clone(r.SignalExt)
	out.AnnotationExt = slices.Clone(r.AnnotationExt)
	out.SignalLabels = slices.Clone(r.SignalLabels)
	out.SignalGroups = slices.Clone(r.SignalGroups)
	return out
}

// SubjectID derives the subject identifier of the signal file at path.
// Without a pattern the file stem is used with dots replaced by underscores.
func (r *Rule) SubjectID(path string) string {
	stem := Stem(path)
	if r.SubjectFromDir {
		stem = filepath.Base(filepath.Dir(path))
	}
	if r.subjectRE != nil {
		if m := r.subjectRE.FindStringSubmatch(stem); len(m) > 1 && m[1] != "" {
			stem = m[1]
		}
	}
	return strings.ReplaceAll(stem, ".", "_")
}

// ReaderOptions projects the rule onto signal reader options.
func (r *Rule) ReaderOptions() reader.Options {
	return reader.Options{
		Rate:     r.SampleRate,
		Labels:   slices.Clone(r.SignalLabels),
		Variable: r.SignalVariable,
		Groups:   slices.Clone(r.SignalGroups),
	}
}

// AnnotationOptions projects the rule onto label parser options.
func (r *Rule) AnnotationOptions() annotation.Options {
	opts := annotation.DefaultOptions()
	if r.MaxGapEpochs > 0 {
		opts.MaxGapEpochs = r.MaxGapEpochs
	}
	return opts
}

// Stem returns the file name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
