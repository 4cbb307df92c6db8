// Package sleepseq turns public polysomnography datasets into fixed-length,
// labelled sequences of conditioned signal epochs.
//
// Each subject's recording is read, its channels are bound to canonical
// leads, filtered, resampled and z-scored, cut into scoring epochs aligned
// with the hypnogram, and written as paired .npy files:
//
//	out_root/<DATASET>/seq/<dataset>-<subject>-<n>.npy    float32 (seq_len, C, T)
//	out_root/<DATASET>/label/<dataset>-<subject>-<n>.npy  int64   (seq_len,)
//
// Stage codes are W=0, N1=1, N2=2, N3=3 (N4 folds into N3), REM=4 and
// Unknown=5.
//
// Preprocess covers the common case. pipeline.Run exposes every switch.
package sleepseq

import (
	"context"
	"log/slog"

	"github.com/unijord/sleepseq/pkg/ingestor/dataset"
	"github.com/unijord/sleepseq/pkg/pipeline"
)

// Defaults applied by Preprocess to zero Options fields.
const (
	DefaultFS     = 100
	DefaultSeqLen = 20
)

// ErrUnknownDataset is returned for dataset names no rule is registered for.
var ErrUnknownDataset = dataset.ErrUnknownDataset

// Options selects the dataset and shapes the output.
type Options struct {
	// DatasetName is matched case-insensitively against the built-in rules.
	DatasetName string
	DataRoot    string
	OutRoot     string

	// Channels are canonical leads in output order. Empty means the
	// dataset's default leads.
	Channels []string

	// FS is the output sampling rate in Hz.
	FS float64
	// SeqLen is the number of epochs per sequence.
	SeqLen int
	// MaxSubjects caps the subjects processed. 0 means all of them.
	MaxSubjects int

	Logger *slog.Logger
}

// Preprocess normalizes every subject of a dataset. Subject failures are
// reported in the Summary and do not stop the run; an unknown dataset or an
// invalid option is returned as an error.
func Preprocess(ctx context.Context, opts Options) (*pipeline.Summary, error) {
	cfg := pipeline.DefaultConfig()
	cfg.Dataset = opts.DatasetName
	cfg.DataRoot = opts.DataRoot
	cfg.OutRoot = opts.OutRoot
	cfg.Leads = opts.Channels
	cfg.MaxSubjects = opts.MaxSubjects
	cfg.Logger = opts.Logger

	cfg.TargetRate = DefaultFS
	if opts.FS != 0 {
		cfg.TargetRate = opts.FS
	}
	cfg.SeqLen = DefaultSeqLen
	if opts.SeqLen != 0 {
		cfg.SeqLen = opts.SeqLen
	}
	return pipeline.Run(ctx, cfg)
}

// Datasets returns the IDs of the built-in dataset rules.
func Datasets() []string {
	return dataset.Builtin().IDs()
}
