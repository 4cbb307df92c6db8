// Package condition turns resolved raw channels into a re-referenced,
// band-limited, resampled and standardized multi-channel signal.
package condition

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/unijord/sleepseq/pkg/dsp"
	"github.com/unijord/sleepseq/pkg/ingestor/channel"
	"github.com/unijord/sleepseq/pkg/ingestor/reader"
)

var (
	// ErrResampleMismatch is returned when channel lengths diverge by more
	// than one sample after resampling.
	ErrResampleMismatch = errors.New("resampled channel lengths differ")
	// ErrInconsistentSignal is returned by Signal.Validate.
	ErrInconsistentSignal = errors.New("inconsistent conditioned signal")
)

// minStd is the standard deviation below which a channel is degenerate.
const minStd = 1e-12

// ResampleMismatchError lists the per-lead lengths after resampling.
type ResampleMismatchError struct {
	Leads   []string
	Lengths []int
}

func (e *ResampleMismatchError) Error() string {
	return fmt.Sprintf("%v: leads %v lengths %v", ErrResampleMismatch, e.Leads, e.Lengths)
}

func (e *ResampleMismatchError) Unwrap() error {
	return ErrResampleMismatch
}

// Signal is the conditioned output: one row per lead, all at Rate.
type Signal struct {
	Leads []string
	Rate  float64
	Data  [][]float64
	// Degenerate marks channels left unnormalized because they are flat or
	// hold non-finite samples.
	Degenerate []bool
	// Unfiltered marks channels whose native rate puts the high-pass edge at
	// or above Nyquist, so no high-pass was applied.
	Unfiltered []bool
}

// Len returns the per-channel sample count.
func (s *Signal) Len() int {
	if len(s.Data) == 0 {
		return 0
	}
	return len(s.Data[0])
}

// Duration returns the signal length in seconds.
func (s *Signal) Duration() float64 {
	if s.Rate <= 0 {
		return 0
	}
	return float64(s.Len()) / s.Rate
}

// Validate checks that every channel has the same length.
func (s *Signal) Validate() error {
	if len(s.Leads) != len(s.Data) || len(s.Degenerate) != len(s.Data) {
		return fmt.Errorf("%w: %d leads, %d channels, %d flags",
			ErrInconsistentSignal, len(s.Leads), len(s.Data), len(s.Degenerate))
	}
	if s.Rate <= 0 {
		return fmt.Errorf("%w: rate %g", ErrInconsistentSignal, s.Rate)
	}
	n := s.Len()
	for i, row := range s.Data {
		if len(row) != n {
			return fmt.Errorf("%w: lead %s has %d samples, want %d", ErrInconsistentSignal, s.Leads[i], len(row), n)
		}
	}
	return nil
}

// Conditioner applies the fixed chain: re-reference, bandpass, notch,
// resample and z-score.
type Conditioner struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and returns a Conditioner.
func New(cfg Config) (*Conditioner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Resampler == nil {
		cfg.Resampler = dsp.Polyphase{}
	}
	if cfg.NotchQ <= 0 {
		cfg.NotchQ = dsp.NotchQ
	}
	cfg.Notch = slices.Clone(cfg.Notch)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Conditioner{cfg: cfg, logger: logger.With("component", "condition")}, nil
}

// Config returns a copy of the conditioner's configuration.
func (c *Conditioner) Config() Config {
	return c.cfg
}

// Condition runs the chain over every lead of m, in mapping order.
func (c *Conditioner) Condition(rec *reader.Recording, m *channel.Mapping) (*Signal, error) {
	sig := &Signal{
		Leads:      m.Leads(),
		Rate:       c.cfg.TargetRate,
		Data:       make([][]float64, len(m.Matches)),
		Degenerate: make([]bool, len(m.Matches)),
		Unfiltered: make([]bool, len(m.Matches)),
	}

	for i, match := range m.Matches {
		x, highpassed, err := c.lead(rec, match)
		if err != nil {
			return nil, fmt.Errorf("lead %s: %w", match.Lead, err)
		}
		sig.Data[i] = x
		sig.Unfiltered[i] = !highpassed
	}

	if err := trimLengths(sig); err != nil {
		return nil, err
	}

	for i, x := range sig.Data {
		mean, std, ok := moments(x)
		if !ok {
			sig.Degenerate[i] = true
			c.logger.Warn("degenerate channel left unnormalized",
				slog.String("path", rec.Path),
				slog.String("lead", sig.Leads[i]),
				slog.Float64("std", std))
			continue
		}
		if c.cfg.Normalize {
			floats.AddConst(-mean, x)
			floats.Scale(1/std, x)
		}
	}

	if err := sig.Validate(); err != nil {
		return nil, err
	}
	return sig, nil
}

// lead conditions one channel. The bool reports whether the high-pass ran;
// it is true when the band has no low edge.
func (c *Conditioner) lead(rec *reader.Recording, match channel.Match) ([]float64, bool, error) {
	raw, err := channelAt(rec, match.Index)
	if err != nil {
		return nil, false, err
	}
	rate := raw.Rate
	x := slices.Clone(raw.Samples)

	if match.Reference != nil {
		ref, err := channelAt(rec, match.Reference.Index)
		if err != nil {
			return nil, false, err
		}
		r := ref.Samples
		if ref.Rate != rate {
			if r, err = c.cfg.Resampler.Resample(r, ref.Rate, rate); err != nil {
				return nil, false, fmt.Errorf("resample reference %s: %w", ref.Label, err)
			}
		}
		n := min(len(x), len(r))
		x = x[:n]
		floats.Sub(x, r[:n])
	}

	band := c.cfg.Band(channel.ClassOf(match.Lead))
	highpassed := band.Low <= 0 || dsp.HighpassApplies(band.Low, rate)
	if !highpassed {
		c.logger.Warn("high-pass edge at or above nyquist; high-pass skipped",
			slog.String("path", rec.Path),
			slog.String("lead", match.Lead),
			slog.Float64("low_hz", band.Low),
			slog.Float64("native_rate", rate))
	}
	bp, err := dsp.Bandpass(band.Low, band.High, rate, c.cfg.FilterOrder)
	if err != nil {
		return nil, false, fmt.Errorf("bandpass at %g Hz: %w", rate, err)
	}
	x = dsp.FiltFilt(bp, x)

	for _, f := range c.cfg.Notch {
		if rate <= 2*f {
			continue
		}
		notch, err := dsp.Notch(f, c.cfg.NotchQ, rate)
		if err != nil {
			return nil, false, err
		}
		x = dsp.FiltFilt(notch, x)
	}

	if rate != c.cfg.TargetRate {
		if x, err = c.cfg.Resampler.Resample(x, rate, c.cfg.TargetRate); err != nil {
			return nil, false, fmt.Errorf("resample %g -> %g Hz: %w", rate, c.cfg.TargetRate, err)
		}
	}

	c.logger.Debug("lead conditioned",
		slog.String("lead", match.Lead),
		slog.String("label", match.Label),
		slog.Float64("native_rate", rate),
		slog.Int("samples", len(x)))
	return x, highpassed, nil
}

func channelAt(rec *reader.Recording, idx int) (*reader.Channel, error) {
	if idx < 0 || idx >= len(rec.Channels) {
		return nil, fmt.Errorf("%w: channel index %d out of range [0, %d)", ErrInconsistentSignal, idx, len(rec.Channels))
	}
	return &rec.Channels[idx], nil
}

// trimLengths cuts every channel to the shortest one, allowing a spread of
// one sample from rounding in the resampler.
func trimLengths(sig *Signal) error {
	if len(sig.Data) == 0 {
		return nil
	}
	lengths := make([]int, len(sig.Data))
	for i, x := range sig.Data {
		lengths[i] = len(x)
	}
	lo, hi := slices.Min(lengths), slices.Max(lengths)
	if hi-lo > 1 {
		return &ResampleMismatchError{Leads: slices.Clone(sig.Leads), Lengths: lengths}
	}
	for i := range sig.Data {
		sig.Data[i] = sig.Data[i][:lo]
	}
	return nil
}

// moments returns the population mean and standard deviation of x. ok is
// false when x is empty, flat or holds a non-finite value.
func moments(x []float64) (mean, std float64, ok bool) {
	if len(x) == 0 || floats.HasNaN(x) {
		return 0, 0, false
	}
	for _, v := range x {
		if math.IsInf(v, 0) {
			return 0, 0, false
		}
	}
	mean, std = stat.PopMeanStdDev(x, nil)
	if math.IsNaN(std) || math.IsInf(std, 0) || std <= minStd {
		return mean, std, false
	}
	return mean, std, true
}
