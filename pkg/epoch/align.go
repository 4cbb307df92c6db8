// Package epoch slices a conditioned signal into labeled fixed-duration
// epochs and packs runs of them into fixed-length sequences.
package epoch

import (
	"errors"
	"fmt"
	"math"

	"github.com/unijord/sleepseq/pkg/condition"
	"github.com/unijord/sleepseq/pkg/ingestor/annotation"
)

var (
	// ErrInsufficientData is returned when fewer usable epochs overlap than
	// the configured minimum.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrRateMismatch is returned when the signal is not at the target rate.
	ErrRateMismatch = errors.New("signal rate differs from target rate")
	// ErrFractionalEpoch is returned when an epoch is not a whole number of samples.
	ErrFractionalEpoch = errors.New("epoch length is not a whole number of samples")
)

// InsufficientDataError reports the epoch counts behind ErrInsufficientData.
type InsufficientDataError struct {
	SignalEpochs int
	LabelEpochs  int
	Usable       int
	Required     int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%v: %d usable epochs (signal %d, labels %d), need %d",
		ErrInsufficientData, e.Usable, e.SignalEpochs, e.LabelEpochs, e.Required)
}

func (e *InsufficientDataError) Unwrap() error {
	return ErrInsufficientData
}

// Epoch is one labeled window. Data rows are views into the conditioned
// signal, one per lead.
type Epoch struct {
	Index int
	Label annotation.Stage
	Data  [][]float64
}

// Options tunes alignment.
type Options struct {
	// MinEpochs is the smallest acceptable overlap. Values below 1 mean 1.
	MinEpochs int `json:"min_epochs"`
}

// Alignment is the result of Align.
type Alignment struct {
	Epochs       []Epoch
	SignalEpochs int
	LabelEpochs  int
	// Usable is min(SignalEpochs, LabelEpochs).
	Usable int
	// SamplesPerEpoch is the per-lead length of each epoch.
	SamplesPerEpoch int
	// Warnings describes dropped tails. It is empty when the counts agree.
	Warnings []string
}

// Align pairs the signal with the label track epoch by epoch. When the counts
// disagree the longer side loses its tail; the head is never dropped.
func Align(sig *condition.Signal, track *annotation.Track, epochSeconds, targetRate float64, opts Options) (*Alignment, error) {
	if err := sig.Validate(); err != nil {
		return nil, err
	}
	if sig.Rate != targetRate {
		return nil, fmt.Errorf("%w: %g Hz, want %g Hz", ErrRateMismatch, sig.Rate, targetRate)
	}
	if epochSeconds <= 0 {
		return nil, fmt.Errorf("%w: epoch length %g s", ErrFractionalEpoch, epochSeconds)
	}
	exact := epochSeconds * targetRate
	spe := int(math.Round(exact))
	if spe < 1 || math.Abs(exact-float64(spe)) > 1e-6 {
		return nil, fmt.Errorf("%w: %g s at %g Hz", ErrFractionalEpoch, epochSeconds, targetRate)
	}

	if math.Abs(track.EpochSeconds-epochSeconds) > 1e-9 {
		rescaled, err := track.Rescale(epochSeconds)
		if err != nil {
			return nil, err
		}
		track = rescaled
	}

	a := &Alignment{
		SignalEpochs:    sig.Len() / spe,
		LabelEpochs:     track.Len(),
		SamplesPerEpoch: spe,
	}
	a.Usable = min(a.SignalEpochs, a.LabelEpochs)
	switch {
	case a.SignalEpochs > a.LabelEpochs:
		a.Warnings = append(a.Warnings, fmt.Sprintf("signal has %d epochs but labels cover %d; dropped %d signal epochs from the tail",
			a.SignalEpochs, a.LabelEpochs, a.SignalEpochs-a.LabelEpochs))
	case a.LabelEpochs > a.SignalEpochs:
		a.Warnings = append(a.Warnings, fmt.Sprintf("labels cover %d epochs but signal has %d; dropped %d labels from the tail",
			a.LabelEpochs, a.SignalEpochs, a.LabelEpochs-a.SignalEpochs))
	}

	required := max(opts.MinEpochs, 1)
	if a.Usable < required {
		return nil, &InsufficientDataError{
			SignalEpochs: a.SignalEpochs,
			LabelEpochs:  a.LabelEpochs,
			Usable:       a.Usable,
			Required:     required,
		}
	}

	a.Epochs = make([]Epoch, a.Usable)
	for i := range a.Epochs {
		lo, hi := i*spe, (i+1)*spe
		data := make([][]float64, len(sig.Data))
		for c, row := range sig.Data {
			data[c] = row[lo:hi:hi]
		}
		a.Epochs[i] = Epoch{Index: i, Label: track.Labels[i], Data: data}
	}
	return a, nil
}
