package annotation

import (
	"fmt"
	"math"
)

// Track is a contiguous per-epoch stage sequence starting at epoch 0.
type Track struct {
	Labels []Stage
	// EpochSeconds is the epoch length the source file was scored at.
	EpochSeconds float64
}

// FromSequence builds a track from labels already in epoch order.
func FromSequence(labels []Stage, epochSeconds float64) (*Track, error) {
	if epochSeconds <= 0 {
		return nil, fmt.Errorf("%w: epoch length %v", ErrMalformedAnnotation, epochSeconds)
	}
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no scored epochs", ErrMalformedAnnotation)
	}
	return &Track{Labels: labels, EpochSeconds: epochSeconds}, nil
}

// Len returns the number of epochs.
func (t *Track) Len() int {
	return len(t.Labels)
}

// Duration returns the scored span in seconds.
func (t *Track) Duration() float64 {
	return float64(len(t.Labels)) * t.EpochSeconds
}

// Counts returns the number of epochs per stage.
func (t *Track) Counts() map[Stage]int {
	out := make(map[Stage]int)
	for _, s := range t.Labels {
		out[s]++
	}
	return out
}

// Rescale re-expresses the track at another epoch length. Each target epoch
// takes the source label in force at its start instant; a trailing partial
// target epoch is dropped.
func (t *Track) Rescale(epochSeconds float64) (*Track, error) {
	if epochSeconds <= 0 {
		return nil, fmt.Errorf("%w: epoch length %v", ErrMalformedAnnotation, epochSeconds)
	}
	if math.Abs(epochSeconds-t.EpochSeconds) < 1e-9 {
		return t, nil
	}

	const eps = 1e-9
	n := int(math.Floor(t.Duration()/epochSeconds + eps))
	if n == 0 {
		return nil, fmt.Errorf("%w: %d epochs of %vs shorter than one %vs epoch",
			ErrMalformedAnnotation, t.Len(), t.EpochSeconds, epochSeconds)
	}

	labels := make([]Stage, n)
	for k := range labels {
		src := int(math.Floor(float64(k)*epochSeconds/t.EpochSeconds + eps))
		labels[k] = t.Labels[src]
	}
	return &Track{Labels: labels, EpochSeconds: epochSeconds}, nil
}
