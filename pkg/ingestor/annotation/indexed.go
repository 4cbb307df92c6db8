package annotation

import "fmt"

// EpochLabel is a stage attached to an explicit 0-based epoch index.
type EpochLabel struct {
	Index int
	Stage Stage
}

// FromIndexed builds a track from rows carrying their own epoch index.
// Indices must not decrease. A repeated index is tolerated only when it
// repeats the same stage. Missing indices, including those before the first
// row, are filled with StageUnknown when the run is at most opts.MaxGapEpochs.
func FromIndexed(rows []EpochLabel, epochSeconds float64, opts Options) (*Track, error) {
	if epochSeconds <= 0 {
		return nil, fmt.Errorf("%w: epoch length %v", ErrMalformedAnnotation, epochSeconds)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no scored epochs", ErrMalformedAnnotation)
	}

	last := -1
	for i, r := range rows {
		if r.Index < 0 {
			return nil, fmt.Errorf("%w: row %d has epoch index %d", ErrMalformedAnnotation, i, r.Index)
		}
		if r.Index < last {
			return nil, fmt.Errorf("%w: epoch index %d after %d at row %d", ErrMalformedAnnotation, r.Index, last, i)
		}
		last = r.Index
	}

	labels := make([]Stage, last+1)
	covered := make([]bool, last+1)
	for _, r := range rows {
		if covered[r.Index] {
			if labels[r.Index] != r.Stage {
				return nil, fmt.Errorf("%w: epoch %d labelled both %s and %s",
					ErrMalformedAnnotation, r.Index, labels[r.Index], r.Stage)
			}
			continue
		}
		labels[r.Index] = r.Stage
		covered[r.Index] = true
	}

	if err := repairGaps(labels, covered, opts.MaxGapEpochs, false); err != nil {
		return nil, err
	}
	return &Track{Labels: labels, EpochSeconds: epochSeconds}, nil
}
