package annotation

import (
	"fmt"
	"math"
)

// Policy decides which interval labels an epoch that straddles several.
type Policy int

const (
	// PolicyEpochStart labels an epoch with the interval in force at its
	// start instant. Where intervals overlap at that instant the one with the
	// earlier onset wins.
	PolicyEpochStart Policy = iota
	// PolicyMajority labels an epoch with the stage covering most of it.
	PolicyMajority
)

func (p Policy) String() string {
	switch p {
	case PolicyEpochStart:
		return "epoch-start"
	case PolicyMajority:
		return "majority"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses the names returned by Policy.String.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "epoch-start":
		return PolicyEpochStart, nil
	case "majority":
		return PolicyMajority, nil
	default:
		return 0, fmt.Errorf("unknown discretization policy %q", s)
	}
}

// Options controls how native encodings become contiguous tracks.
type Options struct {
	Policy Policy `json:"policy"`
	// MaxGapEpochs is the longest run of unlabelled epochs inside a track
	// that is repaired with StageUnknown. Longer gaps are malformed.
	MaxGapEpochs int `json:"max_gap_epochs"`
}

// DefaultOptions returns the start-of-epoch policy with single-epoch gap repair.
func DefaultOptions() Options {
	return Options{Policy: PolicyEpochStart, MaxGapEpochs: 1}
}

// Interval is a labelled span [Onset, Onset+Duration) in seconds from the
// recording start. A non-positive Duration marks a stage change that lasts
// until the next interval.
type Interval struct {
	Onset    float64
	Duration float64
	Stage    Stage
}

func (iv Interval) end() float64 {
	return iv.Onset + iv.Duration
}

// Discretize converts intervals, given in file order, into a per-epoch track.
// Epochs before the first interval are Unknown so that epoch 0 stays aligned
// with the recording start.
func Discretize(intervals []Interval, epochSeconds float64, opts Options) (*Track, error) {
	if epochSeconds <= 0 {
		return nil, fmt.Errorf("%w: epoch length %v", ErrMalformedAnnotation, epochSeconds)
	}
	if len(intervals) == 0 {
		return nil, fmt.Errorf("%w: no scored intervals", ErrMalformedAnnotation)
	}

	ivs, err := closeMarkers(intervals, epochSeconds)
	if err != nil {
		return nil, err
	}

	eps := epochSeconds * 1e-6
	var end float64
	for _, iv := range ivs {
		end = math.Max(end, iv.end())
	}
	n := int(math.Ceil(end/epochSeconds - 1e-6))

	labels := make([]Stage, n)
	covered := make([]bool, n)
	for k := range labels {
		start := float64(k) * epochSeconds
		var ok bool
		switch opts.Policy {
		case PolicyMajority:
			labels[k], ok = majority(ivs, start, start+epochSeconds, eps)
		default:
			labels[k], ok = atInstant(ivs, start, eps)
		}
		covered[k] = ok
	}

	if err := repairGaps(labels, covered, opts.MaxGapEpochs, true); err != nil {
		return nil, err
	}
	return &Track{Labels: labels, EpochSeconds: epochSeconds}, nil
}

// closeMarkers checks onset order and gives zero-length markers an end.
func closeMarkers(intervals []Interval, epochSeconds float64) ([]Interval, error) {
	out := make([]Interval, len(intervals))
	copy(out, intervals)
	for i := range out {
		if out[i].Onset < 0 || math.IsNaN(out[i].Onset) || math.IsInf(out[i].Onset, 0) {
			return nil, fmt.Errorf("%w: interval %d has onset %v", ErrMalformedAnnotation, i, out[i].Onset)
		}
		if i > 0 && out[i].Onset < out[i-1].Onset {
			return nil, fmt.Errorf("%w: non-monotonic onset %v after %v at interval %d",
				ErrMalformedAnnotation, out[i].Onset, out[i-1].Onset, i)
		}
	}
	for i := range out {
		if out[i].Duration > 0 {
			continue
		}
		if i+1 < len(out) && out[i+1].Onset > out[i].Onset {
			out[i].Duration = out[i+1].Onset - out[i].Onset
		} else {
			out[i].Duration = epochSeconds
		}
	}
	return out, nil
}

// atInstant returns the stage of the earliest interval covering t.
func atInstant(ivs []Interval, t, eps float64) (Stage, bool) {
	for _, iv := range ivs {
		if iv.Onset > t+eps {
			break
		}
		if t < iv.end()-eps {
			return iv.Stage, true
		}
	}
	return StageUnknown, false
}

// majority returns the stage covering most of [from, to). Ties go to the
// stage seen first.
func majority(ivs []Interval, from, to, eps float64) (Stage, bool) {
	var order []Stage
	cover := make(map[Stage]float64)
	for _, iv := range ivs {
		if iv.Onset >= to-eps {
			break
		}
		overlap := math.Min(to, iv.end()) - math.Max(from, iv.Onset)
		if overlap <= eps {
			continue
		}
		if _, seen := cover[iv.Stage]; !seen {
			order = append(order, iv.Stage)
		}
		cover[iv.Stage] += overlap
	}
	if len(order) == 0 {
		return StageUnknown, false
	}
	best := order[0]
	for _, s := range order[1:] {
		if cover[s] > cover[best]+eps {
			best = s
		}
	}
	return best, true
}

// repairGaps fills unlabelled runs of at most maxGap epochs with
// StageUnknown. A leading run is always filled when leadingFree is set.
func repairGaps(labels []Stage, covered []bool, maxGap int, leadingFree bool) error {
	first := 0
	for first < len(covered) && !covered[first] {
		labels[first] = StageUnknown
		first++
	}
	if first == len(covered) {
		return fmt.Errorf("%w: no scored epochs", ErrMalformedAnnotation)
	}
	if !leadingFree && first > maxGap {
		return fmt.Errorf("%w: gap of %d epochs before epoch %d", ErrMalformedAnnotation, first, first)
	}

	for k := first; k < len(covered); {
		if covered[k] {
			k++
			continue
		}
		run := k
		for run < len(covered) && !covered[run] {
			labels[run] = StageUnknown
			run++
		}
		if run-k > maxGap {
			return fmt.Errorf("%w: gap of %d epochs at epoch %d", ErrMalformedAnnotation, run-k, k)
		}
		k = run
	}
	return nil
}
