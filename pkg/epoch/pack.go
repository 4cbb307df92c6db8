package epoch

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSeqLen is returned when the sequence length is zero or negative.
	ErrInvalidSeqLen = errors.New("seq_len must be positive")
	// ErrInvalidStride is returned for a negative stride. Zero means seq_len.
	ErrInvalidStride = errors.New("stride must not be negative")
	// ErrRaggedEpochs is returned when epochs passed to Pack disagree on
	// channel count or samples per epoch.
	ErrRaggedEpochs = errors.New("epochs differ in shape")
)

// Sequence is seq_len consecutive epochs of one subject.
type Sequence struct {
	// Index is the window position, used in output file names.
	Index  int
	Epochs []Epoch
}

// Shape returns (seq_len, channels, samples per epoch).
func (s *Sequence) Shape() []int {
	if len(s.Epochs) == 0 {
		return []int{0, 0, 0}
	}
	first := s.Epochs[0].Data
	t := 0
	if len(first) > 0 {
		t = len(first[0])
	}
	return []int{len(s.Epochs), len(first), t}
}

// Signal flattens the sequence into float32 values in (seq_len, C, T) C
// order.
func (s *Sequence) Signal() []float32 {
	shape := s.Shape()
	out := make([]float32, 0, shape[0]*shape[1]*shape[2])
	for _, e := range s.Epochs {
		for _, row := range e.Data {
			for _, v := range row {
				out = append(out, float32(v))
			}
		}
	}
	return out
}

// Labels returns the stage code of every epoch.
func (s *Sequence) Labels() []int64 {
	out := make([]int64, len(s.Epochs))
	for i, e := range s.Epochs {
		out[i] = int64(e.Label)
	}
	return out
}

// FirstEpoch returns the subject-level index of the first epoch.
func (s *Sequence) FirstEpoch() int {
	if len(s.Epochs) == 0 {
		return 0
	}
	return s.Epochs[0].Index
}

// Pack splits epochs into windows of seqLen starting at 0, stride,
// 2*stride and so on. A zero stride means seqLen. Partial windows are
// dropped.
func Pack(epochs []Epoch, seqLen, stride int) ([]Sequence, error) {
	if seqLen < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSeqLen, seqLen)
	}
	if stride < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStride, stride)
	}
	if stride == 0 {
		stride = seqLen
	}
	if err := checkShapes(epochs); err != nil {
		return nil, err
	}

	var out []Sequence
	for start := 0; start+seqLen <= len(epochs); start += stride {
		out = append(out, Sequence{Index: len(out), Epochs: epochs[start : start+seqLen : start+seqLen]})
	}
	return out, nil
}

func checkShapes(epochs []Epoch) error {
	if len(epochs) == 0 {
		return nil
	}
	channels := len(epochs[0].Data)
	samples := 0
	if channels > 0 {
		samples = len(epochs[0].Data[0])
	}
	for _, e := range epochs {
		if len(e.Data) != channels {
			return fmt.Errorf("%w: epoch %d has %d channels, want %d", ErrRaggedEpochs, e.Index, len(e.Data), channels)
		}
		for _, row := range e.Data {
			if len(row) != samples {
				return fmt.Errorf("%w: epoch %d has %d samples, want %d", ErrRaggedEpochs, e.Index, len(row), samples)
			}
		}
	}
	return nil
}
