package epoch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/sleepseq/pkg/condition"
	"github.com/unijord/sleepseq/pkg/ingestor/annotation"
)

// ramp builds a signal whose sample value encodes channel and position.
func ramp(channels, samples int, rate float64) *condition.Signal {
	sig := &condition.Signal{Rate: rate, Degenerate: make([]bool, channels)}
	for c := 0; c < channels; c++ {
		sig.Leads = append(sig.Leads, string(rune('A'+c)))
		row := make([]float64, samples)
		for i := range row {
			row[i] = float64(c*1_000_000 + i)
		}
		sig.Data = append(sig.Data, row)
	}
	return sig
}

func track(epochSeconds float64, labels ...annotation.Stage) *annotation.Track {
	return &annotation.Track{Labels: labels, EpochSeconds: epochSeconds}
}

func cycle(n int) []annotation.Stage {
	out := make([]annotation.Stage, n)
	for i := range out {
		out[i] = annotation.Stage(i % 6)
	}
	return out
}

func TestAlign_Exact(t *testing.T) {
	sig := ramp(2, 3*3000, 100)
	a, err := Align(sig, track(30, annotation.StageWake, annotation.StageN2, annotation.StageREM), 30, 100, Options{MinEpochs: 1})
	require.NoError(t, err)

	assert.Equal(t, 3, a.Usable)
	assert.Equal(t, 3000, a.SamplesPerEpoch)
	assert.Empty(t, a.Warnings)
	require.Len(t, a.Epochs, 3)

	e := a.Epochs[1]
	assert.Equal(t, 1, e.Index)
	assert.Equal(t, annotation.StageN2, e.Label)
	require.Len(t, e.Data, 2)
	assert.Len(t, e.Data[0], 3000)
	assert.Equal(t, 3000.0, e.Data[0][0])
	assert.Equal(t, 1_000_000.0+5999, e.Data[1][2999])
}

func TestAlign_TailTruncation(t *testing.T) {
	// 4000 s of signal, 120 labels: the signal tail goes
	sig := ramp(1, 4000*100, 100)
	a, err := Align(sig, track(30, cycle(120)...), 30, 100, Options{MinEpochs: 20})
	require.NoError(t, err)
	assert.Equal(t, 133, a.SignalEpochs)
	assert.Equal(t, 120, a.Usable)
	require.Len(t, a.Warnings, 1)
	assert.Contains(t, a.Warnings[0], "dropped 13 signal epochs")
	// head is kept
	assert.Equal(t, 0.0, a.Epochs[0].Data[0][0])

	// more labels than signal: label tail goes, labels stay in order
	labels := cycle(140)
	a, err = Align(sig, track(30, labels...), 30, 100, Options{MinEpochs: 20})
	require.NoError(t, err)
	assert.Equal(t, 133, a.Usable)
	assert.Contains(t, a.Warnings[0], "dropped 7 labels")
	for i, e := range a.Epochs {
		assert.Equal(t, labels[i], e.Label)
	}
}

func TestAlign_Insufficient(t *testing.T) {
	sig := ramp(1, 10*3000, 100)
	_, err := Align(sig, track(30, cycle(30)...), 30, 100, Options{MinEpochs: 20})
	require.ErrorIs(t, err, ErrInsufficientData)

	var ide *InsufficientDataError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, 10, ide.Usable)
	assert.Equal(t, 20, ide.Required)
	assert.Equal(t, 10, ide.SignalEpochs)
	assert.Equal(t, 30, ide.LabelEpochs)

	// signal shorter than one epoch fails even with no threshold
	_, err = Align(ramp(1, 2999, 100), track(30, annotation.StageWake), 30, 100, Options{})
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestAlign_RescalesTrack(t *testing.T) {
	// 20 s labels against 30 s epochs: 6 source epochs span 4 target epochs
	src := track(20,
		annotation.StageWake, annotation.StageN1, annotation.StageN2,
		annotation.StageN3, annotation.StageREM, annotation.StageWake)
	a, err := Align(ramp(1, 4*3000, 100), src, 30, 100, Options{})
	require.NoError(t, err)
	require.Equal(t, 4, a.Usable)
	got := make([]annotation.Stage, a.Usable)
	for i, e := range a.Epochs {
		got[i] = e.Label
	}
	assert.Equal(t, []annotation.Stage{
		annotation.StageWake, annotation.StageN1, annotation.StageN3, annotation.StageREM,
	}, got)
}

func TestAlign_Rejects(t *testing.T) {
	_, err := Align(ramp(1, 3000, 128), track(30, annotation.StageWake), 30, 100, Options{})
	assert.ErrorIs(t, err, ErrRateMismatch)

	_, err = Align(ramp(1, 3000, 100), track(30, annotation.StageWake), 30.005, 100, Options{})
	assert.ErrorIs(t, err, ErrFractionalEpoch)

	_, err = Align(ramp(1, 3000, 100), track(30, annotation.StageWake), 0, 100, Options{})
	assert.ErrorIs(t, err, ErrFractionalEpoch)

	bad := ramp(2, 3000, 100)
	bad.Data[1] = bad.Data[1][:10]
	_, err = Align(bad, track(30, annotation.StageWake), 30, 100, Options{})
	assert.ErrorIs(t, err, condition.ErrInconsistentSignal)
}

func epochs(n int) []Epoch {
	a, err := Align(ramp(2, n*300, 10), track(30, cycle(n)...), 30, 10, Options{})
	if err != nil {
		panic(err)
	}
	return a.Epochs
}

func TestPack_Windows(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		seqLen  int
		stride  int
		starts  []int
		wantErr error
	}{
		{name: "non-overlapping", n: 133, seqLen: 20, starts: []int{0, 20, 40, 60, 80, 100}},
		{name: "exact fit", n: 40, seqLen: 20, starts: []int{0, 20}},
		{name: "too short", n: 19, seqLen: 20, starts: nil},
		{name: "stride", n: 10, seqLen: 4, stride: 3, starts: []int{0, 3, 6}},
		{name: "stride one", n: 5, seqLen: 3, stride: 1, starts: []int{0, 1, 2}},
		{name: "bad seq len", n: 5, seqLen: 0, wantErr: ErrInvalidSeqLen},
		{name: "bad stride", n: 5, seqLen: 2, stride: -1, wantErr: ErrInvalidStride},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seqs, err := Pack(epochs(tt.n), tt.seqLen, tt.stride)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, seqs, len(tt.starts))
			for i, s := range seqs {
				assert.Equal(t, i, s.Index)
				assert.Equal(t, tt.starts[i], s.FirstEpoch())
				assert.Len(t, s.Epochs, tt.seqLen)
			}
		})
	}
}

func TestSequence_Arrays(t *testing.T) {
	seqs, err := Pack(epochs(4), 2, 0)
	require.NoError(t, err)
	require.Len(t, seqs, 2)

	s := seqs[1]
	assert.Equal(t, []int{2, 2, 300}, s.Shape())
	assert.Equal(t, []int64{2, 3}, s.Labels())

	flat := s.Signal()
	require.Len(t, flat, 2*2*300)
	// (epoch 0 of window, channel 0, t 0) is epoch 2's first sample
	assert.Equal(t, float32(600), flat[0])
	// (epoch 1, channel 1, last sample)
	assert.Equal(t, float32(1_000_000+1199), flat[len(flat)-1])
	// channel 1 of epoch 0 follows channel 0 of epoch 0
	assert.Equal(t, float32(1_000_000+600), flat[300])
}

func TestPack_Ragged(t *testing.T) {
	es := epochs(3)
	es[2].Data = es[2].Data[:1]
	_, err := Pack(es, 2, 0)
	assert.ErrorIs(t, err, ErrRaggedEpochs)
}
