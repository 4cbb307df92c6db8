package condition

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/unijord/sleepseq/internal/psgtest"
	"github.com/unijord/sleepseq/pkg/dsp"
	"github.com/unijord/sleepseq/pkg/ingestor/channel"
	"github.com/unijord/sleepseq/pkg/ingestor/reader"
)

func rec(chs ...reader.Channel) *reader.Recording {
	return &reader.Recording{Path: "mem.edf", Format: reader.FormatEDF, Channels: chs}
}

func ch(label string, rate float64, samples []float64) reader.Channel {
	return reader.Channel{Label: label, Rate: rate, Unit: "uV", Samples: samples}
}

func mapping(matches ...channel.Match) *channel.Mapping {
	return &channel.Mapping{Matches: matches}
}

func ref(index int) *channel.Match {
	return &channel.Match{Lead: channel.LeadM1, Index: index, Pass: channel.PassExact}
}

func middleRMS(x []float64) float64 {
	cut := len(x) / 5
	m := x[cut : len(x)-cut]
	return math.Sqrt(floats.Dot(m, m) / float64(len(m)))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   error
	}{
		{"default", func(c *Config) {}, nil},
		{"zero rate", func(c *Config) { c.TargetRate = 0 }, ErrInvalidRate},
		{"nan rate", func(c *Config) { c.TargetRate = math.NaN() }, ErrInvalidRate},
		{"inverted band", func(c *Config) {
			c.Bands = map[channel.Class]Band{channel.ClassEEG: {Low: 35, High: 0.3}}
		}, ErrInvalidBand},
		{"negative band", func(c *Config) {
			c.Bands = map[channel.Class]Band{channel.ClassEMG: {Low: -1, High: 40}}
		}, ErrInvalidBand},
		{"open band", func(c *Config) {
			c.Bands = map[channel.Class]Band{channel.ClassEEG: {Low: 0.5}}
		}, nil},
		{"notch", func(c *Config) { c.Notch = []float64{0} }, ErrInvalidNotch},
		{"odd order", func(c *Config) { c.FilterOrder = 3 }, ErrInvalidOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConfig_Band(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, Band{Low: 0.3, High: 35}, cfg.Band(channel.ClassEEG))
	assert.Equal(t, Band{Low: 0.3, High: 35}, cfg.Band(channel.ClassEOG))
	assert.Equal(t, Band{Low: 10, High: 49}, cfg.Band(channel.ClassEMG))

	cfg.Bands = map[channel.Class]Band{channel.ClassEMG: {Low: 20, High: 45}}
	assert.Equal(t, Band{Low: 20, High: 45}, cfg.Band(channel.ClassEMG))
	assert.Equal(t, Band{Low: 0.3, High: 35}, cfg.Band(channel.ClassEEG))
}

func TestCondition_StandardChain(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)

	r := rec(
		ch("EEG", 125, psgtest.Sine(125, 60, 10, 40)),
		ch("A1", 125, psgtest.Sine(125, 60, 3, 5)),
		ch("EMG", 250, psgtest.Sum(psgtest.Sine(250, 60, 25, 8), psgtest.Sine(250, 60, 50, 30))),
	)
	m := mapping(
		channel.Match{Lead: "C4", Label: "EEG", Index: 0, Pass: channel.PassExact, Reference: ref(1)},
		channel.Match{Lead: "EMG", Label: "EMG", Index: 2, Pass: channel.PassExact},
	)

	sig, err := c.Condition(r, m)
	require.NoError(t, err)
	require.NoError(t, sig.Validate())
	assert.Equal(t, []string{"C4", "EMG"}, sig.Leads)
	assert.Equal(t, 100.0, sig.Rate)
	assert.Equal(t, 6000, sig.Len())
	assert.InDelta(t, 60, sig.Duration(), 1e-9)
	assert.Equal(t, []bool{false, false}, sig.Degenerate)
	assert.Equal(t, []bool{false, false}, sig.Unfiltered)

	for i, x := range sig.Data {
		mean, std := stat.PopMeanStdDev(x, nil)
		assert.InDelta(t, 0, mean, 1e-9, "lead %d mean", i)
		assert.InDelta(t, 1, std, 1e-9, "lead %d std", i)
	}
}

func TestCondition_Rereference(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Normalize = false
	c, err := New(cfg)
	require.NoError(t, err)

	common := psgtest.Sine(100, 60, 8, 30)
	lead := psgtest.Sum(psgtest.Sine(100, 60, 12, 10), common)

	sig, err := c.Condition(rec(ch("C4", 100, lead), ch("M1", 100, common)),
		mapping(channel.Match{Lead: "C4", Label: "C4", Index: 0, Reference: ref(1)}))
	require.NoError(t, err)
	assert.InDelta(t, 10/math.Sqrt2, middleRMS(sig.Data[0]), 0.3)

	// reference at a different native rate is brought to the lead's rate
	sig, err = c.Condition(rec(ch("C4", 100, lead), ch("M1", 200, psgtest.Sine(200, 60, 8, 30))),
		mapping(channel.Match{Lead: "C4", Label: "C4", Index: 0, Reference: ref(1)}))
	require.NoError(t, err)
	assert.InDelta(t, 10/math.Sqrt2, middleRMS(sig.Data[0]), 0.3)
	assert.Equal(t, 6000, sig.Len())
}

func TestCondition_NotchOnlyAboveTwiceLine(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Normalize = false
	cfg.Bands = map[channel.Class]Band{channel.ClassEEG: {Low: 0.1}}
	c, err := New(cfg)
	require.NoError(t, err)

	hum := psgtest.Sum(psgtest.Sine(500, 30, 5, 10), psgtest.Sine(500, 30, 60, 10))
	sig, err := c.Condition(rec(ch("C3", 500, hum)), mapping(channel.Match{Lead: "C3", Index: 0}))
	require.NoError(t, err)
	// 60 Hz is removed by the notch and again by resampling; the 5 Hz tone stays
	assert.InDelta(t, 10/math.Sqrt2, middleRMS(sig.Data[0]), 0.3)

	// at 100 Hz neither notch applies and nothing fails
	sig, err = c.Condition(rec(ch("C3", 100, psgtest.Sine(100, 30, 5, 10))), mapping(channel.Match{Lead: "C3", Index: 0}))
	require.NoError(t, err)
	assert.Equal(t, 3000, sig.Len())
}

func TestCondition_SlowChannelSkipsHighpass(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Normalize = false
	c, err := New(cfg)
	require.NoError(t, err)

	// EMG recorded at 20 Hz sits entirely below its 10 Hz high-pass edge.
	r := rec(
		ch("C4", 100, psgtest.Sine(100, 60, 5, 10)),
		ch("EMG", 20, psgtest.Sine(20, 60, 2, 10)),
	)
	sig, err := c.Condition(r, mapping(
		channel.Match{Lead: "C4", Index: 0},
		channel.Match{Lead: "EMG", Index: 1},
	))
	require.NoError(t, err)
	require.NoError(t, sig.Validate())
	assert.Equal(t, []bool{false, true}, sig.Unfiltered)
	assert.Equal(t, 6000, sig.Len())
	// the 2 Hz tone passes through unfiltered
	assert.InDelta(t, 10/math.Sqrt2, middleRMS(sig.Data[1]), 0.5)
}

func TestCondition_Degenerate(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)

	broken := psgtest.Sine(100, 30, 5, 10)
	broken[10] = math.NaN()
	r := rec(
		ch("C4", 100, psgtest.Sine(100, 30, 5, 10)),
		ch("E1", 100, psgtest.Const(3000, 12)),
		ch("EMG", 100, broken),
	)
	sig, err := c.Condition(r, mapping(
		channel.Match{Lead: "C4", Index: 0},
		channel.Match{Lead: "E1", Index: 1},
		channel.Match{Lead: "EMG", Index: 2},
	))
	require.NoError(t, err)
	assert.Equal(t, []bool{false, true, true}, sig.Degenerate)
	assert.False(t, floats.HasNaN(sig.Data[1]))
}

func TestCondition_LengthTrim(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)

	// 1251 samples at 125 Hz give 1000 at 100 Hz; 2003 at 200 Hz give 1001
	r := rec(
		ch("C4", 125, psgtest.Sine(125, 1251.0/125, 5, 10)),
		ch("C3", 200, psgtest.Sine(200, 2003.0/200, 5, 10)),
	)
	sig, err := c.Condition(r, mapping(
		channel.Match{Lead: "C4", Index: 0},
		channel.Match{Lead: "C3", Index: 1},
	))
	require.NoError(t, err)
	assert.Equal(t, 1000, sig.Len())
	require.NoError(t, sig.Validate())
}

func TestCondition_ResampleMismatch(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)

	r := rec(
		ch("C4", 100, psgtest.Sine(100, 60, 5, 10)),
		ch("E1", 128, psgtest.Sine(128, 50, 1, 10)),
	)
	_, err = c.Condition(r, mapping(
		channel.Match{Lead: "C4", Index: 0},
		channel.Match{Lead: "E1", Index: 1},
	))
	require.ErrorIs(t, err, ErrResampleMismatch)
	var rme *ResampleMismatchError
	require.True(t, errors.As(err, &rme))
	assert.Equal(t, []string{"C4", "E1"}, rme.Leads)
	assert.Equal(t, []int{6000, 5000}, rme.Lengths)
}

func TestCondition_BadIndex(t *testing.T) {
	c, err := New(DefaultConfig())
	require.NoError(t, err)
	_, err = c.Condition(rec(ch("C4", 100, psgtest.Sine(100, 30, 5, 10))),
		mapping(channel.Match{Lead: "C4", Index: 3}))
	assert.ErrorIs(t, err, ErrInconsistentSignal)
}

func TestCondition_LinearResampler(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resampler = dsp.Linear{}
	c, err := New(cfg)
	require.NoError(t, err)

	sig, err := c.Condition(rec(ch("C4", 256, psgtest.Sine(256, 30, 5, 10))), mapping(channel.Match{Lead: "C4", Index: 0}))
	require.NoError(t, err)
	assert.Equal(t, 3000, sig.Len())
}

func TestNew_RejectsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TargetRate = -1
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidRate)
}

func TestSignal_Validate(t *testing.T) {
	s := &Signal{Leads: []string{"C4", "E1"}, Rate: 100, Data: [][]float64{{1, 2}, {1}}, Degenerate: []bool{false, false}}
	assert.ErrorIs(t, s.Validate(), ErrInconsistentSignal)

	s.Data[1] = []float64{3, 4}
	assert.NoError(t, s.Validate())

	s.Degenerate = nil
	assert.ErrorIs(t, s.Validate(), ErrInconsistentSignal)
}
