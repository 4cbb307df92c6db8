package dsp

import (
	"fmt"
	"math"
	"slices"

	"github.com/mjibson/go-dsp/window"
	"gonum.org/v1/gonum/floats"
)

// Resampler converts a uniformly sampled series between rates. The output
// has OutputLength(len(x), from, to) samples.
type Resampler interface {
	Resample(x []float64, from, to float64) ([]float64, error)
}

const (
	// DefaultHalfTaps is the one-sided kernel length in units of the larger
	// of the up and down factors.
	DefaultHalfTaps = 10
	// DefaultMaxFactor bounds the reduced up and down factors; larger ratios
	// are treated as irrational.
	DefaultMaxFactor = 1000
)

// OutputLength returns floor(n * to / from).
func OutputLength(n int, from, to float64) int {
	if n <= 0 || from <= 0 || to <= 0 {
		return 0
	}
	return int(math.Floor(float64(n)*to/from + 1e-9))
}

func checkRates(from, to float64) error {
	for _, r := range []float64{from, to} {
		if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
			return fmt.Errorf("%w: %g", ErrInvalidRate, r)
		}
	}
	return nil
}

// Ratio reduces to/from to up/down. ok is false when no reduction with both
// factors at most maxFactor exists after scaling the rates by up to 1000.
func Ratio(from, to float64, maxFactor int) (up, down int, ok bool) {
	for scale := 1.0; scale <= 1000; scale *= 10 {
		f, t := from*scale, to*scale
		fi, ti := math.Round(f), math.Round(t)
		if math.Abs(f-fi) > 1e-9*scale || math.Abs(t-ti) > 1e-9*scale || fi < 1 || ti < 1 {
			continue
		}
		g := gcd(int(fi), int(ti))
		up, down = int(ti)/g, int(fi)/g
		if up <= maxFactor && down <= maxFactor {
			return up, down, true
		}
		return 0, 0, false
	}
	return 0, 0, false
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Polyphase is a windowed-sinc polyphase FIR resampler for rational ratios.
// Irrational or oversized ratios fall back to Linear.
type Polyphase struct {
	HalfTaps  int
	MaxFactor int
}

func (p Polyphase) Resample(x []float64, from, to float64) ([]float64, error) {
	if err := checkRates(from, to); err != nil {
		return nil, err
	}
	if from == to {
		return slices.Clone(x), nil
	}

	half := p.HalfTaps
	if half <= 0 {
		half = DefaultHalfTaps
	}
	maxFactor := p.MaxFactor
	if maxFactor <= 0 {
		maxFactor = DefaultMaxFactor
	}
	up, down, ok := Ratio(from, to, maxFactor)
	if !ok {
		return Linear{}.Resample(x, from, to)
	}

	n := len(x)
	out := make([]float64, OutputLength(n, from, to))
	h, center := Kernel(up, down, half)

	for m := range out {
		t := m * down
		lo := ceilDiv(t-center, up)
		if lo < 0 {
			lo = 0
		}
		hi := (t + center) / up
		if hi > n-1 {
			hi = n - 1
		}
		var acc float64
		for j := lo; j <= hi; j++ {
			acc += h[t-j*up+center] * x[j]
		}
		out[m] = acc
	}
	return out, nil
}

// Kernel returns the Hamming-windowed low-pass prototype for an up/down
// conversion and the index of its centre tap. The cutoff is half the lower of
// the two Nyquist rates and the taps sum to up.
func Kernel(up, down, half int) ([]float64, int) {
	m := max(up, down)
	center := half * m
	size := 2*center + 1
	fc := 1 / (2 * float64(m))

	h := window.Hamming(size)
	for k := range h {
		h[k] *= 2 * fc * sinc(2*fc*float64(k-center))
	}
	floats.Scale(float64(up)/floats.Sum(h), h)
	return h, center
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return -(-a / b)
	}
	return (a + b - 1) / b
}

// Linear resamples by linear interpolation between neighbouring samples.
type Linear struct{}

func (Linear) Resample(x []float64, from, to float64) ([]float64, error) {
	if err := checkRates(from, to); err != nil {
		return nil, err
	}
	if from == to {
		return slices.Clone(x), nil
	}

	n := len(x)
	out := make([]float64, OutputLength(n, from, to))
	step := from / to
	for m := range out {
		pos := float64(m) * step
		i := int(pos)
		if i+1 >= n {
			out[m] = x[n-1]
			continue
		}
		frac := pos - float64(i)
		out[m] = x[i]*(1-frac) + x[i+1]*frac
	}
	return out, nil
}
