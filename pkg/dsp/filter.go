package dsp

import (
	"fmt"
	"math"
	"slices"
)

// NotchQ is the quality factor of line-noise notches.
const NotchQ = 30

// Bandpass returns a Butterworth high-pass at low followed by a Butterworth
// low-pass at high. An edge that is non-positive or at or above Nyquist
// skips its filter, so the result may be empty. Callers that care whether
// the high-pass ran check HighpassApplies.
func Bandpass(low, high, rate float64, order int) (Cascade, error) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return nil, fmt.Errorf("%w: %g", ErrInvalidRate, rate)
	}
	if high > 0 && low >= high {
		return nil, fmt.Errorf("%w: band %g-%g Hz", ErrInvalidFrequency, low, high)
	}

	var c Cascade
	if HighpassApplies(low, rate) {
		hp, err := Butterworth(true, order, low, rate)
		if err != nil {
			return nil, err
		}
		c = append(c, hp...)
	}
	if high > 0 && high < rate/2 {
		lp, err := Butterworth(false, order, high, rate)
		if err != nil {
			return nil, err
		}
		c = append(c, lp...)
	}
	return c, nil
}

// HighpassApplies reports whether Bandpass builds a high-pass at low for a
// signal sampled at rate.
func HighpassApplies(low, rate float64) bool {
	return low > 0 && low < rate/2
}

// Notch returns a single band-stop section at f0 Hz.
func Notch(f0, q, rate float64) (Cascade, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("%w: %g", ErrInvalidRate, rate)
	}
	if f0 <= 0 || f0 >= rate/2 {
		return nil, fmt.Errorf("%w: notch %g Hz outside (0, %g)", ErrInvalidFrequency, f0, rate/2)
	}
	if q <= 0 {
		q = NotchQ
	}
	return Cascade{NotchSection(f0, q, rate)}, nil
}

// FiltFilt applies c forward then backward, giving zero phase and squared
// magnitude response. The input is extended at both ends by odd reflection
// and each pass starts from the steady state of its first sample, which
// keeps edge transients short. x is not modified.
func FiltFilt(c Cascade, x []float64) []float64 {
	n := len(x)
	if n == 0 || len(c) == 0 {
		return slices.Clone(x)
	}

	pad := 3 * (2*len(c) + 1)
	if pad > n-1 {
		pad = n - 1
	}
	ext := make([]float64, n+2*pad)
	for i := 0; i < pad; i++ {
		ext[i] = 2*x[0] - x[pad-i]
		ext[pad+n+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[pad:], x)

	pass := func() {
		s := c.fresh()
		s.settle(ext[0])
		for i := range s {
			s[i].run(ext)
		}
	}
	pass()
	slices.Reverse(ext)
	pass()
	slices.Reverse(ext)

	return slices.Clone(ext[pad : pad+n])
}
