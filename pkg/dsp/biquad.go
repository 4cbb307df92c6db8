// Package dsp holds the numeric kernels of the conditioning chain: cascaded
// second-order IIR sections, zero-phase filtering and sample-rate conversion.
package dsp

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrInvalidFrequency = errors.New("invalid filter frequency")
	ErrInvalidOrder     = errors.New("invalid filter order")
	ErrInvalidRate      = errors.New("invalid sampling rate")
)

// Biquad is one normalized second-order section (a0 = 1) run in direct form
// II transposed.
type Biquad struct {
	B0, B1, B2 float64
	A1, A2     float64

	z1, z2 float64
}

func newBiquad(b0, b1, b2, a0, a1, a2 float64) Biquad {
	return Biquad{B0: b0 / a0, B1: b1 / a0, B2: b2 / a0, A1: a1 / a0, A2: a2 / a0}
}

// LowpassSection returns an RBJ low-pass section at cutoff Hz.
func LowpassSection(cutoff, q, rate float64) Biquad {
	w := 2 * math.Pi * cutoff / rate
	cw, alpha := math.Cos(w), math.Sin(w)/(2*q)
	return newBiquad((1-cw)/2, 1-cw, (1-cw)/2, 1+alpha, -2*cw, 1-alpha)
}

// HighpassSection returns an RBJ high-pass section at cutoff Hz.
func HighpassSection(cutoff, q, rate float64) Biquad {
	w := 2 * math.Pi * cutoff / rate
	cw, alpha := math.Cos(w), math.Sin(w)/(2*q)
	return newBiquad((1+cw)/2, -(1 + cw), (1+cw)/2, 1+alpha, -2*cw, 1-alpha)
}

// NotchSection returns an RBJ band-stop section centred on f0 Hz.
func NotchSection(f0, q, rate float64) Biquad {
	w := 2 * math.Pi * f0 / rate
	cw, alpha := math.Cos(w), math.Sin(w)/(2*q)
	return newBiquad(1, -2*cw, 1, 1+alpha, -2*cw, 1-alpha)
}

// DCGain is the section's response at zero frequency.
func (b *Biquad) DCGain() float64 {
	den := 1 + b.A1 + b.A2
	if den == 0 {
		return 0
	}
	return (b.B0 + b.B1 + b.B2) / den
}

// settle loads the state reached after an infinitely long constant input u
// and returns the matching output.
func (b *Biquad) settle(u float64) float64 {
	y := b.DCGain() * u
	b.z1 = y - b.B0*u
	b.z2 = b.B2*u - b.A2*y
	return y
}

func (b *Biquad) step(x float64) float64 {
	y := b.B0*x + b.z1
	b.z1 = b.B1*x - b.A1*y + b.z2
	b.z2 = b.B2*x - b.A2*y
	return y
}

// Cascade is a chain of sections applied in order.
type Cascade []Biquad

// Filter runs x through the cascade once from a zero state and returns a new
// slice.
func (c Cascade) Filter(x []float64) []float64 {
	sections := c.fresh()
	out := make([]float64, len(x))
	copy(out, x)
	for i := range sections {
		sections[i].run(out)
	}
	return out
}

func (c Cascade) fresh() Cascade {
	out := make(Cascade, len(c))
	for i, s := range c {
		s.z1, s.z2 = 0, 0
		out[i] = s
	}
	return out
}

// settle primes every section for a constant input u.
func (c Cascade) settle(u float64) {
	for i := range c {
		u = c[i].settle(u)
	}
}

func (b *Biquad) run(x []float64) {
	for i, v := range x {
		x[i] = b.step(v)
	}
}

// Butterworth returns the sections of an even-order Butterworth low-pass or
// high-pass filter. Section k has Q = 1 / (2 cos((2k+1)π / 2N)).
func Butterworth(highpass bool, order int, cutoff, rate float64) (Cascade, error) {
	if order < 2 || order%2 != 0 {
		return nil, fmt.Errorf("%w: %d (want an even order >= 2)", ErrInvalidOrder, order)
	}
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return nil, fmt.Errorf("%w: %g", ErrInvalidRate, rate)
	}
	if cutoff <= 0 || cutoff >= rate/2 {
		return nil, fmt.Errorf("%w: cutoff %g Hz outside (0, %g)", ErrInvalidFrequency, cutoff, rate/2)
	}

	sections := make(Cascade, 0, order/2)
	for k := 0; k < order/2; k++ {
		q := 1 / (2 * math.Cos(float64(2*k+1)*math.Pi/float64(2*order)))
		if highpass {
			sections = append(sections, HighpassSection(cutoff, q, rate))
		} else {
			sections = append(sections, LowpassSection(cutoff, q, rate))
		}
	}
	return sections, nil
}
