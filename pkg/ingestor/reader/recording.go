package reader

import (
	"fmt"
	"math"
	"time"
)

// Channel is one raw signal channel at its native rate.
type Channel struct {
	Label string
	// Rate is the native sampling rate in Hz.
	Rate float64
	// Unit is the physical dimension after scaling. Voltages are reported as "uV".
	Unit    string
	Samples []float64
}

// Len returns the sample count.
func (c *Channel) Len() int {
	return len(c.Samples)
}

// Duration returns the channel length in seconds.
func (c *Channel) Duration() float64 {
	if c.Rate <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / c.Rate
}

// Recording holds the raw channels of one subject file.
type Recording struct {
	Path     string
	Format   Format
	Start    time.Time
	Channels []Channel
}

// Labels returns the raw channel labels in file order.
func (r *Recording) Labels() []string {
	labels := make([]string, len(r.Channels))
	for i := range r.Channels {
		labels[i] = r.Channels[i].Label
	}
	return labels
}

// Index returns the position of the channel with the given label, or -1.
func (r *Recording) Index(label string) int {
	for i := range r.Channels {
		if r.Channels[i].Label == label {
			return i
		}
	}
	return -1
}

// Duration returns the longest channel duration in seconds.
func (r *Recording) Duration() float64 {
	var d float64
	for i := range r.Channels {
		d = math.Max(d, r.Channels[i].Duration())
	}
	return d
}

func (r *Recording) validate() error {
	if len(r.Channels) == 0 {
		return fmt.Errorf("%w: %s: no signal channels", ErrMalformedHeader, r.Path)
	}
	for i := range r.Channels {
		ch := &r.Channels[i]
		if ch.Label == "" {
			return fmt.Errorf("%w: %s: channel %d has no label", ErrMalformedHeader, r.Path, i)
		}
		if ch.Rate <= 0 || math.IsInf(ch.Rate, 0) || math.IsNaN(ch.Rate) {
			return fmt.Errorf("%w: %s: channel %q has invalid rate %v", ErrMalformedHeader, r.Path, ch.Label, ch.Rate)
		}
	}
	return nil
}

// scaleToMicrovolts converts voltage samples in place and returns the
// resulting unit. Non-voltage dimensions are left untouched.
func scaleToMicrovolts(samples []float64, unit string) string {
	var factor float64
	switch normalizeUnit(unit) {
	case "V":
		factor = 1e6
	case "mV":
		factor = 1e3
	case "uV":
		return "uV"
	case "nV":
		factor = 1e-3
	default:
		return unit
	}
	for i := range samples {
		samples[i] *= factor
	}
	return "uV"
}

func normalizeUnit(unit string) string {
	switch unit {
	case "V", "v":
		return "V"
	case "mV", "mv":
		return "mV"
	case "uV", "uv", "UV", "µV", "μV", "\xb5V":
		return "uV"
	case "nV", "nv":
		return "nV"
	default:
		return unit
	}
}
