package condition

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/unijord/sleepseq/pkg/dsp"
	"github.com/unijord/sleepseq/pkg/ingestor/channel"
)

var (
	// ErrInvalidRate is returned when target_rate is not a positive finite number.
	ErrInvalidRate = errors.New("target_rate must be positive")
	// ErrInvalidBand is returned when a band has a negative edge or low >= high.
	ErrInvalidBand = errors.New("invalid band")
	// ErrInvalidNotch is returned when a notch frequency is not positive.
	ErrInvalidNotch = errors.New("notch frequency must be positive")
	// ErrInvalidOrder is returned when filter_order is not an even number >= 2.
	ErrInvalidOrder = errors.New("filter_order must be even and at least 2")
)

// Band is a passband in Hz. A zero High disables the low-pass edge.
type Band struct {
	Low  float64 `json:"low_hz"`
	High float64 `json:"high_hz"`
}

// DefaultBands are the passbands of each signal class.
var DefaultBands = map[channel.Class]Band{
	channel.ClassEEG: {Low: 0.3, High: 35},
	channel.ClassEOG: {Low: 0.3, High: 35},
	channel.ClassEMG: {Low: 10, High: 49},
}

// Config holds the conditioning chain settings. It is read-only once a
// Conditioner is built from it.
type Config struct {
	// TargetRate is the output sampling rate in Hz.
	TargetRate float64 `json:"target_rate"`

	// Bands overrides DefaultBands per class.
	Bands map[channel.Class]Band `json:"bands,omitempty"`

	// Notch lists line frequencies to remove. A notch only runs when the
	// native rate exceeds twice its frequency.
	Notch  []float64 `json:"notch_hz,omitempty"`
	NotchQ float64   `json:"notch_q,omitempty"`

	FilterOrder int `json:"filter_order"`

	// Normalize z-scores each channel over the whole recording.
	Normalize bool `json:"normalize"`

	Resampler dsp.Resampler `json:"-"`
	Logger    *slog.Logger  `json:"-"`
}

// DefaultConfig returns the standard chain at 100 Hz.
func DefaultConfig() Config {
	return Config{
		TargetRate:  100,
		Notch:       []float64{50, 60},
		NotchQ:      dsp.NotchQ,
		FilterOrder: 4,
		Normalize:   true,
		Resampler:   dsp.Polyphase{},
	}
}

// Band returns the passband for class.
func (c *Config) Band(class channel.Class) Band {
	if b, ok := c.Bands[class]; ok {
		return b
	}
	return DefaultBands[class]
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.TargetRate <= 0 || math.IsNaN(c.TargetRate) || math.IsInf(c.TargetRate, 0) {
		return fmt.Errorf("%w: %g", ErrInvalidRate, c.TargetRate)
	}
	for class, b := range c.Bands {
		if b.Low < 0 || b.High < 0 || (b.High > 0 && b.Low >= b.High) {
			return fmt.Errorf("%w: %s %g-%g Hz", ErrInvalidBand, class, b.Low, b.High)
		}
	}
	for _, f := range c.Notch {
		if f <= 0 || math.IsNaN(f) {
			return fmt.Errorf("%w: %g", ErrInvalidNotch, f)
		}
	}
	if c.FilterOrder < 2 || c.FilterOrder%2 != 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOrder, c.FilterOrder)
	}
	return nil
}
