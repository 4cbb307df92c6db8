package reader

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Format identifies a signal container layout.
type Format string

const (
	FormatEDF  Format = "edf"
	FormatHDF5 Format = "h5"
	FormatMAT  Format = "mat"
)

var (
	// ErrUnreadableFile is returned for missing, corrupt or truncated files.
	ErrUnreadableFile = errors.New("unreadable file")
	// ErrMalformedHeader is returned when channel metadata is absent or inconsistent.
	ErrMalformedHeader = errors.New("malformed header")
	// ErrUnsupportedFormat is returned for unknown format tags or strategies
	// not compiled into this build.
	ErrUnsupportedFormat = errors.New("unsupported signal format")
)

// Reader decodes one recording file into per-channel sample buffers.
type Reader interface {
	// Read loads every signal channel of the file at path.
	Read(path string) (*Recording, error)
}

// Options carries the per-dataset hints some containers need because the
// file itself does not record them.
type Options struct {
	// Rate is the sampling rate for containers without per-channel rates (MAT, HDF5).
	Rate float64 `json:"rate,omitempty"`

	// Labels names matrix rows for containers without channel labels (MAT).
	Labels []string `json:"labels,omitempty"`

	// Variable is the MAT variable or HDF5 dataset holding the signal matrix.
	Variable string `json:"variable,omitempty"`

	// Groups lists the HDF5 groups whose datasets are channels.
	Groups []string `json:"groups,omitempty"`
}

// New returns the strategy for format.
func New(format Format, opts Options) (Reader, error) {
	switch format {
	case FormatEDF:
		return NewEDFReader(), nil
	case FormatMAT:
		return NewMATReader(opts), nil
	case FormatHDF5:
		return NewHDF5Reader(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Read loads path with the strategy for format.
func Read(path string, format Format, opts Options) (*Recording, error) {
	r, err := New(format, opts)
	if err != nil {
		return nil, err
	}
	return r.Read(path)
}

// FormatFromPath infers the container format from the file extension.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".edf", ".rec":
		return FormatEDF, true
	case ".h5", ".hdf5":
		return FormatHDF5, true
	case ".mat":
		return FormatMAT, true
	default:
		return "", false
	}
}
