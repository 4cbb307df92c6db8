package reader

import "fmt"

// DefaultHDF5Groups is the DOD channel layout.
var DefaultHDF5Groups = []string{"signals/eeg", "signals/eog", "signals/emg"}

// series is one named HDF5 dataset flattened to float64.
type series struct {
	name string
	data []float64
}

// HDF5Reader reads channels stored as one dataset each under a set of groups.
type HDF5Reader struct {
	opts Options
}

// NewHDF5Reader creates an HDF5 reader. Every dataset under opts.Groups is a
// channel sampled at opts.Rate and named after the dataset.
func NewHDF5Reader(opts Options) *HDF5Reader {
	if len(opts.Groups) == 0 {
		opts.Groups = DefaultHDF5Groups
	}
	return &HDF5Reader{opts: opts}
}

func (r *HDF5Reader) Read(path string) (*Recording, error) {
	if r.opts.Rate <= 0 {
		return nil, fmt.Errorf("%w: %s: hdf5 recordings need a sampling rate hint", ErrMalformedHeader, path)
	}

	found, err := readHDF5Groups(path, r.opts.Groups)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	rec := &Recording{Path: path, Format: FormatHDF5}
	for _, s := range found {
		rec.Channels = append(rec.Channels, Channel{
			Label:   s.name,
			Rate:    r.opts.Rate,
			Unit:    "uV",
			Samples: s.data,
		})
	}
	if err := rec.validate(); err != nil {
		return nil, err
	}
	return rec, nil
}
