//go:build !hdf5

package reader

import "fmt"

func errNoHDF5() error {
	return fmt.Errorf("%w: hdf5 support unavailable in this build; rebuild with -tags hdf5", ErrUnsupportedFormat)
}

func readHDF5Groups(_ string, _ []string) ([]series, error) {
	return nil, errNoHDF5()
}

func readHDF5Matrix(_ string, _ string) ([]float64, []int, error) {
	return nil, nil, errNoHDF5()
}

// ReadHDF5Vector returns the flattened dataset name of the HDF5 file at path.
func ReadHDF5Vector(_ string, _ string) ([]float64, error) {
	return nil, errNoHDF5()
}
