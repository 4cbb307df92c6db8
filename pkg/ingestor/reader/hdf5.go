//go:build hdf5

package reader

import (
	"fmt"
	"path"

	"gonum.org/v1/hdf5"
)

func openHDF5(name string) (*hdf5.File, error) {
	f, err := hdf5.OpenFile(name, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	return f, nil
}

func readDataset(f *hdf5.File, name string) ([]float64, []int, error) {
	ds, err := f.OpenDataset(name)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dataset %q: %v", ErrMalformedHeader, name, err)
	}
	defer ds.Close()

	space := ds.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dataset %q dims: %v", ErrMalformedHeader, name, err)
	}

	dtype, err := ds.Datatype()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dataset %q: %v", ErrMalformedHeader, name, err)
	}
	defer dtype.Close()

	data, err := readNumeric(ds, dtype, space.SimpleExtentNPoints())
	if err != nil {
		return nil, nil, fmt.Errorf("dataset %q: %w", name, err)
	}

	shape := make([]int, len(dims))
	for i, d := range dims {
		shape[i] = int(d)
	}
	return data, shape, nil
}

// Dataset.Read hands the file datatype to H5Dread as the memory type, so
// HDF5 converts nothing and the Go buffer must match the stored type.
var nativeReaders = []struct {
	typ  *hdf5.Datatype
	read func(*hdf5.Dataset, int) ([]float64, error)
}{
	{hdf5.T_NATIVE_DOUBLE, readAs[float64]},
	{hdf5.T_NATIVE_FLOAT, readAs[float32]},
	{hdf5.T_NATIVE_INT8, readAs[int8]},
	{hdf5.T_NATIVE_INT16, readAs[int16]},
	{hdf5.T_NATIVE_INT32, readAs[int32]},
	{hdf5.T_NATIVE_INT64, readAs[int64]},
	{hdf5.T_NATIVE_UINT8, readAs[uint8]},
	{hdf5.T_NATIVE_UINT16, readAs[uint16]},
	{hdf5.T_NATIVE_UINT32, readAs[uint32]},
	{hdf5.T_NATIVE_UINT64, readAs[uint64]},
}

func readNumeric(ds *hdf5.Dataset, dtype *hdf5.Datatype, n int) ([]float64, error) {
	for _, r := range nativeReaders {
		if dtype.Equal(r.typ) {
			return r.read(ds, n)
		}
	}
	return nil, fmt.Errorf("%w: unsupported datatype (class %d, %d bytes)", ErrMalformedHeader, dtype.Class(), dtype.Size())
}

func readAs[T float32 | float64 | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64](ds *hdf5.Dataset, n int) ([]float64, error) {
	if n == 0 {
		return nil, nil
	}
	buf := make([]T, n)
	if err := ds.Read(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	out := make([]float64, n)
	for i, v := range buf {
		out[i] = float64(v)
	}
	return out, nil
}

func readHDF5Groups(name string, groups []string) ([]series, error) {
	f, err := openHDF5(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []series
	for _, group := range groups {
		if !f.LinkExists(group) {
			continue
		}
		g, err := f.OpenGroup(group)
		if err != nil {
			return nil, fmt.Errorf("%w: group %q: %v", ErrMalformedHeader, group, err)
		}
		n, err := g.NumObjects()
		if err != nil {
			g.Close()
			return nil, fmt.Errorf("%w: group %q: %v", ErrMalformedHeader, group, err)
		}
		for i := uint(0); i < n; i++ {
			typ, err := g.ObjectTypeByIndex(i)
			if err != nil || typ != hdf5.H5G_DATASET {
				continue
			}
			key, err := g.ObjectNameByIndex(i)
			if err != nil {
				g.Close()
				return nil, fmt.Errorf("%w: group %q: %v", ErrMalformedHeader, group, err)
			}
			data, _, err := readDataset(f, path.Join(group, key))
			if err != nil {
				g.Close()
				return nil, err
			}
			out = append(out, series{name: key, data: data})
		}
		g.Close()
	}
	return out, nil
}

// MATLAB v7.3 stores matrices transposed relative to level-5 files.
func readHDF5Matrix(name, variable string) ([]float64, []int, error) {
	f, err := openHDF5(name)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	data, dims, err := readDataset(f, variable)
	if err != nil {
		return nil, nil, err
	}
	if len(dims) == 2 {
		dims[0], dims[1] = dims[1], dims[0]
	}
	return data, dims, nil
}

// ReadHDF5Vector returns the flattened dataset name of the HDF5 file at path.
func ReadHDF5Vector(file string, name string) ([]float64, error) {
	f, err := openHDF5(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, _, err := readDataset(f, name)
	return data, err
}
