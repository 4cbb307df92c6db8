package reader

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
)

const (
	matHeaderLen = 128

	miINT8       = 1
	miUINT8      = 2
	miINT16      = 3
	miUINT16     = 4
	miINT32      = 5
	miUINT32     = 6
	miSINGLE     = 7
	miDOUBLE     = 9
	miINT64      = 12
	miUINT64     = 13
	miMATRIX     = 14
	miCOMPRESSED = 15

	mxDOUBLE = 6
	mxUINT64 = 15
)

// DefaultMATVariable is the PhysioNet signal matrix name.
const DefaultMATVariable = "val"

var hdf5Signature = []byte("\x89HDF\r\n\x1a\n")

// matVar is a decoded numeric MATLAB array, column-major.
type matVar struct {
	name string
	dims []int
	data []float64
}

func (v *matVar) scalar() (float64, bool) {
	if len(v.data) != 1 {
		return 0, false
	}
	return v.data[0], true
}

// MATReader reads numeric signal matrices from MATLAB level-5 files.
type MATReader struct {
	opts Options
}

// NewMATReader creates a MAT reader. Rows of opts.Variable are channels named by opts.Labels.
func NewMATReader(opts Options) *MATReader {
	if opts.Variable == "" {
		opts.Variable = DefaultMATVariable
	}
	return &MATReader{opts: opts}
}

func (r *MATReader) Read(path string) (*Recording, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}

	var v *matVar
	rate := r.opts.Rate
	if isMAT73(buf) {
		data, dims, err := readHDF5Matrix(path, r.opts.Variable)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		v = &matVar{name: r.opts.Variable, dims: dims, data: data}
	} else {
		vars, err := decodeMAT(buf)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		v = vars[r.opts.Variable]
		for _, name := range []string{"fs", "Fs", "sfreq"} {
			if fs, ok := vars[name]; ok {
				if s, ok := fs.scalar(); ok && s > 0 {
					rate = s
					break
				}
			}
		}
	}
	if v == nil {
		return nil, fmt.Errorf("%w: %s: variable %q not found", ErrMalformedHeader, path, r.opts.Variable)
	}
	if len(v.dims) != 2 {
		return nil, fmt.Errorf("%w: %s: variable %q has %d dimensions, want 2", ErrMalformedHeader, path, v.name, len(v.dims))
	}

	rows, cols := v.dims[0], v.dims[1]
	at := func(ch, i int) float64 { return v.data[ch+i*rows] }
	channels, length := rows, cols
	if rows > cols {
		// stored samples x channels
		channels, length = cols, rows
		at = func(ch, i int) float64 { return v.data[i+ch*rows] }
	}

	labels := r.opts.Labels
	if len(labels) > 0 && len(labels) < channels {
		channels = len(labels)
	}

	rec := &Recording{Path: path, Format: FormatMAT}
	for ch := 0; ch < channels; ch++ {
		label := fmt.Sprintf("ch%d", ch)
		if ch < len(labels) {
			label = labels[ch]
		}
		samples := make([]float64, length)
		for i := range samples {
			samples[i] = at(ch, i)
		}
		rec.Channels = append(rec.Channels, Channel{Label: label, Rate: rate, Unit: "uV", Samples: samples})
	}

	if err := rec.validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// ReadMATVector returns the flattened data of the first variable in names
// found in the MAT file at path.
func ReadMATVector(path string, names ...string) ([]float64, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	if isMAT73(buf) {
		var lastErr error
		for _, name := range names {
			data, _, err := readHDF5Matrix(path, name)
			if err == nil {
				return data, nil
			}
			lastErr = err
		}
		return nil, fmt.Errorf("%s: %w", path, lastErr)
	}

	vars, err := decodeMAT(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for _, name := range names {
		if v, ok := vars[name]; ok {
			return v.data, nil
		}
	}
	return nil, fmt.Errorf("%w: %s: none of %v found", ErrMalformedHeader, path, names)
}

func isMAT73(buf []byte) bool {
	if len(buf) >= 512+len(hdf5Signature) && bytes.Equal(buf[512:512+len(hdf5Signature)], hdf5Signature) {
		return true
	}
	return len(buf) >= 10 && strings.HasPrefix(string(buf[:min(len(buf), 116)]), "MATLAB 7.3")
}

// decodeMAT returns every numeric matrix stored at the top level of a level-5 MAT file.
func decodeMAT(buf []byte) (map[string]*matVar, error) {
	if len(buf) < matHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the MAT header", ErrUnreadableFile, len(buf))
	}
	if !strings.HasPrefix(string(buf[:6]), "MATLAB") {
		return nil, fmt.Errorf("%w: missing MATLAB text header", ErrMalformedHeader)
	}

	var bo binary.ByteOrder
	switch string(buf[126:128]) {
	case "IM":
		bo = binary.LittleEndian
	case "MI":
		bo = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: endian indicator %q", ErrMalformedHeader, buf[126:128])
	}

	vars := make(map[string]*matVar)
	if err := decodeElements(buf[matHeaderLen:], bo, vars, true); err != nil {
		return nil, err
	}
	return vars, nil
}

func decodeElements(buf []byte, bo binary.ByteOrder, vars map[string]*matVar, allowCompressed bool) error {
	for off := 0; off < len(buf); {
		typ, data, next, err := readTag(buf, off, bo)
		if err != nil {
			return err
		}
		off = next

		switch typ {
		case miCOMPRESSED:
			if !allowCompressed {
				return fmt.Errorf("%w: nested compressed element", ErrMalformedHeader)
			}
			zr, err := zlib.NewReader(bytes.NewReader(data))
			if err != nil {
				return fmt.Errorf("%w: inflate: %v", ErrUnreadableFile, err)
			}
			inflated, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return fmt.Errorf("%w: inflate: %v", ErrUnreadableFile, err)
			}
			if err := decodeElements(inflated, bo, vars, false); err != nil {
				return err
			}
		case miMATRIX:
			v, err := decodeMatrix(data, bo)
			if err != nil {
				return err
			}
			if v != nil {
				vars[v.name] = v
			}
		}
	}
	return nil
}

// readTag reads the data element at off and returns its type, payload and
// the offset of the following element.
func readTag(buf []byte, off int, bo binary.ByteOrder) (uint32, []byte, int, error) {
	if off+8 > len(buf) {
		return 0, nil, 0, fmt.Errorf("%w: truncated element tag at %d", ErrUnreadableFile, off)
	}
	w := bo.Uint32(buf[off:])
	if w>>16 != 0 {
		// small data element: type and size share the first word
		n := int(w >> 16)
		if n > 4 {
			return 0, nil, 0, fmt.Errorf("%w: small element of %d bytes", ErrMalformedHeader, n)
		}
		return w & 0xffff, buf[off+4 : off+4+n], off + 8, nil
	}

	n := int(bo.Uint32(buf[off+4:]))
	start := off + 8
	if n < 0 || start+n > len(buf) {
		return 0, nil, 0, fmt.Errorf("%w: element at %d declares %d bytes", ErrUnreadableFile, off, n)
	}
	next := start + n
	if w != miCOMPRESSED {
		next = (next + 7) &^ 7
	}
	return w, buf[start : start+n], next, nil
}

func decodeMatrix(buf []byte, bo binary.ByteOrder) (*matVar, error) {
	if len(buf) == 0 {
		return nil, nil
	}

	typ, flags, off, err := readTag(buf, 0, bo)
	if err != nil {
		return nil, err
	}
	if typ != miUINT32 || len(flags) < 8 {
		return nil, fmt.Errorf("%w: array flags", ErrMalformedHeader)
	}
	class := bo.Uint32(flags) & 0xff

	typ, rawDims, off, err := readTag(buf, off, bo)
	if err != nil {
		return nil, err
	}
	if typ != miINT32 || len(rawDims)%4 != 0 {
		return nil, fmt.Errorf("%w: array dimensions", ErrMalformedHeader)
	}
	dims := make([]int, len(rawDims)/4)
	total := 1
	for i := range dims {
		dims[i] = int(int32(bo.Uint32(rawDims[4*i:])))
		total *= dims[i]
	}

	_, name, off, err := readTag(buf, off, bo)
	if err != nil {
		return nil, err
	}

	if class < mxDOUBLE || class > mxUINT64 {
		// cells, structs, chars and sparse arrays carry no signal data
		return nil, nil
	}

	typ, values, _, err := readTag(buf, off, bo)
	if err != nil {
		return nil, err
	}
	data, err := decodeNumeric(typ, values, bo)
	if err != nil {
		return nil, fmt.Errorf("variable %q: %w", name, err)
	}
	if len(data) != total {
		return nil, fmt.Errorf("%w: variable %q has %d values for dims %v", ErrMalformedHeader, name, len(data), dims)
	}
	return &matVar{name: string(name), dims: dims, data: data}, nil
}

func decodeNumeric(typ uint32, b []byte, bo binary.ByteOrder) ([]float64, error) {
	var size int
	switch typ {
	case miINT8, miUINT8:
		size = 1
	case miINT16, miUINT16:
		size = 2
	case miINT32, miUINT32, miSINGLE:
		size = 4
	case miDOUBLE, miINT64, miUINT64:
		size = 8
	default:
		return nil, fmt.Errorf("%w: numeric storage type %d", ErrMalformedHeader, typ)
	}
	if len(b)%size != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedHeader, len(b), size)
	}

	out := make([]float64, len(b)/size)
	for i := range out {
		p := b[i*size:]
		switch typ {
		case miINT8:
			out[i] = float64(int8(p[0]))
		case miUINT8:
			out[i] = float64(p[0])
		case miINT16:
			out[i] = float64(int16(bo.Uint16(p)))
		case miUINT16:
			out[i] = float64(bo.Uint16(p))
		case miINT32:
			out[i] = float64(int32(bo.Uint32(p)))
		case miUINT32:
			out[i] = float64(bo.Uint32(p))
		case miSINGLE:
			out[i] = float64(math.Float32frombits(bo.Uint32(p)))
		case miDOUBLE:
			out[i] = math.Float64frombits(bo.Uint64(p))
		case miINT64:
			out[i] = float64(int64(bo.Uint64(p)))
		case miUINT64:
			out[i] = float64(bo.Uint64(p))
		}
	}
	return out, nil
}
