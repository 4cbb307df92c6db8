// Package npy encodes and decodes NumPy .npy version 1.0 files holding
// little-endian float32 or int64 arrays in C order.
package npy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
)

const (
	DescrFloat32 = "<f4"
	DescrInt64   = "<i8"
)

var (
	// ErrShape is returned when the shape does not match the element count.
	ErrShape = errors.New("npy: shape does not match data length")
	// ErrFormat is returned for files that are not supported .npy v1.0 data.
	ErrFormat = errors.New("npy: unsupported or malformed file")
)

var magic = []byte("\x93NUMPY")

// headerAlign is the block size the preamble plus header is padded to.
const headerAlign = 64

// Array is a decoded .npy file. Exactly one of Float32 and Int64 is set,
// according to Descr.
type Array struct {
	Descr   string
	Shape   []int
	Float32 []float32
	Int64   []int64
}

// Len returns the element count implied by the shape.
func (a *Array) Len() int {
	return count(a.Shape)
}

func count(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func header(descr string, shape []int) []byte {
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = strconv.Itoa(d)
	}
	tuple := "(" + strings.Join(dims, ", ")
	if len(shape) == 1 {
		tuple += ","
	}
	tuple += ")"

	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': %s, }", descr, tuple)
	// magic(6) + version(2) + length(2) + dict + padding + '\n'
	total := len(magic) + 4 + len(dict) + 1
	pad := (headerAlign - total%headerAlign) % headerAlign
	return []byte(dict + strings.Repeat(" ", pad) + "\n")
}

func writePreamble(w io.Writer, descr string, shape []int) error {
	for _, d := range shape {
		if d < 0 {
			return fmt.Errorf("%w: negative dimension in %v", ErrShape, shape)
		}
	}
	h := header(descr, shape)
	if len(h) > math.MaxUint16 {
		return fmt.Errorf("%w: header too long", ErrFormat)
	}
	var pre [10]byte
	copy(pre[:], magic)
	pre[6], pre[7] = 1, 0
	binary.LittleEndian.PutUint16(pre[8:], uint16(len(h)))
	if _, err := w.Write(pre[:]); err != nil {
		return err
	}
	_, err := w.Write(h)
	return err
}

// WriteFloat32 writes data with the given shape as '<f4'.
func WriteFloat32(w io.Writer, shape []int, data []float32) error {
	if count(shape) != len(data) {
		return fmt.Errorf("%w: shape %v holds %d values, got %d", ErrShape, shape, count(shape), len(data))
	}
	bw := bufio.NewWriter(w)
	if err := writePreamble(bw, DescrFloat32, shape); err != nil {
		return err
	}
	var buf [4]byte
	for _, v := range data {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteInt64 writes data with the given shape as '<i8'.
func WriteInt64(w io.Writer, shape []int, data []int64) error {
	if count(shape) != len(data) {
		return fmt.Errorf("%w: shape %v holds %d values, got %d", ErrShape, shape, count(shape), len(data))
	}
	bw := bufio.NewWriter(w)
	if err := writePreamble(bw, DescrInt64, shape); err != nil {
		return err
	}
	var buf [8]byte
	for _, v := range data {
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

var (
	descrRE = regexp.MustCompile(`'descr':\s*'([^']*)'`)
	orderRE = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	shapeRE = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

// Read decodes a .npy v1.0 stream of '<f4' or '<i8' data.
func Read(r io.Reader) (*Array, error) {
	br := bufio.NewReader(r)
	var pre [10]byte
	if _, err := io.ReadFull(br, pre[:]); err != nil {
		return nil, fmt.Errorf("%w: preamble: %v", ErrFormat, err)
	}
	if !bytes.Equal(pre[:6], magic) {
		return nil, fmt.Errorf("%w: bad magic", ErrFormat)
	}
	if pre[6] != 1 {
		return nil, fmt.Errorf("%w: version %d.%d", ErrFormat, pre[6], pre[7])
	}
	h := make([]byte, binary.LittleEndian.Uint16(pre[8:]))
	if _, err := io.ReadFull(br, h); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrFormat, err)
	}

	a, err := parseHeader(string(h))
	if err != nil {
		return nil, err
	}

	n := a.Len()
	switch a.Descr {
	case DescrFloat32:
		raw := make([]byte, 4*n)
		if _, err := io.ReadFull(br, raw); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrFormat, err)
		}
		a.Float32 = make([]float32, n)
		for i := range a.Float32 {
			a.Float32[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
		}
	case DescrInt64:
		raw := make([]byte, 8*n)
		if _, err := io.ReadFull(br, raw); err != nil {
			return nil, fmt.Errorf("%w: data: %v", ErrFormat, err)
		}
		a.Int64 = make([]int64, n)
		for i := range a.Int64 {
			a.Int64[i] = int64(binary.LittleEndian.Uint64(raw[8*i:]))
		}
	}
	return a, nil
}

func parseHeader(h string) (*Array, error) {
	m := descrRE.FindStringSubmatch(h)
	if m == nil {
		return nil, fmt.Errorf("%w: no descr", ErrFormat)
	}
	a := &Array{Descr: m[1]}
	if a.Descr != DescrFloat32 && a.Descr != DescrInt64 {
		return nil, fmt.Errorf("%w: descr %q", ErrFormat, a.Descr)
	}
	if m := orderRE.FindStringSubmatch(h); m == nil || m[1] != "False" {
		return nil, fmt.Errorf("%w: only C order is supported", ErrFormat)
	}
	m = shapeRE.FindStringSubmatch(h)
	if m == nil {
		return nil, fmt.Errorf("%w: no shape", ErrFormat)
	}
	a.Shape = []int{}
	for _, f := range strings.Split(m[1], ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		d, err := strconv.Atoi(f)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%w: shape %q", ErrFormat, m[1])
		}
		a.Shape = append(a.Shape, d)
	}
	return a, nil
}

// ReadFile reads the .npy file at path.
func ReadFile(path string) (*Array, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	a, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}
