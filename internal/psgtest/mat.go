package psgtest

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"math"
	"testing"
)

// Matrix is a MATLAB double array given row-major as Rows x Cols.
type Matrix struct {
	Name       string
	Rows, Cols int
	Data       []float64
	// Int16 stores the values as miINT16, as PhysioNet exports do.
	Int16 bool
}

// WriteMAT writes a little-endian level-5 MAT file holding vars.
func WriteMAT(t testing.TB, path string, compress bool, vars ...Matrix) {
	t.Helper()
	WriteFile(t, path, EncodeMAT(compress, vars...))
}

// EncodeMAT renders vars as a level-5 MAT file.
func EncodeMAT(compress bool, vars ...Matrix) []byte {
	var out bytes.Buffer
	text := make([]byte, 116)
	copy(text, "MATLAB 5.0 MAT-file, Platform: GLNXA64, Created by: psgtest")
	for i := len("MATLAB 5.0 MAT-file, Platform: GLNXA64, Created by: psgtest"); i < len(text); i++ {
		text[i] = ' '
	}
	out.Write(text)
	out.Write(make([]byte, 8))
	binary.Write(&out, binary.LittleEndian, uint16(0x0100))
	out.WriteString("IM")

	for _, v := range vars {
		elem := matrixElement(v)
		if !compress {
			out.Write(elem)
			continue
		}
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		zw.Write(elem)
		zw.Close()
		tag(&out, 15, z.Len())
		out.Write(z.Bytes())
	}
	return out.Bytes()
}

func matrixElement(v Matrix) []byte {
	var body bytes.Buffer

	tag(&body, 6, 8)
	binary.Write(&body, binary.LittleEndian, uint32(6)) // mxDOUBLE_CLASS
	binary.Write(&body, binary.LittleEndian, uint32(0))

	tag(&body, 5, 8)
	binary.Write(&body, binary.LittleEndian, int32(v.Rows))
	binary.Write(&body, binary.LittleEndian, int32(v.Cols))

	tag(&body, 1, len(v.Name))
	body.WriteString(v.Name)
	align(&body)

	// column-major
	n := v.Rows * v.Cols
	if v.Int16 {
		tag(&body, 3, 2*n)
	} else {
		tag(&body, 9, 8*n)
	}
	for c := 0; c < v.Cols; c++ {
		for r := 0; r < v.Rows; r++ {
			x := v.Data[r*v.Cols+c]
			if v.Int16 {
				binary.Write(&body, binary.LittleEndian, int16(math.Round(x)))
			} else {
				binary.Write(&body, binary.LittleEndian, x)
			}
		}
	}
	align(&body)

	var elem bytes.Buffer
	tag(&elem, 14, body.Len())
	elem.Write(body.Bytes())
	return elem.Bytes()
}

func tag(b *bytes.Buffer, typ uint32, n int) {
	binary.Write(b, binary.LittleEndian, typ)
	binary.Write(b, binary.LittleEndian, uint32(n))
}

func align(b *bytes.Buffer) {
	for b.Len()%8 != 0 {
		b.WriteByte(0)
	}
}
