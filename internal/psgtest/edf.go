// Package psgtest writes small synthetic PSG fixtures for tests.
package psgtest

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Signal is one channel to be written to an EDF fixture.
type Signal struct {
	Label     string
	Rate      float64
	Dimension string
	// Physical range. Derived from the samples when both are zero.
	PhysMin, PhysMax float64
	Samples          []float64
}

// TAL is one EDF+ annotation.
type TAL struct {
	Onset    float64
	Duration float64
	Text     string
}

// EDF describes an EDF or EDF+ fixture.
type EDF struct {
	Signals        []Signal
	RecordDuration float64
	Annotations    []TAL
	// Records overrides the number of records declared in the header.
	Records *int
	// Truncate drops this many bytes from the end of the file.
	Truncate int
}

// WriteEDF writes e to path, creating parent directories.
func WriteEDF(t testing.TB, path string, e EDF) {
	t.Helper()
	data, err := EncodeEDF(e)
	if err != nil {
		t.Fatalf("encode edf: %v", err)
	}
	if e.Truncate > 0 {
		data = data[:len(data)-e.Truncate]
	}
	WriteFile(t, path, data)
}

// EncodeEDF renders e as EDF bytes, or EDF+ when annotations are present.
func EncodeEDF(e EDF) ([]byte, error) {
	dur := e.RecordDuration
	if dur <= 0 {
		dur = 1
	}

	type column struct {
		label, dim         string
		pmin, pmax         float64
		spr                int
		samples            []float64
		annotationPayloads [][]byte
	}

	records := -1
	cols := make([]column, 0, len(e.Signals)+1)
	for _, s := range e.Signals {
		spr := s.Rate * dur
		if spr <= 0 || spr != math.Trunc(spr) {
			return nil, fmt.Errorf("signal %q: rate %v x duration %v is not a whole sample count", s.Label, s.Rate, dur)
		}
		n := len(s.Samples) / int(spr)
		if records < 0 || n < records {
			records = n
		}
		pmin, pmax := physRange(s)
		dim := s.Dimension
		if dim == "" {
			dim = "uV"
		}
		cols = append(cols, column{label: s.Label, dim: dim, pmin: pmin, pmax: pmax, spr: int(spr), samples: s.Samples})
	}
	if records < 0 {
		records = 1
	}

	plus := len(e.Annotations) > 0
	if plus {
		payloads := make([][]byte, records)
		widest := 0
		for r := range payloads {
			var b bytes.Buffer
			fmt.Fprintf(&b, "+%g\x14\x14\x00", float64(r)*dur)
			for _, a := range e.Annotations {
				rec := int(a.Onset / dur)
				if rec >= records {
					rec = records - 1
				}
				if rec != r {
					continue
				}
				if a.Duration > 0 {
					fmt.Fprintf(&b, "+%g\x15%g\x14%s\x14\x00", a.Onset, a.Duration, a.Text)
				} else {
					fmt.Fprintf(&b, "+%g\x14%s\x14\x00", a.Onset, a.Text)
				}
			}
			payloads[r] = b.Bytes()
			widest = max(widest, b.Len())
		}
		spr := (widest + 1) / 2
		cols = append(cols, column{label: "EDF Annotations", spr: spr, pmin: -1, pmax: 1, annotationPayloads: payloads})
	}

	declared := records
	if e.Records != nil {
		declared = *e.Records
	}

	ns := len(cols)
	var hdr bytes.Buffer
	reserved := ""
	if plus {
		reserved = "EDF+C"
	}
	pad(&hdr, "0", 8)
	pad(&hdr, "X X X X", 80)
	pad(&hdr, "Startdate X X X X", 80)
	pad(&hdr, "01.01.20", 8)
	pad(&hdr, "22.00.00", 8)
	pad(&hdr, fmt.Sprint(256*(ns+1)), 8)
	pad(&hdr, reserved, 44)
	pad(&hdr, fmt.Sprint(declared), 8)
	pad(&hdr, fmt.Sprintf("%g", dur), 8)
	pad(&hdr, fmt.Sprint(ns), 4)

	each := func(width int, f func(c column) string) {
		for _, c := range cols {
			pad(&hdr, f(c), width)
		}
	}
	each(16, func(c column) string { return c.label })
	each(80, func(column) string { return "" })
	each(8, func(c column) string { return c.dim })
	each(8, func(c column) string { return shortFloat(c.pmin) })
	each(8, func(c column) string { return shortFloat(c.pmax) })
	each(8, func(column) string { return "-32768" })
	each(8, func(column) string { return "32767" })
	each(80, func(column) string { return "" })
	each(8, func(c column) string { return fmt.Sprint(c.spr) })
	each(32, func(column) string { return "" })

	out := hdr.Bytes()
	for r := 0; r < records; r++ {
		for _, c := range cols {
			if c.annotationPayloads != nil {
				block := make([]byte, 2*c.spr)
				copy(block, c.annotationPayloads[r])
				out = append(out, block...)
				continue
			}
			for j := 0; j < c.spr; j++ {
				v := c.samples[r*c.spr+j]
				d := math.Round((v-c.pmin)/(c.pmax-c.pmin)*65535 - 32768)
				d = math.Max(-32768, math.Min(32767, d))
				u := uint16(int16(d))
				out = append(out, byte(u), byte(u>>8))
			}
		}
	}
	return out, nil
}

// Quantum returns the physical resolution of s once written to EDF.
func Quantum(s Signal) float64 {
	pmin, pmax := physRange(s)
	return (pmax - pmin) / 65535
}

// physRange widens the sample range to whole units so the header text is exact.
func physRange(s Signal) (float64, float64) {
	if s.PhysMin != 0 || s.PhysMax != 0 {
		return s.PhysMin, s.PhysMax
	}
	pmin, pmax := -1.0, 1.0
	for _, v := range s.Samples {
		pmin = math.Min(pmin, v)
		pmax = math.Max(pmax, v)
	}
	return math.Floor(pmin) - 1, math.Ceil(pmax) + 1
}

func shortFloat(v float64) string {
	s := fmt.Sprintf("%g", v)
	if len(s) > 8 {
		s = fmt.Sprintf("%.1f", v)
	}
	return s
}

func pad(b *bytes.Buffer, s string, width int) {
	if len(s) > width {
		s = s[:width]
	}
	b.WriteString(s)
	b.WriteString(strings.Repeat(" ", width-len(s)))
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// Sine returns seconds*rate samples of amp*sin(2*pi*freq*t).
func Sine(rate, seconds, freq, amp float64) []float64 {
	n := int(math.Round(rate * seconds))
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/rate)
	}
	return out
}

// Sum adds the given equal-length signals.
func Sum(parts ...[]float64) []float64 {
	if len(parts) == 0 {
		return nil
	}
	out := make([]float64, len(parts[0]))
	for _, p := range parts {
		for i := range out {
			out[i] += p[i]
		}
	}
	return out
}

// Const returns n copies of v.
func Const(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
