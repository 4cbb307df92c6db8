package reader

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/ishiikurisu/edf"
)

const (
	edfFixedHeader  = 256
	edfSignalHeader = 256

	// EDFAnnotationsLabel is the reserved label of the EDF+ annotation signal.
	EDFAnnotationsLabel = "EDF Annotations"
)

type edfSignal struct {
	label            string
	transducer       string
	dimension        string
	prefilter        string
	physMin, physMax float64
	digMin, digMax   int
	samplesPerRecord int
}

func (s *edfSignal) annotations() bool {
	return s.label == EDFAnnotationsLabel
}

// edfHeader is the header as decoded by the edf package, checked and with
// the data record layout worked out.
type edfHeader struct {
	fields         map[string]string
	start          time.Time
	headerBytes    int
	records        int
	recordDuration float64
	signals        []edfSignal
	// byte offset of each signal inside a data record
	offsets     []int
	recordBytes int
}

// edfFile is an EDF or EDF+ file whose data records are memory mapped
// read-only.
type edfFile struct {
	path string
	f    *os.File
	m    mmap.MMap
	hdr  *edfHeader
}

func openEDF(path string) (*edfFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFile, err)
	}
	if st.Size() < edfFixedHeader {
		f.Close()
		return nil, fmt.Errorf("%w: %s: %d bytes is shorter than the EDF header", ErrUnreadableFile, path, st.Size())
	}

	hdr, err := checkEDFHeader(edf.ReadHeader(f), st.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: mmap %s: %v", ErrUnreadableFile, path, err)
	}

	return &edfFile{path: path, f: f, m: m, hdr: hdr}, nil
}

func (e *edfFile) Close() error {
	err := e.m.Unmap()
	if cerr := e.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// record returns the bytes of signal sig in data record r.
func (e *edfFile) record(r, sig int) []byte {
	off := e.hdr.headerBytes + r*e.hdr.recordBytes + e.hdr.offsets[sig]
	return e.m[off : off+2*e.hdr.signals[sig].samplesPerRecord]
}

// digital returns the raw samples of signal sig across all data records.
func (e *edfFile) digital(sig int) []int16 {
	n := e.hdr.signals[sig].samplesPerRecord
	out := make([]int16, 0, e.hdr.records*n)
	for r := 0; r < e.hdr.records; r++ {
		raw := e.record(r, sig)
		for j := 0; j < n; j++ {
			out = append(out, int16(binary.LittleEndian.Uint16(raw[2*j:])))
		}
	}
	return out
}

// checkEDFHeader validates the fields decoded by edf.ReadHeader against
// each other and against the file size. The edf package reads numbers
// leniently, so every numeric field is parsed again here.
func checkEDFHeader(fields map[string]string, size int64) (*edfHeader, error) {
	h := &edfHeader{
		fields: fields,
		start:  parseEDFStart(trimField(fields["startdate"]), trimField(fields["starttime"])),
	}

	var err error
	if h.headerBytes, err = parseInt(trimField(fields["bytesheader"]), "header bytes", ""); err != nil {
		return nil, err
	}
	if h.records, err = parseInt(trimField(fields["datarecords"]), "number of records", ""); err != nil {
		return nil, err
	}
	if h.recordDuration, err = parseFloat(trimField(fields["duration"]), "record duration", ""); err != nil {
		return nil, err
	}
	ns, err := parseInt(trimField(fields["numbersignals"]), "number of signals", "")
	if err != nil {
		return nil, err
	}
	if ns <= 0 {
		return nil, fmt.Errorf("%w: no signals declared", ErrMalformedHeader)
	}
	if want := edfFixedHeader + ns*edfSignalHeader; h.headerBytes != want {
		return nil, fmt.Errorf("%w: header bytes %d, expected %d for %d signals", ErrMalformedHeader, h.headerBytes, want, ns)
	}
	if size < int64(h.headerBytes) {
		return nil, fmt.Errorf("%w: truncated signal headers", ErrUnreadableFile)
	}

	widths := edf.GetSpecsLength()
	column := func(key string) ([]string, error) {
		raw, width := fields[key], widths[key]
		if len(raw) < width*ns {
			return nil, fmt.Errorf("%w: short %s field", ErrMalformedHeader, key)
		}
		out := make([]string, ns)
		for i := range out {
			out[i] = trimField(raw[i*width : (i+1)*width])
		}
		return out, nil
	}
	cols := make(map[string][]string)
	for _, key := range []string{
		"transducer", "physicaldimension", "physicalminimum", "physicalmaximum",
		"digitalminimum", "digitalmaximum", "prefiltering", "samplesrecord",
	} {
		if cols[key], err = column(key); err != nil {
			return nil, err
		}
	}

	labels := edf.Edf{Header: fields}.GetLabels()
	if len(labels) != ns {
		return nil, fmt.Errorf("%w: %d labels for %d signals", ErrMalformedHeader, len(labels), ns)
	}
	h.signals = make([]edfSignal, ns)
	for i := range h.signals {
		s := &h.signals[i]
		s.label = trimField(labels[i])
		s.transducer = cols["transducer"][i]
		s.dimension = cols["physicaldimension"][i]
		s.prefilter = cols["prefiltering"][i]
		if s.physMin, err = parseFloat(cols["physicalminimum"][i], "physical minimum", s.label); err != nil {
			return nil, err
		}
		if s.physMax, err = parseFloat(cols["physicalmaximum"][i], "physical maximum", s.label); err != nil {
			return nil, err
		}
		if s.digMin, err = parseInt(cols["digitalminimum"][i], "digital minimum", s.label); err != nil {
			return nil, err
		}
		if s.digMax, err = parseInt(cols["digitalmaximum"][i], "digital maximum", s.label); err != nil {
			return nil, err
		}
		if s.samplesPerRecord, err = parseInt(cols["samplesrecord"][i], "samples per record", s.label); err != nil {
			return nil, err
		}
		if s.samplesPerRecord <= 0 {
			return nil, fmt.Errorf("%w: signal %q has %d samples per record", ErrMalformedHeader, s.label, s.samplesPerRecord)
		}
		if s.digMax <= s.digMin {
			return nil, fmt.Errorf("%w: signal %q digital range [%d, %d]", ErrMalformedHeader, s.label, s.digMin, s.digMax)
		}
		if s.label == "" {
			return nil, fmt.Errorf("%w: signal %d has no label", ErrMalformedHeader, i)
		}
	}

	h.offsets = make([]int, ns)
	for i := range h.signals {
		h.offsets[i] = h.recordBytes
		h.recordBytes += 2 * h.signals[i].samplesPerRecord
	}

	dataBytes := int(size) - h.headerBytes
	if h.records == -1 {
		h.records = dataBytes / h.recordBytes
	}
	if h.records < 0 {
		return nil, fmt.Errorf("%w: negative record count %d", ErrMalformedHeader, h.records)
	}
	if need := h.records * h.recordBytes; dataBytes < need {
		return nil, fmt.Errorf("%w: %d data bytes, header declares %d records of %d bytes",
			ErrUnreadableFile, dataBytes, h.records, h.recordBytes)
	}

	return h, nil
}

// EDFReader reads EDF and EDF+ recordings.
type EDFReader struct{}

// NewEDFReader creates an EDF reader.
func NewEDFReader() *EDFReader {
	return &EDFReader{}
}

// Read decodes every ordinary signal to physical units. The EDF+ annotation
// signal is skipped; use ReadEDFAnnotations for it.
func (r *EDFReader) Read(path string) (*Recording, error) {
	ef, err := openEDF(path)
	if err != nil {
		return nil, err
	}
	defer ef.Close()

	hdr := ef.hdr
	if hdr.recordDuration <= 0 {
		return nil, fmt.Errorf("%w: %s: record duration %v", ErrMalformedHeader, path, hdr.recordDuration)
	}

	// the annotation signal stays empty; edf converts the rest to physical units
	digital := make([][]int16, len(hdr.signals))
	for i := range hdr.signals {
		if !hdr.signals[i].annotations() {
			digital[i] = ef.digital(i)
		}
	}
	physical := edf.GetConvertedRecords(&digital, hdr.fields)
	if len(physical) != len(hdr.signals) {
		return nil, fmt.Errorf("%w: %s: %d converted signals for %d declared", ErrMalformedHeader, path, len(physical), len(hdr.signals))
	}

	rec := &Recording{Path: path, Format: FormatEDF, Start: hdr.start}
	for i := range hdr.signals {
		sig := &hdr.signals[i]
		if sig.annotations() {
			continue
		}
		samples := physical[i]
		rec.Channels = append(rec.Channels, Channel{
			Label:   sig.label,
			Rate:    float64(sig.samplesPerRecord) / hdr.recordDuration,
			Unit:    scaleToMicrovolts(samples, sig.dimension),
			Samples: samples,
		})
	}

	if err := rec.validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Annotation is one entry of an EDF+ time-stamped annotation list.
type Annotation struct {
	// Onset in seconds from the recording start.
	Onset float64
	// Duration in seconds, zero when the TAL has none.
	Duration float64
	Texts    []string
}

// ReadEDFAnnotations decodes the TALs of every "EDF Annotations" signal in path.
// Timekeeping TALs without text are dropped.
func ReadEDFAnnotations(path string) ([]Annotation, error) {
	ef, err := openEDF(path)
	if err != nil {
		return nil, err
	}
	defer ef.Close()

	var out []Annotation
	found := false
	for i := range ef.hdr.signals {
		if !ef.hdr.signals[i].annotations() {
			continue
		}
		found = true
		for n := 0; n < ef.hdr.records; n++ {
			anns, err := parseTALs(ef.record(n, i))
			if err != nil {
				return nil, fmt.Errorf("%s: record %d: %w", path, n, err)
			}
			out = append(out, anns...)
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: %s: no %q signal", ErrMalformedHeader, path, EDFAnnotationsLabel)
	}
	return out, nil
}

// parseTALs decodes "+onset\x15duration\x14text\x14...\x14\x00" lists.
func parseTALs(raw []byte) ([]Annotation, error) {
	var out []Annotation
	for _, tal := range strings.Split(string(raw), "\x00") {
		if tal == "" {
			continue
		}
		parts := strings.Split(tal, "\x14")
		stamp := parts[0]
		var texts []string
		for _, p := range parts[1:] {
			if p != "" {
				texts = append(texts, p)
			}
		}

		onsetText, durText, _ := strings.Cut(stamp, "\x15")
		if onsetText == "" || (onsetText[0] != '+' && onsetText[0] != '-') {
			return nil, fmt.Errorf("%w: TAL onset %q", ErrMalformedHeader, onsetText)
		}
		onset, err := strconv.ParseFloat(onsetText, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: TAL onset %q", ErrMalformedHeader, onsetText)
		}
		var dur float64
		if durText != "" {
			if dur, err = strconv.ParseFloat(durText, 64); err != nil {
				return nil, fmt.Errorf("%w: TAL duration %q", ErrMalformedHeader, durText)
			}
		}
		if len(texts) == 0 {
			continue
		}
		out = append(out, Annotation{Onset: onset, Duration: dur, Texts: texts})
	}
	return out, nil
}

func trimField(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "\x00")
}

func parseInt(s, name, signal string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		// some writers emit "200.000" for integer fields
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, headerFieldError(name, signal, s)
		}
		v = int(f)
	}
	return v, nil
}

func parseFloat(s, name, signal string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, headerFieldError(name, signal, s)
	}
	return v, nil
}

func headerFieldError(name, signal, value string) error {
	if signal != "" {
		return fmt.Errorf("%w: signal %q %s %q", ErrMalformedHeader, signal, name, value)
	}
	return fmt.Errorf("%w: %s %q", ErrMalformedHeader, name, value)
}

func parseEDFStart(date, clock string) time.Time {
	t, err := time.Parse("02.01.06 15.04.05", date+" "+clock)
	if err != nil {
		return time.Time{}
	}
	// EDF clips years to 1985-2084
	if t.Year() > 2084 {
		t = t.AddDate(-100, 0, 0)
	} else if t.Year() < 1985 {
		t = t.AddDate(100, 0, 0)
	}
	return t
}
