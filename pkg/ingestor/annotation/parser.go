// Package annotation turns dataset-specific hypnogram files into contiguous
// per-epoch sleep stage tracks.
package annotation

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/unijord/sleepseq/pkg/ingestor/reader"
)

// Format identifies a hypnogram file layout.
type Format string

const (
	FormatProfusionXML Format = "xml"
	FormatNSRRXML      Format = "nsrr_xml"
	FormatMASSText     Format = "mass_txt"
	FormatSAF          Format = "saf"
	FormatEAnnot       Format = "eannot"
	FormatStagesCSV    Format = "stages_csv"
	FormatDCSM         Format = "dcsm_ids"
	FormatTSV          Format = "tsv"
	FormatHMCText      Format = "hmc_txt"
	FormatWSCText      Format = "wsc_txt"
	FormatISRUCText    Format = "isruc_txt"
	FormatEpochCSV     Format = "epoch_csv"
	FormatEDFPlus      Format = "edf_plus"
	FormatHDF5         Format = "h5"
	FormatPhyMAT       Format = "phy_mat"
)

var (
	// ErrMalformedAnnotation is returned when a label file cannot be turned
	// into a contiguous track.
	ErrMalformedAnnotation = errors.New("malformed annotation")
	// ErrUnsupportedFormat is returned for unknown format tags.
	ErrUnsupportedFormat = errors.New("unsupported annotation format")
)

// Parser reads one hypnogram file.
type Parser interface {
	// Parse returns the track of the file at path. epochSeconds is the
	// scoring epoch the dataset uses; formats that record their own epoch
	// length override it.
	Parse(path string, epochSeconds float64) (*Track, error)
}

type parseFunc func(path string, epochSeconds float64, opts Options) (*Track, error)

var parsers = map[Format]parseFunc{
	FormatProfusionXML: parseProfusionXML,
	FormatNSRRXML:      parseNSRRXML,
	FormatMASSText:     parseMASSText,
	FormatSAF:          parseSAF,
	FormatEAnnot:       parseEAnnot,
	FormatStagesCSV:    parseStagesCSV,
	FormatDCSM:         parseDCSM,
	FormatTSV:          parseTSV,
	FormatHMCText:      parseHMCText,
	FormatWSCText:      parseWSCText,
	FormatISRUCText:    parseISRUCText,
	FormatEpochCSV:     parseEpochCSV,
	FormatEDFPlus:      parseEDFPlus,
	FormatHDF5:         parseHDF5,
	FormatPhyMAT:       parsePhyMAT,
}

type parser struct {
	fn   parseFunc
	opts Options
}

func (p *parser) Parse(path string, epochSeconds float64) (*Track, error) {
	if epochSeconds <= 0 {
		return nil, fmt.Errorf("%w: epoch length %v", ErrMalformedAnnotation, epochSeconds)
	}
	t, err := p.fn(path, epochSeconds, p.opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// New returns the parser for format.
func New(format Format, opts Options) (Parser, error) {
	fn, ok := parsers[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if opts.MaxGapEpochs < 0 {
		opts.MaxGapEpochs = 0
	}
	return &parser{fn: fn, opts: opts}, nil
}

// Parse reads path with the parser for format and default options.
func Parse(path string, format Format, epochSeconds float64) (*Track, error) {
	p, err := New(format, DefaultOptions())
	if err != nil {
		return nil, err
	}
	return p.Parse(path, epochSeconds)
}

// Formats lists the supported format tags in sorted order.
func Formats() []Format {
	out := make([]Format, 0, len(parsers))
	for f := range parsers {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", reader.ErrUnreadableFile, err)
	}
	return data, nil
}
