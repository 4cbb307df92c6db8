package annotation

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

func csvRows(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comment = '#'

	var out [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: csv: %v", ErrMalformedAnnotation, err)
		}
		out = append(out, rec)
	}
}

// parseStagesCSV reads STAGES "start,duration,event" exports. The start
// column is wall-clock time, so stage rows are laid end to end by duration.
// Rows whose event is not a stage are ignored.
func parseStagesCSV(path string, epochSeconds float64, opts Options) (*Track, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	rows, err := csvRows(data)
	if err != nil {
		return nil, err
	}

	var ivs []Interval
	var onset float64
	for n, rec := range rows {
		if len(rec) < 3 {
			continue
		}
		st, ok := ParseStage(rec[2])
		if !ok {
			continue
		}
		dur, err := seconds(rec[1], n+1, "duration")
		if err != nil {
			return nil, err
		}
		if dur <= 0 {
			dur = epochSeconds
		}
		ivs = append(ivs, Interval{Onset: onset, Duration: dur, Stage: st})
		onset += dur
	}
	return Discretize(ivs, epochSeconds, opts)
}

// parseEpochCSV reads "epoch,stage" rows with explicit 0-based indices. A
// leading header row is skipped.
func parseEpochCSV(path string, epochSeconds float64, opts Options) (*Track, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	rows, err := csvRows(data)
	if err != nil {
		return nil, err
	}

	var out []EpochLabel
	for n, rec := range rows {
		if len(rec) < 2 {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			if n == 0 {
				continue
			}
			return nil, fmt.Errorf("%w: line %d: epoch %q", ErrMalformedAnnotation, n+1, rec[0])
		}
		st, _ := ParseStage(rec[1])
		out = append(out, EpochLabel{Index: idx, Stage: st})
	}
	return FromIndexed(out, epochSeconds, opts)
}
