package annotation

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

func lines(data []byte) []string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	out := strings.Split(string(data), "\n")
	for i := range out {
		out[i] = strings.TrimRight(out[i], "\r")
	}
	return out
}

// stagePhrase recognises "Sleep stage X" style descriptions. ok is false
// for annotations that are not about sleep staging at all, such as arousal
// or apnea events; unrecognised stage tokens come back as StageUnknown.
func stagePhrase(text string) (Stage, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	i := strings.Index(lower, "stage")
	if i < 0 {
		return StageUnknown, false
	}
	st, _ := ParseStage("stage " + strings.TrimSpace(lower[i+len("stage"):]))
	return st, true
}

func seconds(s string, line int, name string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: line %d: %s %q", ErrMalformedAnnotation, line, name, s)
	}
	return v, nil
}

// codeTable maps the numeric stage codes of formats where 5 means REM.
func codeTable(s string) Stage {
	switch strings.TrimSpace(s) {
	case "0":
		return StageWake
	case "1":
		return StageN1
	case "2":
		return StageN2
	case "3", "4":
		return StageN3
	case "5":
		return StageREM
	default:
		return StageUnknown
	}
}

// parseMASSText reads MASS "Onset,Duration,Annotation" exports.
func parseMASSText(path string, epochSeconds float64, opts Options) (*Track, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	rows := lines(data)
	if len(rows) == 0 || strings.TrimSpace(rows[0]) != "Onset,Duration,Annotation" {
		return nil, fmt.Errorf("%w: missing Onset,Duration,Annotation header", ErrMalformedAnnotation)
	}

	var ivs []Interval
	for n, row := range rows[1:] {
		parts := strings.SplitN(strings.TrimSpace(row), ",", 3)
		if len(parts) < 3 {
			continue
		}
		st, ok := stagePhrase(parts[2])
		if !ok {
			continue
		}
		onset, err := seconds(parts[0], n+2, "onset")
		if err != nil {
			return nil, err
		}
		dur, err := seconds(parts[1], n+2, "duration")
		if err != nil {
			return nil, err
		}
		ivs = append(ivs, Interval{Onset: onset, Duration: dur, Stage: st})
	}
	return Discretize(ivs, epochSeconds, opts)
}

// parseSAF reads a stream of "Sleep stage X" markers, one per epoch.
func parseSAF(path string, epochSeconds float64, _ Options) (*Track, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	const marker = "Sleep stage "
	var labels []Stage
	s := string(data)
	for {
		i := strings.Index(s, marker)
		if i < 0 || i+len(marker) >= len(s) {
			break
		}
		s = s[i+len(marker):]
		st, _ := ParseStage("stage " + s[:1])
		labels = append(labels, st)
	}
	return FromSequence(labels, epochSeconds)
}

var eannotStages = map[string]Stage{
	"wake":     StageWake,
	"N1":       StageN1,
	"NN1":      StageN1,
	"Nwake":    StageN1,
	"N2":       StageN2,
	"NN2":      StageN2,
	"8":        StageN2,
	"N3":       StageN3,
	"NN3":      StageN3,
	"N4":       StageN3,
	"REM":      StageREM,
	"unscored": StageUnknown,
	"9":        StageUnknown,
	"NaN":      StageUnknown,
}

// parseEAnnot reads one stage token per line.
func parseEAnnot(path string, epochSeconds float64, _ Options) (*Track, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	var labels []Stage
	for _, row := range lines(data) {
		if row == "" {
			continue
		}
		st, ok := eannotStages[strings.TrimSpace(row)]
		if !ok {
			st, _ = ParseStage(row)
		}
		labels = append(labels, st)
	}
	return FromSequence(labels, epochSeconds)
}

// parseDCSM reads "onset,duration,stage" rows.
func parseDCSM(path string, epochSeconds float64, opts Options) (*Track, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	var ivs []Interval
	for n, row := range lines(data) {
		parts := strings.Split(strings.TrimSpace(row), ",")
		if len(parts) < 3 {
			continue
		}
		onset, err := seconds(parts[0], n+1, "onset")
		if err != nil {
			return nil, err
		}
		dur, err := seconds(parts[1], n+1, "duration")
		if err != nil {
			return nil, err
		}
		st, _ := ParseStage(parts[2])
		ivs = append(ivs, Interval{Onset: onset, Duration: dur, Stage: st})
	}
	return Discretize(ivs, epochSeconds, opts)
}

// parseTSV reads "onset\tduration\tdescription" event tables with a header row.
func parseTSV(path string, epochSeconds float64, opts Options) (*Track, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	rows := lines(data)
	if len(rows) > 0 {
		rows = rows[1:]
	}

	var ivs []Interval
	for n, row := range rows {
		parts := strings.Split(strings.TrimSpace(row), "\t")
		if len(parts) < 3 {
			continue
		}
		desc := strings.ToLower(strings.TrimSpace(parts[2]))
		if !strings.HasPrefix(desc, "sleep stage") {
			continue
		}
		st, _ := stagePhrase(desc)
		onset, err := seconds(parts[0], n+2, "onset")
		if err != nil {
			return nil, err
		}
		dur, err := seconds(parts[1], n+2, "duration")
		if err != nil {
			return nil, err
		}
		ivs = append(ivs, Interval{Onset: onset, Duration: dur, Stage: st})
	}
	return Discretize(ivs, epochSeconds, opts)
}

// parseHMCText reads HMC "Date, Time, Recording onset, Duration, Annotation"
// exports. Scoring ends at "Lights on".
func parseHMCText(path string, epochSeconds float64, opts Options) (*Track, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	rows := lines(data)
	if len(rows) > 0 {
		rows = rows[1:]
	}

	var ivs []Interval
	for n, row := range rows {
		parts := strings.Split(strings.TrimSpace(row), ", ")
		if len(parts) < 5 {
			continue
		}
		ann := strings.ToLower(strings.TrimSpace(parts[4]))
		if strings.Contains(ann, "lights on") {
			break
		}
		if !strings.HasPrefix(ann, "sleep stage") {
			continue
		}
		st, _ := stagePhrase(ann)
		onset, err := seconds(parts[2], n+2, "onset")
		if err != nil {
			return nil, err
		}
		dur, err := seconds(parts[3], n+2, "duration")
		if err != nil {
			return nil, err
		}
		ivs = append(ivs, Interval{Onset: onset, Duration: dur, Stage: st})
	}
	return Discretize(ivs, epochSeconds, opts)
}

// parseWSCText reads WSC "time\tstage" rows with a header, one per epoch.
func parseWSCText(path string, epochSeconds float64, _ Options) (*Track, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	rows := lines(data)
	if len(rows) > 0 {
		rows = rows[1:]
	}

	var labels []Stage
	for _, row := range rows {
		parts := strings.Split(strings.TrimSpace(row), "\t")
		if len(parts) < 2 {
			continue
		}
		labels = append(labels, codeTable(parts[1]))
	}
	return FromSequence(labels, epochSeconds)
}

// parseISRUCText reads one integer code per line, 5 being REM.
func parseISRUCText(path string, epochSeconds float64, _ Options) (*Track, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}

	var labels []Stage
	for _, row := range lines(data) {
		row = strings.TrimSpace(row)
		if row == "" {
			continue
		}
		labels = append(labels, codeTable(row))
	}
	return FromSequence(labels, epochSeconds)
}
