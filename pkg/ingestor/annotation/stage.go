package annotation

import (
	"fmt"
	"strconv"
	"strings"
)

// Stage is a sleep stage code as written to label arrays.
type Stage int8

const (
	StageWake Stage = iota
	StageN1
	StageN2
	// StageN3 also covers R&K stage 4.
	StageN3
	StageREM
	// StageUnknown marks unscored or unrecognised epochs. It keeps epoch
	// indices contiguous instead of dropping the epoch.
	StageUnknown
)

func (s Stage) String() string {
	switch s {
	case StageWake:
		return "W"
	case StageN1:
		return "N1"
	case StageN2:
		return "N2"
	case StageN3:
		return "N3"
	case StageREM:
		return "REM"
	case StageUnknown:
		return "UNKNOWN"
	default:
		return fmt.Sprintf("Stage(%d)", int8(s))
	}
}

// Scored reports whether s is one of the five sleep stages.
func (s Stage) Scored() bool {
	return s >= StageWake && s < StageUnknown
}

// StageFromCode maps the 0-4 numeric convention to a stage. Anything else is unknown.
func StageFromCode(v float64) Stage {
	if v != float64(int(v)) || v < 0 || v > float64(StageREM) {
		return StageUnknown
	}
	return Stage(v)
}

// ParseStage recognises the common spellings of a stage. Bare integers use
// the 0-5 label code convention; "stage N" phrases use R&K numbering, where
// stage 4 folds into N3.
func ParseStage(s string) (Stage, bool) {
	token := strings.ToUpper(strings.TrimSpace(s))
	phrase := false
	for _, prefix := range []string{"SLEEP STAGE", "STAGE"} {
		if rest, ok := strings.CutPrefix(token, prefix); ok {
			token = strings.TrimSpace(rest)
			phrase = true
			break
		}
	}

	if n, err := strconv.Atoi(token); err == nil {
		if phrase {
			switch n {
			case 0:
				return StageWake, true
			case 1, 2, 3:
				return Stage(n), true
			case 4:
				return StageN3, true
			}
			return StageUnknown, false
		}
		if n >= 0 && n <= int(StageUnknown) {
			return Stage(n), true
		}
		return StageUnknown, false
	}

	switch token {
	case "W", "WAKE", "AWAKE":
		return StageWake, true
	case "N1", "S1", "NREM1":
		return StageN1, true
	case "N2", "S2", "NREM2":
		return StageN2, true
	case "N3", "N4", "S3", "S4", "NREM3", "NREM4", "SWS":
		return StageN3, true
	case "R", "REM":
		return StageREM, true
	case "?", "U", "UNKNOWN", "UNKNOWNSTAGE", "UNSCORED", "MOVEMENT", "M", "MT", "A", "ARTIFACT":
		return StageUnknown, true
	default:
		return StageUnknown, false
	}
}
