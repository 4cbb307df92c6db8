// Package channel maps the raw channel labels of a recording onto canonical
// PSG leads.
package channel

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrChannelNotFound is returned when a requested lead matches no raw channel.
var ErrChannelNotFound = errors.New("channel not found")

// NotFoundError names the lead that could not be resolved.
type NotFoundError struct {
	Lead      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%v: lead %q not among [%s]", ErrChannelNotFound, e.Lead, strings.Join(e.Available, ", "))
}

func (e *NotFoundError) Unwrap() error {
	return ErrChannelNotFound
}

// AliasTable maps a canonical lead to its raw spellings in priority order.
type AliasTable map[string][]string

// Spellings returns the declared spellings of lead followed by the lead name
// itself as the final default.
func (t AliasTable) Spellings(lead string) []string {
	out := make([]string, 0, len(t[lead])+1)
	out = append(out, t[lead]...)
	for _, s := range out {
		if s == lead {
			return out
		}
	}
	return append(out, lead)
}

// Clone returns a deep copy.
func (t AliasTable) Clone() AliasTable {
	if t == nil {
		return nil
	}
	out := make(AliasTable, len(t))
	for k, v := range t {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Class is the physiological signal class of a lead.
type Class string

const (
	ClassEEG Class = "EEG"
	ClassEOG Class = "EOG"
	ClassEMG Class = "EMG"
)

// ClassOf returns the class of a canonical lead. Unrecognised leads are EEG.
func ClassOf(lead string) Class {
	switch strings.ToUpper(lead) {
	case "E1", "E2", "LOC", "ROC":
		return ClassEOG
	case "EMG", "EMGREF":
		return ClassEMG
	default:
		return ClassEEG
	}
}

// Canonical lead names.
const (
	LeadM1     = "M1"
	LeadM2     = "M2"
	LeadEMG    = "EMG"
	LeadEMGRef = "EMGref"
)

// DefaultReference returns the reference lead of lead, or "" when it has none.
// EMG is referenced to EMGref only when aliases or inference can name it.
func DefaultReference(lead string, aliases AliasTable, inferred bool) string {
	switch strings.ToUpper(lead) {
	case "F4", "C4", "O2":
		return LeadM1
	case "F3", "C3", "O1", "E1", "E2":
		return LeadM2
	case "EMG":
		if _, ok := aliases[LeadEMGRef]; ok || inferred {
			return LeadEMGRef
		}
	}
	return ""
}

// Normalize drops every non-alphanumeric rune and upper-cases the rest.
func Normalize(label string) string {
	var b strings.Builder
	b.Grow(len(label))
	for _, r := range label {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String()
}

// Pass identifies the matching stage that bound a lead.
type Pass int

const (
	PassExact Pass = iota + 1
	PassNormalized
	PassFuzzy
)

func (p Pass) String() string {
	switch p {
	case PassExact:
		return "exact"
	case PassNormalized:
		return "normalized"
	case PassFuzzy:
		return "fuzzy"
	default:
		return fmt.Sprintf("Pass(%d)", int(p))
	}
}

// Match binds a canonical lead to one raw channel.
type Match struct {
	Lead  string
	Label string
	Index int
	Pass  Pass
	// Substitute is the lead that was actually found when the hemisphere
	// fallback replaced a missing lead, e.g. "C3" standing in for "C4".
	Substitute string
	// Reference is the raw channel subtracted from this one, if any.
	Reference *Match
}

// Mapping is the resolution of every requested lead, in request order.
type Mapping struct {
	Matches []Match
	// Unreferenced lists leads whose expected reference is absent.
	Unreferenced []string
}

// Leads returns the canonical leads in request order.
func (m *Mapping) Leads() []string {
	out := make([]string, len(m.Matches))
	for i := range m.Matches {
		out[i] = m.Matches[i].Lead
	}
	return out
}

// Labels returns the bound raw labels in request order.
func (m *Mapping) Labels() []string {
	out := make([]string, len(m.Matches))
	for i := range m.Matches {
		out[i] = m.Matches[i].Label
	}
	return out
}

// Lookup returns the match of lead.
func (m *Mapping) Lookup(lead string) (Match, bool) {
	for _, mt := range m.Matches {
		if mt.Lead == lead {
			return mt, true
		}
	}
	return Match{}, false
}
