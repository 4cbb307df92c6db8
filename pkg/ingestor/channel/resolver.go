package channel

import "strings"

// DefaultExcluded are tokens that disqualify a raw label from fuzzy matching.
var DefaultExcluded = []string{"SPO2", "LEG"}

var hemisphere = map[string]string{
	"F4":  "F3",
	"C4":  "C3",
	"O2":  "O1",
	"EMG": LeadEMGRef,
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFuzzy enables or disables the containment pass. It is on by default.
func WithFuzzy(enabled bool) Option {
	return func(r *Resolver) {
		r.fuzzy = enabled
	}
}

// WithExcluded replaces the tokens that keep raw labels out of the
// containment pass.
func WithExcluded(tokens ...string) Option {
	return func(r *Resolver) {
		r.excluded = r.excluded[:0]
		for _, t := range tokens {
			if n := Normalize(t); n != "" {
				r.excluded = append(r.excluded, n)
			}
		}
	}
}

// WithHemisphereFallback lets a missing right-hemisphere lead bind to its
// left-hemisphere counterpart, and a missing EMG to EMGref.
func WithHemisphereFallback(enabled bool) Option {
	return func(r *Resolver) {
		r.hemisphereFallback = enabled
	}
}

// WithAutoInfer makes the resolver add inferred spellings for every lead
// regardless of the alias table.
func WithAutoInfer(enabled bool) Option {
	return func(r *Resolver) {
		r.autoInfer = enabled
	}
}

// Resolver binds canonical leads to raw channels. It holds no per-call state
// and is safe for concurrent use.
type Resolver struct {
	fuzzy              bool
	excluded           []string
	hemisphereFallback bool
	autoInfer          bool
}

// NewResolver returns a resolver with fuzzy matching on and the default
// exclusions.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{fuzzy: true}
	WithExcluded(DefaultExcluded...)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type rawSet struct {
	labels  []string
	norm    []string
	claimed []bool
}

// Resolve binds each lead, in request order, to exactly one raw channel.
//
// For each lead the passes run in order: exact equality, equality after
// Normalize, then containment of the normalized spelling in a normalized raw
// label. Within a pass spellings are tried in declared order and raw labels
// in file order; the first hit wins. A raw channel bound to an earlier lead
// is not reused.
func (r *Resolver) Resolve(raw []string, aliases AliasTable, leads []string) (*Mapping, error) {
	set := &rawSet{
		labels:  raw,
		norm:    make([]string, len(raw)),
		claimed: make([]bool, len(raw)),
	}
	for i, l := range raw {
		set.norm[i] = Normalize(l)
	}
	inferred := r.autoInfer || len(aliases) == 0

	m := &Mapping{Matches: make([]Match, 0, len(leads))}
	for _, lead := range leads {
		mt, ok := r.find(set, r.spellings(lead, aliases, inferred), r.fuzzy, -1)
		if ok {
			mt.Lead = lead
		} else if alt, has := hemisphere[lead]; has && r.hemisphereFallback {
			mt, ok = r.find(set, r.spellings(alt, aliases, inferred), r.fuzzy, -1)
			mt.Lead, mt.Substitute = lead, alt
		}
		if !ok {
			return nil, &NotFoundError{Lead: lead, Available: append([]string(nil), raw...)}
		}
		set.claimed[mt.Index] = true
		m.Matches = append(m.Matches, mt)
	}

	for i := range m.Matches {
		mt := &m.Matches[i]
		source := mt.Lead
		if mt.Substitute != "" {
			source = mt.Substitute
		}
		ref := DefaultReference(source, aliases, inferred)
		if ref == "" || carriesReference(mt.Label, ref) {
			continue
		}
		rm, ok := r.find(set, r.spellings(ref, aliases, inferred), inferred && r.fuzzy, mt.Index)
		if !ok {
			m.Unreferenced = append(m.Unreferenced, mt.Lead)
			continue
		}
		if strings.Contains(strings.ToUpper(mt.Label), strings.ToUpper(rm.Label)) {
			// "C3-M2" already carries its reference
			continue
		}
		rm.Lead = ref
		mt.Reference = &rm
	}
	return m, nil
}

// carriesReference reports whether a raw label such as "EEG C3-A2" or
// "Chin1-Chin2" is already a derivation against its reference.
func carriesReference(label, ref string) bool {
	n := Normalize(label)
	if ref == LeadEMGRef {
		return strings.Count(n, "CHIN") >= 2 || strings.Count(n, "EMG") >= 2
	}
	if ref != LeadM1 && ref != LeadM2 {
		return false
	}
	for _, tok := range []string{"M1", "M2", "A1", "A2"} {
		if len(n) > len(tok) && strings.HasSuffix(n, tok) {
			return true
		}
	}
	return false
}

func (r *Resolver) spellings(lead string, aliases AliasTable, inferred bool) []string {
	if !inferred {
		return aliases.Spellings(lead)
	}
	declared := append([]string(nil), aliases[lead]...)
	return AliasTable{lead: append(declared, inferredSpellings(lead)...)}.Spellings(lead)
}

// find runs the three passes over the unclaimed raw labels. When self is not
// negative the search is for a reference: claimed channels are eligible but
// self is not.
func (r *Resolver) find(set *rawSet, spellings []string, fuzzy bool, self int) (Match, bool) {
	eligible := func(i int) bool {
		if self >= 0 {
			return i != self
		}
		return !set.claimed[i]
	}

	for _, s := range spellings {
		for i, l := range set.labels {
			if eligible(i) && l == s {
				return Match{Label: l, Index: i, Pass: PassExact}, true
			}
		}
	}
	for _, s := range spellings {
		ns := Normalize(s)
		if ns == "" {
			continue
		}
		for i, n := range set.norm {
			if eligible(i) && n == ns {
				return Match{Label: set.labels[i], Index: i, Pass: PassNormalized}, true
			}
		}
	}
	if !fuzzy {
		return Match{}, false
	}
	for _, s := range spellings {
		ns := Normalize(s)
		if ns == "" {
			continue
		}
		for i, n := range set.norm {
			if eligible(i) && !r.isExcluded(n) && strings.Contains(n, ns) {
				return Match{Label: set.labels[i], Index: i, Pass: PassFuzzy}, true
			}
		}
	}
	return Match{}, false
}

func (r *Resolver) isExcluded(norm string) bool {
	for _, t := range r.excluded {
		if strings.Contains(norm, t) {
			return true
		}
	}
	return false
}

// inferredSpellings are the fallback spellings used for datasets without an
// alias table.
func inferredSpellings(lead string) []string {
	switch strings.ToUpper(lead) {
	case "F3", "C3", "O1":
		return []string{lead + "M2", lead + "A2", lead}
	case "F4", "C4", "O2":
		return []string{lead + "M1", lead + "A1", lead}
	case "E1":
		return []string{"E1M", "E1A", "E1", "LOC", "EOG1", "EOGL", "LEOG"}
	case "E2":
		return []string{"E2M", "E2A", "E2", "ROC", "EOG2", "EOGR", "REOG"}
	case "EMG":
		return []string{"CHIN1", "LCHIN", "CHINL", "CCHIN", "CHINC", "CHIN", "EMG"}
	case "EMGREF":
		return []string{"CHIN2", "CHIN3", "RCHIN", "CHINR", "CHIN"}
	case "M1":
		return []string{"M1", "A1"}
	case "M2":
		return []string{"M2", "A2"}
	default:
		return nil
	}
}
