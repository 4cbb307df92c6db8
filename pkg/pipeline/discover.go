package pipeline

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/unijord/sleepseq/pkg/ingestor/dataset"
)

// Group pairs one subject's signal file with its annotation file.
type Group struct {
	Subject    string
	Signal     string
	Annotation string
	// SignalBytes is the size of the signal file.
	SignalBytes int64
}

// SelfAnnotated reports whether the signal file carries its own labels.
func (g Group) SelfAnnotated() bool {
	return g.Signal == g.Annotation
}

// Discovery is the result of scanning a data root.
type Discovery struct {
	// Groups are sorted by signal path.
	Groups []Group
	// Unpaired lists signal files with no annotation.
	Unpaired []string
	// Patterns are the globs searched, for diagnostics.
	Patterns []string
}

type candidate struct {
	path string
	dir  string
	stem string
	size int64
}

// Discover walks root and pairs signal files with annotation files.
//
// A signal is paired with the first unclaimed annotation found by these
// passes, in order: equal stems (after stripping the rule's annotation
// suffix), a stem that contains the other at a word boundary, plain
// containment, then the only annotation in a directory holding a single
// signal. Within a pass annotations in the signal's directory win, then path
// order. Extensions match case-insensitively.
func Discover(root string, rule dataset.Rule) (*Discovery, error) {
	sigExt := lowerSet(rule.SignalExt)
	annExt := lowerSet(rule.AnnotationExt)
	suffix := strings.ToLower(rule.AnnotationSuffix)

	d := &Discovery{Patterns: patterns(rule)}
	var signals, annots []candidate
	selfAnnotated := false

	err := filepath.WalkDir(root, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		isSig, isAnn := sigExt[ext], annExt[ext]
		if !isSig && !isAnn {
			return nil
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		c := candidate{
			path: path,
			dir:  filepath.Dir(path),
			stem: strings.ToLower(dataset.Stem(path)),
			size: info.Size(),
		}
		switch {
		case isSig && isAnn && suffix == "":
			// one file carries both signal and labels
			signals = append(signals, c)
			selfAnnotated = true
		case isSig && isAnn:
			if strings.HasSuffix(c.stem, suffix) {
				annots = append(annots, c)
			} else {
				signals = append(signals, c)
			}
		case isSig:
			signals = append(signals, c)
		default:
			annots = append(annots, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	byPath := func(a, b candidate) int { return strings.Compare(a.path, b.path) }
	slices.SortFunc(signals, byPath)
	slices.SortFunc(annots, byPath)

	perDir := make(map[string]int)
	for _, s := range signals {
		perDir[s.dir]++
	}

	claimed := make([]bool, len(annots))
	ids := make(map[string]int)
	for _, s := range signals {
		annPath := ""
		if selfAnnotated {
			annPath = s.path
		} else if i := pair(s, annots, claimed, suffix, perDir[s.dir] == 1); i >= 0 {
			claimed[i] = true
			annPath = annots[i].path
		}
		if annPath == "" {
			d.Unpaired = append(d.Unpaired, s.path)
			continue
		}

		id := rule.SubjectID(s.path)
		ids[id]++
		if n := ids[id]; n > 1 {
			id = id + "_" + strconv.Itoa(n)
		}
		d.Groups = append(d.Groups, Group{
			Subject:     id,
			Signal:      s.path,
			Annotation:  annPath,
			SignalBytes: s.size,
		})
	}
	return d, nil
}

type matcher func(sig, ann string) bool

var passes = []matcher{
	func(sig, ann string) bool { return sig == ann },
	func(sig, ann string) bool { return containsAtBoundary(ann, sig) || containsAtBoundary(sig, ann) },
	func(sig, ann string) bool { return strings.Contains(ann, sig) || strings.Contains(sig, ann) },
}

// pair returns the index of the annotation for s, or -1.
func pair(s candidate, annots []candidate, claimed []bool, suffix string, alone bool) int {
	for _, match := range passes {
		best := -1
		for i, a := range annots {
			if claimed[i] {
				continue
			}
			stem := a.stem
			if suffix != "" {
				stem = strings.TrimSuffix(stem, suffix)
			}
			if stem == "" || !match(s.stem, stem) {
				continue
			}
			if a.dir == s.dir {
				best = i
				break
			}
			if best < 0 {
				best = i
			}
		}
		if best >= 0 {
			return best
		}
	}
	if !alone {
		return -1
	}
	found := -1
	for i, a := range annots {
		if claimed[i] || a.dir != s.dir {
			continue
		}
		if found >= 0 {
			return -1
		}
		found = i
	}
	return found
}

// containsAtBoundary reports whether s contains sub delimited by the string
// ends or by non-alphanumeric bytes.
func containsAtBoundary(s, sub string) bool {
	if sub == "" || len(sub) >= len(s) {
		return false
	}
	for off := 0; ; {
		i := strings.Index(s[off:], sub)
		if i < 0 {
			return false
		}
		i += off
		j := i + len(sub)
		if (i == 0 || !isAlnum(s[i-1])) && (j == len(s) || !isAlnum(s[j])) {
			return true
		}
		off = i + 1
	}
}

func isAlnum(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func lowerSet(exts []string) map[string]bool {
	out := make(map[string]bool, len(exts))
	for _, e := range exts {
		out[strings.ToLower(e)] = true
	}
	return out
}

func patterns(rule dataset.Rule) []string {
	var out []string
	for _, e := range rule.SignalExt {
		out = append(out, "**/*"+e)
	}
	for _, e := range rule.AnnotationExt {
		p := "**/*" + rule.AnnotationSuffix + e
		if !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}
