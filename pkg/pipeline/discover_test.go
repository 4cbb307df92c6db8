package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/sleepseq/pkg/ingestor/annotation"
	"github.com/unijord/sleepseq/pkg/ingestor/dataset"
	"github.com/unijord/sleepseq/pkg/ingestor/reader"
)

func testRule(t *testing.T, mutate func(r *dataset.Rule)) dataset.Rule {
	t.Helper()
	r := dataset.Rule{
		ID:               "TEST",
		Leads:            []string{"C3"},
		SignalFormat:     reader.FormatEDF,
		AnnotationFormat: annotation.FormatProfusionXML,
		SignalExt:        []string{".edf"},
		AnnotationExt:    []string{".xml"},
		EpochSeconds:     30,
	}
	if mutate != nil {
		mutate(&r)
	}
	require.NoError(t, r.Validate())
	return r
}

func touch(t *testing.T, root string, rel ...string) {
	t.Helper()
	for _, p := range rel {
		full := filepath.Join(root, filepath.FromSlash(p))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
	}
}

type pairing struct {
	subject, signal, annotation string
}

func pairs(root string, d *Discovery) []pairing {
	out := make([]pairing, len(d.Groups))
	for i, g := range d.Groups {
		sig, _ := filepath.Rel(root, g.Signal)
		ann, _ := filepath.Rel(root, g.Annotation)
		out[i] = pairing{g.Subject, filepath.ToSlash(sig), filepath.ToSlash(ann)}
	}
	return out
}

func TestDiscover_Pairing(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(r *dataset.Rule)
		files    []string
		want     []pairing
		unpaired []string
	}{
		{
			name:  "exact stems",
			files: []string{"a/s01.edf", "a/s01.xml", "a/s02.edf", "b/s02.xml"},
			want: []pairing{
				{"s01", "a/s01.edf", "a/s01.xml"},
				{"s02", "a/s02.edf", "b/s02.xml"},
			},
		},
		{
			name: "nsrr layout",
			files: []string{
				"edfs/shhs1-200001.edf", "edfs/shhs1-200002.edf",
				"annotations/shhs1-200002-profusion.xml", "annotations/shhs1-200001-profusion.xml",
			},
			want: []pairing{
				{"shhs1-200001", "edfs/shhs1-200001.edf", "annotations/shhs1-200001-profusion.xml"},
				{"shhs1-200002", "edfs/shhs1-200002.edf", "annotations/shhs1-200002-profusion.xml"},
			},
		},
		{
			name:  "boundary beats plain containment",
			files: []string{"sig/s1.edf", "sig/s10.edf", "ann/s10-hyp.xml", "ann/s1-hyp.xml"},
			want: []pairing{
				{"s1", "sig/s1.edf", "ann/s1-hyp.xml"},
				{"s10", "sig/s10.edf", "ann/s10-hyp.xml"},
			},
		},
		{
			name:  "annotation stem inside signal stem",
			files: []string{"01-03-0001 PSG.edf", "01-03-0001 Base.edf", "ann/01-03-0001.xml"},
			mutate: func(r *dataset.Rule) {
				r.SubjectPattern = `^(\d+-\d+-\d+)`
			},
			want: []pairing{
				{"01-03-0001", "01-03-0001 Base.edf", "ann/01-03-0001.xml"},
			},
			unpaired: []string{"01-03-0001 PSG.edf"},
		},
		{
			name:  "same directory preferred",
			files: []string{"b/rec1.edf", "a/rec1.xml", "b/rec1.xml"},
			want:  []pairing{{"rec1", "b/rec1.edf", "b/rec1.xml"}},
		},
		{
			name:  "lone pair in directory",
			files: []string{"p1/signals.edf", "p1/hypnogram.xml", "p2/signals.edf", "p2/hypnogram.xml"},
			mutate: func(r *dataset.Rule) {
				r.SubjectFromDir = true
			},
			want: []pairing{
				{"p1", "p1/signals.edf", "p1/hypnogram.xml"},
				{"p2", "p2/signals.edf", "p2/hypnogram.xml"},
			},
		},
		{
			name:  "case-insensitive extensions",
			files: []string{"S01.EDF", "S01.XML", "notes.txt"},
			want:  []pairing{{"S01", "S01.EDF", "S01.XML"}},
		},
		{
			name:     "unpaired signal",
			files:    []string{"a.edf", "a.xml", "b.edf"},
			want:     []pairing{{"a", "a.edf", "a.xml"}},
			unpaired: []string{"b.edf"},
		},
		{
			name: "self annotated",
			mutate: func(r *dataset.Rule) {
				r.AnnotationFormat = annotation.FormatEDFPlus
				r.AnnotationExt = []string{".edf"}
			},
			files: []string{"s1.edf", "s2.edf"},
			want: []pairing{
				{"s1", "s1.edf", "s1.edf"},
				{"s2", "s2.edf", "s2.edf"},
			},
		},
		{
			name: "annotation suffix",
			mutate: func(r *dataset.Rule) {
				r.SignalFormat = reader.FormatMAT
				r.SampleRate = 200
				r.AnnotationFormat = annotation.FormatPhyMAT
				r.SignalExt = []string{".mat"}
				r.AnnotationExt = []string{".mat"}
				r.AnnotationSuffix = "-arousal"
			},
			files: []string{"tr03-0005/tr03-0005.mat", "tr03-0005/tr03-0005-arousal.mat"},
			want:  []pairing{{"tr03-0005", "tr03-0005/tr03-0005.mat", "tr03-0005/tr03-0005-arousal.mat"}},
		},
		{
			name:  "dotted stems",
			files: []string{"SC4001E0.PSG.edf", "SC4001EC.Hypnogram.xml"},
			mutate: func(r *dataset.Rule) {
				r.SubjectPattern = `^(SC\d{4})`
			},
			want: []pairing{{"SC4001", "SC4001E0.PSG.edf", "SC4001EC.Hypnogram.xml"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			touch(t, root, tt.files...)
			d, err := Discover(root, testRule(t, tt.mutate))
			require.NoError(t, err)
			assert.Equal(t, tt.want, pairs(root, d))

			var unpaired []string
			for _, p := range d.Unpaired {
				rel, _ := filepath.Rel(root, p)
				unpaired = append(unpaired, filepath.ToSlash(rel))
			}
			assert.Equal(t, tt.unpaired, unpaired)
		})
	}
}

func TestDiscover_DuplicateSubjects(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "night1/s01.edf", "night1/s01.xml", "night2/s01.edf", "night2/s01.xml")

	d, err := Discover(root, testRule(t, nil))
	require.NoError(t, err)
	require.Len(t, d.Groups, 2)
	assert.Equal(t, "s01", d.Groups[0].Subject)
	assert.Equal(t, "s01_2", d.Groups[1].Subject)
	assert.Equal(t, filepath.Join(root, "night2", "s01.xml"), d.Groups[1].Annotation)
}

func TestDiscover_Metadata(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "s01.edf", "s01.xml")

	d, err := Discover(root, testRule(t, nil))
	require.NoError(t, err)
	require.Len(t, d.Groups, 1)
	assert.EqualValues(t, 1, d.Groups[0].SignalBytes)
	assert.False(t, d.Groups[0].SelfAnnotated())
	assert.Equal(t, []string{"**/*.edf", "**/*.xml"}, d.Patterns)
}

func TestContainsAtBoundary(t *testing.T) {
	tests := []struct {
		s, sub string
		want   bool
	}{
		{"s1-hyp", "s1", true},
		{"s10-hyp", "s1", false},
		{"night s1", "s1", true},
		{"xs1", "s1", false},
		{"s1", "s1", false},
		{"ab-s1-s1x", "s1", true},
		{"", "s1", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, containsAtBoundary(tt.s, tt.sub), "%q in %q", tt.sub, tt.s)
	}
}
