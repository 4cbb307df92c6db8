package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/sleepseq/pkg/ingestor/annotation"
	"github.com/unijord/sleepseq/pkg/ingestor/reader"
)

func TestBuiltin_AllDatasets(t *testing.T) {
	reg := Builtin()
	want := []string{
		"ABC", "CCSHS", "CFS", "CNC", "DCSM", "DHC", "DOD", "HMC", "HPAP1", "HPAP2",
		"HomePAP", "ISRC", "MASS13", "MESA", "MNC", "MROS1", "MROS2", "NCHSDB", "PHY",
		"SHHS1", "SHHS2", "SOF", "SSC", "STAGES", "WSC",
	}
	assert.Equal(t, want, reg.IDs())

	rule, err := reg.Resolve("SHHS1")
	require.NoError(t, err)
	assert.Equal(t, reader.FormatEDF, rule.SignalFormat)
	assert.Equal(t, annotation.FormatProfusionXML, rule.AnnotationFormat)
	assert.Equal(t, []string{"EEG(sec)", "EEG2", "EEG 2", "EEG(SEC)", "EEG sec"}, rule.Aliases["C3"])
	assert.Equal(t, 30.0, rule.EpochSeconds)
}

func TestRegistry_ResolveCaseInsensitive(t *testing.T) {
	reg := Builtin()
	rule, err := reg.Resolve("shhs1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rule.ID != "SHHS1" {
		t.Errorf("expected SHHS1, got %s", rule.ID)
	}

	rule, err = reg.Resolve("homepap")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rule.ID != "HomePAP" {
		t.Errorf("expected HomePAP, got %s", rule.ID)
	}
}

func TestRegistry_UnknownDataset(t *testing.T) {
	_, err := Builtin().Resolve("SHHS9")
	if !errors.Is(err, ErrUnknownDataset) {
		t.Fatalf("expected ErrUnknownDataset, got %v", err)
	}
	var ude *UnknownDatasetError
	if !errors.As(err, &ude) {
		t.Fatalf("expected *UnknownDatasetError, got %T", err)
	}
	if ude.ID != "SHHS9" {
		t.Errorf("expected ID SHHS9, got %q", ude.ID)
	}
	if len(ude.Known) != 25 {
		t.Errorf("expected 25 known datasets, got %d", len(ude.Known))
	}
}

func TestRegistry_ResolveReturnsCopy(t *testing.T) {
	reg := Builtin()
	rule, err := reg.Resolve("MROS1")
	require.NoError(t, err)
	rule.Aliases["C4"][0] = "mutated"
	rule.Leads[0] = "mutated"

	again, err := reg.Resolve("MROS1")
	require.NoError(t, err)
	assert.Equal(t, "C4-A1", again.Aliases["C4"][0])
	assert.Equal(t, "C4", again.Leads[0])

	// MROS2 shares the alias table literal
	mros2, err := reg.Resolve("MROS2")
	require.NoError(t, err)
	assert.Equal(t, "C4-A1", mros2.Aliases["C4"][0])
}

func validRule(id string) Rule {
	return Rule{
		ID:               id,
		Leads:            []string{"C3"},
		SignalFormat:     reader.FormatEDF,
		AnnotationFormat: annotation.FormatEpochCSV,
		SignalExt:        []string{".edf"},
		AnnotationExt:    []string{".csv"},
		EpochSeconds:     30,
	}
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(validRule("LAB")))
	assert.ErrorIs(t, reg.Register(validRule("lab")), ErrRuleExists)

	invalid := map[string]func(r *Rule){
		"no id":           func(r *Rule) { r.ID = " " },
		"no leads":        func(r *Rule) { r.Leads = nil },
		"signal format":   func(r *Rule) { r.SignalFormat = "wav" },
		"label format":    func(r *Rule) { r.AnnotationFormat = "sta" },
		"no extension":    func(r *Rule) { r.AnnotationExt = nil },
		"bare extension":  func(r *Rule) { r.SignalExt = []string{"edf"} },
		"epoch":           func(r *Rule) { r.EpochSeconds = 0 },
		"mat needs rate":  func(r *Rule) { r.SignalFormat = reader.FormatMAT },
		"bad pattern":     func(r *Rule) { r.SubjectPattern = "(" },
		"pattern capture": func(r *Rule) { r.SubjectPattern = `^\d+` },
	}
	for name, mutate := range invalid {
		t.Run(name, func(t *testing.T) {
			r := validRule("BAD")
			mutate(&r)
			assert.ErrorIs(t, reg.Register(r), ErrInvalidRule)
		})
	}
}

func TestRule_SubjectID(t *testing.T) {
	rule := validRule("X")
	require.NoError(t, rule.Validate())
	assert.Equal(t, "shhs1-200001", rule.SubjectID("/data/shhs1/shhs1-200001.edf"))
	assert.Equal(t, "SC4001E0_PSG", rule.SubjectID("SC4001E0.PSG.edf"))

	rule.SubjectPattern = `^(\d+)_\d+$`
	require.NoError(t, rule.Validate())
	assert.Equal(t, "7", rule.SubjectID("/isruc/7_1.edf"))
	assert.Equal(t, "other", rule.SubjectID("/isruc/other.edf"))

	dcsm, err := Builtin().Resolve("DCSM")
	require.NoError(t, err)
	assert.Equal(t, "tp0a1b2c", dcsm.SubjectID("/dcsm/tp0a1b2c/psg.edf"))
}

func TestRule_Options(t *testing.T) {
	phy, err := Builtin().Resolve("PHY")
	require.NoError(t, err)
	opts := phy.ReaderOptions()
	assert.Equal(t, 200.0, opts.Rate)
	assert.Equal(t, "val", opts.Variable)
	assert.Len(t, opts.Labels, 8)

	assert.Equal(t, annotation.DefaultOptions(), phy.AnnotationOptions())
	phy.MaxGapEpochs = 4
	assert.Equal(t, 4, phy.AnnotationOptions().MaxGapEpochs)
}

const labRules = `{
  "datasets": [
    {
      "id": "LAB",
      "leads": ["C3", "EMG"],
      "aliases": {"C3": ["EEG C3-A2"], "EMG": ["Chin"]},
      "signal_format": "edf",
      "annotation_format": "epoch_csv",
      "signal_ext": [".edf"],
      "annotation_ext": [".csv"],
      "epoch_seconds": 30,
      "subject_pattern": "^lab-(\\w+)$"
    }
  ]
}`

func TestRegistry_Load(t *testing.T) {
	reg := Builtin()
	if err := reg.Load(strings.NewReader(labRules)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	rule, err := reg.Resolve("lab")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := rule.SubjectID("lab-0042.edf"); got != "0042" {
		t.Errorf("expected subject 0042, got %s", got)
	}

	// loading the same document again collides
	if err := reg.Load(strings.NewReader(labRules)); !errors.Is(err, ErrRuleExists) {
		t.Errorf("expected ErrRuleExists, got %v", err)
	}
}

func TestRegistry_LoadRejectedBySchema(t *testing.T) {
	tests := map[string]string{
		"not json":          `{"datasets": [`,
		"empty":             `{"datasets": []}`,
		"unknown property":  strings.Replace(labRules, `"epoch_seconds": 30`, `"epoch_seconds": 30, "color": "red"`, 1),
		"bad format":        strings.Replace(labRules, `"epoch_csv"`, `"sta"`, 1),
		"negative epoch":    strings.Replace(labRules, `"epoch_seconds": 30`, `"epoch_seconds": -30`, 1),
		"extension no dot":  strings.Replace(labRules, `[".csv"]`, `["csv"]`, 1),
		"missing leads":     strings.Replace(labRules, `"leads": ["C3", "EMG"],`, ``, 1),
		"invalid after all": strings.Replace(labRules, `"^lab-(\\w+)$"`, `"^lab-\\w+$"`, 1),
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			reg := NewRegistry()
			err := reg.Load(strings.NewReader(doc))
			assert.ErrorIs(t, err, ErrInvalidRule)
			assert.Empty(t, reg.IDs())
		})
	}
}

func TestRegistry_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(labRules), 0o644))

	reg := NewRegistry()
	require.NoError(t, reg.LoadFile(path))
	assert.Equal(t, []string{"LAB"}, reg.IDs())

	err := reg.LoadFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
