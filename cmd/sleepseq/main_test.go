package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/sleepseq/internal/psgtest"
	"github.com/unijord/sleepseq/pkg/ingestor/dataset"
	"github.com/unijord/sleepseq/pkg/pipeline"
)

func runCLI(t *testing.T, args ...string) (string, int, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), exitCode(err), err
}

func writeSubject(t *testing.T, root, subject string, seconds float64, epochs int) {
	t.Helper()
	const rate = 100
	psgtest.WriteEDF(t, filepath.Join(root, "edfs", subject+".edf"), psgtest.EDF{
		Signals: []psgtest.Signal{
			{Label: "EEG", Rate: rate, Samples: psgtest.Sine(rate, seconds, 9, 30)},
			{Label: "EOG(L)", Rate: rate, Samples: psgtest.Sine(rate, seconds, 1, 60)},
			{Label: "EMG", Rate: rate, Samples: psgtest.Sine(rate, seconds, 20, 10)},
		},
	})
	psgtest.WriteProfusionXML(t, filepath.Join(root, "annotations", subject+"-profusion.xml"), 30, make([]int, epochs))
}

func TestRun_Success(t *testing.T) {
	root, out := t.TempDir(), t.TempDir()
	writeSubject(t, root, "shhs1-200001", 600, 20)

	stdout, code, err := runCLI(t,
		"-dataset", "SHHS1", "-data-root", root, "-out-root", out,
		"-channels", "C4, E1,EMG", "-workers", "1", "-log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "1 succeeded")

	_, err = os.Stat(pipeline.SeqPath(out, "SHHS1", "shhs1-200001", 0))
	assert.NoError(t, err)
}

func TestRun_ResumeSkipsDone(t *testing.T) {
	root, out := t.TempDir(), t.TempDir()
	writeSubject(t, root, "shhs1-200001", 600, 20)
	ledger := filepath.Join(t.TempDir(), "run.db")

	args := []string{"-dataset", "shhs1", "-data-root", root, "-out-root", out,
		"-ledger", ledger, "-resume", "-log-format", "json", "-log-level", "warn"}
	_, code, err := runCLI(t, args...)
	require.NoError(t, err)
	assert.Equal(t, exitOK, code)

	stdout, code, err := runCLI(t, args...)
	require.NoError(t, err)
	assert.Equal(t, exitOK, code, "all subjects already done is success")
	assert.Contains(t, stdout, "1 skipped")
}

func TestRun_NoSuccess(t *testing.T) {
	root, out := t.TempDir(), t.TempDir()
	writeSubject(t, root, "shhs1-200001", 300, 10)

	stdout, code, err := runCLI(t, "-dataset", "SHHS1", "-data-root", root, "-out-root", out, "-log-level", "error")
	assert.ErrorIs(t, err, errNoSuccess)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stdout, "FAILED  shhs1-200001  align")
}

func TestRun_NoSubjects(t *testing.T) {
	root := t.TempDir()
	_, code, err := runCLI(t, "-dataset", "SHHS1", "-data-root", root, "-out-root", t.TempDir(), "-log-level", "error")
	require.Error(t, err)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, err.Error(), root)
}

func TestRun_UnknownDataset(t *testing.T) {
	_, code, err := runCLI(t, "-dataset", "NOPE", "-data-root", t.TempDir(), "-out-root", t.TempDir())
	assert.ErrorIs(t, err, dataset.ErrUnknownDataset)
	assert.Equal(t, exitFailure, code)
}

func TestRun_UsageErrors(t *testing.T) {
	tests := map[string][]string{
		"unknown flag":     {"-bogus"},
		"missing dataset":  {"-data-root", "/d", "-out-root", "/o"},
		"bad seq len":      {"-dataset", "SHHS1", "-data-root", "/d", "-out-root", "/o", "-seq-len", "0"},
		"bad notch":        {"-dataset", "SHHS1", "-data-root", "/d", "-out-root", "/o", "-notch", "50,x"},
		"bad policy":       {"-dataset", "SHHS1", "-data-root", "/d", "-out-root", "/o", "-annotation-policy", "last"},
		"bad log level":    {"-log-level", "loud"},
		"bad log format":   {"-log-format", "xml"},
		"resume no ledger": {"-dataset", "SHHS1", "-data-root", "/d", "-out-root", "/o", "-resume"},
		"stray argument":   {"-dataset", "SHHS1", "extra"},
		"missing config":   {"-config", "/nonexistent/run.json"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, code, err := runCLI(t, args...)
			require.Error(t, err)
			assert.Equal(t, exitUsage, code)
		})
	}
}

func TestRun_Help(t *testing.T) {
	_, code, _ := runCLI(t, "-h")
	assert.Equal(t, exitOK, code)
}

func TestRun_List(t *testing.T) {
	rules := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(rules, []byte(`{
  "datasets": [{
    "id": "LAB",
    "leads": ["C3"],
    "signal_format": "edf",
    "annotation_format": "epoch_csv",
    "signal_ext": [".edf"],
    "annotation_ext": [".csv"],
    "epoch_seconds": 30
  }]
}`), 0o644))

	stdout, code, err := runCLI(t, "-list", "-rules", rules)
	require.NoError(t, err)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "SHHS1")
	assert.Contains(t, stdout, "LAB")
	assert.Contains(t, stdout, "epoch_csv")
}

func TestRun_ConfigFile(t *testing.T) {
	root, out := t.TempDir(), t.TempDir()
	writeSubject(t, root, "shhs1-200001", 600, 20)
	writeSubject(t, root, "shhs1-200002", 600, 20)

	cfgPath := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`{
  "dataset": "SHHS1",
  "data_root": "`+filepath.ToSlash(root)+`",
  "out_root": "/will/be/overridden",
  "leads": ["C4", "EMG"],
  "filter": "subject.endsWith(\"2\")"
}`), 0o644))

	stdout, code, err := runCLI(t, "-config", cfgPath, "-out-root", out, "-log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "1 filtered")

	_, err = os.Stat(pipeline.SeqPath(out, "SHHS1", "shhs1-200002", 0))
	assert.NoError(t, err)
	_, err = os.Stat(pipeline.SeqPath(out, "SHHS1", "shhs1-200001", 0))
	assert.True(t, os.IsNotExist(err))
}

func TestParseNotch(t *testing.T) {
	got, err := parseNotch("50, 60")
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 60}, got)

	got, err = parseNotch("none")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = parseNotch("fifty")
	assert.Error(t, err)
}
