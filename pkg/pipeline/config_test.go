package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unijord/sleepseq/pkg/condition"
	"github.com/unijord/sleepseq/pkg/ingestor/annotation"
)

func validConfig() Config {
	cfg := DefaultConfig()
	cfg.Dataset = "SHHS1"
	cfg.DataRoot = "/data/shhs"
	cfg.OutRoot = "/out"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   error
	}{
		{"valid", func(c *Config) {}, nil},
		{"no dataset", func(c *Config) { c.Dataset = " " }, ErrNoDataset},
		{"no data root", func(c *Config) { c.DataRoot = "" }, ErrNoDataRoot},
		{"no out root", func(c *Config) { c.OutRoot = "" }, ErrNoOutRoot},
		{"zero rate", func(c *Config) { c.TargetRate = 0 }, ErrInvalidTargetRate},
		{"negative epoch", func(c *Config) { c.EpochSeconds = -30 }, ErrInvalidEpochSeconds},
		{"zero seq len", func(c *Config) { c.SeqLen = 0 }, ErrInvalidSeqLen},
		{"negative stride", func(c *Config) { c.Stride = -1 }, ErrInvalidStride},
		{"negative cap", func(c *Config) { c.MaxSubjects = -1 }, ErrInvalidMaxSubjects},
		{"negative workers", func(c *Config) { c.Workers = -2 }, ErrInvalidWorkers},
		{"negative min epochs", func(c *Config) { c.MinEpochs = -1 }, ErrInvalidMinEpochs},
		{"negative gap", func(c *Config) { c.MaxGapEpochs = -1 }, ErrInvalidMaxGapEpochs},
		{"empty lead", func(c *Config) { c.Leads = []string{"C3", ""} }, ErrEmptyLead},
		{"duplicate lead", func(c *Config) { c.Leads = []string{"C3", "c3"} }, ErrDuplicateLead},
		{"resume without ledger", func(c *Config) { c.Resume = true }, ErrResumeWithoutLedger},
		{"resume with ledger", func(c *Config) { c.Resume, c.LedgerPath = true, "/tmp/l.db" }, nil},
		{"bad filter order", func(c *Config) { c.Condition.FilterOrder = 5 }, condition.ErrInvalidOrder},
		{"unbounded cap", func(c *Config) { c.MaxSubjects = 0 }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConfig_MaxGapIsConfigError(t *testing.T) {
	cfg := validConfig()
	cfg.MaxGapEpochs = -3
	err := cfg.Validate()
	assert.ErrorIs(t, err, ErrInvalidMaxGapEpochs)
	assert.NotErrorIs(t, err, annotation.ErrMalformedAnnotation)
	assert.Contains(t, err.Error(), "-3")
}

func TestConfig_TargetRateOverridesCondition(t *testing.T) {
	cfg := validConfig()
	cfg.Condition.TargetRate = 0
	cfg.TargetRate = 128
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(strings.NewReader(`{
		"dataset": "MASS",
		"data_root": "/data/mass",
		"out_root": "/out",
		"leads": ["C3", "E1"],
		"seq_len": 10,
		"condition": {"notch_hz": [50], "filter_order": 4, "normalize": true, "target_rate": 100}
	}`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "MASS", cfg.Dataset)
	assert.Equal(t, []string{"C3", "E1"}, cfg.Leads)
	assert.Equal(t, 10, cfg.SeqLen)
	assert.Equal(t, 100.0, cfg.TargetRate, "unset keys keep defaults")
	assert.Equal(t, []float64{50}, cfg.Condition.Notch)
	assert.Equal(t, condition.DefaultConfig().Bands, cfg.Condition.Bands)
}

func TestLoadConfig_Rejects(t *testing.T) {
	for _, src := range []string{
		`{"dataset": "X", "colums": []}`,
		`{"seq_len": "twenty"}`,
		`{} {}`,
		``,
	} {
		_, err := LoadConfig(strings.NewReader(src))
		assert.ErrorIs(t, err, ErrInvalidConfig, src)
	}
}
