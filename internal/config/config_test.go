package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PROJECT_ID", "exam-project")
	t.Setenv("EXAMFLOW_OVERLAP_TAIL", "0.4")
	t.Setenv("EXAMFLOW_MIN_CALL_INTERVAL", "250ms")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "exam-project", cfg.ProjectID)
	assert.InDelta(t, 0.4, cfg.OverlapTail, 1e-9)
	assert.Equal(t, 250*time.Millisecond, cfg.MinCallInterval)
	assert.Equal(t, 0.30, cfg.OverlapHead)
	assert.NoError(t, cfg.RequireCloud())
}

func TestLoadFlagsOverrideDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	DefineFlags(fs)
	require.NoError(t, fs.Parse([]string{"--max-attempts=7", "--expected-choices=5", "--fixed-expected-choices", "--log-level=debug"}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxAttempts)
	assert.Equal(t, 5, cfg.ExpectedChoices)
	assert.True(t, cfg.FixedExpectedChoices)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero overlap tail", func(c *Config) { c.OverlapTail = 0 }},
		{"overlap head above one", func(c *Config) { c.OverlapHead = 1.5 }},
		{"jpeg quality", func(c *Config) { c.JPEGQuality = 0 }},
		{"no attempts", func(c *Config) { c.MaxAttempts = 0 }},
		{"shrinking backoff", func(c *Config) { c.BackoffMultiplier = 0.5 }},
		{"log level", func(c *Config) { c.LogLevel = "verbose" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRequireCloudNeedsProject(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.RequireCloud())
}
