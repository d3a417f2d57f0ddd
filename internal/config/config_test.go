// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 3, cfg.Pool.MaxBrowsers)
	assert.Equal(t, 24*time.Hour, cfg.Pool.SessionTTL)
	assert.Equal(t, 1920, cfg.Capture.ViewportWidth)
	assert.Equal(t, 800, cfg.Capture.ScrollStep)
	assert.Equal(t, 10*time.Second, cfg.Capture.ReadyCeiling)
	assert.Contains(t, cfg.Auth.LoginPathHints, "signin")
	assert.Contains(t, cfg.Tabs.SelectorPatterns, "[role='tab']")
	assert.False(t, cfg.Analysis.Enabled)
	assert.Equal(t, "captures", cfg.Output.Dir)
	assert.True(t, cfg.Output.WriteReport)
	assert.NotEmpty(t, cfg.Pool.SessionDir, "session dir must be resolved at load time")
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate(), "the default config must be valid")

	cases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "zero browsers",
			mutate:  func(c *Config) { c.Pool.MaxBrowsers = 0 },
			wantErr: "pool.max_browsers must be a positive integer",
		},
		{
			name:    "zero scroll step",
			mutate:  func(c *Config) { c.Capture.ScrollStep = 0 },
			wantErr: "capture.scroll_step must be a positive integer",
		},
		{
			name:    "single frame budget",
			mutate:  func(c *Config) { c.Capture.MaxFrames = 1 },
			wantErr: "capture.max_frames",
		},
		{
			name:    "negative viewport",
			mutate:  func(c *Config) { c.Capture.ViewportHeight = -1 },
			wantErr: "viewport dimensions must be positive",
		},
		{
			name:    "zero session ttl",
			mutate:  func(c *Config) { c.Pool.SessionTTL = 0 },
			wantErr: "pool.session_ttl must be a positive duration",
		},
		{
			name: "analysis enabled without endpoint",
			mutate: func(c *Config) {
				c.Analysis.Enabled = true
				c.Analysis.Endpoint = ""
			},
			wantErr: "analysis.endpoint is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bad := *NewDefaultConfig()
			tc.mutate(&bad)
			err := bad.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
pool:
  max_browsers: 5
capture:
  viewport_width: 1280
  navigation_timeout: 10s
output:
  dir: /tmp/shots
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.Equal(t, 5, cfg.Pool.MaxBrowsers)
		assert.Equal(t, 1280, cfg.Capture.ViewportWidth)
		assert.Equal(t, 10*time.Second, cfg.Capture.NavigationTimeout)
		assert.Equal(t, "/tmp/shots", cfg.Output.Dir)
		// Untouched keys keep their defaults.
		assert.Equal(t, "info", cfg.Logger.Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("pool.max_browsers", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "pool.max_browsers must be a positive integer")
	})

	t.Run("API Key from Environment", func(t *testing.T) {
		t.Setenv("PAGEPROOF_ANALYSIS_API_KEY", "key-from-env")

		v := viper.New()
		SetDefaults(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "key-from-env", cfg.Analysis.APIKey)
	})

	t.Run("Explicit Session Dir Preserved", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("pool.session_dir", "/var/lib/pageproof")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "/var/lib/pageproof", cfg.Pool.SessionDir)
	})
}
