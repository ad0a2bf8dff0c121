package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "adb", cfg.Device.ADBPath)
	assert.Equal(t, 30*time.Second, cfg.Device.CommandTimeout)
	assert.Equal(t, 3, cfg.Device.CaptureMaxAttempts)
	assert.Equal(t, 5, cfg.Knowledge.TopK)
	assert.InDelta(t, 0.55, float64(cfg.Knowledge.AcceptThreshold), 0.0001)
	assert.Equal(t, 2, cfg.Agent.MaxStepRetries)
	assert.Equal(t, 5, cfg.Agent.MaxTaskRetries)
	assert.Equal(t, 30, cfg.Agent.MaxSteps)
	assert.Equal(t, "gemini-2.5-flash", cfg.Agent.LLM.DefaultFastModel)
	assert.Equal(t, "gemini-embedding-001", cfg.Agent.LLM.EmbeddingModel)

	require.NoError(t, cfg.Validate())
}

func TestNewConfigFromViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("device.adb_path", "/opt/platform-tools/adb")
	v.Set("knowledge.accept_threshold", 0.75)
	v.Set("agent.max_step_retries", 4)

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "/opt/platform-tools/adb", cfg.Device.ADBPath)
	assert.InDelta(t, 0.75, float64(cfg.Knowledge.AcceptThreshold), 0.0001)
	assert.Equal(t, 4, cfg.Agent.MaxStepRetries)
}

func TestNewConfigFromViperPropagatesSharedAPIKey(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("agent.llm.api_key", "shared-secret")
	v.Set("agent.llm.models", map[string]interface{}{
		"gemini-2.5-flash": map[string]interface{}{"provider": "gemini", "model": "gemini-2.5-flash"},
		"gemini-2.5-pro":   map[string]interface{}{"provider": "gemini", "model": "gemini-2.5-pro", "api_key": "own-key"},
	})

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "shared-secret", cfg.Agent.LLM.Models["gemini-2.5-flash"].APIKey)
	assert.Equal(t, "own-key", cfg.Agent.LLM.Models["gemini-2.5-pro"].APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "missing adb path", mutate: func(c *Config) { c.Device.ADBPath = "" }, wantErr: true},
		{name: "zero capture attempts", mutate: func(c *Config) { c.Device.CaptureMaxAttempts = 0 }, wantErr: true},
		{name: "zero top k", mutate: func(c *Config) { c.Knowledge.TopK = 0 }, wantErr: true},
		{name: "threshold above one", mutate: func(c *Config) { c.Knowledge.AcceptThreshold = 1.5 }, wantErr: true},
		{name: "negative step retries", mutate: func(c *Config) { c.Agent.MaxStepRetries = -1 }, wantErr: true},
		{name: "zero max steps", mutate: func(c *Config) { c.Agent.MaxSteps = 0 }, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
