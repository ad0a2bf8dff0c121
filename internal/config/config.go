// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Device    DeviceConfig    `mapstructure:"device" yaml:"device"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge" yaml:"knowledge"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DeviceConfig tunes the adb transport layer.
type DeviceConfig struct {
	ADBPath            string        `mapstructure:"adb_path" yaml:"adb_path"`                         // Path to the adb binary.
	CommandTimeout     time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`           // Per adb invocation.
	SessionOpenTimeout time.Duration `mapstructure:"session_open_timeout" yaml:"session_open_timeout"` // Bound on establishing device contact.
	CaptureMaxAttempts int           `mapstructure:"capture_max_attempts" yaml:"capture_max_attempts"` // UI dump retry bound.
	CaptureBackoff     time.Duration `mapstructure:"capture_backoff" yaml:"capture_backoff"`           // Initial backoff between capture retries.
	Screenshot         bool          `mapstructure:"screenshot" yaml:"screenshot"`                     // Include raster snapshots in captures.
}

// KnowledgeConfig configures the embedded vector knowledge store and the
// assistant's retrieval behaviour.
type KnowledgeConfig struct {
	Path            string  `mapstructure:"path" yaml:"path"`                         // Persistence directory; empty means in-memory.
	Collection      string  `mapstructure:"collection" yaml:"collection"`             // Collection name inside the store.
	TopK            int     `mapstructure:"top_k" yaml:"top_k"`                       // Nearest-neighbour count for retrieval.
	AcceptThreshold float32 `mapstructure:"accept_threshold" yaml:"accept_threshold"` // Minimum similarity to adopt a match.
}

// AgentConfig holds settings related to the task-execution loop and its LLM.
type AgentConfig struct {
	LLM            LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	MaxStepRetries int             `mapstructure:"max_step_retries" yaml:"max_step_retries"` // Retry budget per step.
	MaxTaskRetries int             `mapstructure:"max_task_retries" yaml:"max_task_retries"` // Retry budget per task.
	MaxSteps       int             `mapstructure:"max_steps" yaml:"max_steps"`               // Hard bound on steps per task.
	LLMTimeout     time.Duration   `mapstructure:"llm_timeout" yaml:"llm_timeout"`           // Per LLM call.
	RequestsPerMin float64         `mapstructure:"requests_per_min" yaml:"requests_per_min"` // LLM request rate limit.
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMRouterConfig configures the model routing logic.
type LLMRouterConfig struct {
	DefaultFastModel     string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultPowerfulModel string                    `mapstructure:"default_powerful_model" yaml:"default_powerful_model"`
	EmbeddingModel       string                    `mapstructure:"embedding_model" yaml:"embedding_model"`
	Models               map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// LLMModelConfig defines the configuration for a single LLM.
type LLMModelConfig struct {
	Provider      LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"-"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature   float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// DefaultDataDir resolves the user-level data directory used for the knowledge
// store when no explicit path is configured.
func DefaultDataDir() string {
	home, err := homedir.Dir()
	if err != nil {
		return ".droidpilot"
	}
	return filepath.Join(home, ".droidpilot")
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "droidpilot-cli")
	v.SetDefault("logger.log_file", "droidpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Device --
	v.SetDefault("device.adb_path", "adb")
	v.SetDefault("device.command_timeout", "30s")
	v.SetDefault("device.session_open_timeout", "10s")
	v.SetDefault("device.capture_max_attempts", 3)
	v.SetDefault("device.capture_backoff", "500ms")
	v.SetDefault("device.screenshot", false)

	// -- Knowledge --
	v.SetDefault("knowledge.path", filepath.Join(DefaultDataDir(), "knowledge"))
	v.SetDefault("knowledge.collection", "app-operations")
	v.SetDefault("knowledge.top_k", 5)
	v.SetDefault("knowledge.accept_threshold", 0.55)

	// -- Agent --
	v.SetDefault("agent.max_step_retries", 2)
	v.SetDefault("agent.max_task_retries", 5)
	v.SetDefault("agent.max_steps", 30)
	v.SetDefault("agent.llm_timeout", "45s")
	v.SetDefault("agent.requests_per_min", 60)
	v.SetDefault("agent.llm.default_fast_model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.default_powerful_model", "gemini-2.5-pro")
	v.SetDefault("agent.llm.embedding_model", "gemini-embedding-001")
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("agent.llm.api_key", "DROIDPILOT_GEMINI_API_KEY")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Propagate the shared API key to any model entry that omits one.
	if key := v.GetString("agent.llm.api_key"); key != "" {
		for name, mc := range cfg.Agent.LLM.Models {
			if mc.APIKey == "" {
				mc.APIKey = key
				cfg.Agent.LLM.Models[name] = mc
			}
		}
	} else if envKey := os.Getenv("DROIDPILOT_GEMINI_API_KEY"); envKey != "" {
		for name, mc := range cfg.Agent.LLM.Models {
			if mc.APIKey == "" {
				mc.APIKey = envKey
				cfg.Agent.LLM.Models[name] = mc
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Device.ADBPath == "" {
		return fmt.Errorf("device.adb_path is a required configuration field")
	}
	if c.Device.CaptureMaxAttempts <= 0 {
		return fmt.Errorf("device.capture_max_attempts must be a positive integer")
	}
	if c.Knowledge.TopK <= 0 {
		return fmt.Errorf("knowledge.top_k must be a positive integer")
	}
	if c.Knowledge.AcceptThreshold < 0 || c.Knowledge.AcceptThreshold > 1 {
		return fmt.Errorf("knowledge.accept_threshold must be between 0.0 and 1.0")
	}
	if c.Agent.MaxStepRetries < 0 {
		return fmt.Errorf("agent.max_step_retries must not be negative")
	}
	if c.Agent.MaxTaskRetries < 0 {
		return fmt.Errorf("agent.max_task_retries must not be negative")
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	return nil
}
