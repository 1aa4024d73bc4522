// Package config handles configuration loading and saving.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/graphstudio/graphstudio/logger"
)

const configFileName = "config.yaml"

var configDirOverride string

// SetConfigDir overrides the config directory for the current process.
// Empty value clears the override.
func SetConfigDir(dir string) {
	configDirOverride = strings.TrimSpace(dir)
}

// Config is the root configuration structure.
type Config struct {
	AI        AIConfig        `json:"ai" yaml:"ai"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Server    ServerConfig    `json:"server,omitempty" yaml:"server,omitempty"`
	Workspace WorkspaceConfig `json:"workspace,omitempty" yaml:"workspace,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// AIConfig contains the default model routing for conversations.
type AIConfig struct {
	Provider            string  `json:"provider" yaml:"provider"` // openai, deepseek, siliconflow, anthropic
	Model               string  `json:"model" yaml:"model"`
	MaxTokens           int     `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`                     // defaults to 4096
	Temperature         float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`                 // defaults to 0.7
	ContextWindowTokens int     `json:"contextWindowTokens,omitempty" yaml:"contextWindowTokens,omitempty"` // defaults to 128000
	ContextWarnRatio    float64 `json:"contextWarnRatio,omitempty" yaml:"contextWarnRatio,omitempty"`       // defaults to 0.8
}

// ProvidersConfig contains provider API configurations.
type ProvidersConfig struct {
	OpenAI      *ProviderConfig `json:"openai,omitempty" yaml:"openai,omitempty"`
	DeepSeek    *ProviderConfig `json:"deepseek,omitempty" yaml:"deepseek,omitempty"`
	SiliconFlow *ProviderConfig `json:"siliconflow,omitempty" yaml:"siliconflow,omitempty"`
	Anthropic   *ProviderConfig `json:"anthropic,omitempty" yaml:"anthropic,omitempty"`
}

// ProviderConfig contains API credentials for a provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey" yaml:"apiKey"`
	APIBase string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"` // optional custom base URL
}

// ServerConfig contains the studio server configuration.
type ServerConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"` // default: 127.0.0.1:3001
}

// WorkspaceConfig contains panel workspace persistence configuration.
type WorkspaceConfig struct {
	File            string `json:"file,omitempty" yaml:"file,omitempty"`                       // defaults to workspace.json in config dir
	AutosaveSeconds int    `json:"autosaveSeconds,omitempty" yaml:"autosaveSeconds,omitempty"` // 0 disables autosave
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Level   string `json:"level,omitempty" yaml:"level,omitempty"`   // debug, info, warn, error
	Stdout  bool   `json:"stdout,omitempty" yaml:"stdout,omitempty"` // log to stdout
	File    string `json:"file,omitempty" yaml:"file,omitempty"`     // log file path
}

// Dir returns the config directory, honoring the process override.
func Dir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".graphstudio"), nil
}

// Load reads config.yaml from the config directory and applies defaults.
func Load() (*Config, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config not found in %s (run `graphstudio onboard`)", dir)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes the config to config.yaml in the config directory.
func (c *Config) Save() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(dir, configFileName), data, 0600)
}

// WorkspaceFile returns the resolved path of the persisted panel workspace.
func (c *Config) WorkspaceFile() (string, error) {
	if c.Workspace.File != "" {
		return expandPath(c.Workspace.File), nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "workspace.json"), nil
}

// BuildLoggerConfig converts the logging section into a logger.Config.
func (c *Config) BuildLoggerConfig() logger.Config {
	enabled := true
	if c.Logging.Enabled != nil {
		enabled = *c.Logging.Enabled
	}
	return logger.Config{
		Enabled: enabled,
		Level:   c.Logging.Level,
		Stdout:  c.Logging.Stdout,
		File:    c.Logging.File,
	}
}

// providerEnv maps provider names to their API key and base URL env vars.
var providerEnv = map[string][2]string{
	"openai":      {"OPENAI_API_KEY", "OPENAI_BASE_URL"},
	"deepseek":    {"DEEPSEEK_API_KEY", "DEEPSEEK_BASE_URL"},
	"siliconflow": {"SILICONFLOW_API_KEY", "SILICONFLOW_BASE_URL"},
	"anthropic":   {"ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL"},
}

// Credentials returns the API key and optional base URL for a provider,
// preferring the config file over environment variables.
func (c *Config) Credentials(provider string) (apiKey, apiBase string, err error) {
	var pc *ProviderConfig
	switch provider {
	case "openai":
		pc = c.Providers.OpenAI
	case "deepseek":
		pc = c.Providers.DeepSeek
	case "siliconflow":
		pc = c.Providers.SiliconFlow
	case "anthropic":
		pc = c.Providers.Anthropic
	default:
		return "", "", fmt.Errorf("unknown provider: %s", provider)
	}

	if pc != nil {
		apiKey = strings.TrimSpace(pc.APIKey)
		apiBase = strings.TrimSpace(pc.APIBase)
	}
	if env, ok := providerEnv[provider]; ok {
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv(env[0]))
		}
		if apiBase == "" {
			apiBase = strings.TrimSpace(os.Getenv(env[1]))
		}
	}

	if apiKey == "" {
		return "", "", fmt.Errorf("no API key configured for provider: %s", provider)
	}
	return apiKey, apiBase, nil
}

// Configured reports whether a provider has an API key available.
func (c *Config) Configured(provider string) bool {
	_, _, err := c.Credentials(provider)
	return err == nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
