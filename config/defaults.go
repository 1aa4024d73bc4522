package config

const (
	defaultProvider            = "openai"
	defaultModel               = "gpt-4o-mini"
	defaultMaxTokens           = 4096
	defaultTemperature         = 0.7
	defaultContextWindowTokens = 128000
	defaultContextWarnRatio    = 0.8
	defaultServerAddr          = "127.0.0.1:3001"
	defaultAutosaveSeconds     = 30
)

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Provider:            defaultProvider,
			Model:               defaultModel,
			MaxTokens:           defaultMaxTokens,
			Temperature:         defaultTemperature,
			ContextWindowTokens: defaultContextWindowTokens,
			ContextWarnRatio:    defaultContextWarnRatio,
		},
		Providers: ProvidersConfig{
			OpenAI: &ProviderConfig{APIKey: ""},
		},
		Server: ServerConfig{
			Addr: defaultServerAddr,
		},
		Workspace: WorkspaceConfig{
			AutosaveSeconds: defaultAutosaveSeconds,
		},
		Logging: defaultLoggingConfig(),
	}
}

func defaultLoggingConfig() LoggingConfig {
	enabled := true
	return LoggingConfig{
		Enabled: &enabled,
		Level:   "info",
		Stdout:  true,
		File:    "logs/graphstudio.log",
	}
}

func (c *Config) applyDefaults() {
	if c.AI.Provider == "" {
		c.AI.Provider = defaultProvider
	}
	if c.AI.Model == "" {
		c.AI.Model = defaultModel
	}
	if c.AI.MaxTokens <= 0 {
		c.AI.MaxTokens = defaultMaxTokens
	}
	if c.AI.Temperature == 0 {
		c.AI.Temperature = defaultTemperature
	}
	if c.AI.ContextWindowTokens <= 0 {
		c.AI.ContextWindowTokens = defaultContextWindowTokens
	}
	if c.AI.ContextWarnRatio <= 0 || c.AI.ContextWarnRatio >= 1 {
		c.AI.ContextWarnRatio = defaultContextWarnRatio
	}

	if c.Server.Addr == "" {
		c.Server.Addr = defaultServerAddr
	}
	if c.Workspace.AutosaveSeconds < 0 {
		c.Workspace.AutosaveSeconds = 0
	}

	def := defaultLoggingConfig()
	if c.Logging == (LoggingConfig{}) {
		c.Logging = def
		return
	}
	hasAny := c.Logging.Level != "" || c.Logging.File != "" || c.Logging.Stdout
	if c.Logging.Enabled == nil && hasAny {
		enabled := true
		c.Logging.Enabled = &enabled
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Level
	}
	if c.Logging.File == "" {
		c.Logging.File = def.File
	}
	if c.Logging.Enabled == nil {
		c.Logging.Enabled = def.Enabled
	}
}
