package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/samsaffron/skillshub/internal/audit"
	"github.com/samsaffron/skillshub/internal/llm"
)

const appName = "skillshub"

type Config struct {
	Provider     string             `mapstructure:"provider"` // Default provider for the CLI
	Server       ServerConfig       `mapstructure:"server"`
	Log          LogConfig          `mapstructure:"log"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Anthropic    ProviderConfig     `mapstructure:"anthropic"`
	OpenAI       ProviderConfig     `mapstructure:"openai"`
	Ollama       ProviderConfig     `mapstructure:"ollama"`
	Custom       ProviderConfig     `mapstructure:"custom"`
	Tools        ToolsConfig        `mapstructure:"tools"`
	Audit        audit.Config       `mapstructure:"audit"`
	SystemPrompt string             `mapstructure:"system_prompt"` // Replaces the provider default when set

	// ConfigFile is the file that was read, empty when none was found.
	ConfigFile string `mapstructure:"-"`
}

type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	AllowOrigins []string `mapstructure:"allow_origins"` // CORS origins; "*" allows any
	Workspace    string   `mapstructure:"workspace"`     // Default tool workspace when a request names none
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console or json
}

type OrchestratorConfig struct {
	MaxIterations int `mapstructure:"max_iterations"`
}

// ProviderConfig is the per-provider section; request options override it.
type ProviderConfig struct {
	Model              string `mapstructure:"model"`
	BaseURL            string `mapstructure:"base_url"`
	APIKey             string `mapstructure:"api_key"`
	MaxTokens          int    `mapstructure:"max_tokens"`
	ImplicitCompletion *bool  `mapstructure:"implicit_completion"`
	Version            string `mapstructure:"version"` // anthropic-version header
}

type ToolsConfig struct {
	CreateFileMode string   `mapstructure:"create_file_mode"` // overwrite or fail
	Deny           []string `mapstructure:"deny"`             // doublestar globs relative to the workspace
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", llm.ProviderAnthropic)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 3002)
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("orchestrator.max_iterations", llm.DefaultMaxIterations)
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("tools.create_file_mode", "overwrite")
	v.SetDefault("audit.enabled", false)
}

// Load reads config.yaml from the config dir or the working directory.
// A missing file is not an error.
func Load() (*Config, error) {
	v := viper.New()
	configDir, err := GetConfigDir()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get config dir")
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")
	return load(v)
}

// LoadFile reads an explicit config file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "failed to read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	cfg.ConfigFile = v.ConfigFileUsed()

	cfg.Anthropic.APIKey = resolveKey(cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	cfg.OpenAI.APIKey = resolveKey(cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	cfg.Ollama.APIKey = expandEnv(cfg.Ollama.APIKey)
	cfg.Custom.APIKey = expandEnv(cfg.Custom.APIKey)
	return &cfg, nil
}

func resolveKey(configured, envVar string) string {
	if key := expandEnv(configured); key != "" {
		return key
	}
	return os.Getenv(envVar)
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// ProviderSection returns the configured section for a provider name.
func (c *Config) ProviderSection(name string) (ProviderConfig, bool) {
	switch name {
	case llm.ProviderAnthropic:
		return c.Anthropic, true
	case llm.ProviderOpenAI:
		return c.OpenAI, true
	case llm.ProviderOllama:
		return c.Ollama, true
	case llm.ProviderCustom:
		return c.Custom, true
	}
	return ProviderConfig{}, false
}

// ApplyOverrides applies provider and model overrides from the command line.
// The model applies to the active provider only.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model == "" {
		return
	}
	switch c.Provider {
	case llm.ProviderAnthropic:
		c.Anthropic.Model = model
	case llm.ProviderOpenAI:
		c.OpenAI.Model = model
	case llm.ProviderOllama:
		c.Ollama.Model = model
	case llm.ProviderCustom:
		c.Custom.Model = model
	}
}

// ProviderOverrides are per-request values; empty fields fall back to config.
type ProviderOverrides struct {
	Model   string
	APIKey  string
	BaseURL string
}

// ResolveProvider merges request overrides over the config section for name.
func (c *Config) ResolveProvider(name string, o ProviderOverrides) llm.ProviderConfig {
	section, _ := c.ProviderSection(name)
	return llm.ProviderConfig{
		Name:               name,
		Model:              firstNonEmpty(o.Model, section.Model),
		APIKey:             firstNonEmpty(o.APIKey, section.APIKey),
		BaseURL:            firstNonEmpty(o.BaseURL, section.BaseURL),
		Version:            section.Version,
		MaxTokens:          section.MaxTokens,
		ImplicitCompletion: section.ImplicitCompletion,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// GetConfigDir returns the XDG config directory for skillshub.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, appName), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", appName), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}
