package cmd

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/samsaffron/skillshub/internal/config"
	"github.com/samsaffron/skillshub/internal/logging"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	configFile string
	logLevel   string
	logFormat  string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default $XDG_CONFIG_HOME/skillshub/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: console or json (overrides config)")
}

var rootCmd = &cobra.Command{
	Use:   "skillshub",
	Short: "Stream LLM chats that can call workspace file tools",
	Long: `skillshub proxies chat requests to Anthropic, OpenAI, Ollama or an
OpenAI-compatible endpoint, executes the file tools the model asks for
inside a workspace, and streams a normalised event protocol back.

Examples:
  skillshub serve --port 3002
  skillshub chat "create notes/todo.md with three items" --allow createFile
  skillshub tools --allow all
  skillshub models --provider anthropic`,
	Version:           Version,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	SilenceUsage:      true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads configuration and installs the logger. Flags win over
// config values.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return nil, err
	}
	log.Debug().Str("config", cfg.ConfigFile).Msg("configuration loaded")
	return cfg, nil
}
