package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/execctl/internal/config"
	"github.com/danmuck/execctl/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const envAuthToken = "EXECCTL_AUTH_TOKEN"

// flags shared by every subcommand; set values override the config file.
type globalFlags struct {
	configPath string
	manifest   string
	searchPath string
	logLevel   string
	addr       string
}

func (f *globalFlags) register(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "agent config file (TOML)")
	pf.StringVarP(&f.manifest, "manifest", "m", "", "resource manifest (TOML)")
	pf.StringVar(&f.searchPath, "search-path", "", "colon-separated directories for bare executable names")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: trace|debug|info|warn|error")
	pf.StringVar(&f.addr, "addr", "", "admin listen address for serve")
}

func (f *globalFlags) settings(cmd *cobra.Command) (config.AgentConfig, error) {
	cfg := config.DefaultAgentConfig()
	if strings.TrimSpace(f.configPath) != "" {
		loaded, err := config.LoadAgentConfig(f.configPath)
		if err != nil {
			return config.AgentConfig{}, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("manifest") {
		cfg.Manifest = f.manifest
	}
	if flags.Changed("search-path") {
		cfg.SearchPath = f.searchPath
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if flags.Changed("addr") {
		cfg.Addr = f.addr
	}
	if token := os.Getenv(envAuthToken); token != "" {
		cfg.AuthToken = token
	}
	if cfg.SearchPath == "" && cfg.Transport == config.TransportLocal {
		cfg.SearchPath = os.Getenv("PATH")
	}

	if err := config.ValidateAgentConfig(cfg); err != nil {
		return config.AgentConfig{}, err
	}
	if strings.TrimSpace(cfg.Manifest) == "" {
		return config.AgentConfig{}, fmt.Errorf("%w: no manifest given (use --manifest or manifest in config)", config.ErrInvalidConfig)
	}
	return cfg, nil
}

// newLogger applies log_level from config; EXECCTL_LOG_LEVEL still wins.
func newLogger(cfg config.AgentConfig) zerolog.Logger {
	logger := logging.NewRuntime()
	if os.Getenv(logging.EnvLogLevel) != "" || cfg.LogLevel == "" {
		return logger
	}
	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		logger = logger.Level(lvl)
	}
	return logger
}
