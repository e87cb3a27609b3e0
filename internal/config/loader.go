package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader handles configuration loading with Viper.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// SetConfigFile sets an explicit config file path.
func (l *Loader) SetConfigFile(path string) {
	l.configFile = path
}

// Load loads configuration with precedence: defaults < config file < env vars.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()
	l.setupViper(cfg)

	if err := l.loadConfigFile(); err != nil {
		// Config file is optional, only error if explicitly specified.
		if l.configFile != "" {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) setupViper(cfg *Config) {
	v := l.v

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		v.AddConfigPath(filepath.Join(xdgConfig, "scholia"))
	}
	if homeDir, _ := os.UserHomeDir(); homeDir != "" {
		v.AddConfigPath(filepath.Join(homeDir, ".config", "scholia"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("SCHOLIA")
	v.AutomaticEnv()

	v.SetDefault("engine.page_size", cfg.Engine.PageSize)
	v.SetDefault("engine.fill_retry", cfg.Engine.FillRetry)
	v.SetDefault("engine.fill_settle", cfg.Engine.FillSettle)
	v.SetDefault("engine.anchor_release", cfg.Engine.AnchorRelease)
	v.SetDefault("engine.receipt_debounce", cfg.Engine.ReceiptDebounce)
	v.SetDefault("engine.position_debounce", cfg.Engine.PositionDebounce)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
}

func (l *Loader) loadConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	}
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.configFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}
