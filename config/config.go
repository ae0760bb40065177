// Package config loads the settings of the mergetree command.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/brunokim/merge-tree/farm"
)

// configName is the config file name without extension.
const configName = ".mergetree"

// configType is the config file format.
const configType = "yaml"

// envPrefix is the environment variable prefix for settings.
const envPrefix = "MERGETREE"

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Sentinel errors for configuration validation.
var (
	// ErrInvalidLogLevel indicates an unknown logging level.
	ErrInvalidLogLevel = errors.New("logging.level must be one of debug, info, warn, error")
	// ErrInvalidLogFormat indicates an unknown logging format.
	ErrInvalidLogFormat = errors.New("logging.format must be one of text, json")
)

// Config is the top-level configuration.
type Config struct {
	Farm    farm.Config   `mapstructure:"farm" yaml:"farm"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// LoggingConfig holds the settings of the command logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load reads configuration from defaults, the config file and MERGETREE_ environment
// variables, in increasing order of precedence.
//
// If path is empty, .mergetree.yaml is searched in the working directory and $HOME;
// a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetConfigType(configType)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	d := farm.DefaultConfig()
	v.SetDefault("farm.seed", d.Seed)
	v.SetDefault("farm.rounds", d.Rounds)
	v.SetDefault("farm.min_length", d.MinLength)
	v.SetDefault("farm.initial_ops", d.InitialOps)
	v.SetDefault("farm.revert_ops", d.RevertOps)
	v.SetDefault("farm.concurrent_ops", d.ConcurrentOps)
	v.SetDefault("farm.ack_modes", d.AckModes)
	v.SetDefault("farm.operations", d.Operations)
	v.SetDefault("farm.snapshot", d.Snapshot)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", FormatText)
}

// Validate checks all sections.
func (c *Config) Validate() error {
	if err := c.Farm.Validate(); err != nil {
		return err
	}
	return c.Logging.Validate()
}

// Validate checks the logging level and format.
func (c LoggingConfig) Validate() error {
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if !slices.Contains([]string{FormatText, FormatJSON}, c.Format) {
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.Format)
	}
	return nil
}

// SlogLevel parses the logging level.
func (c LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return level, fmt.Errorf("%w: %q", ErrInvalidLogLevel, c.Level)
	}
	return level, nil
}

// NewLogger builds a logger writing to w.
func (c LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// Write encodes the configuration as YAML.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}
