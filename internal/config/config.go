package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the full application configuration. Values are resolved in
// priority order: command-line flags, then config file, then JPPDT_* env
// vars, then defaults.
type Config struct {
	StreamURL     string        `mapstructure:"stream_url"`
	BlockDuration int           `mapstructure:"block_duration"`
	SampleRate    int           `mapstructure:"sample_rate"`
	BufferSeconds int           `mapstructure:"buffer_seconds"`
	Whisper       WhisperConfig `mapstructure:"whisper"`
	OutputDir     string        `mapstructure:"output_dir"`
	ProcessedDir  string        `mapstructure:"processed_dir"`
	SessionID     string        `mapstructure:"session_id"`
	LogLevel      string        `mapstructure:"log_level"`
}

type WhisperConfig struct {
	Model    string `mapstructure:"model"`    // "tiny", "base", "small", "medium", "large"
	Language string `mapstructure:"language"` // "auto", "fr", "en", ...
	Threads  int    `mapstructure:"threads"`  // 0 = auto-detect
}

var validModels = map[string]bool{
	"tiny":   true,
	"base":   true,
	"small":  true,
	"medium": true,
	"large":  true,
}

// Load reads configuration from the optional YAML file at path, overlaid on
// env vars and defaults. An empty path searches the standard locations.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("block_duration", 10)
	v.SetDefault("sample_rate", 16000)
	v.SetDefault("buffer_seconds", 10)
	v.SetDefault("whisper.model", "base")
	v.SetDefault("whisper.language", "fr")
	v.SetDefault("whisper.threads", 0)
	v.SetDefault("output_dir", "data/raw")
	v.SetDefault("processed_dir", "data/processed")
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("JPPDT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(configDir())
		// Missing config file is fine, defaults apply
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.BlockDuration <= 0 {
		return fmt.Errorf("block_duration must be positive, got %d", c.BlockDuration)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.BufferSeconds <= 0 {
		return fmt.Errorf("buffer_seconds must be positive, got %d", c.BufferSeconds)
	}
	if !validModels[c.Whisper.Model] {
		return fmt.Errorf("invalid whisper model: %q", c.Whisper.Model)
	}
	return nil
}

// configDir returns the platform-specific config directory.
func configDir() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "jaimepaslapubdutout")
}

// ModelsPath returns the platform-specific whisper models directory.
func ModelsPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/share"
		}
	}

	return filepath.Join(base, "jaimepaslapubdutout", "models")
}
