// Package config manages application configuration from various sources.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Data defines storage configuration for preference data.
type Data struct {
	Directory string `json:"directory,omitempty"`
}

// UpstreamConfig defines how the engine reaches the generation service.
type UpstreamConfig struct {
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	Model     string `json:"model,omitempty"`
	MaxTokens int64  `json:"maxTokens,omitempty"`
}

// HighlightConfig tunes the citation highlight behaviour pushed to the page.
type HighlightConfig struct {
	// TransitionMs is how long a cleared highlight keeps its style while the
	// visual transition plays out.
	TransitionMs int `json:"transitionMs,omitempty"`
	// AnchorCadenceMs is how often the active citation is re-centered while a
	// generation is still streaming.
	AnchorCadenceMs int `json:"anchorCadenceMs,omitempty"`
}

// Config is the main configuration structure for the application.
type Config struct {
	Data           Data            `json:"data"`
	Port           int             `json:"port,omitempty"`
	Debug          bool            `json:"debug,omitempty"`
	NativeLanguage string          `json:"nativeLanguage,omitempty"`
	Upstream       UpstreamConfig  `json:"upstream"`
	Highlight      HighlightConfig `json:"highlight"`
}

const (
	defaultDataDirectory = ".pagesage"
	defaultLogLevel      = "info"
	appName              = "pagesage"

	defaultPort            = 8391
	defaultTransitionMs    = 300
	defaultAnchorCadenceMs = 200

	MaxTokensFallbackDefault = 4096
)

// Global configuration instance
var cfg *Config

// Load initializes the configuration from environment variables and config
// files. If debug is true, debug mode is enabled and log level is set to
// debug. It returns an error if configuration loading fails.
func Load(workingDir string, debug bool) (*Config, error) {
	if cfg != nil {
		return cfg, nil
	}

	cfg = &Config{}

	configureViper()
	setDefaults(debug)

	// Read global config
	if err := readConfig(viper.ReadInConfig()); err != nil {
		return cfg, err
	}

	// Load and merge local config
	mergeLocalConfig(workingDir)

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	defaultLevel := slog.LevelInfo
	if cfg.Debug {
		defaultLevel = slog.LevelDebug
	}
	slog.SetLogLoggerLevel(defaultLevel)

	if err := Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// configureViper sets up viper's configuration paths and environment variables.
func configureViper() {
	viper.SetConfigName(fmt.Sprintf(".%s", appName))
	viper.SetConfigType("json")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(fmt.Sprintf("$XDG_CONFIG_HOME/%s", appName))
	viper.AddConfigPath(fmt.Sprintf("$HOME/.config/%s", appName))
	viper.SetEnvPrefix(strings.ToUpper(appName))
	viper.AutomaticEnv()
}

// setDefaults configures default values for configuration options.
func setDefaults(debug bool) {
	viper.SetDefault("data.directory", defaultDataDirectory)
	viper.SetDefault("port", defaultPort)
	viper.SetDefault("nativeLanguage", "en")
	viper.SetDefault("highlight.transitionMs", defaultTransitionMs)
	viper.SetDefault("highlight.anchorCadenceMs", defaultAnchorCadenceMs)
	viper.SetDefault("upstream.maxTokens", int64(MaxTokensFallbackDefault))

	if debug {
		viper.SetDefault("debug", true)
		viper.Set("log.level", "debug")
	} else {
		viper.SetDefault("debug", false)
		viper.SetDefault("log.level", defaultLogLevel)
	}
}

// readConfig handles the result of reading a configuration file.
func readConfig(err error) error {
	if err == nil {
		return nil
	}

	// It's okay if the config file doesn't exist
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return nil
	}

	return fmt.Errorf("failed to read config: %w", err)
}

// mergeLocalConfig loads and merges configuration from the local directory.
func mergeLocalConfig(workingDir string) {
	local := viper.New()
	local.SetConfigName(fmt.Sprintf(".%s", appName))
	local.SetConfigType("json")
	local.AddConfigPath(workingDir)

	if err := local.ReadInConfig(); err == nil {
		viper.MergeConfigMap(local.AllSettings())
	}
}

// Validate checks if the configuration is valid and applies defaults where
// needed.
func Validate() error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if cfg.Highlight.TransitionMs <= 0 {
		cfg.Highlight.TransitionMs = defaultTransitionMs
	}
	if cfg.Highlight.AnchorCadenceMs <= 0 {
		cfg.Highlight.AnchorCadenceMs = defaultAnchorCadenceMs
	}
	if cfg.Upstream.MaxTokens <= 0 {
		cfg.Upstream.MaxTokens = MaxTokensFallbackDefault
	}
	return nil
}

// Get returns the current configuration.
// It's safe to call this function multiple times.
func Get() *Config {
	return cfg
}

// HighlightTransition returns the highlight clear transition as a duration.
func HighlightTransition() time.Duration {
	if cfg == nil {
		return defaultTransitionMs * time.Millisecond
	}
	return time.Duration(cfg.Highlight.TransitionMs) * time.Millisecond
}

// AnchorCadence returns the scroll-anchor re-centering cadence as a duration.
func AnchorCadence() time.Duration {
	if cfg == nil {
		return defaultAnchorCadenceMs * time.Millisecond
	}
	return time.Duration(cfg.Highlight.AnchorCadenceMs) * time.Millisecond
}

func updateCfgFile(updateCfg func(config *Config)) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}

	configFile := viper.ConfigFileUsed()
	var configData []byte
	if configFile == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configFile = filepath.Join(homeDir, fmt.Sprintf(".%s.json", appName))
		slog.Info("config file not found, creating new one", "path", configFile)
		configData = []byte(`{}`)
	} else {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		configData = data
	}

	var userCfg *Config
	if err := json.Unmarshal(configData, &userCfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	updateCfg(userCfg)

	updatedData, err := json.MarshalIndent(userCfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, updatedData, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// UpdateNativeLanguage updates the user's native language and writes it to
// the config file.
func UpdateNativeLanguage(code string) error {
	if cfg == nil {
		return fmt.Errorf("config not loaded")
	}

	cfg.NativeLanguage = code

	return updateCfgFile(func(config *Config) {
		config.NativeLanguage = code
	})
}
