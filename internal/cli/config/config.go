package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	cerrors "github.com/conduit-lang/bundler/compiler/errors"
	"github.com/conduit-lang/bundler/internal/platform"
)

// EnvPrefix prefixes environment overrides, e.g. BUNDLER_TARGET=node
const EnvPrefix = "BUNDLER"

// Config represents the bundler configuration
type Config struct {
	Entries     []string    `mapstructure:"entries"`
	Target      string      `mapstructure:"target"`
	Production  bool        `mapstructure:"production"`
	Global      string      `mapstructure:"global"`
	OutDir      string      `mapstructure:"out_dir"`
	PublicURL   string      `mapstructure:"public_url"`
	Concurrency int         `mapstructure:"concurrency"`
	AutoInstall bool        `mapstructure:"auto_install"`
	ModuleField string      `mapstructure:"module_field"`
	Cache       CacheConfig `mapstructure:"cache"`
	EnvFiles    []string    `mapstructure:"env_files"`

	// RootDir is the directory the config was loaded from
	RootDir string `mapstructure:"-"`
}

// CacheConfig represents the transform cache configuration
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// Load loads the configuration from bundler.yml or bundler.yaml in dir
func Load(dir string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("entries", []string{})
	v.SetDefault("target", string(platform.Browser))
	v.SetDefault("production", false)
	v.SetDefault("global", "")
	v.SetDefault("out_dir", "dist")
	v.SetDefault("public_url", "/")
	v.SetDefault("concurrency", 0)
	v.SetDefault("auto_install", true)
	v.SetDefault("module_field", string(platform.ModuleFieldAuto))
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.dir", ".bundler-cache")
	v.SetDefault("env_files", []string{})

	// Set config name and paths
	v.SetConfigName("bundler")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	// Enable environment variable support
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - use defaults
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.RootDir = dir

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// InProject checks if dir holds a bundler.yml or a package.json
func InProject(dir string) bool {
	for _, name := range []string{"bundler.yml", "bundler.yaml", "package.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// GetProjectRoot finds the closest directory at or above dir that holds a
// bundler.yml or package.json. It returns dir when there is none.
func GetProjectRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	for cur := abs; ; {
		if InProject(cur) {
			return cur, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs, nil
		}
		cur = parent
	}
}

// Validate checks values that viper cannot
func Validate(cfg *Config) error {
	if _, err := platform.ParseTarget(cfg.Target); err != nil {
		return &cerrors.ConfigurationError{Field: "target", Message: err.Error()}
	}
	if _, err := platform.ParseModuleField(cfg.ModuleField); err != nil {
		return &cerrors.ConfigurationError{Field: "module_field", Message: err.Error()}
	}
	if cfg.Concurrency < 0 {
		return &cerrors.ConfigurationError{Field: "concurrency", Message: fmt.Sprintf("must not be negative, got %d", cfg.Concurrency)}
	}
	if cfg.PublicURL != "" && !strings.HasSuffix(cfg.PublicURL, "/") {
		cfg.PublicURL += "/"
	}
	return nil
}
