// Package config loads application settings from a YAML file, FINIMPORT_
// environment variables and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// FINIMPORT_STORAGE_BACKEND.
const EnvPrefix = "FINIMPORT"

// Storage backends.
const (
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
	BackendState     = "state"
)

type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Storage StorageConfig `mapstructure:"storage"`
	Import  ImportConfig  `mapstructure:"import"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	// Path is the SQLite database file.
	Path string `mapstructure:"path"`
	// StateFile is the JSON hash state used by the "state" backend.
	StateFile   string `mapstructure:"state_file"`
	Project     string `mapstructure:"project"`
	Credentials string `mapstructure:"credentials"`
}

type ImportConfig struct {
	MinConfidence  float64 `mapstructure:"min_confidence"`
	DefaultAccount string  `mapstructure:"default_account"`
	// FormatsFile seeds (and, for the state backend, stores) custom formats.
	FormatsFile string `mapstructure:"formats_file"`
	// MerchantRules replaces the embedded merchant cleanup rules.
	MerchantRules string `mapstructure:"merchant_rules"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.path", "~/.local/share/finimport/finimport.db")
	v.SetDefault("storage.state_file", "~/.local/share/finimport/state.json")
	v.SetDefault("import.min_confidence", 0.5)

	// Keys without a default still need registering for env overrides to
	// reach Unmarshal.
	for _, key := range []string{
		"storage.project", "storage.credentials",
		"import.default_account", "import.formats_file", "import.merchant_rules",
	} {
		v.SetDefault(key, "")
	}
}

// New returns a viper instance with defaults and environment binding set
// up. If cfgFile is empty the standard locations are searched.
func New(cfgFile string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "finimport"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("finimport")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file, if any, and decodes the merged settings.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Storage.Path = ExpandPath(cfg.Storage.Path)
	cfg.Storage.StateFile = ExpandPath(cfg.Storage.StateFile)
	cfg.Storage.Credentials = ExpandPath(cfg.Storage.Credentials)
	cfg.Import.FormatsFile = ExpandPath(cfg.Import.FormatsFile)
	cfg.Import.MerchantRules = ExpandPath(cfg.Import.MerchantRules)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite backend")
		}
	case BackendFirestore:
		if c.Storage.Project == "" {
			return fmt.Errorf("storage.project is required for the firestore backend")
		}
	case BackendState:
		if c.Storage.StateFile == "" {
			return fmt.Errorf("storage.state_file is required for the state backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q (want sqlite, firestore or state)", c.Storage.Backend)
	}

	if c.Import.MinConfidence <= 0 || c.Import.MinConfidence > 1 {
		return fmt.Errorf("import.min_confidence must be in (0, 1], got %v", c.Import.MinConfidence)
	}
	return nil
}

// ExpandPath expands a leading ~ and environment variables.
func ExpandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return os.ExpandEnv(path)
}
