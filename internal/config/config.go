package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted in StorageConfig.Backend.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendRemote = "remote"
)

// Config represents the application configuration
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// StorageConfig selects and configures the namespace backend
type StorageConfig struct {
	Backend string       `yaml:"backend"` // file, sqlite, bolt or remote
	File    FileConfig   `yaml:"file"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
	Bolt    BoltConfig   `yaml:"bolt"`
	Remote  RemoteConfig `yaml:"remote"`
}

// FileConfig contains settings for the JSON snapshot backend
type FileConfig struct {
	Path string `yaml:"path"`
}

// SQLiteConfig contains settings for the SQLite backend
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// BoltConfig contains settings for the Bolt backend
type BoltConfig struct {
	Path string `yaml:"path"`
}

// RemoteConfig contains settings for the remote managed namespace
type RemoteConfig struct {
	BaseURL     string   `yaml:"base_url"`
	AccountID   string   `yaml:"account_id"`
	NamespaceID string   `yaml:"namespace_id"`
	Token       string   `yaml:"token"`
	Timeout     Duration `yaml:"timeout"` // HTTP timeout for API requests
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	JSON   bool   `yaml:"json"`
	Colors bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFile
	}
	if cfg.Storage.File.Path == "" {
		cfg.Storage.File.Path = "./data/kv.json"
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "./data/kv.sqlite"
	}
	if cfg.Storage.Bolt.Path == "" {
		cfg.Storage.Bolt.Path = "./data/kv.db"
	}
	if cfg.Storage.Remote.Timeout == 0 {
		cfg.Storage.Remote.Timeout = Duration(30 * time.Second)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	switch cfg.Storage.Backend {
	case BackendFile, BackendSQLite, BackendBolt, BackendRemote:
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	return &cfg, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
