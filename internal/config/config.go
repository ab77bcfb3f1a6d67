// Package config handles loading and parsing of bucketwalk configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bleepstore/bucketwalk/internal/naming"
)

// Backend names accepted in storage.backend.
const (
	BackendAWS    = "aws"
	BackendGCP    = "gcp"
	BackendAzure  = "azure"
	BackendLocal  = "local"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config is the top-level configuration for bucketwalk.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Storage     StorageConfig     `yaml:"storage"`
	Consistency ConsistencyConfig `yaml:"consistency"`
	Walkthrough WalkthroughConfig `yaml:"walkthrough"`
	Ops         OpsConfig         `yaml:"ops"`
}

// LoggingConfig selects the slog level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// StorageConfig holds object storage backend settings.
type StorageConfig struct {
	// Backend is the storage backend type: aws, gcp, azure, local, sqlite
	// or memory.
	Backend string `yaml:"backend"`
	// Region overrides the region resolved from the provider session.
	Region string       `yaml:"region"`
	AWS    AWSConfig    `yaml:"aws"`
	GCP    GCPConfig    `yaml:"gcp"`
	Azure  AzureConfig  `yaml:"azure"`
	Local  LocalConfig  `yaml:"local"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// AWSConfig holds Amazon S3 settings. Empty credentials fall back to the
// SDK's default chain (env vars, shared config, instance role).
type AWSConfig struct {
	// EndpointURL points the client at an S3-compatible service.
	EndpointURL     string `yaml:"endpoint_url"`
	UsePathStyle    bool   `yaml:"use_path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GCPConfig holds Google Cloud Storage settings.
type GCPConfig struct {
	// Project is the GCP project ID buckets are created in.
	Project string `yaml:"project"`
	// CredentialsFile is an optional service account key file. When empty,
	// Application Default Credentials are used.
	CredentialsFile string `yaml:"credentials_file"`
}

// AzureConfig holds Azure Blob Storage settings.
type AzureConfig struct {
	// Account is the storage account name, used to construct the account
	// URL https://{account}.blob.core.windows.net when AccountURL is empty.
	Account    string `yaml:"account"`
	AccountURL string `yaml:"account_url"`
	// ConnectionString takes precedence over the account URL when set.
	ConnectionString   string `yaml:"connection_string"`
	UseManagedIdentity bool   `yaml:"use_managed_identity"`
}

// LocalConfig holds local filesystem storage backend settings.
type LocalConfig struct {
	// RootDir is the directory bucket directories are created under.
	RootDir string `yaml:"root_dir"`
}

// SQLiteConfig holds SQLite storage backend settings.
type SQLiteConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// ConsistencyConfig bounds how long the facade waits for an eventually
// consistent provider to reflect a copy or delete.
type ConsistencyConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

// WalkthroughConfig parameterizes the two-bucket walkthrough.
type WalkthroughConfig struct {
	FirstPrefix  string `yaml:"first_prefix"`
	SecondPrefix string `yaml:"second_prefix"`
	// TempDir is where the walkthrough's files are written. Empty means
	// os.TempDir().
	TempDir        string `yaml:"temp_dir"`
	FirstFileSize  int    `yaml:"first_file_size"`
	SecondFileSize int    `yaml:"second_file_size"`
}

// OpsConfig configures the optional health and metrics listener.
type OpsConfig struct {
	// Addr is the listen address, e.g. ":9090". Empty disables the listener.
	Addr string `yaml:"addr"`
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config. It applies sensible defaults for unset values. An empty
// path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults for empty fields that YAML didn't set
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports configuration values no backend can run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendAWS, BackendGCP, BackendLocal, BackendSQLite, BackendMemory:
	case BackendAzure:
		if c.Storage.Azure.ConnectionString == "" && c.Storage.Azure.AccountURL == "" {
			return fmt.Errorf("storage.azure: account, account_url or connection_string is required")
		}
	default:
		return fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendGCP && c.Storage.GCP.Project == "" {
		return fmt.Errorf("storage.gcp.project is required")
	}
	if c.Consistency.PollInterval <= 0 || c.Consistency.Timeout <= 0 {
		return fmt.Errorf("consistency: poll_interval and timeout must be positive")
	}
	if c.Walkthrough.FirstFileSize < 0 || c.Walkthrough.SecondFileSize < 0 {
		return fmt.Errorf("walkthrough: file sizes must not be negative")
	}
	if err := naming.ValidatePrefix(c.Walkthrough.FirstPrefix); err != nil {
		return fmt.Errorf("walkthrough.first_prefix: %w", err)
	}
	if err := naming.ValidatePrefix(c.Walkthrough.SecondPrefix); err != nil {
		return fmt.Errorf("walkthrough.second_prefix: %w", err)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
			Local: LocalConfig{
				RootDir: "./data/buckets",
			},
			SQLite: SQLiteConfig{
				Path: "./data/bucketwalk.db",
			},
		},
		Consistency: ConsistencyConfig{
			PollInterval: time.Second,
			Timeout:      30 * time.Second,
		},
		Walkthrough: WalkthroughConfig{
			FirstPrefix:    "firstgobucket",
			SecondPrefix:   "secondgobucket",
			FirstFileSize:  300,
			SecondFileSize: 400,
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	d := defaultConfig()
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = d.Storage.Backend
	}
	if cfg.Storage.Local.RootDir == "" {
		cfg.Storage.Local.RootDir = d.Storage.Local.RootDir
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = d.Storage.SQLite.Path
	}
	if cfg.Storage.Azure.AccountURL == "" && cfg.Storage.Azure.Account != "" {
		cfg.Storage.Azure.AccountURL = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Storage.Azure.Account)
	}
	if cfg.Consistency.PollInterval == 0 {
		cfg.Consistency.PollInterval = d.Consistency.PollInterval
	}
	if cfg.Consistency.Timeout == 0 {
		cfg.Consistency.Timeout = d.Consistency.Timeout
	}
	if cfg.Walkthrough.FirstPrefix == "" {
		cfg.Walkthrough.FirstPrefix = d.Walkthrough.FirstPrefix
	}
	if cfg.Walkthrough.SecondPrefix == "" {
		cfg.Walkthrough.SecondPrefix = d.Walkthrough.SecondPrefix
	}
	if cfg.Walkthrough.FirstFileSize == 0 {
		cfg.Walkthrough.FirstFileSize = d.Walkthrough.FirstFileSize
	}
	if cfg.Walkthrough.SecondFileSize == 0 {
		cfg.Walkthrough.SecondFileSize = d.Walkthrough.SecondFileSize
	}
}
