package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	License LicenseConfig `yaml:"license" envconfig:"LICENSE"`
	Admin   AdminConfig   `yaml:"admin" envconfig:"ADMIN"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
	Paths   PathsConfig   `yaml:"paths" envconfig:"PATHS"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"3000"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"50"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"25"`
}

// LicenseConfig contains token issuance configuration
type LicenseConfig struct {
	TokenTTLDays   int    `yaml:"token_ttl_days" envconfig:"TOKEN_TTL_DAYS" default:"30"`
	DefaultProduct string `yaml:"default_product" envconfig:"DEFAULT_PRODUCT" default:"HashimSapTool"`
}

// AdminConfig contains the administrative interface gate configuration.
// When Secret is empty the admin surface is unreachable.
type AdminConfig struct {
	Secret string `yaml:"secret" envconfig:"SECRET"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output string `yaml:"output" envconfig:"OUTPUT" default:"console"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir        string `yaml:"data_dir" envconfig:"DATA_DIR" default:"data"`
	PrivateKeyFile string `yaml:"private_key_file" envconfig:"PRIVATE_KEY_FILE"`
	PublicKeyFile  string `yaml:"public_key_file" envconfig:"PUBLIC_KEY_FILE"`
}

// TokenTTL returns the configured token lifetime as a duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.License.TokenTTLDays) * 24 * time.Hour
}

// DatabaseFile returns the path of the persisted license document.
func (c *Config) DatabaseFile() string {
	return filepath.Join(c.Paths.DataDir, "db.json")
}

// Load loads configuration from environment variables and an optional
// YAML config file. Environment variables take precedence.
func Load() (*Config, error) {
	return LoadFrom(configFilePath())
}

// LoadFrom loads configuration using the given config file path.
func LoadFrom(configFile string) (*Config, error) {
	var cfg Config

	if err := envconfig.Process("HASHLIC", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			if err := applyFile(configFile, &cfg); err != nil {
				return nil, fmt.Errorf("failed to load config from file: %w", err)
			}
		}
	}

	cfg.resolvePaths()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// applyFile overlays YAML file values onto cfg for fields that the
// environment left at their zero/default value. envconfig has already
// run, so only unset-or-default fields are overwritten.
func applyFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return err
	}

	if os.Getenv("HASHLIC_SERVER_PORT") == "" && fileCfg.Server.Port != 0 {
		cfg.Server.Port = fileCfg.Server.Port
	}
	if os.Getenv("HASHLIC_LICENSE_TOKEN_TTL_DAYS") == "" && fileCfg.License.TokenTTLDays != 0 {
		cfg.License.TokenTTLDays = fileCfg.License.TokenTTLDays
	}
	if os.Getenv("HASHLIC_ADMIN_SECRET") == "" && fileCfg.Admin.Secret != "" {
		cfg.Admin.Secret = fileCfg.Admin.Secret
	}
	if os.Getenv("HASHLIC_PATHS_DATA_DIR") == "" && fileCfg.Paths.DataDir != "" {
		cfg.Paths.DataDir = fileCfg.Paths.DataDir
	}
	if os.Getenv("HASHLIC_PATHS_PRIVATE_KEY_FILE") == "" && fileCfg.Paths.PrivateKeyFile != "" {
		cfg.Paths.PrivateKeyFile = fileCfg.Paths.PrivateKeyFile
	}
	if os.Getenv("HASHLIC_PATHS_PUBLIC_KEY_FILE") == "" && fileCfg.Paths.PublicKeyFile != "" {
		cfg.Paths.PublicKeyFile = fileCfg.Paths.PublicKeyFile
	}
	if os.Getenv("HASHLIC_LOGGING_LEVEL") == "" && fileCfg.Logging.Level != "" {
		cfg.Logging.Level = fileCfg.Logging.Level
	}
	return nil
}

// resolvePaths fills in key file defaults relative to the data directory.
func (c *Config) resolvePaths() {
	if c.Paths.PrivateKeyFile == "" {
		c.Paths.PrivateKeyFile = filepath.Join(c.Paths.DataDir, "private.pem")
	}
	if c.Paths.PublicKeyFile == "" {
		c.Paths.PublicKeyFile = filepath.Join(c.Paths.DataDir, "public.pem")
	}
}

// validate checks configuration invariants
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.License.TokenTTLDays < 1 {
		return fmt.Errorf("token TTL must be at least one day, got %d", c.License.TokenTTLDays)
	}
	if c.Paths.DataDir == "" {
		return fmt.Errorf("data directory must not be empty")
	}
	return nil
}

// EnsureDataDir creates the data directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.Paths.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", c.Paths.DataDir, err)
	}
	return nil
}

// configFilePath returns the config file location, overridable via env
func configFilePath() string {
	if p := os.Getenv("HASHLIC_CONFIG_FILE"); p != "" {
		return p
	}
	return "config.yaml"
}
