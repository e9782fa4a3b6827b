// Package config loads the NebulaFTP server configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (NEBULAFTP_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/nebulaftp/internal/bytesize"
)

// Config is the static NebulaFTP server configuration. Nothing in it is
// mutated at runtime; users and permissions live in the metadata store.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown,
	// including the upload queue drain
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// BindHost is the address for the control and passive listeners
	BindHost string `mapstructure:"bind_host" validate:"required" yaml:"bind_host"`

	// BindPort is the FTP control channel port
	BindPort int `mapstructure:"bind_port" validate:"required,min=1,max=65535" yaml:"bind_port"`

	// PassivePorts is the inclusive passive data port range as "low-high".
	// Empty means ephemeral ports.
	PassivePorts string `mapstructure:"passive_ports" yaml:"passive_ports,omitempty"`

	// MasqueradeAddress is advertised in PASV replies instead of the
	// control connection's local address. Needed behind NAT.
	MasqueradeAddress string `mapstructure:"masquerade_address" yaml:"masquerade_address,omitempty"`

	// MaxConnections caps concurrent control connections server-wide
	MaxConnections int `mapstructure:"max_connections" validate:"omitempty,min=1" yaml:"max_connections"`

	// MaxConnectionsPerUser caps concurrent sessions per login
	MaxConnectionsPerUser int `mapstructure:"max_connections_per_user" validate:"omitempty,min=1" yaml:"max_connections_per_user"`

	// StagingDir holds client uploads until the background pipeline moves
	// them into the blob backend
	StagingDir string `mapstructure:"staging_dir" validate:"required" yaml:"staging_dir"`

	// MaxStagingAge is how long orphaned staging files survive before the
	// sweeper removes them
	MaxStagingAge time.Duration `mapstructure:"max_staging_age" yaml:"max_staging_age"`

	// ChunkSize is the fixed slice size files are split into for the blob
	// backend. Supports human-readable sizes: "64Mi", "16MB".
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size"`

	// MaxRetries bounds per-chunk upload attempts
	MaxRetries int `mapstructure:"max_retries" validate:"omitempty,min=1" yaml:"max_retries"`

	// Workers is the upload worker pool size
	Workers int `mapstructure:"workers" validate:"omitempty,min=1" yaml:"workers"`

	// Metadata configures the MongoDB metadata store
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`

	// Blob configures the S3 chunk backend
	Blob BlobConfig `mapstructure:"blob" yaml:"blob"`

	// Metrics configures the Prometheus metrics HTTP server
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetadataConfig configures the metadata store connection.
type MetadataConfig struct {
	// URL is the MongoDB connection string
	URL string `mapstructure:"url" validate:"required" yaml:"url"`

	// Database is the database holding the files and users collections
	Database string `mapstructure:"database" validate:"required" yaml:"database"`
}

// BlobConfig configures the S3 chunk backend.
type BlobConfig struct {
	// Region is the S3 region
	Region string `mapstructure:"region" yaml:"region"`

	// Endpoint overrides the S3 endpoint, for MinIO and compatible stores
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// Bucket receives the chunks
	Bucket string `mapstructure:"bucket" validate:"required" yaml:"bucket"`

	// BackupBucket, when set, receives a best-effort copy of every chunk
	BackupBucket string `mapstructure:"backup_bucket" yaml:"backup_bucket,omitempty"`

	// AccessKey and SecretKey are static credentials. Empty falls back to
	// the SDK's default credential chain.
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`

	// KeyPrefix namespaces chunk object keys within the bucket
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// ForcePathStyle enables path-style addressing, required by MinIO
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`

	// Accounts lists additional credential sets. Chunk sends rotate
	// round-robin across the primary and every extra account; reads go to
	// the primary.
	Accounts []BlobAccount `mapstructure:"accounts" yaml:"accounts,omitempty"`
}

// BlobAccount is one extra credential set for the blob client pool.
type BlobAccount struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled controls whether the metrics server is started
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for /metrics and /healthz
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// PassivePortRange parses the "low-high" passive port range. An empty
// setting returns (0, 0): ephemeral ports.
func (c *Config) PassivePortRange() (low, high int, err error) {
	if c.PassivePorts == "" {
		return 0, 0, nil
	}
	lowStr, highStr, ok := strings.Cut(c.PassivePorts, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid passive_ports %q: expected \"low-high\"", c.PassivePorts)
	}
	if low, err = strconv.Atoi(strings.TrimSpace(lowStr)); err != nil {
		return 0, 0, fmt.Errorf("invalid passive_ports %q: %w", c.PassivePorts, err)
	}
	if high, err = strconv.Atoi(strings.TrimSpace(highStr)); err != nil {
		return 0, 0, fmt.Errorf("invalid passive_ports %q: %w", c.PassivePorts, err)
	}
	if low < 1 || high > 65535 || low > high {
		return 0, 0, fmt.Errorf("invalid passive_ports %q: range out of order or bounds", c.PassivePorts)
	}
	return low, high, nil
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: path to config file (empty string uses the default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the file
// is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  nebulaftp init\n\n"+
				"Or specify a custom config file:\n"+
				"  nebulaftp <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  nebulaftp init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration as YAML. The file is 0600 because
// it may carry blob credentials.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures environment binding and the config file search.
func setupViper(v *viper.Viper, configPath string) {
	// NEBULAFTP_LOGGING_LEVEL=DEBUG, NEBULAFTP_BLOB_BUCKET=chunks, etc.
	v.SetEnvPrefix("NEBULAFTP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists. A missing
// file is not an error; defaults apply.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks combines the custom decode hooks: ByteSize and
// time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize,
// so config files can say "64Mi", "100MB", or a plain byte count.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration, so config files
// can say "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory: XDG_CONFIG_HOME if
// set, otherwise ~/.config, falling back to the current directory.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nebulaftp")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "nebulaftp")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks for a config file at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
