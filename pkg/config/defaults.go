package config

import (
	"strings"
	"time"

	"github.com/marmos91/nebulaftp/internal/bytesize"
)

// GetDefaultConfig returns a configuration with every default applied.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in missing values after file and environment
// loading. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(cfg)
	applyUploadDefaults(cfg)
	applyMetadataDefaults(&cfg.Metadata)
	applyBlobDefaults(&cfg.Blob)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.BindHost == "" {
		cfg.BindHost = "0.0.0.0"
	}
	if cfg.BindPort == 0 {
		cfg.BindPort = 2121
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 256
	}
	if cfg.MaxConnectionsPerUser == 0 {
		cfg.MaxConnectionsPerUser = 100
	}
}

func applyUploadDefaults(cfg *Config) {
	if cfg.StagingDir == "" {
		cfg.StagingDir = "staging"
	}
	if cfg.MaxStagingAge == 0 {
		cfg.MaxStagingAge = time.Hour
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 64 * bytesize.MiB
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
}

func applyMetadataDefaults(cfg *MetadataConfig) {
	if cfg.URL == "" {
		cfg.URL = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "nebulaftp"
	}
}

func applyBlobDefaults(cfg *BlobConfig) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "nebulaftp-chunks"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	// Metrics are opt-in; the port defaults only when enabled.
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}
