package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nebulaftp/internal/bytesize"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	assert.Equal(t, "0.0.0.0", cfg.BindHost)
	assert.Equal(t, 2121, cfg.BindPort)
	assert.Equal(t, 256, cfg.MaxConnections)
	assert.Equal(t, 100, cfg.MaxConnectionsPerUser)
	assert.Equal(t, "staging", cfg.StagingDir)
	assert.Equal(t, time.Hour, cfg.MaxStagingAge)
	assert.Equal(t, 64*bytesize.MiB, cfg.ChunkSize)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "INFO", cfg.Logging.Level)

	require.NoError(t, Validate(cfg))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
bind_port: 2222
passive_ports: "40000-40100"
chunk_size: 16Mi
max_retries: 3
logging:
  level: debug
metadata:
  url: mongodb://db:27017
  database: ftptest
blob:
  bucket: test-chunks
  region: eu-west-1
metrics:
  enabled: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2222, cfg.BindPort)
	assert.Equal(t, 16*bytesize.MiB, cfg.ChunkSize)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level is normalized to uppercase")
	assert.Equal(t, "mongodb://db:27017", cfg.Metadata.URL)
	assert.Equal(t, "test-chunks", cfg.Blob.Bucket)
	assert.Equal(t, 9090, cfg.Metrics.Port, "port defaults when metrics enabled")

	low, high, err := cfg.PassivePortRange()
	require.NoError(t, err)
	assert.Equal(t, 40000, low)
	assert.Equal(t, 40100, high)

	// Unset values still get defaults.
	assert.Equal(t, "0.0.0.0", cfg.BindHost)
	assert.Equal(t, 4, cfg.Workers)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 2121, cfg.BindPort)
}

func TestPassivePortRange(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		low     int
		high    int
		wantErr bool
	}{
		{"empty means ephemeral", "", 0, 0, false},
		{"valid range", "40000-40100", 40000, 40100, false},
		{"single port", "2121-2121", 2121, 2121, false},
		{"missing separator", "40000", 0, 0, true},
		{"reversed", "40100-40000", 0, 0, true},
		{"out of bounds", "40000-70000", 0, 0, true},
		{"not a number", "low-high", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{PassivePorts: tt.value}
			low, high, err := cfg.PassivePortRange()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.low, low)
			assert.Equal(t, tt.high, high)
		})
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.BindPort = 99999
	require.Error(t, Validate(cfg))

	cfg = GetDefaultConfig()
	cfg.Logging.Format = "xml"
	require.Error(t, Validate(cfg))

	cfg = GetDefaultConfig()
	cfg.Blob.Accounts = []BlobAccount{{AccessKey: "only-key"}}
	require.Error(t, Validate(cfg))
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.BindPort = 2222
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2222, loaded.BindPort)
	assert.Equal(t, cfg.ChunkSize, loaded.ChunkSize)
}
