package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the commented configuration written by "nebulaftp init".
const sampleConfig = `# NebulaFTP server configuration.
# Every key can be overridden with a NEBULAFTP_* environment variable,
# e.g. NEBULAFTP_LOGGING_LEVEL=DEBUG or NEBULAFTP_BLOB_BUCKET=chunks.

# Control channel listener.
bind_host: 0.0.0.0
bind_port: 2121

# Passive data port range as "low-high". Empty means ephemeral ports.
# Open this range in your firewall.
passive_ports: "40000-40100"

# Public address to advertise in PASV replies when behind NAT.
# masquerade_address: 203.0.113.10

# Connection caps.
max_connections: 256
max_connections_per_user: 100

# Client uploads land here until the background pipeline persists them.
staging_dir: staging
# Orphaned staging files older than this are swept.
max_staging_age: 1h

# Upload pipeline.
chunk_size: 64Mi
max_retries: 5
workers: 4

shutdown_timeout: 30s

logging:
  level: INFO      # DEBUG, INFO, WARN, ERROR
  format: text     # text or json
  output: stdout   # stdout, stderr, or a file path

metadata:
  url: mongodb://localhost:27017
  database: nebulaftp

blob:
  region: us-east-1
  bucket: nebulaftp-chunks
  # backup_bucket: nebulaftp-chunks-backup
  # endpoint: http://localhost:9000   # for MinIO and compatible stores
  # force_path_style: true
  # access_key: ""
  # secret_key: ""
  # key_prefix: chunks/
  # Extra credential sets; sends rotate round-robin across all accounts.
  # accounts:
  #   - access_key: ""
  #     secret_key: ""

metrics:
  enabled: false
  port: 9090
`

// InitConfig writes the sample configuration to the default location.
// Returns the path written.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes the sample configuration to the given path.
// Refuses to overwrite unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600: the file may carry blob credentials.
	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
