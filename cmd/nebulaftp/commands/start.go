package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/nebulaftp/internal/logger"
	"github.com/marmos91/nebulaftp/pkg/blob"
	"github.com/marmos91/nebulaftp/pkg/blob/s3"
	"github.com/marmos91/nebulaftp/pkg/config"
	"github.com/marmos91/nebulaftp/pkg/ftp"
	"github.com/marmos91/nebulaftp/pkg/metadata/store/mongo"
	"github.com/marmos91/nebulaftp/pkg/metrics"
	"github.com/marmos91/nebulaftp/pkg/upload"
	"github.com/marmos91/nebulaftp/pkg/vfs"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the NebulaFTP server",
	Long: `Start the NebulaFTP server with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/nebulaftp/config.yaml.

Examples:
  # Start with default config
  nebulaftp start

  # Start with custom config file
  nebulaftp start --config /etc/nebulaftp/config.yaml

  # Start with environment variable overrides
  NEBULAFTP_LOGGING_LEVEL=DEBUG nebulaftp start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Metadata store.
	st, err := mongo.Connect(ctx, mongo.Config{
		URL:      cfg.Metadata.URL,
		Database: cfg.Metadata.Database,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to metadata store: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := st.Close(closeCtx); err != nil {
			logger.Warn("Metadata store close error", logger.Err(err))
		}
	}()
	if err := st.EnsureIndexes(ctx); err != nil {
		logger.Warn("Failed to ensure metadata indexes", logger.Err(err))
	}
	logger.Info("Metadata store connected", "database", cfg.Metadata.Database)

	// Blob backend. Extra accounts rotate chunk sends across credentials.
	bc, err := buildBlobClient(ctx, cfg)
	if err != nil {
		return err
	}
	if err := bc.Ping(ctx, cfg.Blob.Bucket); err != nil {
		return fmt.Errorf("blob backend unreachable (bucket %q): %w", cfg.Blob.Bucket, err)
	}
	logger.Info("Blob backend reachable", "bucket", cfg.Blob.Bucket)

	// Upload pipeline.
	cache := vfs.NewCache()
	uploader := upload.NewUploader(st, bc, cache, upload.Config{
		Target:       cfg.Blob.Bucket,
		BackupTarget: cfg.Blob.BackupBucket,
		ChunkSize:    int64(cfg.ChunkSize),
		MaxRetries:   cfg.MaxRetries,
	})
	queue := upload.NewQueue(uploader, upload.QueueConfig{Workers: cfg.Workers})
	queue.Start()
	defer queue.Stop(cfg.ShutdownTimeout)

	fs := vfs.New(st, cache, bc, queue, cfg.StagingDir)

	// Re-enqueue files that were mid-upload when the previous process died.
	recovered, err := upload.Recover(ctx, st, queue)
	if err != nil {
		logger.Warn("Upload recovery scan failed", logger.Err(err))
	} else if recovered > 0 {
		logger.Info("Recovered pending uploads", "count", recovered)
	}

	gc := &upload.GC{Dir: cfg.StagingDir, MaxAge: cfg.MaxStagingAge}
	go gc.Run(ctx)

	// Metrics endpoint and periodic pipeline stats (if enabled).
	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}, st)
		go func() {
			if err := ms.Start(ctx); err != nil {
				logger.Error("Metrics server error", logger.Err(err))
			}
		}()
		go metrics.NewReporter(queue, 0).Run(ctx)
		logger.Info("Metrics enabled", "port", cfg.Metrics.Port)
	}

	// FTP front-end.
	passiveLow, passiveHigh, err := cfg.PassivePortRange()
	if err != nil {
		return err
	}
	auth := ftp.NewAuthenticator(st, cfg.MaxConnectionsPerUser)
	server := ftp.NewServer(ftp.Config{
		BindHost:          cfg.BindHost,
		BindPort:          cfg.BindPort,
		PassivePortLow:    passiveLow,
		PassivePortHigh:   passiveHigh,
		MasqueradeAddress: cfg.MasqueradeAddress,
		MaxConnections:    cfg.MaxConnections,
	}, auth, fs)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.",
		"bind", fmt.Sprintf("%s:%d", cfg.BindHost, cfg.BindPort))

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", logger.Err(err))
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", logger.Err(err))
			return err
		}
		logger.Info("Server stopped")
	}

	return nil
}

// buildBlobClient builds the S3 client, wrapping multiple credential sets
// in a round-robin pool when extra accounts are configured.
func buildBlobClient(ctx context.Context, cfg *config.Config) (blob.Client, error) {
	primary, err := s3.NewFromConfig(ctx, s3.Config{
		Region:         cfg.Blob.Region,
		Endpoint:       cfg.Blob.Endpoint,
		AccessKey:      cfg.Blob.AccessKey,
		SecretKey:      cfg.Blob.SecretKey,
		KeyPrefix:      cfg.Blob.KeyPrefix,
		ForcePathStyle: cfg.Blob.ForcePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	if len(cfg.Blob.Accounts) == 0 {
		return primary, nil
	}

	clients := []blob.Client{primary}
	for i, acct := range cfg.Blob.Accounts {
		endpoint := acct.Endpoint
		if endpoint == "" {
			endpoint = cfg.Blob.Endpoint
		}
		c, err := s3.NewFromConfig(ctx, s3.Config{
			Region:         cfg.Blob.Region,
			Endpoint:       endpoint,
			AccessKey:      acct.AccessKey,
			SecretKey:      acct.SecretKey,
			KeyPrefix:      cfg.Blob.KeyPrefix,
			ForcePathStyle: cfg.Blob.ForcePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create blob client for account %d: %w", i, err)
		}
		clients = append(clients, c)
	}
	logger.Info("Blob account pool configured", "accounts", len(clients))
	return blob.NewPool(clients...), nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
