package upload

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/marmos91/nebulaftp/internal/logger"
	"github.com/marmos91/nebulaftp/pkg/metrics"
)

// GC removes staging files whose mtime exceeds a maximum age. Files still
// referenced by pending uploads are safe as long as the age threshold
// comfortably exceeds the longest plausible upload.
type GC struct {
	// Dir is the staging directory to sweep.
	Dir string

	// MaxAge is the mtime threshold. Defaults to 1 hour.
	MaxAge time.Duration

	// Interval is the sweep period. Defaults to 10 minutes.
	Interval time.Duration
}

// Run sweeps until the context is cancelled.
func (g *GC) Run(ctx context.Context) {
	maxAge := g.MaxAge
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	interval := g.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Staging GC started",
		"dir", g.Dir,
		"max_age", maxAge.String(),
		"interval", interval.String())

	for {
		select {
		case <-ctx.Done():
			logger.Info("Staging GC stopped")
			return
		case <-ticker.C:
			g.Sweep(maxAge)
		}
	}
}

// Sweep removes staging files older than maxAge and returns the count.
func (g *GC) Sweep(maxAge time.Duration) int {
	entries, err := os.ReadDir(g.Dir)
	if err != nil {
		logger.Warn("Staging GC cannot read directory",
			"dir", g.Dir,
			logger.KeyError, err.Error())
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(g.Dir, entry.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn("Staging GC failed to remove file",
				logger.KeyLocalPath, path,
				logger.KeyError, err.Error())
			continue
		}
		removed++
		metrics.StagingGCRemoved.Inc()
		logger.Info("Staging GC removed stale file",
			logger.KeyLocalPath, path,
			"age", time.Since(info.ModTime()).Round(time.Second).String())
	}

	return removed
}
