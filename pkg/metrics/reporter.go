package metrics

import (
	"context"
	"time"

	"github.com/marmos91/nebulaftp/internal/logger"
)

// QueueStats exposes upload pipeline counters. The upload queue
// satisfies it.
type QueueStats interface {
	Stats() (pending, completed, failed int)
	LastError() (time.Time, error)
}

// Reporter periodically logs upload pipeline activity so operators can
// follow progress without scraping Prometheus.
type Reporter struct {
	queue    QueueStats
	interval time.Duration
}

// NewReporter creates a reporter. interval <= 0 means 5 minutes.
func NewReporter(queue QueueStats, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reporter{queue: queue, interval: interval}
}

// Run logs a stats line every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *Reporter) report() {
	pending, completed, failed := r.queue.Stats()

	args := []any{
		logger.KeyQueueDepth, pending,
		"completed", completed,
		"failed", failed,
	}
	if at, err := r.queue.LastError(); err != nil {
		args = append(args, "last_error", err.Error(), "last_error_at", at.Format(time.RFC3339))
	}

	logger.Info("Upload pipeline stats", args...)
}
