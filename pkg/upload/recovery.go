package upload

import (
	"context"
	"os"
	"strings"

	"github.com/marmos91/nebulaftp/internal/logger"
	"github.com/marmos91/nebulaftp/pkg/metadata"
	"github.com/marmos91/nebulaftp/pkg/metadata/store"
)

// Recover re-enqueues files a previous run left mid-upload: metadata says
// staging (or still carries a local path) and the bytes are on disk.
//
// Skipped and never recovered: ".partial" names (incomplete client
// writes), missing staging files, and zero-byte files. Returns the number
// of tasks enqueued.
func Recover(ctx context.Context, s store.Store, queue *Queue) (int, error) {
	pending, err := s.FindPending(ctx)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, node := range pending {
		if strings.HasSuffix(node.Name, metadata.PartialSuffix) {
			logger.Debug("Skipping partial leftover",
				logger.KeyPath, node.Path())
			continue
		}
		if node.LocalPath == "" {
			continue
		}

		info, err := os.Stat(node.LocalPath)
		if err != nil {
			logger.Warn("Pending file has no staging bytes, skipping",
				logger.KeyPath, node.Path(),
				logger.KeyLocalPath, node.LocalPath)
			continue
		}
		if info.Size() == 0 {
			logger.Warn("Pending file is empty, skipping",
				logger.KeyPath, node.Path())
			continue
		}

		if queue.Enqueue(Task{
			LocalPath: node.LocalPath,
			Filename:  node.Name,
			Parent:    node.Parent,
			Size:      info.Size(),
		}) {
			enqueued++
			logger.Info("Recovered pending upload",
				logger.KeyPath, node.Path(),
				logger.KeySize, info.Size())
		}
	}

	if enqueued > 0 {
		logger.Info("Restart recovery complete", "recovered", enqueued)
	}
	return enqueued, nil
}
