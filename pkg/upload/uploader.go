package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/nebulaftp/internal/logger"
	"github.com/marmos91/nebulaftp/pkg/blob"
	"github.com/marmos91/nebulaftp/pkg/metadata"
	metaerrors "github.com/marmos91/nebulaftp/pkg/metadata/errors"
	"github.com/marmos91/nebulaftp/pkg/metadata/store"
	"github.com/marmos91/nebulaftp/pkg/metrics"
)

// Cache mirrors the VFS cache write path the uploader needs to keep the
// in-process view in sync after the metadata swap.
type Cache interface {
	Put(node *metadata.Node)
}

// Config configures the uploader.
type Config struct {
	// Target is the blob backend destination for chunks.
	Target string

	// BackupTarget, when non-empty, receives a copy of every chunk.
	// Copy failures are swallowed: the backup is best effort.
	BackupTarget string

	// ChunkSize is the fixed chunk size in bytes. Defaults to 64 MiB.
	ChunkSize int64

	// MaxRetries bounds non-rate-limit send retries per chunk. Defaults to 5.
	MaxRetries int

	// RateLimitGrace is added to the backend-advised delay on rate-limit
	// errors. Defaults to 2 s.
	RateLimitGrace time.Duration
}

// Uploader splits staged files into chunks, pushes them to the blob
// backend, then atomically swaps the file's metadata from staging bytes
// to an ordered chunk list.
type Uploader struct {
	store store.Store
	blob  blob.Client
	cache Cache
	cfg   Config
}

// NewUploader creates an uploader. cache may be nil.
func NewUploader(s store.Store, b blob.Client, cache Cache, cfg Config) *Uploader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 64 << 20
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RateLimitGrace <= 0 {
		cfg.RateLimitGrace = 2 * time.Second
	}
	return &Uploader{store: s, blob: b, cache: cache, cfg: cfg}
}

// Process uploads one staged file. A nil return means the task is done
// with, which includes benign skips: missing staging file, empty file, or
// metadata deleted since the enqueue. Errors mean the file stays in
// staging for the next restart's recovery pass.
func (u *Uploader) Process(ctx context.Context, task Task) error {
	if strings.HasSuffix(task.Filename, metadata.PartialSuffix) {
		logger.Warn("Skipping partial file in upload queue",
			logger.KeyPath, task.Parent+"/"+task.Filename)
		return nil
	}

	info, err := os.Stat(task.LocalPath)
	if err != nil {
		logger.Warn("Staging file missing, skipping upload",
			logger.KeyLocalPath, task.LocalPath)
		return nil
	}
	if info.Size() == 0 {
		_ = os.Remove(task.LocalPath)
		logger.Warn("Empty staging file removed",
			logger.KeyLocalPath, task.LocalPath)
		return nil
	}

	node, err := u.store.FindOne(ctx, task.Parent, task.Filename)
	if err != nil {
		if metaerrors.IsNotFound(err) {
			logger.Warn("Metadata gone, skipping upload",
				logger.KeyPath, task.Parent+"/"+task.Filename)
			return nil
		}
		return fmt.Errorf("lookup %s/%s: %w", task.Parent, task.Filename, err)
	}

	fileUUID := uuid.NewString()
	start := time.Now()

	parts, err := u.sendChunks(ctx, task.LocalPath, fileUUID)
	if err != nil {
		metrics.UploadsFailed.Inc()
		return fmt.Errorf("upload %s/%s: %w", task.Parent, task.Filename, err)
	}

	size := info.Size()
	if err := u.store.CompleteUpload(ctx, node.ID, size, time.Now().Unix(), parts, fileUUID); err != nil {
		metrics.UploadsFailed.Inc()
		return fmt.Errorf("complete upload %s/%s: %w", task.Parent, task.Filename, err)
	}

	if u.cache != nil {
		done := node.Clone()
		done.Size = size
		done.UploadedAt = time.Now().Unix()
		done.Parts = parts
		done.ObfuscatedID = fileUUID
		done.Status = metadata.StatusCompleted
		done.LocalPath = ""
		u.cache.Put(done)
	}

	if err := os.Remove(task.LocalPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove staging file",
			logger.KeyLocalPath, task.LocalPath,
			logger.KeyError, err.Error())
	}

	metrics.UploadsTotal.Inc()
	metrics.BytesUploaded.Add(float64(size))
	logger.Info("Upload completed",
		logger.KeyPath, task.Parent+"/"+task.Filename,
		logger.KeySize, size,
		logger.KeyParts, len(parts),
		logger.KeyDurationMs, logger.Duration(start))
	return nil
}

// sendChunks reads the staging file in chunk-size blocks and pushes each
// to the backend, returning the ordered chunk list.
func (u *Uploader) sendChunks(ctx context.Context, localPath, fileUUID string) ([]metadata.ChunkRef, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open staging file: %w", err)
	}
	defer f.Close()

	var parts []metadata.ChunkRef
	buf := make([]byte, u.cfg.ChunkSize)

	for partID := uint32(0); ; partID++ {
		n, readErr := io.ReadFull(f, buf)
		if readErr == io.EOF {
			break
		}
		if readErr != nil && readErr != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("read staging file: %w", readErr)
		}

		chunkName := fmt.Sprintf("%s.part_%03d", fileUUID, partID)
		msg, err := u.sendChunk(ctx, buf[:n], chunkName)
		if err != nil {
			return nil, err
		}

		parts = append(parts, metadata.ChunkRef{
			PartID:    partID,
			BlobID:    msg.BlobID,
			BlobMsgID: msg.MsgID,
			Size:      uint32(n),
			ChunkName: chunkName,
		})

		if u.cfg.BackupTarget != "" {
			if err := u.blob.Copy(ctx, msg.BlobID, u.cfg.BackupTarget); err != nil {
				logger.Warn("Backup copy failed",
					logger.KeyChunk, chunkName,
					logger.KeyTarget, u.cfg.BackupTarget,
					logger.KeyError, err.Error())
			}
		}

		// A short chunk is the last one.
		if int64(n) < u.cfg.ChunkSize {
			break
		}
	}

	return parts, nil
}

// sendChunk pushes one chunk with the two-tier retry policy: rate-limit
// errors sleep the advised delay plus a grace and do not consume an
// attempt; any other error backs off 2^attempt seconds until MaxRetries.
func (u *Uploader) sendChunk(ctx context.Context, data []byte, chunkName string) (*blob.Message, error) {
	attempt := 0
	for {
		metrics.ChunksSent.Inc()
		msg, err := u.blob.Send(ctx, u.cfg.Target, bytes.NewReader(data), chunkName)
		if err == nil {
			return msg, nil
		}

		if rl, ok := blob.AsRateLimit(err); ok {
			delay := rl.RetryAfter + u.cfg.RateLimitGrace
			logger.Warn("Rate limited by blob backend",
				logger.KeyChunk, chunkName,
				"delay", delay.String())
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		attempt++
		if attempt > u.cfg.MaxRetries {
			return nil, fmt.Errorf("send chunk %s after %d attempts: %w", chunkName, attempt, err)
		}

		backoff := time.Duration(1<<uint(attempt)) * time.Second
		logger.Warn("Chunk send failed, backing off",
			logger.KeyChunk, chunkName,
			logger.KeyAttempt, attempt,
			logger.KeyMaxRetries, u.cfg.MaxRetries,
			"backoff", backoff.String(),
			logger.KeyError, err.Error())
		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Processor = (*Uploader)(nil)
