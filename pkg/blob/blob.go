// Package blob defines the blob backend contract the upload pipeline and
// the VFS read path consume: send an opaque chunk, stream it back later by
// ID, and optionally copy it to a backup target.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Message describes a stored chunk.
type Message struct {
	// BlobID is the identifier chunks are streamed back by.
	BlobID string

	// MsgID is a backend-specific secondary identifier, kept in chunk
	// metadata for operability. Opaque to the core.
	MsgID uint64

	// Size is the stored byte count.
	Size int64
}

// Client is the consumed interface of the blob backend.
//
// Send pushes one chunk to a target and must be safe to retry with the
// same chunk name. Stream returns the chunk's bytes starting at offset.
// Copy duplicates a stored chunk to another target (used for the optional
// backup target). Ping verifies a target is reachable at startup.
type Client interface {
	Send(ctx context.Context, target string, r io.Reader, chunkName string) (*Message, error)
	Stream(ctx context.Context, blobID string, offset int64) (io.ReadCloser, error)
	Copy(ctx context.Context, blobID, target string) error
	Ping(ctx context.Context, target string) error
}

// RateLimitError is a retryable backend error carrying the server-advised
// delay. The uploader sleeps RetryAfter plus a fixed grace and retries
// without consuming an attempt.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// AsRateLimit returns the RateLimitError wrapped in err, if any.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// ErrNotFound is returned by Stream for unknown blob IDs.
var ErrNotFound = errors.New("blob not found")
