package vfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/nebulaftp/internal/logger"
	"github.com/marmos91/nebulaftp/pkg/metadata"
	"github.com/marmos91/nebulaftp/pkg/upload"
)

// Mode selects how a handle is opened.
type Mode string

const (
	ModeRead  Mode = "rb"
	ModeWrite Mode = "wb"
)

// writeBlockSize is the copy granularity between the data connection and
// the staging file.
const writeBlockSize = 1 << 20

// Handle is the write-to-disk sink and chunk-stream source behind STOR,
// APPE and RETR. Writes always land in a session-unique staging file;
// reads come from the staging file when present and from the ordered
// chunk list otherwise.
type Handle struct {
	vfs    *VFS
	node   *metadata.Node
	mode   Mode
	local  string
	offset int64
}

func newHandle(v *VFS, node *metadata.Node, mode Mode) *Handle {
	local := node.LocalPath
	if local == "" {
		hex := strings.ReplaceAll(uuid.NewString(), "-", "")
		local = filepath.Join(v.stagingDir, hex+"_"+node.Name)
	}
	return &Handle{vfs: v, node: node, mode: mode, local: local}
}

// Node returns the node the handle refers to.
func (h *Handle) Node() *metadata.Node { return h.node }

// SetOffset sets the start offset for the next WriteStream or Stream
// call. Used to honor REST.
func (h *Handle) SetOffset(offset int64) {
	if offset < 0 {
		offset = 0
	}
	h.offset = offset
}

// WriteStream drains r into the staging file in 1 MiB blocks, honoring
// the seek offset, then records the staging document through the cache
// and best-effort to the store. Non-".partial" names with bytes are
// handed to the upload pipeline; ".partial" names never are, their
// hand-off happens on the rename that drops the suffix.
func (h *Handle) WriteStream(ctx context.Context, r io.Reader) (int64, error) {
	if h.mode != ModeWrite {
		return 0, fmt.Errorf("handle for %s not opened for writing", h.node.Path())
	}

	if err := os.MkdirAll(filepath.Dir(h.local), 0o755); err != nil {
		return 0, fmt.Errorf("create staging dir: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if h.offset == 0 {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(h.local, flags, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open staging file: %w", err)
	}

	if h.offset > 0 {
		if _, err := f.Seek(h.offset, io.SeekStart); err != nil {
			f.Close()
			return 0, fmt.Errorf("seek staging file: %w", err)
		}
	}

	written, copyErr := io.CopyBuffer(f, contextReader{ctx, r}, make([]byte, writeBlockSize))

	info, statErr := f.Stat()
	if closeErr := f.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		return written, fmt.Errorf("write staging file: %w", copyErr)
	}
	if statErr != nil {
		return written, fmt.Errorf("stat staging file: %w", statErr)
	}
	size := info.Size()

	staged := h.node.Clone()
	staged.Status = metadata.StatusStaging
	staged.LocalPath = h.local
	staged.Size = size
	staged.Parts = nil
	staged.MTime = time.Now().Unix()

	h.vfs.cache.Put(staged)
	if err := h.vfs.store.Replace(ctx, staged); err != nil {
		// The cache carries the truth for this process; the store catches
		// up on the upload swap or the next write.
		logger.Warn("Failed to persist staging document",
			logger.KeyPath, staged.Path(),
			logger.KeyError, err.Error())
	}
	h.node = staged

	if !staged.Partial() && size > 0 {
		h.vfs.queue.Enqueue(upload.Task{
			LocalPath: h.local,
			Filename:  staged.Name,
			Parent:    staged.Parent,
			Size:      size,
		})
	}

	return written, nil
}

// Stream returns a reader over the file's bytes starting at the seek
// offset. Staging bytes on disk win; otherwise chunks are streamed from
// the blob backend in part order.
func (h *Handle) Stream(ctx context.Context) (io.ReadCloser, error) {
	if h.node.LocalPath != "" {
		if f, err := os.Open(h.node.LocalPath); err == nil {
			if h.offset > 0 {
				if _, err := f.Seek(h.offset, io.SeekStart); err != nil {
					f.Close()
					return nil, fmt.Errorf("seek staging file: %w", err)
				}
			}
			return f, nil
		}
		// Staging bytes vanished (uploader finished and swapped); fall
		// through to the chunk list.
	}

	return &chunkReader{
		ctx:    ctx,
		vfs:    h.vfs,
		parts:  h.node.Parts,
		offset: h.offset,
	}, nil
}

// contextReader fails reads once the context is cancelled, making the
// data-connection copy loop cancellable at every block boundary.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

// chunkReader concatenates the chunks intersecting [offset, EOF) into one
// byte stream.
type chunkReader struct {
	ctx    context.Context
	vfs    *VFS
	parts  []metadata.ChunkRef
	offset int64

	idx     int
	skipped int64 // bytes covered by fully skipped chunks
	current io.ReadCloser
}

func (cr *chunkReader) Read(p []byte) (int, error) {
	for {
		if cr.current != nil {
			n, err := cr.current.Read(p)
			if err == io.EOF {
				cr.current.Close()
				cr.current = nil
				cr.idx++
				if n > 0 {
					return n, nil
				}
				continue
			}
			return n, err
		}

		if cr.idx >= len(cr.parts) {
			return 0, io.EOF
		}

		part := cr.parts[cr.idx]
		chunkStart := cr.skipped
		chunkEnd := chunkStart + int64(part.Size)

		if cr.offset >= chunkEnd {
			// Entirely before the requested range.
			cr.skipped = chunkEnd
			cr.idx++
			continue
		}

		localOffset := int64(0)
		if cr.offset > chunkStart {
			localOffset = cr.offset - chunkStart
		}
		cr.skipped = chunkEnd

		rc, err := cr.vfs.blob.Stream(cr.ctx, part.BlobID, localOffset)
		if err != nil {
			return 0, fmt.Errorf("stream chunk %s: %w", part.ChunkName, err)
		}
		cr.current = rc
	}
}

func (cr *chunkReader) Close() error {
	if cr.current != nil {
		err := cr.current.Close()
		cr.current = nil
		return err
	}
	return nil
}
