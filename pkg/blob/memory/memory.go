// Package memory provides an in-memory blob client used by tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/marmos91/nebulaftp/pkg/blob"
)

// Client is an in-memory blob.Client. Chunks live in a map keyed by blob
// ID ("target/chunkName"). SendHook, when set, runs before each send and
// can inject errors to exercise the uploader's retry paths.
type Client struct {
	mu     sync.Mutex
	chunks map[string][]byte
	copies map[string]string
	nextID uint64

	// SendHook is called with the chunk name and the 1-based send count
	// for that name. A non-nil return fails the send.
	SendHook func(chunkName string, sends int) error

	sends map[string]int
}

// New returns an empty in-memory blob client.
func New() *Client {
	return &Client{
		chunks: make(map[string][]byte),
		copies: make(map[string]string),
		sends:  make(map[string]int),
	}
}

// Send stores the chunk under "target/chunkName". Re-sending the same
// chunk name overwrites, matching real backend retry semantics.
func (c *Client) Send(ctx context.Context, target string, r io.Reader, chunkName string) (*blob.Message, error) {
	c.mu.Lock()
	c.sends[chunkName]++
	sends := c.sends[chunkName]
	hook := c.SendHook
	c.mu.Unlock()

	if hook != nil {
		if err := hook(chunkName, sends); err != nil {
			return nil, err
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	id := target + "/" + chunkName
	c.chunks[id] = data
	c.nextID++
	return &blob.Message{BlobID: id, MsgID: c.nextID, Size: int64(len(data))}, nil
}

// Stream returns the stored chunk's bytes starting at offset.
func (c *Client) Stream(ctx context.Context, blobID string, offset int64) (io.ReadCloser, error) {
	c.mu.Lock()
	data, ok := c.chunks[blobID]
	c.mu.Unlock()
	if !ok {
		return nil, blob.ErrNotFound
	}
	if offset < 0 || offset > int64(len(data)) {
		return nil, fmt.Errorf("offset %d out of range for blob %q (%d bytes)", offset, blobID, len(data))
	}
	return io.NopCloser(bytes.NewReader(data[offset:])), nil
}

// Copy records the backup copy of a stored chunk.
func (c *Client) Copy(ctx context.Context, blobID, target string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.chunks[blobID]; !ok {
		return blob.ErrNotFound
	}
	c.copies[blobID] = target
	return nil
}

// Ping always succeeds.
func (c *Client) Ping(ctx context.Context, target string) error { return nil }

// Chunk returns the stored bytes for a blob ID, for test assertions.
func (c *Client) Chunk(blobID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.chunks[blobID]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// Sends returns how many times a chunk name was sent.
func (c *Client) Sends(chunkName string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends[chunkName]
}

// Copies returns the backup target recorded for a blob ID, if any.
func (c *Client) Copies(blobID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	target, ok := c.copies[blobID]
	return target, ok
}

var _ blob.Client = (*Client)(nil)
