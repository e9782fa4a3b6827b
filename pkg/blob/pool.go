package blob

import (
	"context"
	"io"
	"sync/atomic"
)

// Pool fans Send calls out over several backend clients round-robin while
// delegating reads to a designated primary. This replaces dynamic
// forwarding with an explicit contract: only Send is load-balanced;
// Stream, Copy and Ping always hit the primary so that read-after-write
// behavior stays predictable.
type Pool struct {
	clients []Client
	next    atomic.Uint64
}

// NewPool builds a pool from one or more clients. The first client is the
// primary. Panics on an empty client list: a pool without clients is a
// wiring bug, not a runtime condition.
func NewPool(clients ...Client) *Pool {
	if len(clients) == 0 {
		panic("blob: NewPool requires at least one client")
	}
	return &Pool{clients: clients}
}

// Primary returns the designated read client.
func (p *Pool) Primary() Client {
	return p.clients[0]
}

// Send pushes a chunk through the next client in round-robin order.
func (p *Pool) Send(ctx context.Context, target string, r io.Reader, chunkName string) (*Message, error) {
	n := p.next.Add(1) - 1
	client := p.clients[n%uint64(len(p.clients))]
	return client.Send(ctx, target, r, chunkName)
}

// Stream reads a chunk through the primary client.
func (p *Pool) Stream(ctx context.Context, blobID string, offset int64) (io.ReadCloser, error) {
	return p.Primary().Stream(ctx, blobID, offset)
}

// Copy duplicates a chunk through the primary client.
func (p *Pool) Copy(ctx context.Context, blobID, target string) error {
	return p.Primary().Copy(ctx, blobID, target)
}

// Ping verifies the target through the primary client.
func (p *Pool) Ping(ctx context.Context, target string) error {
	return p.Primary().Ping(ctx, target)
}
