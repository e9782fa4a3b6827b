package vfs

import (
	"sync"

	"github.com/marmos91/nebulaftp/pkg/metadata"
)

type cacheKey struct {
	parent string
	name   string
}

// Cache is the process-wide write-through metadata cache, keyed by
// (parent, name).
//
// The mutex is held only across in-memory map mutations, never across
// store or disk I/O. Entries are never evicted by size; they are dropped
// only by explicit mutations (unlink, rmdir, rename). The cache may lag
// the store for keys touched by another process; this server assumes it
// is the sole writer.
type Cache struct {
	mu    sync.Mutex
	nodes map[cacheKey]*metadata.Node
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{nodes: make(map[cacheKey]*metadata.Node)}
}

// Get returns a copy of the cached node at (parent, name).
func (c *Cache) Get(parent, name string) (*metadata.Node, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.nodes[cacheKey{parent, name}]
	if !ok {
		return nil, false
	}
	return node.Clone(), true
}

// Put stores a copy of the node under its (parent, name).
func (c *Cache) Put(node *metadata.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[cacheKey{node.Parent, node.Name}] = node.Clone()
}

// Forget drops the entry at (parent, name), if any.
func (c *Cache) Forget(parent, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, cacheKey{parent, name})
}

// Move atomically re-keys an entry from (parent, name) to the node's
// current (parent, name) and stores the updated node. Both steps happen
// under one lock acquisition so no reader observes the entry missing.
func (c *Cache) Move(oldParent, oldName string, node *metadata.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, cacheKey{oldParent, oldName})
	c.nodes[cacheKey{node.Parent, node.Name}] = node.Clone()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}
