// Package vfs is the virtual filesystem: a path-indexed metadata layer
// with a write-through cache that unifies "file in staging" and "file in
// the blob store" under one read/write/list/rename API.
package vfs

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/marmos91/nebulaftp/internal/logger"
	"github.com/marmos91/nebulaftp/pkg/blob"
	"github.com/marmos91/nebulaftp/pkg/metadata"
	metaerrors "github.com/marmos91/nebulaftp/pkg/metadata/errors"
	"github.com/marmos91/nebulaftp/pkg/metadata/store"
	"github.com/marmos91/nebulaftp/pkg/upload"
	"github.com/marmos91/nebulaftp/pkg/vpath"
)

// Enqueuer is the upload hand-off the VFS pushes completed writes into.
type Enqueuer interface {
	Enqueue(task upload.Task) bool
}

// VFS exposes filesystem operations over the metadata store, the staging
// directory and the blob backend.
type VFS struct {
	store      store.Store
	cache      *Cache
	blob       blob.Client
	queue      Enqueuer
	stagingDir string
}

// New creates a VFS.
func New(s store.Store, cache *Cache, b blob.Client, queue Enqueuer, stagingDir string) *VFS {
	return &VFS{
		store:      s,
		cache:      cache,
		blob:       b,
		queue:      queue,
		stagingDir: stagingDir,
	}
}

// rootNode returns the synthetic node backing "/".
func rootNode() *metadata.Node {
	now := time.Now().Unix()
	return &metadata.Node{
		Type:   metadata.TypeDir,
		Name:   "/",
		Parent: "",
		CTime:  now,
		MTime:  now,
	}
}

// GetNode returns the node at path, or nil if absent. Errors are store
// failures only; a missing node is not an error.
func (v *VFS) GetNode(ctx context.Context, path string) (*metadata.Node, error) {
	path = vpath.Normalize(path)
	if path == "/" || path == "." {
		return rootNode(), nil
	}

	parent, name := vpath.Split(path)
	if node, ok := v.cache.Get(parent, name); ok {
		return node, nil
	}

	node, err := v.store.FindOne(ctx, parent, name)
	if err == nil {
		v.cache.Put(node)
		return node, nil
	}
	if !metaerrors.IsNotFound(err) {
		return nil, err
	}

	// Legacy documents encoded the parent without the leading slash.
	if len(parent) > 1 && strings.HasPrefix(parent, "/") {
		node, err = v.store.FindOne(ctx, parent[1:], name)
		if err == nil {
			v.cache.Put(node)
			return node, nil
		}
		if !metaerrors.IsNotFound(err) {
			return nil, err
		}
	}

	return nil, nil
}

// Exists reports whether a node exists at path.
func (v *VFS) Exists(ctx context.Context, path string) (bool, error) {
	node, err := v.GetNode(ctx, path)
	return node != nil, err
}

// IsDir reports whether path exists and is a directory.
func (v *VFS) IsDir(ctx context.Context, path string) (bool, error) {
	node, err := v.GetNode(ctx, path)
	return node != nil && node.IsDir(), err
}

// IsFile reports whether path exists and is a file.
func (v *VFS) IsFile(ctx context.Context, path string) (bool, error) {
	node, err := v.GetNode(ctx, path)
	return node != nil && !node.IsDir(), err
}

// Mkdir creates a directory. With existOK an existing directory is not an
// error.
func (v *VFS) Mkdir(ctx context.Context, path string, existOK bool) error {
	path = vpath.Normalize(path)
	if path == "/" {
		if existOK {
			return nil
		}
		return metaerrors.AlreadyExists("/")
	}

	parent, name := vpath.Split(path)
	node := metadata.NewDir(parent, name)

	if err := v.store.Insert(ctx, node); err != nil {
		if metaerrors.IsAlreadyExists(err) && existOK {
			return nil
		}
		return err
	}

	v.cache.Put(node)
	return nil
}

// Rmdir removes a directory and cascade-deletes every descendant whose
// parent path has the directory as prefix. Missing directories are a
// no-op. Descendants are not purged from the cache individually; their
// entries are dropped lazily when a later lookup misses the store.
func (v *VFS) Rmdir(ctx context.Context, path string) error {
	path = vpath.Normalize(path)
	if path == "/" {
		return metaerrors.New(metaerrors.ErrInvalidArgument, "/", "cannot remove root")
	}

	parent, name := vpath.Split(path)
	v.cache.Forget(parent, name)

	if err := v.store.DeleteOne(ctx, parent, name); err != nil {
		return err
	}
	return v.store.DeleteByParentPrefix(ctx, path)
}

// Unlink removes a file: cache entry, best-effort staging bytes, then
// metadata. Missing files are a no-op.
func (v *VFS) Unlink(ctx context.Context, path string) error {
	path = vpath.Normalize(path)
	parent, name := vpath.Split(path)

	node, err := v.GetNode(ctx, path)
	if err != nil {
		return err
	}

	v.cache.Forget(parent, name)

	if node != nil && node.LocalPath != "" {
		if err := os.Remove(node.LocalPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove staging bytes on unlink",
				logger.KeyPath, path,
				logger.KeyLocalPath, node.LocalPath,
				logger.KeyError, err.Error())
		}
	}

	return v.store.DeleteOne(ctx, parent, name)
}

// List returns the children of path, ".partial" names filtered out.
func (v *VFS) List(ctx context.Context, path string) ([]*metadata.Node, error) {
	return v.store.List(ctx, vpath.Normalize(path))
}

// Stat returns the node at path, or ErrNotFound.
func (v *VFS) Stat(ctx context.Context, path string) (*metadata.Node, error) {
	node, err := v.GetNode(ctx, path)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, metaerrors.NotFound(path)
	}
	return node, nil
}

// Open opens path for reading or writing and returns a staging handle.
//
// Write mode pre-creates (or resets) the metadata document with size 0
// and no chunks, regardless of whether bytes exist yet. Read mode
// requires the node to exist.
func (v *VFS) Open(ctx context.Context, path string, mode Mode) (*Handle, error) {
	path = vpath.Normalize(path)
	parent, name := vpath.Split(path)

	switch mode {
	case ModeWrite:
		node := metadata.NewFile(parent, name)
		node.Status = metadata.StatusStaging

		// A resumed write (REST + STOR) must land in the same staging
		// file the interrupted write used.
		if prev, err := v.GetNode(ctx, path); err != nil {
			return nil, err
		} else if prev != nil && prev.LocalPath != "" {
			node.LocalPath = prev.LocalPath
		}

		if err := v.store.Replace(ctx, node); err != nil {
			return nil, err
		}
		v.cache.Put(node)
		return newHandle(v, node, mode), nil

	case ModeRead:
		node, err := v.GetNode(ctx, path)
		if err != nil {
			return nil, err
		}
		if node == nil {
			return nil, metaerrors.NotFound(path)
		}
		if node.IsDir() {
			return nil, metaerrors.New(metaerrors.ErrIsDirectory, path, "is a directory")
		}
		return newHandle(v, node, mode), nil

	default:
		return nil, fmt.Errorf("unsupported open mode %q", mode)
	}
}

// Rename moves src to dst at the metadata level. A missing source is a
// warned no-op. Renaming a ".partial" file to its final name with staging
// bytes on disk hands the file to the upload pipeline under its
// destination identity.
func (v *VFS) Rename(ctx context.Context, src, dst string) error {
	src = vpath.Normalize(src)
	dst = vpath.Normalize(dst)

	srcParent, srcName := vpath.Split(src)
	dstParent, dstName := vpath.Split(dst)

	node, err := v.GetNode(ctx, src)
	if err != nil {
		return err
	}
	if node == nil {
		logger.Warn("Rename source not found, ignoring",
			logger.KeyOldPath, src,
			logger.KeyNewPath, dst)
		return nil
	}

	mtime := time.Now().Unix()
	moved := node.Clone()
	moved.Parent = dstParent
	moved.Name = dstName
	moved.MTime = mtime

	v.cache.Move(srcParent, srcName, moved)

	if err := v.store.Rename(ctx, node.ID, dstParent, dstName, mtime); err != nil {
		return err
	}

	if node.Partial() && !moved.Partial() && node.LocalPath != "" {
		if info, err := os.Stat(node.LocalPath); err == nil {
			v.queue.Enqueue(upload.Task{
				LocalPath: node.LocalPath,
				Filename:  dstName,
				Parent:    dstParent,
				Size:      info.Size(),
			})
		}
	}

	return nil
}
