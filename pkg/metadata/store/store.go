// Package store defines the metadata store contract consumed by the VFS,
// the upload pipeline and the restart recovery pass.
//
// The store is a document store with a single logical collection of file
// nodes plus a read-mostly credential collection. Implementations must
// enforce a unique compound index on (parent, name): the resulting conflict
// on insert is the sole "already exists" signal the VFS relies on.
package store

import (
	"context"

	"github.com/marmos91/nebulaftp/pkg/metadata"
)

// Store is the typed CRUD surface over the files collection.
//
// All lookups are by the (parent, name) pair. Absent documents surface as a
// metadata/errors StoreError with code ErrNotFound; (parent, name) conflicts
// on Insert surface as ErrAlreadyExists.
type Store interface {
	// EnsureIndexes asserts the required indexes: unique (parent, name),
	// secondary parent, secondary status. Called once at startup.
	EnsureIndexes(ctx context.Context) error

	// FindOne returns the node at (parent, name).
	FindOne(ctx context.Context, parent, name string) (*metadata.Node, error)

	// Insert stores a new node and assigns its ID. A (parent, name)
	// collision returns ErrAlreadyExists.
	Insert(ctx context.Context, node *metadata.Node) error

	// Replace upserts the node stored at (parent, name).
	Replace(ctx context.Context, node *metadata.Node) error

	// Rename updates parent, name and mtime of the node with the given ID.
	// Descendants of a renamed directory keep their old parent fields.
	Rename(ctx context.Context, id, newParent, newName string, mtime int64) error

	// CompleteUpload atomically swaps a file from staging to completed:
	// sets size, uploaded_at, parts, obfuscated_id and status, and unsets
	// local_path, in one update by ID.
	CompleteUpload(ctx context.Context, id string, size, uploadedAt int64, parts []metadata.ChunkRef, fileUUID string) error

	// DeleteOne removes the node at (parent, name). Missing nodes are not
	// an error.
	DeleteOne(ctx context.Context, parent, name string) error

	// DeleteByParentPrefix removes every node whose parent has the given
	// path as prefix. Used by rmdir to cascade over descendants.
	DeleteByParentPrefix(ctx context.Context, prefix string) error

	// List returns the children of parent, excluding names ending in
	// ".partial".
	List(ctx context.Context, parent string) ([]*metadata.Node, error)

	// FindPending returns nodes left mid-upload by a previous run: status
	// staging, or local_path set with status not completed.
	FindPending(ctx context.Context) ([]*metadata.Node, error)

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases the underlying client.
	Close(ctx context.Context) error
}

// CredentialStore is the read-mostly user collection. The FTP core only
// calls FindUserByLogin; the management CLI uses the rest.
type CredentialStore interface {
	FindUserByLogin(ctx context.Context, login string) (*metadata.UserDoc, error)
	UpsertUser(ctx context.Context, user *metadata.UserDoc) error
	DeleteUser(ctx context.Context, login string) error
	ListUsers(ctx context.Context) ([]*metadata.UserDoc, error)
}
