// Package memory provides an in-memory metadata store used by tests. It
// mirrors the MongoDB store's semantics, including the unique (parent,
// name) constraint and the ".partial" listing filter.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/nebulaftp/pkg/metadata"
	metaerrors "github.com/marmos91/nebulaftp/pkg/metadata/errors"
	"github.com/marmos91/nebulaftp/pkg/vpath"
)

type key struct {
	parent string
	name   string
}

// Store is an in-memory store.Store and store.CredentialStore.
type Store struct {
	mu    sync.Mutex
	nodes map[key]*metadata.Node
	users map[string]*metadata.UserDoc
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		nodes: make(map[key]*metadata.Node),
		users: make(map[string]*metadata.UserDoc),
	}
}

// EnsureIndexes is a no-op; uniqueness is enforced by the map key.
func (s *Store) EnsureIndexes(ctx context.Context) error { return nil }

// HealthCheck always succeeds.
func (s *Store) HealthCheck(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close(ctx context.Context) error { return nil }

// FindOne returns the node at (parent, name), or ErrNotFound.
func (s *Store) FindOne(ctx context.Context, parent, name string) (*metadata.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[key{parent, name}]
	if !ok {
		return nil, metaerrors.NotFound(vpath.Join(parent, name))
	}
	return node.Clone(), nil
}

// Insert stores a new node, failing on a (parent, name) collision.
func (s *Store) Insert(ctx context.Context, node *metadata.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{node.Parent, node.Name}
	if _, ok := s.nodes[k]; ok {
		return metaerrors.AlreadyExists(node.Path())
	}
	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	s.nodes[k] = node.Clone()
	return nil
}

// Replace upserts the node at (parent, name), preserving an existing ID.
func (s *Store) Replace(ctx context.Context, node *metadata.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{node.Parent, node.Name}
	if existing, ok := s.nodes[k]; ok {
		node.ID = existing.ID
	} else if node.ID == "" {
		node.ID = uuid.NewString()
	}
	s.nodes[k] = node.Clone()
	return nil
}

// Rename updates parent, name and mtime of the node with the given ID.
func (s *Store) Rename(ctx context.Context, id, newParent, newName string, mtime int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, n := range s.nodes {
		if n.ID == id {
			delete(s.nodes, k)
			n.Parent = newParent
			n.Name = newName
			n.MTime = mtime
			s.nodes[key{newParent, newName}] = n
			return nil
		}
	}
	return nil
}

// CompleteUpload swaps the node with the given ID from staging to completed.
func (s *Store) CompleteUpload(ctx context.Context, id string, size, uploadedAt int64, parts []metadata.ChunkRef, fileUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.ID == id {
			n.Size = size
			n.UploadedAt = uploadedAt
			n.Parts = append([]metadata.ChunkRef(nil), parts...)
			n.ObfuscatedID = fileUUID
			n.Status = metadata.StatusCompleted
			n.LocalPath = ""
			return nil
		}
	}
	return nil
}

// DeleteOne removes the node at (parent, name); missing nodes are ignored.
func (s *Store) DeleteOne(ctx context.Context, parent, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, key{parent, name})
	return nil
}

// DeleteByParentPrefix removes every node whose parent starts with prefix.
func (s *Store) DeleteByParentPrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.nodes {
		if strings.HasPrefix(k.parent, prefix) {
			delete(s.nodes, k)
		}
	}
	return nil
}

// List returns the children of parent, excluding ".partial" names, sorted
// by name for deterministic tests.
func (s *Store) List(ctx context.Context, parent string) ([]*metadata.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var nodes []*metadata.Node
	for k, n := range s.nodes {
		if k.parent != parent || strings.HasSuffix(k.name, metadata.PartialSuffix) {
			continue
		}
		nodes = append(nodes, n.Clone())
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}

// FindPending returns nodes left mid-upload by a previous run.
func (s *Store) FindPending(ctx context.Context) ([]*metadata.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var nodes []*metadata.Node
	for _, n := range s.nodes {
		if n.Status == metadata.StatusStaging ||
			(n.LocalPath != "" && n.Status != metadata.StatusCompleted) {
			nodes = append(nodes, n.Clone())
		}
	}
	return nodes, nil
}

// FindUserByLogin returns the credential document for a login.
func (s *Store) FindUserByLogin(ctx context.Context, login string) (*metadata.UserDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[login]
	if !ok {
		return nil, metaerrors.New(metaerrors.ErrNotFound, "", "no such username")
	}
	clone := *user
	clone.Permissions = append([]metadata.PermissionDoc(nil), user.Permissions...)
	return &clone, nil
}

// UpsertUser creates or replaces a credential document.
func (s *Store) UpsertUser(ctx context.Context, user *metadata.UserDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *user
	clone.Permissions = append([]metadata.PermissionDoc(nil), user.Permissions...)
	s.users[user.Login] = &clone
	return nil
}

// DeleteUser removes a credential document.
func (s *Store) DeleteUser(ctx context.Context, login string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[login]; !ok {
		return metaerrors.New(metaerrors.ErrNotFound, "", "no such username")
	}
	delete(s.users, login)
	return nil
}

// ListUsers returns every credential document sorted by login.
func (s *Store) ListUsers(ctx context.Context) ([]*metadata.UserDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []*metadata.UserDoc
	for _, u := range s.users {
		clone := *u
		clone.Permissions = append([]metadata.PermissionDoc(nil), u.Permissions...)
		users = append(users, &clone)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Login < users[j].Login })
	return users, nil
}
