// Package storetest provides a conformance test suite for metadata store
// implementations.
//
// Every store backend (memory, mongo) should pass these tests: the suite
// pins down the behavioral contract the VFS depends on, most importantly
// the unique (parent, name) constraint and the ".partial" listing filter.
//
// Usage:
//
//	func TestConformance(t *testing.T) {
//	    storetest.RunConformanceSuite(t, func(t *testing.T) storetest.FullStore {
//	        return memory.New()
//	    })
//	}
//
// The factory receives *testing.T so implementations can use t.TempDir()
// and t.Cleanup for teardown.
package storetest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nebulaftp/pkg/metadata"
	metaerrors "github.com/marmos91/nebulaftp/pkg/metadata/errors"
	"github.com/marmos91/nebulaftp/pkg/metadata/store"
)

// FullStore combines the file and credential contracts, as every real
// backend implements both.
type FullStore interface {
	store.Store
	store.CredentialStore
}

// StoreFactory builds a fresh, empty store for one test.
type StoreFactory func(t *testing.T) FullStore

// RunConformanceSuite runs the full behavioral contract against a store
// implementation.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Run("InsertAndFind", func(t *testing.T) { testInsertAndFind(t, factory) })
	t.Run("InsertDuplicate", func(t *testing.T) { testInsertDuplicate(t, factory) })
	t.Run("ReplaceUpsert", func(t *testing.T) { testReplaceUpsert(t, factory) })
	t.Run("Rename", func(t *testing.T) { testRename(t, factory) })
	t.Run("CompleteUpload", func(t *testing.T) { testCompleteUpload(t, factory) })
	t.Run("DeleteOne", func(t *testing.T) { testDeleteOne(t, factory) })
	t.Run("DeleteByParentPrefix", func(t *testing.T) { testDeleteByParentPrefix(t, factory) })
	t.Run("ListFiltersPartial", func(t *testing.T) { testListFiltersPartial(t, factory) })
	t.Run("FindPending", func(t *testing.T) { testFindPending(t, factory) })
	t.Run("Credentials", func(t *testing.T) { testCredentials(t, factory) })
}

func testInsertAndFind(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	node := metadata.NewFile("/alice", "report.csv")
	require.NoError(t, s.Insert(ctx, node))
	require.NotEmpty(t, node.ID, "Insert must assign an ID")

	got, err := s.FindOne(ctx, "/alice", "report.csv")
	require.NoError(t, err)
	assert.Equal(t, node.ID, got.ID)
	assert.Equal(t, metadata.TypeFile, got.Type)

	_, err = s.FindOne(ctx, "/alice", "missing")
	assert.True(t, metaerrors.IsNotFound(err), "missing node must be ErrNotFound, got %v", err)
}

func testInsertDuplicate(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	require.NoError(t, s.Insert(ctx, metadata.NewDir("/alice", "docs")))
	err := s.Insert(ctx, metadata.NewDir("/alice", "docs"))
	assert.True(t, metaerrors.IsAlreadyExists(err),
		"duplicate (parent, name) must be ErrAlreadyExists, got %v", err)
}

func testReplaceUpsert(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	// Upsert of a missing document inserts it.
	node := metadata.NewFile("/alice", "a.bin")
	node.Size = 10
	require.NoError(t, s.Replace(ctx, node))
	require.NotEmpty(t, node.ID)

	// Upsert over an existing document keeps its identity.
	fresh := metadata.NewFile("/alice", "a.bin")
	fresh.Size = 20
	require.NoError(t, s.Replace(ctx, fresh))
	assert.Equal(t, node.ID, fresh.ID, "Replace must preserve the existing ID")

	got, err := s.FindOne(ctx, "/alice", "a.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Size)
}

func testRename(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	node := metadata.NewFile("/alice", "big.bin.partial")
	require.NoError(t, s.Insert(ctx, node))

	mtime := time.Now().Unix()
	require.NoError(t, s.Rename(ctx, node.ID, "/alice", "big.bin", mtime))

	_, err := s.FindOne(ctx, "/alice", "big.bin.partial")
	assert.True(t, metaerrors.IsNotFound(err))

	got, err := s.FindOne(ctx, "/alice", "big.bin")
	require.NoError(t, err)
	assert.Equal(t, node.ID, got.ID)
	assert.Equal(t, mtime, got.MTime)
}

func testCompleteUpload(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	node := metadata.NewFile("/alice", "big.bin")
	node.Status = metadata.StatusStaging
	node.LocalPath = "/tmp/staging/x_big.bin"
	require.NoError(t, s.Insert(ctx, node))

	parts := []metadata.ChunkRef{
		{PartID: 0, BlobID: "b0", Size: 64 << 20, ChunkName: "u.part_000"},
		{PartID: 1, BlobID: "b1", Size: 6 << 20, ChunkName: "u.part_001"},
	}
	require.NoError(t, s.CompleteUpload(ctx, node.ID, 70<<20, time.Now().Unix(), parts, "uuid-1"))

	got, err := s.FindOne(ctx, "/alice", "big.bin")
	require.NoError(t, err)
	assert.Equal(t, metadata.StatusCompleted, got.Status)
	assert.Empty(t, got.LocalPath, "swap must unset local_path")
	assert.Equal(t, int64(70<<20), got.Size)
	require.Len(t, got.Parts, 2)
	assert.Equal(t, got.Size, got.PartsSize(), "chunk sizes must sum to node size")
}

func testDeleteOne(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	require.NoError(t, s.Insert(ctx, metadata.NewFile("/alice", "x")))
	require.NoError(t, s.DeleteOne(ctx, "/alice", "x"))
	_, err := s.FindOne(ctx, "/alice", "x")
	assert.True(t, metaerrors.IsNotFound(err))

	// Deleting again is idempotent.
	assert.NoError(t, s.DeleteOne(ctx, "/alice", "x"))
}

func testDeleteByParentPrefix(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	require.NoError(t, s.Insert(ctx, metadata.NewDir("/alice", "docs")))
	require.NoError(t, s.Insert(ctx, metadata.NewFile("/alice/docs", "a")))
	require.NoError(t, s.Insert(ctx, metadata.NewFile("/alice/docs/deep", "b")))
	require.NoError(t, s.Insert(ctx, metadata.NewFile("/alice", "keep")))

	require.NoError(t, s.DeleteByParentPrefix(ctx, "/alice/docs"))

	_, err := s.FindOne(ctx, "/alice/docs", "a")
	assert.True(t, metaerrors.IsNotFound(err))
	_, err = s.FindOne(ctx, "/alice/docs/deep", "b")
	assert.True(t, metaerrors.IsNotFound(err))

	// Siblings outside the prefix survive.
	_, err = s.FindOne(ctx, "/alice", "keep")
	assert.NoError(t, err)
}

func testListFiltersPartial(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	require.NoError(t, s.Insert(ctx, metadata.NewFile("/alice", "done.iso")))
	require.NoError(t, s.Insert(ctx, metadata.NewFile("/alice", "upload.iso.partial")))
	require.NoError(t, s.Insert(ctx, metadata.NewDir("/alice", "dir")))

	nodes, err := s.List(ctx, "/alice")
	require.NoError(t, err)

	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	assert.ElementsMatch(t, []string{"done.iso", "dir"}, names)
}

func testFindPending(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	staged := metadata.NewFile("/alice", "pending.bin")
	staged.Status = metadata.StatusStaging
	staged.LocalPath = "/tmp/staging/p"
	require.NoError(t, s.Insert(ctx, staged))

	done := metadata.NewFile("/alice", "done.bin")
	done.Status = metadata.StatusCompleted
	require.NoError(t, s.Insert(ctx, done))

	require.NoError(t, s.Insert(ctx, metadata.NewDir("/alice", "dir")))

	pending, err := s.FindPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "pending.bin", pending[0].Name)
}

func testCredentials(t *testing.T, factory StoreFactory) {
	s := factory(t)
	ctx := t.Context()

	_, err := s.FindUserByLogin(ctx, "alice")
	assert.True(t, metaerrors.IsNotFound(err))

	doc := &metadata.UserDoc{
		Login:    "alice",
		Password: "secret",
		Permissions: []metadata.PermissionDoc{
			{Path: "/shared", Readable: true, Writable: false},
		},
	}
	require.NoError(t, s.UpsertUser(ctx, doc))

	got, err := s.FindUserByLogin(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "secret", got.Password)
	require.Len(t, got.Permissions, 1)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}
