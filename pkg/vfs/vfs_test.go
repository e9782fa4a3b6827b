package vfs

import (
	"fmt"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	blobmem "github.com/marmos91/nebulaftp/pkg/blob/memory"
	"github.com/marmos91/nebulaftp/pkg/metadata"
	metaerrors "github.com/marmos91/nebulaftp/pkg/metadata/errors"
	storemem "github.com/marmos91/nebulaftp/pkg/metadata/store/memory"
	"github.com/marmos91/nebulaftp/pkg/upload"
)

// recordingQueue captures enqueued tasks.
type recordingQueue struct {
	tasks []upload.Task
}

func (q *recordingQueue) Enqueue(task upload.Task) bool {
	q.tasks = append(q.tasks, task)
	return true
}

func newTestVFS(t *testing.T) (*VFS, *storemem.Store, *recordingQueue) {
	t.Helper()
	st := storemem.New()
	queue := &recordingQueue{}
	v := New(st, NewCache(), blobmem.New(), queue, t.TempDir())
	return v, st, queue
}

func writeFile(t *testing.T, v *VFS, path, content string) *Handle {
	t.Helper()
	ctx := t.Context()
	h, err := v.Open(ctx, path, ModeWrite)
	require.NoError(t, err)
	_, err = h.WriteStream(ctx, strings.NewReader(content))
	require.NoError(t, err)
	return h
}

func TestGetNodeRoot(t *testing.T) {
	v, _, _ := newTestVFS(t)

	node, err := v.GetNode(t.Context(), "/")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.True(t, node.IsDir())
}

func TestMkdirUnique(t *testing.T) {
	v, _, _ := newTestVFS(t)
	ctx := t.Context()

	require.NoError(t, v.Mkdir(ctx, "/alice/docs", false))

	node, err := v.GetNode(ctx, "/alice/docs")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.True(t, node.IsDir())

	err = v.Mkdir(ctx, "/alice/docs", false)
	assert.True(t, metaerrors.IsAlreadyExists(err))

	assert.NoError(t, v.Mkdir(ctx, "/alice/docs", true))
}

func TestLegacyParentFallback(t *testing.T) {
	v, st, _ := newTestVFS(t)
	ctx := t.Context()

	// Legacy documents carry the parent without the leading slash.
	legacy := metadata.NewFile("alice", "old.txt")
	require.NoError(t, st.Insert(ctx, legacy))

	node, err := v.GetNode(ctx, "/alice/old.txt")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.Equal(t, "old.txt", node.Name)
}

func TestListFiltersPartial(t *testing.T) {
	v, _, _ := newTestVFS(t)
	ctx := t.Context()

	writeFile(t, v, "/alice/done.iso", "data")
	writeFile(t, v, "/alice/up.iso.partial", "data")

	nodes, err := v.List(ctx, "/alice")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "done.iso", nodes[0].Name)
}

func TestWriteStreamEnqueuesOnce(t *testing.T) {
	v, _, queue := newTestVFS(t)

	writeFile(t, v, "/alice/report.csv", "a,b,c\n")

	require.Len(t, queue.tasks, 1)
	task := queue.tasks[0]
	assert.Equal(t, "/alice", task.Parent)
	assert.Equal(t, "report.csv", task.Filename)
	assert.Equal(t, int64(6), task.Size)
}

func TestWriteStreamPartialNotEnqueued(t *testing.T) {
	v, _, queue := newTestVFS(t)

	writeFile(t, v, "/alice/big.bin.partial", "bytes")

	assert.Empty(t, queue.tasks)
}

func TestWriteStreamEmptyNotEnqueued(t *testing.T) {
	v, _, queue := newTestVFS(t)

	writeFile(t, v, "/alice/empty", "")

	assert.Empty(t, queue.tasks)
}

func TestRenamePartialEnqueuesExactlyOnce(t *testing.T) {
	v, _, queue := newTestVFS(t)
	ctx := t.Context()

	writeFile(t, v, "/alice/big.bin.partial", "0123456789")
	require.Empty(t, queue.tasks)

	require.NoError(t, v.Rename(ctx, "/alice/big.bin.partial", "/alice/big.bin"))

	require.Len(t, queue.tasks, 1)
	task := queue.tasks[0]
	assert.Equal(t, "/alice", task.Parent)
	assert.Equal(t, "big.bin", task.Filename)
	assert.Equal(t, int64(10), task.Size)

	// The old name is gone, the new one resolves.
	old, err := v.GetNode(ctx, "/alice/big.bin.partial")
	require.NoError(t, err)
	assert.Nil(t, old)

	node, err := v.GetNode(ctx, "/alice/big.bin")
	require.NoError(t, err)
	require.NotNil(t, node)

	// Renaming a completed name does not enqueue again.
	require.NoError(t, v.Rename(ctx, "/alice/big.bin", "/alice/final.bin"))
	assert.Len(t, queue.tasks, 1)
}

func TestRenameMissingSourceIsNoop(t *testing.T) {
	v, _, queue := newTestVFS(t)

	require.NoError(t, v.Rename(t.Context(), "/alice/ghost", "/alice/real"))
	assert.Empty(t, queue.tasks)
}

func TestUnlinkRemovesStagingBytes(t *testing.T) {
	v, _, _ := newTestVFS(t)
	ctx := t.Context()

	h := writeFile(t, v, "/alice/tmp.bin", "bytes")
	local := h.Node().LocalPath
	require.FileExists(t, local)

	require.NoError(t, v.Unlink(ctx, "/alice/tmp.bin"))

	assert.NoFileExists(t, local)
	node, err := v.GetNode(ctx, "/alice/tmp.bin")
	require.NoError(t, err)
	assert.Nil(t, node)

	// Unlink of a missing path stays a no-op.
	assert.NoError(t, v.Unlink(ctx, "/alice/tmp.bin"))
}

func TestRmdirCascades(t *testing.T) {
	v, _, _ := newTestVFS(t)
	ctx := t.Context()

	require.NoError(t, v.Mkdir(ctx, "/alice/docs", false))
	writeFile(t, v, "/alice/docs/a.txt", "a")
	require.NoError(t, v.Mkdir(ctx, "/alice/docs/deep", false))
	writeFile(t, v, "/alice/docs/deep/b.txt", "b")
	writeFile(t, v, "/alice/keep.txt", "k")

	require.NoError(t, v.Rmdir(ctx, "/alice/docs"))

	for _, gone := range []string{"/alice/docs", "/alice/docs/a.txt", "/alice/docs/deep/b.txt"} {
		node, err := v.GetNode(ctx, gone)
		require.NoError(t, err)
		assert.Nil(t, node, "%s should be gone", gone)
	}

	node, err := v.GetNode(ctx, "/alice/keep.txt")
	require.NoError(t, err)
	assert.NotNil(t, node)
}

func TestOpenReadMissingFails(t *testing.T) {
	v, _, _ := newTestVFS(t)

	_, err := v.Open(t.Context(), "/alice/nope", ModeRead)
	assert.True(t, metaerrors.IsNotFound(err))
}

func TestResumedWriteReusesStagingFile(t *testing.T) {
	v, _, queue := newTestVFS(t)
	ctx := t.Context()

	// First attempt delivers the first 4 bytes.
	h1, err := v.Open(ctx, "/alice/resume.bin", ModeWrite)
	require.NoError(t, err)
	_, err = h1.WriteStream(ctx, strings.NewReader("0123"))
	require.NoError(t, err)
	queue.tasks = nil

	// REST 4 + STOR delivers the rest into the same staging file.
	h2, err := v.Open(ctx, "/alice/resume.bin", ModeWrite)
	require.NoError(t, err)
	assert.Equal(t, h1.Node().LocalPath, h2.Node().LocalPath)

	h2.SetOffset(4)
	_, err = h2.WriteStream(ctx, strings.NewReader("456789"))
	require.NoError(t, err)

	data, err := os.ReadFile(h2.Node().LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))

	require.Len(t, queue.tasks, 1)
	assert.Equal(t, int64(10), queue.tasks[0].Size)
}

func TestStreamFromStagingHonorsOffset(t *testing.T) {
	v, _, _ := newTestVFS(t)
	ctx := t.Context()

	writeFile(t, v, "/alice/x.bin", "0123456789")

	h, err := v.Open(ctx, "/alice/x.bin", ModeRead)
	require.NoError(t, err)
	h.SetOffset(3)

	rc, err := h.Stream(ctx)
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "3456789", string(data))
}

func TestStreamFromChunksHonorsOffset(t *testing.T) {
	st := storemem.New()
	bc := blobmem.New()
	queue := &recordingQueue{}
	v := New(st, NewCache(), bc, queue, t.TempDir())
	ctx := t.Context()

	// Two chunks of 4 bytes plus a 2-byte tail.
	var parts []metadata.ChunkRef
	payload := "abcdefghij"
	for i, chunk := range []string{"abcd", "efgh", "ij"} {
		name := fmt.Sprintf("u.part_%03d", i)
		msg, err := bc.Send(ctx, "chunks", strings.NewReader(chunk), name)
		require.NoError(t, err)
		parts = append(parts, metadata.ChunkRef{
			PartID:    uint32(i),
			BlobID:    msg.BlobID,
			Size:      uint32(len(chunk)),
			ChunkName: name,
		})
	}

	node := metadata.NewFile("/alice", "chunked.bin")
	node.Status = metadata.StatusCompleted
	node.Size = int64(len(payload))
	node.Parts = parts
	require.NoError(t, st.Insert(ctx, node))

	for _, offset := range []int64{0, 3, 4, 9, 10} {
		h, err := v.Open(ctx, "/alice/chunked.bin", ModeRead)
		require.NoError(t, err)
		h.SetOffset(offset)

		rc, err := h.Stream(ctx)
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, payload[offset:], string(data), "offset %d", offset)
	}
}
