package upload

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/nebulaftp/pkg/metadata"
	storemem "github.com/marmos91/nebulaftp/pkg/metadata/store/memory"
)

// countingProcessor records processed tasks.
type countingProcessor struct {
	mu    sync.Mutex
	tasks []Task
	block chan struct{} // when non-nil, Process waits on it
}

func (p *countingProcessor) Process(ctx context.Context, task Task) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	p.tasks = append(p.tasks, task)
	p.mu.Unlock()
	return nil
}

func (p *countingProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tasks)
}

func TestQueueProcessesTasks(t *testing.T) {
	proc := &countingProcessor{}
	q := NewQueue(proc, QueueConfig{Workers: 2, QueueSize: 10})
	q.Start()

	for i := 0; i < 5; i++ {
		require.True(t, q.Enqueue(Task{Filename: "f", Parent: "/alice"}))
	}

	require.Eventually(t, func() bool { return proc.count() == 5 },
		5*time.Second, 10*time.Millisecond)

	q.Stop(time.Second)

	_, completed, failed := q.Stats()
	assert.Equal(t, 5, completed)
	assert.Zero(t, failed)
}

func TestQueueRejectsPartialNames(t *testing.T) {
	q := NewQueue(&countingProcessor{}, QueueConfig{})
	assert.False(t, q.Enqueue(Task{Filename: "f.partial", Parent: "/alice"}))
}

func TestQueueFullDropsTask(t *testing.T) {
	proc := &countingProcessor{block: make(chan struct{})}
	q := NewQueue(proc, QueueConfig{Workers: 1, QueueSize: 1})
	q.Start()
	defer func() {
		close(proc.block)
		q.Stop(time.Second)
	}()

	// First task occupies the worker, second fills the buffer.
	require.True(t, q.Enqueue(Task{Filename: "a", Parent: "/p"}))
	require.Eventually(t, func() bool {
		return q.Enqueue(Task{Filename: "b", Parent: "/p"})
	}, time.Second, 5*time.Millisecond)

	// Buffer is full now; the next enqueue is dropped.
	assert.False(t, q.Enqueue(Task{Filename: "c", Parent: "/p"}))
}

func TestQueueStopDrains(t *testing.T) {
	proc := &countingProcessor{}
	q := NewQueue(proc, QueueConfig{Workers: 1, QueueSize: 10})
	q.Start()

	for i := 0; i < 3; i++ {
		require.True(t, q.Enqueue(Task{Filename: "f", Parent: "/p"}))
	}

	q.Stop(5 * time.Second)
	assert.Equal(t, 3, proc.count())
}

func TestRecoverEnqueuesPendingFiles(t *testing.T) {
	st := storemem.New()
	dir := t.TempDir()
	ctx := t.Context()

	good := filepath.Join(dir, "x_report.csv")
	require.NoError(t, os.WriteFile(good, []byte("a,b\n"), 0o644))
	stagedNode(t, st, "/alice", "report.csv", good, 4)

	// Partial leftovers are never recovered.
	part := filepath.Join(dir, "x_up.partial")
	require.NoError(t, os.WriteFile(part, []byte("zz"), 0o644))
	stagedNode(t, st, "/alice", "up.partial", part, 2)

	// Missing staging bytes.
	stagedNode(t, st, "/alice", "ghost.bin", filepath.Join(dir, "missing"), 9)

	// Empty file.
	empty := filepath.Join(dir, "x_empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	stagedNode(t, st, "/alice", "empty.bin", empty, 0)

	// Completed files are not pending at all.
	done := metadata.NewFile("/alice", "done.bin")
	done.Status = metadata.StatusCompleted
	require.NoError(t, st.Insert(ctx, done))

	proc := &countingProcessor{}
	q := NewQueue(proc, QueueConfig{Workers: 1})
	q.Start()
	defer q.Stop(time.Second)

	n, err := Recover(ctx, st, q)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool { return proc.count() == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "report.csv", proc.tasks[0].Filename)
	assert.Equal(t, "/alice", proc.tasks[0].Parent)
}

func TestGCSweepRemovesOnlyStaleFiles(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "old")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	fresh := filepath.Join(dir, "new")
	require.NoError(t, os.WriteFile(fresh, []byte("y"), 0o644))

	gc := &GC{Dir: dir}
	removed := gc.Sweep(time.Hour)

	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
}
