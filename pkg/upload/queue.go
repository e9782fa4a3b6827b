// Package upload implements the background pipeline that moves staged
// files into the blob backend: a bounded hand-off queue, a worker pool
// that chunks and pushes files with retry, startup recovery of files left
// in staging, and an age-based staging sweeper.
package upload

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/nebulaftp/internal/logger"
	"github.com/marmos91/nebulaftp/pkg/metadata"
	"github.com/marmos91/nebulaftp/pkg/metrics"
)

// Task is one file hand-off from the VFS to the worker pool.
type Task struct {
	// LocalPath is the staging file holding the bytes.
	LocalPath string

	// Filename and Parent identify the destination node.
	Filename string
	Parent   string

	// Size is the byte count recorded when the task was enqueued. Workers
	// re-stat the staging file; this is informational.
	Size int64
}

// Processor handles one task. Errors are terminal for the task: the
// queue records them but never retries (retry happens inside the
// processor, per chunk).
type Processor interface {
	Process(ctx context.Context, task Task) error
}

// Queue is a bounded multi-producer hand-off queue with a worker pool.
//
// Enqueue is non-blocking: a full queue drops the task with a warning and
// the file stays in staging for the next restart's recovery pass. Stop
// drains remaining tasks within a timeout.
type Queue struct {
	proc  Processor
	tasks chan Task

	workers   int
	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}
	started   bool

	mu          sync.Mutex
	pending     int
	completed   int
	failed      int
	lastError   error
	lastErrorAt time.Time
}

// QueueConfig configures the upload queue.
type QueueConfig struct {
	// Workers is the worker pool size. Defaults to 4.
	Workers int

	// QueueSize is the task buffer capacity. Defaults to 1000.
	QueueSize int
}

// NewQueue creates an upload queue feeding tasks to proc.
func NewQueue(proc Processor, cfg QueueConfig) *Queue {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	return &Queue{
		proc:      proc,
		tasks:     make(chan Task, cfg.QueueSize),
		workers:   cfg.Workers,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start begins processing tasks.
func (q *Queue) Start() {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	logger.Info("Starting upload queue", "workers", q.workers)

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	go func() {
		q.wg.Wait()
		close(q.stoppedCh)
	}()
}

// Stop gracefully shuts down the queue, draining remaining tasks within
// the timeout.
func (q *Queue) Stop(timeout time.Duration) {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	logger.Info("Stopping upload queue", "pending", q.Pending())

	close(q.stopCh)

	select {
	case <-q.stoppedCh:
		logger.Info("Upload queue stopped gracefully")
	case <-time.After(timeout):
		logger.Warn("Upload queue stop timed out", "pending", q.Pending())
	}
}

// Enqueue adds a task. Returns false if the queue is full; the task is
// dropped and the staging file is left for restart recovery.
func (q *Queue) Enqueue(task Task) bool {
	// Never enqueue in-progress client writes.
	if strings.HasSuffix(task.Filename, metadata.PartialSuffix) {
		logger.Warn("Refusing to enqueue partial file",
			logger.KeyPath, task.Parent+"/"+task.Filename)
		return false
	}

	select {
	case q.tasks <- task:
		q.mu.Lock()
		q.pending++
		metrics.QueueDepth.Set(float64(q.pending))
		q.mu.Unlock()
		return true
	default:
		logger.Warn("Upload queue full, dropping task",
			logger.KeyPath, task.Parent+"/"+task.Filename,
			logger.KeyLocalPath, task.LocalPath)
		return false
	}
}

// Pending returns the number of tasks waiting or in flight.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Stats returns queue counters.
func (q *Queue) Stats() (pending, completed, failed int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending, q.completed, q.failed
}

// LastError returns when the last task failure occurred and the error.
func (q *Queue) LastError() (time.Time, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastErrorAt, q.lastError
}

// worker pulls tasks until stopCh closes, then drains what is buffered.
//
// Workers deliberately ignore any caller context for lifecycle and only
// exit on stopCh. Each task gets its own fresh context in processTask, so
// a short-lived startup context cannot kill the pool.
func (q *Queue) worker(id int) {
	defer q.wg.Done()

	logger.Debug("Upload worker started", "workerID", id)

	for {
		select {
		case task := <-q.tasks:
			q.processTask(task)
		case <-q.stopCh:
			q.drain()
			logger.Debug("Upload worker stopped", "workerID", id)
			return
		}
	}
}

// drain processes remaining buffered tasks during shutdown.
func (q *Queue) drain() {
	for {
		select {
		case task := <-q.tasks:
			q.processTask(task)
		default:
			return
		}
	}
}

// processTask runs one task with a fresh timeout context.
func (q *Queue) processTask(task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	err := q.proc.Process(ctx, task)

	q.mu.Lock()
	q.pending--
	metrics.QueueDepth.Set(float64(q.pending))
	if err != nil {
		q.failed++
		q.lastError = err
		q.lastErrorAt = time.Now()
	} else {
		q.completed++
	}
	q.mu.Unlock()

	if err != nil {
		logger.Error("Upload task failed",
			logger.KeyPath, task.Parent+"/"+task.Filename,
			logger.KeyError, err.Error())
	}
}
