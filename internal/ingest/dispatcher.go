package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/muckrock/foia-coach-api/internal/common/logging"
)

// ErrDispatcherClosed is returned by Enqueue after Close
var ErrDispatcherClosed = errors.New("dispatcher is closed")

// Job asks a worker to process one upload row
type Job struct {
	ID         string    `json:"job_id"`
	UploadID   uint      `json:"upload_id"`
	Provider   string    `json:"provider"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob creates a job with a fresh sortable id
func NewJob(uploadID uint, provider string) Job {
	return Job{
		ID:         ulid.Make().String(),
		UploadID:   uploadID,
		Provider:   provider,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Dispatcher hands upload jobs to workers
type Dispatcher interface {
	Enqueue(ctx context.Context, job Job) error
	Close() error
}

// InlineDispatcher runs jobs on an in-process bounded worker pool
type InlineDispatcher struct {
	processor Processor
	logger    *logging.Logger
	jobs      chan Job

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewInlineDispatcher starts workers goroutines reading a queue of buffer jobs
func NewInlineDispatcher(processor Processor, workers, buffer int, logger *logging.Logger) *InlineDispatcher {
	if workers <= 0 {
		workers = 1
	}
	if buffer < workers {
		buffer = workers * 4
	}
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &InlineDispatcher{
		processor: processor,
		logger:    logger.WithName("dispatcher"),
		jobs:      make(chan Job, buffer),
		ctx:       ctx,
		cancel:    cancel,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work(i)
	}
	d.logger.InfoKV("Started inline upload workers", "workers", workers, "buffer", buffer)
	return d
}

func (d *InlineDispatcher) work(workerID int) {
	defer d.wg.Done()
	for job := range d.jobs {
		start := time.Now()
		if err := d.processor.Process(d.ctx, job.UploadID); err != nil {
			d.logger.WarnKV("Upload job failed", "worker", workerID, "job_id", job.ID, "upload_id", job.UploadID, "error", err)
			continue
		}
		d.logger.DebugKV("Upload job done", "worker", workerID, "job_id", job.ID, "elapsed", time.Since(start))
	}
}

// Enqueue blocks until the job is queued, ctx is done, or the dispatcher closes
func (d *InlineDispatcher) Enqueue(ctx context.Context, job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and waits for queued ones to finish
func (d *InlineDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	d.cancel()
	return nil
}
