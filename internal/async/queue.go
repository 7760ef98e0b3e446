// Package async runs upload jobs on a bounded background queue.
package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NAGH654/exam-submissions/internal/entity"
	"github.com/NAGH654/exam-submissions/internal/ingest"
)

// ErrQueueClosed is returned by Enqueue once Shutdown has started.
var ErrQueueClosed = errors.New("upload queue is shutting down")

// Job is one queued upload.
type Job struct {
	Upload      ingest.Upload
	SubmittedAt time.Time
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) (uuid.UUID, error)
	Shutdown(ctx context.Context)
}

// Processor runs an upload to completion.
type Processor interface {
	Process(ctx context.Context, up ingest.Upload) (*entity.ProcessingResult, error)
	MarkQueued(ctx context.Context, jobID uuid.UUID)
}

// ResultHandler observes every finished job.
type ResultHandler func(job Job, res *entity.ProcessingResult, err error)

type UploadQueue struct {
	proc     Processor
	logger   *slog.Logger
	workers  int
	timeout  time.Duration
	onResult ResultHandler

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*UploadQueue)

// WithWorkers sets the worker count. Jobs of the same exam share a duplicate
// index only through the database, so more than one worker can let two
// concurrent jobs miss each other's duplicates.
func WithWorkers(n int) Option {
	return func(q *UploadQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *UploadQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *UploadQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func WithResultHandler(h ResultHandler) Option {
	return func(q *UploadQueue) { q.onResult = h }
}

func NewUploadQueue(proc Processor, logger *slog.Logger, opts ...Option) *UploadQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &UploadQueue{
		proc:    proc,
		logger:  logger,
		workers: 1,
		timeout: 30 * time.Minute,
		ch:      make(chan Job, 64),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *UploadQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)
				for job := range q.ch {
					q.run(workerID, job)
				}
				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *UploadQueue) run(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	logger := q.logger.With("worker_id", workerID, "job_id", job.Upload.JobID, "exam_id", job.Upload.ExamID)
	res, err := q.proc.Process(ctx, job.Upload)
	if err != nil {
		logger.Error("upload job failed", "error", err, "waited_ms", time.Since(job.SubmittedAt).Milliseconds())
	} else {
		logger.Info("upload job finished", "processed", res.Processed, "errors", res.Errors)
	}
	if q.onResult != nil {
		q.onResult(job, res, err)
	}
}

// Enqueue assigns a job id when missing, records the job as queued and hands it
// to a worker. It blocks while the queue is full, until ctx is done.
func (q *UploadQueue) Enqueue(ctx context.Context, job Job) (uuid.UUID, error) {
	if job.Upload.JobID == uuid.Nil {
		job.Upload.JobID = uuid.New()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "job_id", job.Upload.JobID)
		return uuid.Nil, ErrQueueClosed
	}
	q.proc.MarkQueued(ctx, job.Upload.JobID)

	select {
	case q.ch <- job:
		q.logger.Info("queued upload", "job_id", job.Upload.JobID, "exam_id", job.Upload.ExamID, "bulk", job.Upload.Bulk)
		return job.Upload.JobID, nil
	default:
	}
	q.logger.Warn("queue full, applying backpressure", "job_id", job.Upload.JobID)
	select {
	case q.ch <- job:
		return job.Upload.JobID, nil
	case <-ctx.Done():
		return uuid.Nil, ctx.Err()
	}
}

// Shutdown stops accepting jobs and waits for queued ones to drain or ctx to end.
func (q *UploadQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
