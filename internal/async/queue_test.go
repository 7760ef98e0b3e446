package async

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NAGH654/exam-submissions/internal/entity"
	"github.com/NAGH654/exam-submissions/internal/ingest"
)

type fakeProcessor struct {
	mu     sync.Mutex
	queued []uuid.UUID
	ran    []uuid.UUID
	fail   map[uuid.UUID]bool
	block  chan struct{}
}

func (f *fakeProcessor) Process(_ context.Context, up ingest.Upload) (*entity.ProcessingResult, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ran = append(f.ran, up.JobID)
	if f.fail[up.JobID] {
		return nil, errors.New("extraction failed")
	}
	return &entity.ProcessingResult{JobID: up.JobID, Processed: 1}, nil
}

func (f *fakeProcessor) MarkQueued(_ context.Context, jobID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, jobID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUploadQueue_RunsJobsInOrder(t *testing.T) {
	failing := uuid.New()
	proc := &fakeProcessor{fail: map[uuid.UUID]bool{failing: true}}
	var mu sync.Mutex
	var errs []error
	q := NewUploadQueue(proc, testLogger(), WithResultHandler(func(_ Job, _ *entity.ProcessingResult, err error) {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, err)
	}))

	first, err := q.Enqueue(context.Background(), Job{Upload: ingest.Upload{ExamID: uuid.New(), Path: "a.zip", Ext: "zip"}})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, first)
	second, err := q.Enqueue(context.Background(), Job{Upload: ingest.Upload{JobID: failing, ExamID: uuid.New(), Path: "b.zip", Ext: "zip"}})
	require.NoError(t, err)
	assert.Equal(t, failing, second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	q.Shutdown(ctx)

	assert.Equal(t, []uuid.UUID{first, second}, proc.queued)
	assert.Equal(t, []uuid.UUID{first, second}, proc.ran)
	require.Len(t, errs, 2)
	assert.NoError(t, errs[0])
	assert.Error(t, errs[1])
}

func TestUploadQueue_RejectsAfterShutdown(t *testing.T) {
	q := NewUploadQueue(&fakeProcessor{}, testLogger())
	q.Shutdown(context.Background())
	q.Shutdown(context.Background())

	_, err := q.Enqueue(context.Background(), Job{Upload: ingest.Upload{ExamID: uuid.New()}})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestUploadQueue_BackpressureHonoursContext(t *testing.T) {
	proc := &fakeProcessor{block: make(chan struct{})}
	q := NewUploadQueue(proc, testLogger(), WithQueueSize(1))
	defer func() {
		close(proc.block)
		q.Shutdown(context.Background())
	}()

	// one job held by the worker, one filling the buffer
	for i := 0; i < 2; i++ {
		_, err := q.Enqueue(context.Background(), Job{Upload: ingest.Upload{ExamID: uuid.New()}})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return len(q.ch) == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.Enqueue(ctx, Job{Upload: ingest.Upload{ExamID: uuid.New()}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
