package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/NAGH654/exam-submissions/constants"
	"github.com/NAGH654/exam-submissions/internal/classify"
	"github.com/NAGH654/exam-submissions/internal/entity"
	"github.com/NAGH654/exam-submissions/internal/media"
	"github.com/NAGH654/exam-submissions/internal/notify"
	"github.com/NAGH654/exam-submissions/internal/repository"
	"github.com/NAGH654/exam-submissions/internal/storage"
)

// Pipeline turns candidate files into persisted submissions, one batch per transaction.
type Pipeline struct {
	classifier  *classify.Classifier
	detector    *classify.Detector
	media       *media.Extractor
	store       storage.Store
	submissions repository.SubmissionRepository
	notifier    notify.Notifier
	batchSize   int
	logger      *slog.Logger
}

type PipelineDeps struct {
	Classifier  *classify.Classifier
	Detector    *classify.Detector
	Media       *media.Extractor
	Store       storage.Store
	Submissions repository.SubmissionRepository
	Notifier    notify.Notifier
	BatchSize   int
	Logger      *slog.Logger
}

func NewPipeline(d PipelineDeps) *Pipeline {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.BatchSize <= 0 {
		d.BatchSize = constants.DefaultBatchSize
	}
	return &Pipeline{
		classifier:  d.Classifier,
		detector:    d.Detector,
		media:       d.Media,
		store:       d.Store,
		submissions: d.Submissions,
		notifier:    d.Notifier,
		batchSize:   d.BatchSize,
		logger:      d.Logger,
	}
}

// processed is one file that made it into the batch accumulator.
type processed struct {
	bundle entity.SubmissionBundle
	keys   []string // stored objects, removed if the batch fails
}

// Run processes files in batches. Cancellation is checked before every file;
// batches already committed stay committed and the in-flight batch is dropped.
func (p *Pipeline) Run(ctx context.Context, job entity.UploadJob, files []string, index *HashIndex) (*entity.ProcessingResult, error) {
	logger := p.logger.With("job_id", job.ID, "exam_id", job.ExamID)
	res := &entity.ProcessingResult{JobID: job.ID, TotalFiles: len(files)}

	for start := 0; start < len(files); start += p.batchSize {
		end := min(start+p.batchSize, len(files))
		batchNo := start/p.batchSize + 1

		var batch []processed
		for _, path := range files[start:end] {
			if err := ctx.Err(); err != nil {
				p.dropBatch(ctx, logger, batch, index)
				logger.Warn("ingestion cancelled", "batch", batchNo, "processed", res.Processed)
				return res, err
			}
			item, err := p.processFile(ctx, job, path, index)
			if err != nil {
				res.Errors++
				logger.Warn("file skipped", "path", path, "error", err)
				continue
			}
			batch = append(batch, item)
		}
		if len(batch) == 0 {
			continue
		}

		if err := p.commitBatch(ctx, batch); err != nil {
			res.Errors += len(batch)
			p.dropBatch(ctx, logger, batch, index)
			logger.Error("batch failed", "batch", batchNo, "files", len(batch), "error", err)
			continue
		}
		index.Commit()
		p.accumulate(ctx, logger, job, res, batch)
		logger.Info("batch persisted", "batch", batchNo, "files", len(batch))
	}
	return res, nil
}

// processFile classifies, stores and checks one file. Panics are recovered into
// an error so one bad file never takes down the batch.
func (p *Pipeline) processFile(ctx context.Context, job entity.UploadJob, path string, index *HashIndex) (item processed, err error) {
	fi := &fileIndex{HashIndex: index}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic processing %s: %v", path, r)
			p.logger.Error("recovered panic", "path", path, "panic", r, "stack", string(debug.Stack()))
		}
		if err != nil {
			fi.release()
			p.removeObjects(ctx, item.keys)
			item = processed{}
		}
	}()

	c := p.classifier.Classify(path)
	subID := uuid.New()

	key := storage.DocumentKey(subID, c.FileName)
	size, err := storage.PutFile(ctx, p.store, key, path)
	if err != nil {
		return item, err
	}
	item.keys = append(item.keys, key)

	sub := entity.Submission{
		ID:           subID,
		ExamID:       job.ExamID,
		StudentID:    c.StudentID,
		StudentName:  c.StudentName,
		FileName:     c.FileName,
		StoragePath:  key,
		FileSize:     size,
		ContentHash:  c.ContentHash,
		DocumentType: c.DocumentType,
		SubmittedAt:  time.Now().UTC(),
		Status:       constants.SubmissionProcessing,
	}
	item.bundle = entity.SubmissionBundle{
		Submission: sub,
		Violations: p.detector.Detect(subID, c, fi),
	}

	if c.DocumentType == constants.DocWord && p.media != nil {
		item.bundle.Images = p.media.Extract(ctx, subID, path)
		for _, img := range item.bundle.Images {
			item.keys = append(item.keys, img.StoragePath)
		}
	}
	return item, nil
}

func (p *Pipeline) commitBatch(ctx context.Context, batch []processed) error {
	bundles := make([]entity.SubmissionBundle, len(batch))
	for i, it := range batch {
		bundles[i] = it.bundle
	}
	return p.submissions.PersistBatch(ctx, bundles)
}

func (p *Pipeline) accumulate(ctx context.Context, logger *slog.Logger, job entity.UploadJob, res *entity.ProcessingResult, batch []processed) {
	ids := make([]uuid.UUID, 0, len(batch))
	for _, it := range batch {
		b := it.bundle
		ids = append(ids, b.Submission.ID)
		res.Processed++
		res.Violations += len(b.Violations)
		res.Images += len(b.Images)
		if hasViolation(b.Violations, constants.ViolationDuplicate) {
			res.Duplicates++
		}
		res.Submissions = append(res.Submissions, entity.CreatedSubmission{
			SubmissionID: b.Submission.ID,
			StudentID:    b.Submission.StudentID,
			StudentName:  b.Submission.StudentName,
			FileName:     b.Submission.FileName,
		})
		if len(b.Violations) > 0 {
			subID := b.Submission.ID
			notify.Send(ctx, p.notifier, logger, notify.Event{
				Type:         notify.EventViolationDetected,
				ExamID:       job.ExamID,
				JobID:        &job.ID,
				SubmissionID: &subID,
				Data:         map[string]any{"violations": violationTypes(b.Violations), "file_name": b.Submission.FileName},
			})
		}
	}
	if err := p.submissions.MarkPending(context.WithoutCancel(ctx), ids); err != nil {
		// rows are durable; they stay PROCESSING until released
		logger.Error("failed to release batch for grading", "count", len(ids), "error", err)
	}
}

func (p *Pipeline) dropBatch(ctx context.Context, logger *slog.Logger, batch []processed, index *HashIndex) {
	index.Rollback()
	for _, it := range batch {
		p.removeObjects(ctx, it.keys)
	}
	if len(batch) > 0 {
		logger.Debug("dropped batch", "files", len(batch))
	}
}

func (p *Pipeline) removeObjects(ctx context.Context, keys []string) {
	ctx = context.WithoutCancel(ctx)
	for _, k := range keys {
		if err := p.store.Delete(ctx, k); err != nil {
			p.logger.Warn("failed to remove stored object", "key", k, "error", err)
		}
	}
}

func hasViolation(vs []entity.Violation, t constants.ViolationType) bool {
	for _, v := range vs {
		if v.Type == t {
			return true
		}
	}
	return false
}

func violationTypes(vs []entity.Violation) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = string(v.Type)
	}
	return out
}
