// Package ingest runs upload jobs: extract the archive, classify and check every
// candidate document, and persist the results in batches.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/NAGH654/exam-submissions/constants"
	"github.com/NAGH654/exam-submissions/internal/archive"
	"github.com/NAGH654/exam-submissions/internal/classify"
	"github.com/NAGH654/exam-submissions/internal/common"
	"github.com/NAGH654/exam-submissions/internal/entity"
	"github.com/NAGH654/exam-submissions/internal/notify"
	"github.com/NAGH654/exam-submissions/internal/repository"
)

// Upload is one ingestion request. Exactly one of Path or Reader is set.
type Upload struct {
	JobID  uuid.UUID // optional; generated when zero
	ExamID uuid.UUID `validate:"required"`
	Path   string
	Reader io.Reader
	Ext    string `validate:"required"`
	Bulk   bool
}

// ExamLookup is the part of the exam catalog ingestion needs.
type ExamLookup interface {
	GetExam(ctx context.Context, id uuid.UUID) (*entity.Exam, error)
}

type Service struct {
	extractor   *archive.Extractor
	pipeline    *Pipeline
	exams       ExamLookup
	submissions repository.SubmissionRepository
	jobs        repository.JobStatusRepository
	notifier    notify.Notifier
	logger      *slog.Logger
}

type ServiceDeps struct {
	Extractor   *archive.Extractor
	Pipeline    *Pipeline
	Exams       ExamLookup
	Submissions repository.SubmissionRepository
	Jobs        repository.JobStatusRepository
	Notifier    notify.Notifier
	Logger      *slog.Logger
}

func NewService(d ServiceDeps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Jobs == nil {
		d.Jobs = repository.NewMemoryJobStatusRepository(24 * time.Hour)
	}
	return &Service{
		extractor:   d.Extractor,
		pipeline:    d.Pipeline,
		exams:       d.Exams,
		submissions: d.Submissions,
		jobs:        d.Jobs,
		notifier:    d.Notifier,
		logger:      d.Logger,
	}
}

// Process runs one upload job to completion. Validation and extraction failures
// fail the job; per-file and per-batch failures only show up in the result counts.
func (s *Service) Process(ctx context.Context, up Upload) (*entity.ProcessingResult, error) {
	if up.JobID == uuid.Nil {
		up.JobID = uuid.New()
	}
	ctx = common.WithJobID(common.WithExamID(ctx, up.ExamID.String()), up.JobID.String())
	logger := common.LoggerFromContext(ctx, s.logger)

	if err := common.ValidateStruct(up); err != nil {
		return nil, err
	}
	if (up.Path == "") == (up.Reader == nil) {
		return nil, common.NewAppError(common.CodeInvalidArgument, "exactly one of path or reader is required", common.ErrInvalidInput)
	}

	job := entity.UploadJob{
		ID:         up.JobID,
		ExamID:     up.ExamID,
		UploadPath: up.Path,
		Bulk:       up.Bulk,
		StartedAt:  time.Now().UTC(),
	}
	defer s.extractor.Cleanup(job.ID)

	res, err := s.run(ctx, logger, &job, up)
	if err != nil {
		s.setStatus(ctx, logger, job.ID, constants.JobStatusFailed)
		logger.Error("upload job failed", "error", err, "duration_ms", time.Since(job.StartedAt).Milliseconds())
		return res, err
	}
	s.setStatus(ctx, logger, job.ID, constants.JobStatusCompleted)

	notify.Send(ctx, s.notifier, logger, notify.Event{
		Type:   notify.EventSubmissionUploaded,
		ExamID: job.ExamID,
		JobID:  &job.ID,
		Data: map[string]any{
			"total":      res.TotalFiles,
			"processed":  res.Processed,
			"duplicates": res.Duplicates,
			"violations": res.Violations,
			"errors":     res.Errors,
		},
	})
	logger.Info("upload job completed",
		"total", res.TotalFiles,
		"processed", res.Processed,
		"duplicates", res.Duplicates,
		"violations", res.Violations,
		"images", res.Images,
		"errors", res.Errors,
		"duration_ms", time.Since(job.StartedAt).Milliseconds(),
	)
	return res, nil
}

func (s *Service) run(ctx context.Context, logger *slog.Logger, job *entity.UploadJob, up Upload) (*entity.ProcessingResult, error) {
	exam, err := s.exams.GetExam(ctx, up.ExamID)
	if err != nil {
		return nil, err
	}
	if !exam.Active {
		return nil, common.NewAppError(common.CodeInvalidArgument, fmt.Sprintf("exam %s is not active", exam.ID), common.ErrInvalidInput)
	}

	s.setStatus(ctx, logger, job.ID, constants.JobStatusExtracting)
	path := up.Path
	if up.Reader != nil {
		if path, err = s.extractor.Stage(job.ID, up.Reader, up.Ext, up.Bulk); err != nil {
			return nil, err
		}
		job.UploadPath = path
	}
	extracted, err := s.extractor.Extract(ctx, job.ID, path, up.Ext, up.Bulk)
	if err != nil {
		return nil, err
	}
	job.ExtractionRoot = extracted.Root

	files, err := classify.CollectCandidates(extracted.Root, logger)
	if err != nil {
		return nil, fmt.Errorf("collect candidates: %w", err)
	}
	hashes, err := s.submissions.ListContentHashes(ctx, job.ExamID)
	if err != nil {
		return nil, err
	}
	logger.Info("processing candidates", "files", len(files), "known_hashes", len(hashes),
		"root", filepath.Base(extracted.Root))

	s.setStatus(ctx, logger, job.ID, constants.JobStatusProcessing)
	return s.pipeline.Run(ctx, *job, files, NewHashIndex(hashes))
}

// Status returns the last recorded status of a job.
func (s *Service) Status(ctx context.Context, jobID uuid.UUID) (constants.JobStatus, error) {
	return s.jobs.GetStatus(ctx, jobID)
}

// MarkQueued records that a job was accepted but not started.
func (s *Service) MarkQueued(ctx context.Context, jobID uuid.UUID) {
	s.setStatus(ctx, s.logger.With("job_id", jobID), jobID, constants.JobStatusQueued)
}

func (s *Service) setStatus(ctx context.Context, logger *slog.Logger, jobID uuid.UUID, status constants.JobStatus) {
	// terminal statuses must be written even when the job was cancelled
	if err := s.jobs.SetStatus(context.WithoutCancel(ctx), jobID, status); err != nil {
		logger.Warn("failed to record job status", "status", status, "error", err)
	}
}

// IsFatal reports whether err failed a whole job rather than individual files.
func IsFatal(err error) bool {
	return errors.Is(err, common.ErrInvalidArchiveFormat) ||
		errors.Is(err, common.ErrArchiveTooLarge) ||
		errors.Is(err, common.ErrExtractionFailed)
}
