package repository

import (
	"context"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/NAGH654/exam-submissions/constants"
	"github.com/NAGH654/exam-submissions/internal/common"
	"github.com/NAGH654/exam-submissions/internal/entity"
)

// SubmissionRepository defines the interface for submission persistence.
type SubmissionRepository interface {
	// PersistBatch writes every submission with its violations and images in one transaction.
	PersistBatch(ctx context.Context, bundles []entity.SubmissionBundle) error
	// MarkPending moves PROCESSING submissions to PENDING.
	MarkPending(ctx context.Context, ids []uuid.UUID) error
	// ListContentHashes returns every stored content hash for an exam.
	ListContentHashes(ctx context.Context, examID uuid.UUID) ([]string, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Submission, error)
	ListByExam(ctx context.Context, examID uuid.UUID) ([]entity.Submission, error)
	ListViolations(ctx context.Context, submissionID uuid.UUID) ([]entity.Violation, error)
	ListImages(ctx context.Context, submissionID uuid.UUID) ([]entity.SubmissionImage, error)
}

type submissionRepository struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

// NewSubmissionRepository creates a new submission repository
func NewSubmissionRepository(drv *entsql.Driver, logger *slog.Logger) SubmissionRepository {
	return &submissionRepository{drv: drv, logger: logger}
}

var submissionColumns = []string{
	"id", "exam_id", "student_id", "student_name", "file_name", "storage_path",
	"file_size", "content_hash", "document_type", "submitted_at", "status", "version",
}

func (r *submissionRepository) builder() *entsql.DialectBuilder {
	return entsql.Dialect(r.drv.Dialect())
}

func (r *submissionRepository) PersistBatch(ctx context.Context, bundles []entity.SubmissionBundle) error {
	if len(bundles) == 0 {
		return nil
	}
	b := r.builder()

	subs := b.Insert(SubmissionsTable.Name).Columns(submissionColumns...)
	violations := b.Insert(ViolationsTable.Name).Columns("id", "submission_id", "type", "severity", "description", "detected_at")
	images := b.Insert(SubmissionImagesTable.Name).Columns("id", "submission_id", "name", "storage_path", "size", "extracted_at")
	var nViolations, nImages int
	for _, bundle := range bundles {
		s := bundle.Submission
		subs.Values(s.ID, s.ExamID, s.StudentID, s.StudentName, s.FileName, s.StoragePath,
			s.FileSize, s.ContentHash, string(s.DocumentType), s.SubmittedAt, string(s.Status), s.Version)
		for _, v := range bundle.Violations {
			violations.Values(v.ID, v.SubmissionID, string(v.Type), string(v.Severity), v.Description, v.DetectedAt)
			nViolations++
		}
		for _, img := range bundle.Images {
			images.Values(img.ID, img.SubmissionID, img.Name, img.StoragePath, img.Size, img.ExtractedAt)
			nImages++
		}
	}

	tx, err := r.drv.Tx(ctx)
	if err != nil {
		r.logger.Error("failed to begin batch transaction", "error", err)
		return dbError("begin batch", err)
	}
	query, args := subs.Query()
	if _, err := execute(ctx, tx, query, args); err != nil {
		r.logger.Error("failed to insert submissions", "count", len(bundles), "error", err)
		return rollback(tx, dbError("insert submissions", err))
	}
	if nViolations > 0 {
		query, args = violations.Query()
		if _, err := execute(ctx, tx, query, args); err != nil {
			r.logger.Error("failed to insert violations", "count", nViolations, "error", err)
			return rollback(tx, dbError("insert violations", err))
		}
	}
	if nImages > 0 {
		query, args = images.Query()
		if _, err := execute(ctx, tx, query, args); err != nil {
			r.logger.Error("failed to insert images", "count", nImages, "error", err)
			return rollback(tx, dbError("insert images", err))
		}
	}
	if err := tx.Commit(); err != nil {
		r.logger.Error("failed to commit batch", "error", err)
		return dbError("commit batch", err)
	}

	r.logger.Debug("persisted submission batch", "submissions", len(bundles), "violations", nViolations, "images", nImages)
	return nil
}

func (r *submissionRepository) MarkPending(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query, qargs := r.builder().Update(SubmissionsTable.Name).
		Set("status", string(constants.SubmissionPending)).
		Add("version", 1).
		Where(entsql.And(
			entsql.In("id", args...),
			entsql.EQ("status", string(constants.SubmissionProcessing)),
		)).Query()
	n, err := execute(ctx, r.drv, query, qargs)
	if err != nil {
		r.logger.Error("failed to mark submissions pending", "count", len(ids), "error", err)
		return dbError("mark pending", err)
	}
	if int(n) != len(ids) {
		r.logger.Warn("some submissions were not in PROCESSING", "requested", len(ids), "updated", n)
	}
	return nil
}

func (r *submissionRepository) ListContentHashes(ctx context.Context, examID uuid.UUID) ([]string, error) {
	b := r.builder()
	query, args := b.Select("content_hash").Distinct().
		From(b.Table(SubmissionsTable.Name)).
		Where(entsql.And(entsql.EQ("exam_id", examID), entsql.NotNull("content_hash"))).
		Query()

	var hashes []string
	err := queryRows(ctx, r.drv, query, args, func(rows *entsql.Rows) error {
		var h string
		if err := rows.Scan(&h); err != nil {
			return err
		}
		hashes = append(hashes, h)
		return nil
	})
	if err != nil {
		r.logger.Error("failed to list content hashes", "exam_id", examID, "error", err)
		return nil, dbError("list content hashes", err)
	}
	return hashes, nil
}

func (r *submissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Submission, error) {
	return getSubmission(ctx, r.drv, r.builder(), id)
}

func (r *submissionRepository) ListByExam(ctx context.Context, examID uuid.UUID) ([]entity.Submission, error) {
	b := r.builder()
	query, args := b.Select(submissionColumns...).
		From(b.Table(SubmissionsTable.Name)).
		Where(entsql.EQ("exam_id", examID)).
		OrderBy("submitted_at", "file_name").
		Query()

	var out []entity.Submission
	err := queryRows(ctx, r.drv, query, args, func(rows *entsql.Rows) error {
		s, err := scanSubmission(rows)
		if err != nil {
			return err
		}
		out = append(out, *s)
		return nil
	})
	if err != nil {
		r.logger.Error("failed to list submissions", "exam_id", examID, "error", err)
		return nil, dbError("list submissions", err)
	}
	return out, nil
}

func (r *submissionRepository) ListViolations(ctx context.Context, submissionID uuid.UUID) ([]entity.Violation, error) {
	return listViolations(ctx, r.drv, r.builder(), submissionID)
}

func (r *submissionRepository) ListImages(ctx context.Context, submissionID uuid.UUID) ([]entity.SubmissionImage, error) {
	b := r.builder()
	query, args := b.Select("id", "submission_id", "name", "storage_path", "size", "extracted_at").
		From(b.Table(SubmissionImagesTable.Name)).
		Where(entsql.EQ("submission_id", submissionID)).
		OrderBy("name").
		Query()

	var out []entity.SubmissionImage
	err := queryRows(ctx, r.drv, query, args, func(rows *entsql.Rows) error {
		var img entity.SubmissionImage
		if err := rows.Scan(&img.ID, &img.SubmissionID, &img.Name, &img.StoragePath, &img.Size, &img.ExtractedAt); err != nil {
			return err
		}
		out = append(out, img)
		return nil
	})
	if err != nil {
		r.logger.Error("failed to list images", "submission_id", submissionID, "error", err)
		return nil, dbError("list images", err)
	}
	return out, nil
}

func scanSubmission(rows *entsql.Rows) (*entity.Submission, error) {
	var (
		s               entity.Submission
		docType, status string
	)
	if err := rows.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.StudentName, &s.FileName, &s.StoragePath,
		&s.FileSize, &s.ContentHash, &docType, &s.SubmittedAt, &status, &s.Version); err != nil {
		return nil, err
	}
	s.DocumentType = constants.DocumentType(docType)
	s.Status = constants.SubmissionStatus(status)
	return &s, nil
}

// getSubmission reads one submission through q, which may be a transaction.
func getSubmission(ctx context.Context, q execQuerier, b *entsql.DialectBuilder, id uuid.UUID) (*entity.Submission, error) {
	query, args := b.Select(submissionColumns...).
		From(b.Table(SubmissionsTable.Name)).
		Where(entsql.EQ("id", id)).
		Query()

	var found *entity.Submission
	err := queryRows(ctx, q, query, args, func(rows *entsql.Rows) error {
		s, err := scanSubmission(rows)
		found = s
		return err
	})
	if err != nil {
		return nil, dbError("get submission", err)
	}
	if found == nil {
		return nil, common.NotFound("submission " + id.String())
	}
	return found, nil
}

func listViolations(ctx context.Context, q execQuerier, b *entsql.DialectBuilder, submissionID uuid.UUID) ([]entity.Violation, error) {
	query, args := b.Select("id", "submission_id", "type", "severity", "description", "detected_at").
		From(b.Table(ViolationsTable.Name)).
		Where(entsql.EQ("submission_id", submissionID)).
		OrderBy("detected_at").
		Query()

	var out []entity.Violation
	err := queryRows(ctx, q, query, args, func(rows *entsql.Rows) error {
		var (
			v               entity.Violation
			vType, severity string
		)
		if err := rows.Scan(&v.ID, &v.SubmissionID, &vType, &severity, &v.Description, &v.DetectedAt); err != nil {
			return err
		}
		v.Type = constants.ViolationType(vType)
		v.Severity = constants.Severity(severity)
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, dbError("list violations", err)
	}
	return out, nil
}
