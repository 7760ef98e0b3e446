package repository

import (
	"context"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/NAGH654/exam-submissions/constants"
	"github.com/NAGH654/exam-submissions/internal/common"
	"github.com/NAGH654/exam-submissions/internal/entity"
)

// GradeTx is the set of reads and writes a grading operation performs atomically.
// Every read goes through the transaction so it sees the rows it is about to change.
type GradeTx interface {
	GetSubmission(ctx context.Context, id uuid.UUID) (*entity.Submission, error)
	GetGrade(ctx context.Context, id uuid.UUID) (*entity.Grade, error)
	ListGrades(ctx context.Context, submissionID uuid.UUID) ([]entity.Grade, error)
	ListViolations(ctx context.Context, submissionID uuid.UUID) ([]entity.Violation, error)
	InsertGrades(ctx context.Context, grades []entity.Grade) error
	// UpdateGrade rewrites points, comments and graded_at of a non-final grade.
	UpdateGrade(ctx context.Context, g entity.Grade) error
	// DeleteExaminerGrades removes the examiner's non-final grades for a submission.
	DeleteExaminerGrades(ctx context.Context, submissionID, examinerID uuid.UUID) (int64, error)
	MarkAllFinal(ctx context.Context, submissionID uuid.UUID) error
	// SaveSubmissionStatus sets the status and bumps the version. It fails with
	// ErrConcurrentUpdate when the stored version is no longer expectedVersion.
	SaveSubmissionStatus(ctx context.Context, submissionID uuid.UUID, status constants.SubmissionStatus, expectedVersion int64) error
}

// GradeRepository runs grading units of work.
type GradeRepository interface {
	// RunInTx commits when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx GradeTx) error) error
	ListGrades(ctx context.Context, submissionID uuid.UUID) ([]entity.Grade, error)
	GetGrade(ctx context.Context, id uuid.UUID) (*entity.Grade, error)
}

type gradeRepository struct {
	drv    *entsql.Driver
	logger *slog.Logger
}

// NewGradeRepository creates a new grade repository
func NewGradeRepository(drv *entsql.Driver, logger *slog.Logger) GradeRepository {
	return &gradeRepository{drv: drv, logger: logger}
}

func (r *gradeRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx GradeTx) error) error {
	tx, err := r.drv.Tx(ctx)
	if err != nil {
		r.logger.Error("failed to begin grading transaction", "error", err)
		return dbError("begin grading", err)
	}
	gtx := &gradeTx{q: tx, b: entsql.Dialect(r.drv.Dialect())}
	if err := fn(ctx, gtx); err != nil {
		return rollback(tx, err)
	}
	if err := tx.Commit(); err != nil {
		r.logger.Error("failed to commit grading transaction", "error", err)
		return dbError("commit grading", err)
	}
	return nil
}

func (r *gradeRepository) ListGrades(ctx context.Context, submissionID uuid.UUID) ([]entity.Grade, error) {
	g := &gradeTx{q: r.drv, b: entsql.Dialect(r.drv.Dialect())}
	grades, err := g.ListGrades(ctx, submissionID)
	if err != nil {
		r.logger.Error("failed to list grades", "submission_id", submissionID, "error", err)
	}
	return grades, err
}

func (r *gradeRepository) GetGrade(ctx context.Context, id uuid.UUID) (*entity.Grade, error) {
	g := &gradeTx{q: r.drv, b: entsql.Dialect(r.drv.Dialect())}
	return g.GetGrade(ctx, id)
}

type gradeTx struct {
	q dialect.ExecQuerier
	b *entsql.DialectBuilder
}

var gradeColumns = []string{"id", "submission_id", "examiner_id", "rubric_item_id", "points", "comments", "graded_at", "is_final"}

func scanGrade(rows *entsql.Rows) (entity.Grade, error) {
	var g entity.Grade
	err := rows.Scan(&g.ID, &g.SubmissionID, &g.ExaminerID, &g.RubricItemID, &g.Points, &g.Comments, &g.GradedAt, &g.IsFinal)
	return g, err
}

func (t *gradeTx) GetSubmission(ctx context.Context, id uuid.UUID) (*entity.Submission, error) {
	return getSubmission(ctx, t.q, t.b, id)
}

func (t *gradeTx) ListViolations(ctx context.Context, submissionID uuid.UUID) ([]entity.Violation, error) {
	return listViolations(ctx, t.q, t.b, submissionID)
}

func (t *gradeTx) GetGrade(ctx context.Context, id uuid.UUID) (*entity.Grade, error) {
	query, args := t.b.Select(gradeColumns...).
		From(t.b.Table(GradesTable.Name)).
		Where(entsql.EQ("id", id)).
		Query()

	var found *entity.Grade
	err := queryRows(ctx, t.q, query, args, func(rows *entsql.Rows) error {
		g, err := scanGrade(rows)
		found = &g
		return err
	})
	if err != nil {
		return nil, dbError("get grade", err)
	}
	if found == nil {
		return nil, common.NotFound("grade " + id.String())
	}
	return found, nil
}

func (t *gradeTx) ListGrades(ctx context.Context, submissionID uuid.UUID) ([]entity.Grade, error) {
	query, args := t.b.Select(gradeColumns...).
		From(t.b.Table(GradesTable.Name)).
		Where(entsql.EQ("submission_id", submissionID)).
		OrderBy("examiner_id", "graded_at").
		Query()

	var out []entity.Grade
	err := queryRows(ctx, t.q, query, args, func(rows *entsql.Rows) error {
		g, err := scanGrade(rows)
		if err != nil {
			return err
		}
		out = append(out, g)
		return nil
	})
	if err != nil {
		return nil, dbError("list grades", err)
	}
	return out, nil
}

func (t *gradeTx) InsertGrades(ctx context.Context, grades []entity.Grade) error {
	if len(grades) == 0 {
		return nil
	}
	ins := t.b.Insert(GradesTable.Name).Columns(gradeColumns...)
	for _, g := range grades {
		ins.Values(g.ID, g.SubmissionID, g.ExaminerID, g.RubricItemID, g.Points, g.Comments, g.GradedAt, g.IsFinal)
	}
	query, args := ins.Query()
	if _, err := execute(ctx, t.q, query, args); err != nil {
		return dbError("insert grades", err)
	}
	return nil
}

func (t *gradeTx) UpdateGrade(ctx context.Context, g entity.Grade) error {
	query, args := t.b.Update(GradesTable.Name).
		Set("points", g.Points).
		Set("comments", g.Comments).
		Set("graded_at", g.GradedAt).
		Where(entsql.And(entsql.EQ("id", g.ID), entsql.EQ("is_final", false))).
		Query()
	n, err := execute(ctx, t.q, query, args)
	if err != nil {
		return dbError("update grade", err)
	}
	if n == 0 {
		return common.FinalizedGradeImmutable(g.ID)
	}
	return nil
}

func (t *gradeTx) DeleteExaminerGrades(ctx context.Context, submissionID, examinerID uuid.UUID) (int64, error) {
	query, args := t.b.Delete(GradesTable.Name).
		Where(entsql.And(
			entsql.EQ("submission_id", submissionID),
			entsql.EQ("examiner_id", examinerID),
			entsql.EQ("is_final", false),
		)).Query()
	n, err := execute(ctx, t.q, query, args)
	if err != nil {
		return 0, dbError("delete examiner grades", err)
	}
	return n, nil
}

func (t *gradeTx) MarkAllFinal(ctx context.Context, submissionID uuid.UUID) error {
	query, args := t.b.Update(GradesTable.Name).
		Set("is_final", true).
		Where(entsql.EQ("submission_id", submissionID)).
		Query()
	if _, err := execute(ctx, t.q, query, args); err != nil {
		return dbError("finalize grades", err)
	}
	return nil
}

func (t *gradeTx) SaveSubmissionStatus(ctx context.Context, submissionID uuid.UUID, status constants.SubmissionStatus, expectedVersion int64) error {
	query, args := t.b.Update(SubmissionsTable.Name).
		Set("status", string(status)).
		Set("version", expectedVersion+1).
		Where(entsql.And(entsql.EQ("id", submissionID), entsql.EQ("version", expectedVersion))).
		Query()
	n, err := execute(ctx, t.q, query, args)
	if err != nil {
		return dbError("save submission status", err)
	}
	if n == 0 {
		return common.NewAppError(common.CodeConcurrentUpdate,
			fmt.Sprintf("submission %s changed since version %d", submissionID, expectedVersion), common.ErrConcurrentUpdate)
	}
	return nil
}
