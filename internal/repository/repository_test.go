package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NAGH654/exam-submissions/constants"
	"github.com/NAGH654/exam-submissions/internal/common"
	"github.com/NAGH654/exam-submissions/internal/entity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDriver(t *testing.T) *entsql.Driver {
	t.Helper()
	drv, err := OpenInMemory(context.Background(), "repo_"+uuid.NewString(), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = drv.Close() })
	return drv
}

func seedExam(t *testing.T, drv *entsql.Driver, examiners ...uuid.UUID) entity.ExamDefinition {
	t.Helper()
	examID := uuid.New()
	def := entity.ExamDefinition{
		Exam: entity.Exam{ID: examID, Title: "PRN231 Final", Active: true},
		Rubric: []entity.RubricItem{
			{ID: uuid.New(), ExamID: examID, Criteria: "Design", MaxPoints: 40, DisplayOrder: 1},
			{ID: uuid.New(), ExamID: examID, Criteria: "Implementation", MaxPoints: 60, DisplayOrder: 2},
		},
		Examiners: examiners,
	}
	require.NoError(t, NewExamRepository(drv, testLogger()).UpsertDefinition(context.Background(), def))
	return def
}

func newBundle(examID uuid.UUID, name, hash string, violations int) entity.SubmissionBundle {
	id := uuid.New()
	sid := "SE123456"
	b := entity.SubmissionBundle{Submission: entity.Submission{
		ID:           id,
		ExamID:       examID,
		StudentID:    &sid,
		FileName:     name,
		StoragePath:  "submissions/" + id.String() + "/" + name,
		FileSize:     42,
		ContentHash:  &hash,
		DocumentType: constants.DocWord,
		SubmittedAt:  time.Now().UTC(),
		Status:       constants.SubmissionProcessing,
	}}
	for i := 0; i < violations; i++ {
		b.Violations = append(b.Violations, entity.Violation{
			ID:           uuid.New(),
			SubmissionID: id,
			Type:         constants.ViolationNaming,
			Severity:     constants.SeverityWarning,
			Description:  "filename does not follow the naming convention",
			DetectedAt:   time.Now().UTC(),
		})
	}
	return b
}

func TestSubmissionRepository_PersistBatchAndRead(t *testing.T) {
	ctx := context.Background()
	drv := newTestDriver(t)
	def := seedExam(t, drv)
	repo := NewSubmissionRepository(drv, testLogger())

	a := newBundle(def.Exam.ID, "SE123456_Alice.docx", "hash-a", 1)
	a.Images = []entity.SubmissionImage{{
		ID: uuid.New(), SubmissionID: a.Submission.ID, Name: "image1.png",
		StoragePath: "submissions/x/images/image1.png", Size: 10, ExtractedAt: time.Now().UTC(),
	}}
	b := newBundle(def.Exam.ID, "SE654321_Bob.docx", "hash-b", 0)
	require.NoError(t, repo.PersistBatch(ctx, []entity.SubmissionBundle{a, b}))

	got, err := repo.GetByID(ctx, a.Submission.ID)
	require.NoError(t, err)
	assert.Equal(t, "SE123456_Alice.docx", got.FileName)
	assert.Equal(t, constants.SubmissionProcessing, got.Status)
	require.NotNil(t, got.StudentID)
	assert.Equal(t, "SE123456", *got.StudentID)
	assert.Nil(t, got.StudentName)

	violations, err := repo.ListViolations(ctx, a.Submission.ID)
	require.NoError(t, err)
	assert.Len(t, violations, 1)
	assert.Equal(t, constants.ViolationNaming, violations[0].Type)

	images, err := repo.ListImages(ctx, a.Submission.ID)
	require.NoError(t, err)
	assert.Len(t, images, 1)

	hashes, err := repo.ListContentHashes(ctx, def.Exam.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"hash-a", "hash-b"}, hashes)

	require.NoError(t, repo.MarkPending(ctx, []uuid.UUID{a.Submission.ID, b.Submission.ID}))
	all, err := repo.ListByExam(ctx, def.Exam.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, s := range all {
		assert.Equal(t, constants.SubmissionPending, s.Status)
		assert.Equal(t, int64(1), s.Version)
	}
}

func TestSubmissionRepository_PersistBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	drv := newTestDriver(t)
	def := seedExam(t, drv)
	repo := NewSubmissionRepository(drv, testLogger())

	good := newBundle(def.Exam.ID, "SE123456_Alice.docx", "hash-a", 0)
	bad := newBundle(def.Exam.ID, "SE654321_Bob.docx", "hash-b", 0)
	bad.Submission.ID = good.Submission.ID // primary key clash

	err := repo.PersistBatch(ctx, []entity.SubmissionBundle{good, bad})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrDatabase))

	all, err := repo.ListByExam(ctx, def.Exam.ID)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSubmissionRepository_GetByIDNotFound(t *testing.T) {
	repo := NewSubmissionRepository(newTestDriver(t), testLogger())
	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestExamRepository_Definition(t *testing.T) {
	ctx := context.Background()
	drv := newTestDriver(t)
	examiner := uuid.New()
	def := seedExam(t, drv, examiner)
	repo := NewExamRepository(drv, testLogger())

	exam, err := repo.GetExam(ctx, def.Exam.ID)
	require.NoError(t, err)
	assert.Equal(t, "PRN231 Final", exam.Title)
	assert.True(t, exam.Active)

	rubric, err := repo.ListRubric(ctx, def.Exam.ID)
	require.NoError(t, err)
	require.Len(t, rubric, 2)
	assert.Equal(t, "Design", rubric[0].Criteria)
	assert.InDelta(t, 100.0, entity.MaxPoints(rubric), 0.001)

	ok, err := repo.IsAssigned(ctx, def.Exam.ID, examiner)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.IsAssigned(ctx, def.Exam.ID, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)

	// Re-seeding drops the second criterion and the examiner list.
	def.Exam.Title = "PRN231 Final (retake)"
	def.Rubric = def.Rubric[:1]
	def.Examiners = nil
	require.NoError(t, repo.UpsertDefinition(ctx, def))

	rubric, err = repo.ListRubric(ctx, def.Exam.ID)
	require.NoError(t, err)
	assert.Len(t, rubric, 1)
	ok, err = repo.IsAssigned(ctx, def.Exam.ID, examiner)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGradeRepository_VersionConflict(t *testing.T) {
	ctx := context.Background()
	drv := newTestDriver(t)
	def := seedExam(t, drv)
	subs := NewSubmissionRepository(drv, testLogger())
	bundle := newBundle(def.Exam.ID, "SE123456_Alice.docx", "hash-a", 0)
	require.NoError(t, subs.PersistBatch(ctx, []entity.SubmissionBundle{bundle}))
	id := bundle.Submission.ID

	grades := NewGradeRepository(drv, testLogger())
	examiner := uuid.New()
	err := grades.RunInTx(ctx, func(ctx context.Context, tx GradeTx) error {
		sub, err := tx.GetSubmission(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.InsertGrades(ctx, []entity.Grade{{
			ID: uuid.New(), SubmissionID: id, ExaminerID: examiner, RubricItemID: def.Rubric[0].ID,
			Points: 30, GradedAt: time.Now().UTC(),
		}}); err != nil {
			return err
		}
		return tx.SaveSubmissionStatus(ctx, id, constants.SubmissionProcessing, sub.Version)
	})
	require.NoError(t, err)

	// A stale version rolls back everything written in the same transaction.
	err = grades.RunInTx(ctx, func(ctx context.Context, tx GradeTx) error {
		if _, err := tx.DeleteExaminerGrades(ctx, id, examiner); err != nil {
			return err
		}
		return tx.SaveSubmissionStatus(ctx, id, constants.SubmissionFlagged, 0)
	})
	require.ErrorIs(t, err, common.ErrConcurrentUpdate)

	list, err := grades.ListGrades(ctx, id)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].IsFinal)

	sub, err := subs.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), sub.Version)
}

func TestGradeRepository_FinalGradesAreImmutable(t *testing.T) {
	ctx := context.Background()
	drv := newTestDriver(t)
	def := seedExam(t, drv)
	subs := NewSubmissionRepository(drv, testLogger())
	bundle := newBundle(def.Exam.ID, "SE123456_Alice.docx", "hash-a", 0)
	require.NoError(t, subs.PersistBatch(ctx, []entity.SubmissionBundle{bundle}))
	id := bundle.Submission.ID

	grades := NewGradeRepository(drv, testLogger())
	g := entity.Grade{
		ID: uuid.New(), SubmissionID: id, ExaminerID: uuid.New(), RubricItemID: def.Rubric[0].ID,
		Points: 10, GradedAt: time.Now().UTC(),
	}
	require.NoError(t, grades.RunInTx(ctx, func(ctx context.Context, tx GradeTx) error {
		if err := tx.InsertGrades(ctx, []entity.Grade{g}); err != nil {
			return err
		}
		return tx.MarkAllFinal(ctx, id)
	}))

	err := grades.RunInTx(ctx, func(ctx context.Context, tx GradeTx) error {
		g.Points = 20
		return tx.UpdateGrade(ctx, g)
	})
	assert.ErrorIs(t, err, common.ErrFinalizedGradeImmutable)

	err = grades.RunInTx(ctx, func(ctx context.Context, tx GradeTx) error {
		n, err := tx.DeleteExaminerGrades(ctx, id, g.ExaminerID)
		assert.Zero(t, n)
		return err
	})
	require.NoError(t, err)

	list, err := grades.ListGrades(ctx, id)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.InDelta(t, 10.0, list[0].Points, 0.001)
	assert.True(t, list[0].IsFinal)
}

func TestMemoryJobStatusRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryJobStatusRepository(time.Minute).(*memoryJobStatusRepository)
	now := time.Now()
	repo.now = func() time.Time { return now }

	jobID := uuid.New()
	_, err := repo.GetStatus(ctx, jobID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, repo.SetStatus(ctx, jobID, constants.JobStatusExtracting))
	got, err := repo.GetStatus(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, constants.JobStatusExtracting, got)

	now = now.Add(2 * time.Minute)
	_, err = repo.GetStatus(ctx, jobID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCountSubmissionsByStatus(t *testing.T) {
	ctx := context.Background()
	drv := newTestDriver(t)
	def := seedExam(t, drv)
	repo := NewSubmissionRepository(drv, testLogger())

	a, b := newBundle(def.Exam.ID, "a.docx", "h1", 0), newBundle(def.Exam.ID, "b.docx", "h2", 0)
	require.NoError(t, repo.PersistBatch(ctx, []entity.SubmissionBundle{a, b}))
	require.NoError(t, repo.MarkPending(ctx, []uuid.UUID{a.Submission.ID}))

	counts, err := CountSubmissionsByStatus(ctx, drv)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		string(constants.SubmissionPending):    1,
		string(constants.SubmissionProcessing): 1,
	}, counts)
}

func TestTablesFromEntitySchemas(t *testing.T) {
	require.Len(t, Tables, 7)

	assert.Equal(t, "submissions", SubmissionsTable.Name)
	version, ok := SubmissionsTable.Column("version")
	require.True(t, ok)
	assert.Equal(t, int64(0), version.Default)
	studentID, ok := SubmissionsTable.Column("student_id")
	require.True(t, ok)
	assert.True(t, studentID.Nullable)
	id, ok := SubmissionsTable.Column("id")
	require.True(t, ok)
	assert.Nil(t, id.Default)
	require.Len(t, SubmissionsTable.PrimaryKey, 1)
	assert.Equal(t, "id", SubmissionsTable.PrimaryKey[0].Name)

	require.Len(t, ExamExaminersTable.PrimaryKey, 2)
	assert.Equal(t, "exam_id", ExamExaminersTable.PrimaryKey[0].Name)
	assert.Equal(t, "examiner_id", ExamExaminersTable.PrimaryKey[1].Name)

	require.Len(t, GradesTable.ForeignKeys, 2)
	byRef := map[string]*schema.ForeignKey{}
	for _, fk := range GradesTable.ForeignKeys {
		byRef[fk.RefTable.Name] = fk
	}
	assert.Equal(t, schema.Cascade, byRef["submissions"].OnDelete)
	assert.Equal(t, "submission_id", byRef["submissions"].Columns[0].Name)
	assert.Equal(t, schema.NoAction, byRef["rubric_items"].OnDelete)

	require.Len(t, GradesTable.Indexes, 1)
	idx := GradesTable.Indexes[0]
	assert.Equal(t, "grade_submission_id_examiner_id_rubric_item_id", idx.Name)
	assert.True(t, idx.Unique)
	require.Len(t, idx.Columns, 3)
}
