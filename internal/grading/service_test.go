package grading

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NAGH654/exam-submissions/constants"
	"github.com/NAGH654/exam-submissions/internal/common"
	"github.com/NAGH654/exam-submissions/internal/entity"
	"github.com/NAGH654/exam-submissions/internal/repository"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	svc        *Service
	subs       repository.SubmissionRepository
	grades     repository.GradeRepository
	def        entity.ExamDefinition
	a, b, c    uuid.UUID // a and b are assigned, c is not
	submission uuid.UUID
}

// newFixture seeds an exam with two 50-point rubric items and one pending
// submission carrying the given number of violations.
func newFixture(t *testing.T, violations int) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := testLogger()

	drv, err := repository.OpenInMemory(ctx, "grading_"+uuid.NewString(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = drv.Close() })

	f := &fixture{a: uuid.New(), b: uuid.New(), c: uuid.New()}
	examID := uuid.New()
	f.def = entity.ExamDefinition{
		Exam: entity.Exam{ID: examID, Title: "SWP391 Final", Active: true},
		Rubric: []entity.RubricItem{
			{ID: uuid.New(), ExamID: examID, Criteria: "Analysis", MaxPoints: 50, DisplayOrder: 1},
			{ID: uuid.New(), ExamID: examID, Criteria: "Implementation", MaxPoints: 50, DisplayOrder: 2},
		},
		Examiners: []uuid.UUID{f.a, f.b},
	}
	exams := repository.NewExamRepository(drv, logger)
	require.NoError(t, exams.UpsertDefinition(ctx, f.def))

	f.subs = repository.NewSubmissionRepository(drv, logger)
	f.submission = uuid.New()
	sid := "SE123456"
	bundle := entity.SubmissionBundle{Submission: entity.Submission{
		ID:           f.submission,
		ExamID:       examID,
		StudentID:    &sid,
		FileName:     "SE123456_Lan.docx",
		StoragePath:  "submissions/" + f.submission.String() + "/SE123456_Lan.docx",
		FileSize:     10,
		DocumentType: constants.DocWord,
		SubmittedAt:  time.Now().UTC(),
		Status:       constants.SubmissionProcessing,
	}}
	for i := 0; i < violations; i++ {
		bundle.Violations = append(bundle.Violations, entity.Violation{
			ID:           uuid.New(),
			SubmissionID: f.submission,
			Type:         constants.ViolationDuplicate,
			Severity:     constants.SeverityError,
			Description:  "content identical to an earlier submission",
			DetectedAt:   time.Now().UTC(),
		})
	}
	require.NoError(t, f.subs.PersistBatch(ctx, []entity.SubmissionBundle{bundle}))
	require.NoError(t, f.subs.MarkPending(ctx, []uuid.UUID{f.submission}))

	f.grades = repository.NewGradeRepository(drv, logger)
	f.svc = NewService(ServiceDeps{Catalog: exams, Submissions: f.subs, Grades: f.grades, Logger: logger})
	return f
}

func (f *fixture) scores(points ...float64) []Score {
	out := make([]Score, len(points))
	for i, p := range points {
		out[i] = Score{RubricItemID: f.def.Rubric[i].ID, Points: p}
	}
	return out
}

func (f *fixture) submit(t *testing.T, examiner uuid.UUID, points ...float64) *GradingResult {
	t.Helper()
	res, err := f.svc.SubmitGrades(context.Background(), SubmitGradesRequest{
		SubmissionID: f.submission, ExaminerID: examiner, Scores: f.scores(points...),
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) current(t *testing.T) *entity.Submission {
	t.Helper()
	sub, err := f.subs.GetByID(context.Background(), f.submission)
	require.NoError(t, err)
	return sub
}

func TestSubmitGrades_Finalized(t *testing.T) {
	f := newFixture(t, 0)

	first := f.submit(t, f.a, 40, 40)
	assert.Equal(t, constants.GradingFirstGrading, first.GradingStatus)
	assert.Equal(t, constants.SubmissionPending, first.SubmissionStatus)
	assert.Nil(t, first.AverageScore)
	assert.Len(t, first.Created, 2)

	second := f.submit(t, f.b, 45, 50)
	assert.True(t, second.Success)
	assert.Equal(t, constants.GradingFinalized, second.GradingStatus)
	assert.Equal(t, constants.SubmissionGraded, second.SubmissionStatus)
	assert.False(t, second.RequiresModeratorReview)
	require.NotNil(t, second.AverageScore)
	assert.Equal(t, 87.5, *second.AverageScore)
	assert.Equal(t, 15.0, *second.ScoreDifference)

	sub := f.current(t)
	assert.Equal(t, constants.SubmissionGraded, sub.Status)
	assert.Equal(t, int64(3), sub.Version) // mark pending, then one bump per grading call

	grades, err := f.grades.ListGrades(context.Background(), f.submission)
	require.NoError(t, err)
	require.Len(t, grades, 4)
	for _, g := range grades {
		assert.True(t, g.IsFinal)
	}

	_, err = f.svc.SubmitGrades(context.Background(), SubmitGradesRequest{
		SubmissionID: f.submission, ExaminerID: f.a, Scores: f.scores(10, 10),
	})
	assert.ErrorIs(t, err, common.ErrFinalizedGradeImmutable)

	_, err = f.svc.UpdateGrade(context.Background(), UpdateGradeRequest{GradeID: grades[0].ID, ExaminerID: grades[0].ExaminerID, Points: 1})
	assert.ErrorIs(t, err, common.ErrFinalizedGradeImmutable)
}

func TestSubmitGrades_ModeratorReview(t *testing.T) {
	f := newFixture(t, 0)
	f.submit(t, f.a, 40, 40)
	res := f.submit(t, f.b, 25, 25)

	assert.Equal(t, constants.GradingAwaitingModeratorReview, res.GradingStatus)
	assert.Equal(t, constants.SubmissionFlagged, res.SubmissionStatus)
	assert.True(t, res.RequiresModeratorReview)
	assert.Equal(t, 65.0, *res.AverageScore)

	// a non-final grade can still be revised; the second examiner converges
	grades, err := f.grades.ListGrades(context.Background(), f.submission)
	require.NoError(t, err)
	for _, g := range grades {
		assert.False(t, g.IsFinal)
	}
	again := f.submit(t, f.b, 35, 35)
	assert.Equal(t, constants.GradingFinalized, again.GradingStatus)
	assert.Len(t, again.Updated, 2)
	assert.Empty(t, again.Created)
}

func TestSubmitGrades_Rejections(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	other := uuid.New()

	tests := []struct {
		name string
		req  SubmitGradesRequest
		want error
	}{
		{"not assigned", SubmitGradesRequest{SubmissionID: f.submission, ExaminerID: f.c, Scores: f.scores(1, 1)}, common.ErrNotAssigned},
		{"missing item", SubmitGradesRequest{SubmissionID: f.submission, ExaminerID: f.a, Scores: f.scores(1)}, common.ErrIncompleteRubricSet},
		{"foreign item", SubmitGradesRequest{SubmissionID: f.submission, ExaminerID: f.a, Scores: append(f.scores(1), Score{RubricItemID: other, Points: 1})}, common.ErrIncompleteRubricSet},
		{"repeated item", SubmitGradesRequest{SubmissionID: f.submission, ExaminerID: f.a, Scores: append(f.scores(1, 1), f.scores(1)...)}, common.ErrIncompleteRubricSet},
		{"over max", SubmitGradesRequest{SubmissionID: f.submission, ExaminerID: f.a, Scores: f.scores(51, 1)}, common.ErrPointsOutOfRange},
		{"negative", SubmitGradesRequest{SubmissionID: f.submission, ExaminerID: f.a, Scores: f.scores(1, -1)}, common.ErrPointsOutOfRange},
		{"no scores", SubmitGradesRequest{SubmissionID: f.submission, ExaminerID: f.a}, common.ErrValidation},
		{"unknown submission", SubmitGradesRequest{SubmissionID: other, ExaminerID: f.a, Scores: f.scores(1, 1)}, common.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SubmitGrades(ctx, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	grades, err := f.grades.ListGrades(ctx, f.submission)
	require.NoError(t, err)
	assert.Empty(t, grades, "rejected calls must not write anything")
	assert.Equal(t, int64(1), f.current(t).Version)
}

func TestUpdateGrade(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.submit(t, f.a, 40, 40)
	res := f.submit(t, f.b, 10, 10)
	require.Equal(t, constants.GradingAwaitingModeratorReview, res.GradingStatus)

	var bGrade entity.Grade
	for _, g := range res.Created {
		if g.RubricItemID == f.def.Rubric[0].ID {
			bGrade = g
		}
	}

	_, err := f.svc.UpdateGrade(ctx, UpdateGradeRequest{GradeID: bGrade.ID, ExaminerID: f.a, Points: 40})
	assert.ErrorIs(t, err, common.ErrUnauthorized)

	_, err = f.svc.UpdateGrade(ctx, UpdateGradeRequest{GradeID: bGrade.ID, ExaminerID: f.b, Points: 50.5})
	assert.ErrorIs(t, err, common.ErrPointsOutOfRange)

	_, err = f.svc.UpdateGrade(ctx, UpdateGradeRequest{GradeID: uuid.New(), ExaminerID: f.b, Points: 1})
	assert.ErrorIs(t, err, common.ErrNotFound)

	// 80 vs 50 still diverges
	res, err = f.svc.UpdateGrade(ctx, UpdateGradeRequest{GradeID: bGrade.ID, ExaminerID: f.b, Points: 40})
	require.NoError(t, err)
	assert.Equal(t, constants.GradingAwaitingModeratorReview, res.GradingStatus)
	require.Len(t, res.Updated, 1)
	assert.Equal(t, 40.0, res.Updated[0].Points)

	// 80 vs 60 sits exactly on the threshold
	comment := "rechecked"
	res, err = f.svc.UpdateGrade(ctx, UpdateGradeRequest{GradeID: bGrade.ID, ExaminerID: f.b, Points: 50, Comments: &comment})
	require.NoError(t, err)
	assert.Equal(t, constants.GradingFinalized, res.GradingStatus)
	assert.Equal(t, 70.0, *res.AverageScore)
	require.NotNil(t, res.Updated[0].Comments)
	assert.Equal(t, comment, *res.Updated[0].Comments)

	status, err := f.svc.Status(ctx, f.submission)
	require.NoError(t, err)
	assert.Equal(t, constants.GradingFinalized, status.GradingStatus)
	assert.Equal(t, constants.SubmissionGraded, status.SubmissionStatus)
	assert.Equal(t, 100.0, status.ExamMaxPoints)
	assert.Len(t, status.ExaminerTotals, 2)
}

func TestMarkZero(t *testing.T) {
	ctx := context.Background()

	t.Run("no violations is checked first", func(t *testing.T) {
		f := newFixture(t, 0)
		_, err := f.svc.MarkZero(ctx, MarkZeroRequest{SubmissionID: f.submission, ExaminerID: f.c, Justification: "copied"})
		assert.ErrorIs(t, err, common.ErrNoViolationsRecorded)
	})

	t.Run("unknown submission", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.svc.MarkZero(ctx, MarkZeroRequest{SubmissionID: uuid.New(), ExaminerID: f.a, Justification: "copied"})
		assert.ErrorIs(t, err, common.ErrNotFound)
		assert.NotErrorIs(t, err, common.ErrNoViolationsRecorded)
	})

	t.Run("not assigned", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.svc.MarkZero(ctx, MarkZeroRequest{SubmissionID: f.submission, ExaminerID: f.c, Justification: "copied"})
		assert.ErrorIs(t, err, common.ErrNotAssigned)
	})

	t.Run("replaces the examiner's grades", func(t *testing.T) {
		f := newFixture(t, 2)
		f.submit(t, f.a, 40, 40)

		res, err := f.svc.MarkZero(ctx, MarkZeroRequest{SubmissionID: f.submission, ExaminerID: f.a, Justification: "identical to SE654321"})
		require.NoError(t, err)
		assert.Equal(t, constants.GradingMarkedZero, res.GradingStatus)
		assert.Equal(t, constants.SubmissionFlagged, res.SubmissionStatus)
		require.Len(t, res.Created, 2)

		grades, err := f.grades.ListGrades(ctx, f.submission)
		require.NoError(t, err)
		require.Len(t, grades, 2)
		for _, g := range grades {
			assert.Zero(t, g.Points)
			require.NotNil(t, g.Comments)
			assert.True(t, strings.HasPrefix(*g.Comments, constants.ZeroMarker))
			assert.Contains(t, *g.Comments, "DUPLICATE")
			assert.Contains(t, *g.Comments, "identical to SE654321")
		}

		// a second examiner's scores do not lift the zero mark
		res = f.submit(t, f.b, 45, 45)
		assert.Equal(t, constants.GradingMarkedZero, res.GradingStatus)
		assert.Equal(t, constants.SubmissionFlagged, f.current(t).Status)
	})

	t.Run("finalized grades block it", func(t *testing.T) {
		f := newFixture(t, 1)
		f.submit(t, f.a, 40, 40)
		f.submit(t, f.b, 40, 45)
		_, err := f.svc.MarkZero(ctx, MarkZeroRequest{SubmissionID: f.submission, ExaminerID: f.a, Justification: "late finding"})
		assert.ErrorIs(t, err, common.ErrFinalizedGradeImmutable)
	})

	t.Run("justification required", func(t *testing.T) {
		f := newFixture(t, 1)
		_, err := f.svc.MarkZero(ctx, MarkZeroRequest{SubmissionID: f.submission, ExaminerID: f.a})
		assert.ErrorIs(t, err, common.ErrValidation)
	})
}

func TestSubmitGrades_Concurrent(t *testing.T) {
	f := newFixture(t, 0)
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, ex := range []uuid.UUID{f.a, f.b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.SubmitGrades(context.Background(), SubmitGradesRequest{
				SubmissionID: f.submission, ExaminerID: ex, Scores: f.scores(40, 40),
			})
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	status, err := f.svc.Status(context.Background(), f.submission)
	require.NoError(t, err)
	assert.Equal(t, constants.GradingFinalized, status.GradingStatus)
	assert.Equal(t, constants.SubmissionGraded, status.SubmissionStatus)
	assert.Equal(t, int64(3), f.current(t).Version)
}

// conflictingGrades makes the first n status writes lose a version race.
type conflictingGrades struct {
	repository.GradeRepository
	mu        sync.Mutex
	conflicts int
	attempts  int
}

type conflictingTx struct {
	repository.GradeTx
	parent *conflictingGrades
}

func (c *conflictingGrades) RunInTx(ctx context.Context, fn func(context.Context, repository.GradeTx) error) error {
	return c.GradeRepository.RunInTx(ctx, func(ctx context.Context, tx repository.GradeTx) error {
		return fn(ctx, &conflictingTx{GradeTx: tx, parent: c})
	})
}

func (t *conflictingTx) SaveSubmissionStatus(ctx context.Context, id uuid.UUID, status constants.SubmissionStatus, version int64) error {
	t.parent.mu.Lock()
	t.parent.attempts++
	lose := t.parent.attempts <= t.parent.conflicts
	t.parent.mu.Unlock()
	if lose {
		return common.NewAppError(common.CodeConcurrentUpdate, "lost race", common.ErrConcurrentUpdate)
	}
	return t.GradeTx.SaveSubmissionStatus(ctx, id, status, version)
}

func TestSubmitGrades_RetriesOnConflict(t *testing.T) {
	f := newFixture(t, 0)
	cg := &conflictingGrades{GradeRepository: f.grades, conflicts: 2}
	f.svc.grades = cg

	res := f.submit(t, f.a, 40, 40)
	assert.Equal(t, 3, cg.attempts)
	assert.Len(t, res.Created, 2)

	grades, err := f.grades.ListGrades(context.Background(), f.submission)
	require.NoError(t, err)
	assert.Len(t, grades, 2, "rolled back attempts leave no rows behind")
}

func TestSubmitGrades_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, 0)
	cg := &conflictingGrades{GradeRepository: f.grades, conflicts: DefaultMaxAttempts}
	f.svc.grades = cg

	_, err := f.svc.SubmitGrades(context.Background(), SubmitGradesRequest{
		SubmissionID: f.submission, ExaminerID: f.a, Scores: f.scores(1, 1),
	})
	assert.ErrorIs(t, err, common.ErrConcurrentUpdate)
	assert.Equal(t, DefaultMaxAttempts, cg.attempts)

	grades, err := f.grades.ListGrades(context.Background(), f.submission)
	require.NoError(t, err)
	assert.Empty(t, grades)
}
