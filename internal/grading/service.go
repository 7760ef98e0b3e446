package grading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NAGH654/exam-submissions/constants"
	"github.com/NAGH654/exam-submissions/internal/common"
	"github.com/NAGH654/exam-submissions/internal/entity"
	"github.com/NAGH654/exam-submissions/internal/notify"
	"github.com/NAGH654/exam-submissions/internal/repository"
)

// DefaultMaxAttempts bounds retries of a grading call that lost a version race.
const DefaultMaxAttempts = 3

// ExamCatalog is the read-only exam metadata grading depends on.
type ExamCatalog interface {
	ListRubric(ctx context.Context, examID uuid.UUID) ([]entity.RubricItem, error)
	IsAssigned(ctx context.Context, examID, examinerID uuid.UUID) (bool, error)
}

// SubmissionLookup reads submissions outside a grading transaction.
type SubmissionLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Submission, error)
	ListViolations(ctx context.Context, submissionID uuid.UUID) ([]entity.Violation, error)
}

// Score is one examiner's points for one rubric item.
type Score struct {
	RubricItemID uuid.UUID `json:"rubric_item_id" validate:"required"`
	Points       float64   `json:"points"`
	Comments     *string   `json:"comments,omitempty"`
}

type SubmitGradesRequest struct {
	SubmissionID uuid.UUID `json:"submission_id" validate:"required"`
	ExaminerID   uuid.UUID `json:"examiner_id" validate:"required"`
	Scores       []Score   `json:"scores" validate:"required,min=1,dive"`
}

type UpdateGradeRequest struct {
	GradeID    uuid.UUID `json:"grade_id" validate:"required"`
	ExaminerID uuid.UUID `json:"examiner_id" validate:"required"`
	Points     float64   `json:"points"`
	Comments   *string   `json:"comments,omitempty"`
}

type MarkZeroRequest struct {
	SubmissionID  uuid.UUID `json:"submission_id" validate:"required"`
	ExaminerID    uuid.UUID `json:"examiner_id" validate:"required"`
	Justification string    `json:"justification" validate:"required"`
}

// GradingResult is returned by every mutating grading call.
type GradingResult struct {
	Success                 bool                       `json:"success"`
	SubmissionID            uuid.UUID                  `json:"submission_id"`
	GradingStatus           constants.GradingStatus    `json:"grading_status"`
	SubmissionStatus        constants.SubmissionStatus `json:"submission_status"`
	RequiresModeratorReview bool                       `json:"requires_moderator_review"`
	AverageScore            *float64                   `json:"average_score,omitempty"`
	ScoreDifference         *float64                   `json:"score_difference,omitempty"`
	Created                 []entity.Grade             `json:"created,omitempty"`
	Updated                 []entity.Grade             `json:"updated,omitempty"`
}

// GradingStatusResponse is the read-only view of a submission's grading state.
type GradingStatusResponse struct {
	SubmissionID            uuid.UUID                  `json:"submission_id"`
	GradingStatus           constants.GradingStatus    `json:"grading_status"`
	SubmissionStatus        constants.SubmissionStatus `json:"submission_status"`
	ExaminerTotals          []ExaminerTotal            `json:"examiner_totals"`
	ExamMaxPoints           float64                    `json:"exam_max_points"`
	RequiresModeratorReview bool                       `json:"requires_moderator_review"`
	AverageScore            *float64                   `json:"average_score,omitempty"`
	ScoreDifference         *float64                   `json:"score_difference,omitempty"`
	Violations              int                        `json:"violations"`
}

// Service runs grading operations. Every mutation reads, recomputes and writes in
// one transaction, serialised per submission and guarded by the submission version.
type Service struct {
	catalog     ExamCatalog
	submissions SubmissionLookup
	grades      repository.GradeRepository
	notifier    notify.Notifier
	locks       *keyedMutex
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger
}

type ServiceDeps struct {
	Catalog     ExamCatalog
	Submissions SubmissionLookup
	Grades      repository.GradeRepository
	Notifier    notify.Notifier
	MaxAttempts int
	Logger      *slog.Logger
}

// NewService creates a new grading service.
func NewService(d ServiceDeps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = DefaultMaxAttempts
	}
	return &Service{
		catalog:     d.Catalog,
		submissions: d.Submissions,
		grades:      d.Grades,
		notifier:    d.Notifier,
		locks:       newKeyedMutex(),
		maxAttempts: d.MaxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      d.Logger,
	}
}

// SubmitGrades records one examiner's full set of rubric scores.
func (s *Service) SubmitGrades(ctx context.Context, req SubmitGradesRequest) (*GradingResult, error) {
	if err := common.ValidateStruct(req); err != nil {
		return nil, err
	}
	logger := s.logger.With("submission_id", req.SubmissionID, "examiner_id", req.ExaminerID)

	sub, rubric, err := s.loadForExaminer(ctx, req.SubmissionID, req.ExaminerID)
	if err != nil {
		return nil, err
	}
	if err := checkScores(req.Scores, rubric); err != nil {
		return nil, err
	}

	res, err := s.mutate(ctx, sub.ID, func(ctx context.Context, tx repository.GradeTx, res *GradingResult) error {
		existing, err := tx.ListGrades(ctx, sub.ID)
		if err != nil {
			return err
		}
		mine := map[uuid.UUID]entity.Grade{}
		for _, g := range existing {
			if g.ExaminerID == req.ExaminerID {
				mine[g.RubricItemID] = g
			}
		}

		now := s.now()
		var created []entity.Grade
		for _, sc := range req.Scores {
			g, ok := mine[sc.RubricItemID]
			if !ok {
				created = append(created, entity.Grade{
					ID:           uuid.New(),
					SubmissionID: sub.ID,
					ExaminerID:   req.ExaminerID,
					RubricItemID: sc.RubricItemID,
					Points:       sc.Points,
					Comments:     sc.Comments,
					GradedAt:     now,
				})
				continue
			}
			if g.IsFinal {
				return common.FinalizedGradeImmutable(g.ID)
			}
			g.Points, g.Comments, g.GradedAt = sc.Points, sc.Comments, now
			if err := tx.UpdateGrade(ctx, g); err != nil {
				return err
			}
			res.Updated = append(res.Updated, g)
		}
		if err := tx.InsertGrades(ctx, created); err != nil {
			return err
		}
		res.Created = created
		return s.settle(ctx, tx, sub.ID, rubric, "", res)
	})
	if err != nil {
		logger.Warn("grade submission rejected", "error", err)
		return nil, err
	}
	logger.Info("grades submitted", "grading_status", res.GradingStatus, "created", len(res.Created), "updated", len(res.Updated))
	s.notifyGraded(ctx, logger, sub, res)
	return res, nil
}

// UpdateGrade changes a single grade. Only the examiner who entered it may change it.
func (s *Service) UpdateGrade(ctx context.Context, req UpdateGradeRequest) (*GradingResult, error) {
	if err := common.ValidateStruct(req); err != nil {
		return nil, err
	}
	logger := s.logger.With("grade_id", req.GradeID, "examiner_id", req.ExaminerID)

	grade, err := s.grades.GetGrade(ctx, req.GradeID)
	if err != nil {
		return nil, err
	}
	if err := checkGradeOwner(grade, req.ExaminerID); err != nil {
		return nil, err
	}
	sub, err := s.submissions.GetByID(ctx, grade.SubmissionID)
	if err != nil {
		return nil, err
	}
	rubric, err := s.catalog.ListRubric(ctx, sub.ExamID)
	if err != nil {
		return nil, err
	}
	item, ok := findRubricItem(rubric, grade.RubricItemID)
	if !ok {
		return nil, common.IncompleteRubricSet(fmt.Sprintf("rubric item %s is no longer part of the exam", grade.RubricItemID))
	}
	if err := checkPoints(item, req.Points); err != nil {
		return nil, err
	}

	res, err := s.mutate(ctx, sub.ID, func(ctx context.Context, tx repository.GradeTx, res *GradingResult) error {
		g, err := tx.GetGrade(ctx, req.GradeID)
		if err != nil {
			return err
		}
		if err := checkGradeOwner(g, req.ExaminerID); err != nil {
			return err
		}
		g.Points, g.Comments, g.GradedAt = req.Points, req.Comments, s.now()
		if err := tx.UpdateGrade(ctx, *g); err != nil {
			return err
		}
		res.Updated = []entity.Grade{*g}
		return s.settle(ctx, tx, sub.ID, rubric, "", res)
	})
	if err != nil {
		logger.Warn("grade update rejected", "error", err)
		return nil, err
	}
	logger.Info("grade updated", "submission_id", sub.ID, "grading_status", res.GradingStatus)
	s.notifyGraded(ctx, logger, sub, res)
	return res, nil
}

// MarkZero replaces the examiner's grades with zeros justified by the submission's
// violations and flags the submission.
func (s *Service) MarkZero(ctx context.Context, req MarkZeroRequest) (*GradingResult, error) {
	if err := common.ValidateStruct(req); err != nil {
		return nil, err
	}
	logger := s.logger.With("submission_id", req.SubmissionID, "examiner_id", req.ExaminerID)

	sub, err := s.submissions.GetByID(ctx, req.SubmissionID)
	if err != nil {
		return nil, err
	}
	violations, err := s.submissions.ListViolations(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	if len(violations) == 0 {
		return nil, common.NoViolationsRecorded(sub.ID)
	}
	rubric, err := s.rubricForExaminer(ctx, sub, req.ExaminerID)
	if err != nil {
		return nil, err
	}

	res, err := s.mutate(ctx, sub.ID, func(ctx context.Context, tx repository.GradeTx, res *GradingResult) error {
		existing, err := tx.ListGrades(ctx, sub.ID)
		if err != nil {
			return err
		}
		for _, g := range existing {
			if g.ExaminerID == req.ExaminerID && g.IsFinal {
				return common.FinalizedGradeImmutable(g.ID)
			}
		}
		current, err := tx.ListViolations(ctx, sub.ID)
		if err != nil {
			return err
		}
		if len(current) == 0 {
			return common.NoViolationsRecorded(sub.ID)
		}
		if _, err := tx.DeleteExaminerGrades(ctx, sub.ID, req.ExaminerID); err != nil {
			return err
		}

		comment := ZeroComment(current, req.Justification)
		now := s.now()
		zeros := make([]entity.Grade, 0, len(rubric))
		for _, item := range rubric {
			zeros = append(zeros, entity.Grade{
				ID:           uuid.New(),
				SubmissionID: sub.ID,
				ExaminerID:   req.ExaminerID,
				RubricItemID: item.ID,
				Comments:     &comment,
				GradedAt:     now,
			})
		}
		if err := tx.InsertGrades(ctx, zeros); err != nil {
			return err
		}
		res.Created = zeros
		return s.settle(ctx, tx, sub.ID, rubric, constants.SubmissionFlagged, res)
	})
	if err != nil {
		logger.Warn("mark zero rejected", "error", err)
		return nil, err
	}
	logger.Info("submission marked zero", "violations", len(violations), "grading_status", res.GradingStatus)
	s.notifyGraded(ctx, logger, sub, res)
	return res, nil
}

// Status returns the current grading state without changing anything.
func (s *Service) Status(ctx context.Context, submissionID uuid.UUID) (*GradingStatusResponse, error) {
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	rubric, err := s.catalog.ListRubric(ctx, sub.ExamID)
	if err != nil {
		return nil, err
	}
	grades, err := s.grades.ListGrades(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	violations, err := s.submissions.ListViolations(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	totals := ExaminerTotals(grades)
	examMax := entity.MaxPoints(rubric)
	return &GradingStatusResponse{
		SubmissionID:            submissionID,
		GradingStatus:           ComputeStatus(grades, len(violations), rubric),
		SubmissionStatus:        sub.Status,
		ExaminerTotals:          totals,
		ExamMaxPoints:           examMax,
		RequiresModeratorReview: RequiresModeratorReview(totals, examMax),
		AverageScore:            AverageScore(totals),
		ScoreDifference:         ScoreDifference(totals),
		Violations:              len(violations),
	}, nil
}

// ZeroComment builds the comment stored on every zero-mark grade.
func ZeroComment(violations []entity.Violation, justification string) string {
	parts := make([]string, 0, len(violations))
	for _, v := range violations {
		parts = append(parts, fmt.Sprintf("%s/%s: %s", v.Type, v.Severity, v.Description))
	}
	return fmt.Sprintf("%s Violations: %s. Justification: %s",
		constants.ZeroMarker, strings.Join(parts, "; "), strings.TrimSpace(justification))
}

// mutate runs fn in a transaction under the submission's lock, retrying when the
// submission version moved underneath it.
func (s *Service) mutate(ctx context.Context, submissionID uuid.UUID, fn func(context.Context, repository.GradeTx, *GradingResult) error) (*GradingResult, error) {
	unlock := s.locks.Lock(submissionID)
	defer unlock()

	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		res := &GradingResult{SubmissionID: submissionID}
		err = s.grades.RunInTx(ctx, func(ctx context.Context, tx repository.GradeTx) error {
			return fn(ctx, tx, res)
		})
		if err == nil {
			res.Success = true
			return res, nil
		}
		if !errors.Is(err, common.ErrConcurrentUpdate) {
			return nil, err
		}
		s.logger.Warn("grading conflict, retrying", "submission_id", submissionID, "attempt", attempt)
	}
	return nil, err
}

// settle recomputes the grading status from what the transaction now sees and
// writes the submission status. A non-empty force overrides the mapped status.
func (s *Service) settle(ctx context.Context, tx repository.GradeTx, submissionID uuid.UUID, rubric []entity.RubricItem, force constants.SubmissionStatus, res *GradingResult) error {
	sub, err := tx.GetSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	grades, err := tx.ListGrades(ctx, submissionID)
	if err != nil {
		return err
	}
	violations, err := tx.ListViolations(ctx, submissionID)
	if err != nil {
		return err
	}

	status := ComputeStatus(grades, len(violations), rubric)
	next := SubmissionStatusFor(status, sub.Status)
	if force != "" {
		next = force
	}
	if status == constants.GradingFinalized {
		if err := tx.MarkAllFinal(ctx, submissionID); err != nil {
			return err
		}
	}
	if err := tx.SaveSubmissionStatus(ctx, submissionID, next, sub.Version); err != nil {
		return err
	}

	totals := ExaminerTotals(grades)
	res.GradingStatus = status
	res.SubmissionStatus = next
	res.RequiresModeratorReview = RequiresModeratorReview(totals, entity.MaxPoints(rubric))
	res.AverageScore = AverageScore(totals)
	res.ScoreDifference = ScoreDifference(totals)
	return nil
}

func (s *Service) loadForExaminer(ctx context.Context, submissionID, examinerID uuid.UUID) (*entity.Submission, []entity.RubricItem, error) {
	sub, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		return nil, nil, err
	}
	rubric, err := s.rubricForExaminer(ctx, sub, examinerID)
	if err != nil {
		return nil, nil, err
	}
	return sub, rubric, nil
}

// rubricForExaminer returns the exam rubric once examinerID is known to be assigned.
func (s *Service) rubricForExaminer(ctx context.Context, sub *entity.Submission, examinerID uuid.UUID) ([]entity.RubricItem, error) {
	ok, err := s.catalog.IsAssigned(ctx, sub.ExamID, examinerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.NotAssigned(examinerID, sub.ExamID)
	}
	return s.catalog.ListRubric(ctx, sub.ExamID)
}

func (s *Service) notifyGraded(ctx context.Context, logger *slog.Logger, sub *entity.Submission, res *GradingResult) {
	subID := sub.ID
	data := map[string]any{
		"grading_status":            res.GradingStatus,
		"submission_status":         res.SubmissionStatus,
		"requires_moderator_review": res.RequiresModeratorReview,
	}
	if res.AverageScore != nil {
		data["average_score"] = *res.AverageScore
	}
	notify.Send(ctx, s.notifier, logger, notify.Event{
		Type:         notify.EventSubmissionGraded,
		ExamID:       sub.ExamID,
		SubmissionID: &subID,
		Data:         data,
	})
}

// checkScores requires exactly one score per rubric item, each within range.
func checkScores(scores []Score, rubric []entity.RubricItem) error {
	byID := make(map[uuid.UUID]entity.RubricItem, len(rubric))
	for _, r := range rubric {
		byID[r.ID] = r
	}
	seen := make(map[uuid.UUID]bool, len(scores))
	for _, sc := range scores {
		if _, ok := byID[sc.RubricItemID]; !ok {
			return common.IncompleteRubricSet(fmt.Sprintf("rubric item %s does not belong to the exam", sc.RubricItemID))
		}
		if seen[sc.RubricItemID] {
			return common.IncompleteRubricSet(fmt.Sprintf("rubric item %s scored more than once", sc.RubricItemID))
		}
		seen[sc.RubricItemID] = true
	}
	if len(seen) != len(rubric) {
		return common.IncompleteRubricSet(fmt.Sprintf("%d of %d rubric items scored", len(seen), len(rubric)))
	}
	for _, sc := range scores {
		if err := checkPoints(byID[sc.RubricItemID], sc.Points); err != nil {
			return err
		}
	}
	return nil
}

func checkPoints(item entity.RubricItem, points float64) error {
	if math.IsNaN(points) || points < 0 || points > item.MaxPoints {
		return common.PointsOutOfRange(item.Criteria, points, item.MaxPoints)
	}
	return nil
}

func checkGradeOwner(g *entity.Grade, examinerID uuid.UUID) error {
	if g.ExaminerID != examinerID {
		return common.Unauthorized(fmt.Sprintf("grade %s belongs to another examiner", g.ID))
	}
	if g.IsFinal {
		return common.FinalizedGradeImmutable(g.ID)
	}
	return nil
}

func findRubricItem(rubric []entity.RubricItem, id uuid.UUID) (entity.RubricItem, bool) {
	for _, r := range rubric {
		if r.ID == id {
			return r, true
		}
	}
	return entity.RubricItem{}, false
}
