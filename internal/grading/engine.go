// Package grading enforces the double-blind grading workflow: per-examiner rubric
// scores, the derived grading status, moderator review on divergence, the
// zero-mark override and finalized-grade immutability.
package grading

import (
	"math"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/NAGH654/exam-submissions/constants"
	"github.com/NAGH654/exam-submissions/internal/entity"
)

// ExaminerTotal is the sum of one examiner's rubric points for a submission.
type ExaminerTotal struct {
	ExaminerID uuid.UUID `json:"examiner_id"`
	Total      float64   `json:"total"`
}

// ExaminerTotals sums grades per examiner, ordered by examiner id.
func ExaminerTotals(grades []entity.Grade) []ExaminerTotal {
	sums := map[uuid.UUID]float64{}
	for _, g := range grades {
		sums[g.ExaminerID] += g.Points
	}
	out := make([]ExaminerTotal, 0, len(sums))
	for id, total := range sums {
		out = append(out, ExaminerTotal{ExaminerID: id, Total: total})
	}
	slices.SortFunc(out, func(a, b ExaminerTotal) int {
		return strings.Compare(a.ExaminerID.String(), b.ExaminerID.String())
	})
	return out
}

// ComputeStatus derives the grading status from the full set of grades and
// violations of a submission. It does not depend on the order of grades.
func ComputeStatus(grades []entity.Grade, violations int, rubric []entity.RubricItem) constants.GradingStatus {
	if violations > 0 && IsMarkedZero(grades, rubric) {
		return constants.GradingMarkedZero
	}
	totals := ExaminerTotals(grades)
	switch {
	case len(totals) == 0:
		return constants.GradingNotGraded
	case len(totals) == 1:
		return constants.GradingFirstGrading
	case RequiresModeratorReview(totals, entity.MaxPoints(rubric)):
		return constants.GradingAwaitingModeratorReview
	default:
		return constants.GradingFinalized
	}
}

// IsMarkedZero reports whether some examiner scored every rubric item 0 with the
// zero marker in the comment.
func IsMarkedZero(grades []entity.Grade, rubric []entity.RubricItem) bool {
	if len(rubric) == 0 {
		return false
	}
	zeroed := map[uuid.UUID]map[uuid.UUID]bool{}
	for _, g := range grades {
		if g.Points != 0 || g.Comments == nil || !strings.Contains(*g.Comments, constants.ZeroMarker) {
			continue
		}
		if zeroed[g.ExaminerID] == nil {
			zeroed[g.ExaminerID] = map[uuid.UUID]bool{}
		}
		zeroed[g.ExaminerID][g.RubricItemID] = true
	}
	for _, items := range zeroed {
		all := true
		for _, r := range rubric {
			if !items[r.ID] {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// Divergence is the spread of examiner totals (max minus min) as a percentage of
// the exam's max points. It is 0 with fewer than two examiners or no max points.
func Divergence(totals []ExaminerTotal, examMax float64) float64 {
	if len(totals) < 2 || examMax <= 0 {
		return 0
	}
	return spread(totals) * 100 / examMax
}

// RequiresModeratorReview reports whether examiner totals diverge by more than
// the moderator threshold.
func RequiresModeratorReview(totals []ExaminerTotal, examMax float64) bool {
	return len(totals) >= 2 && Divergence(totals, examMax) > constants.ModeratorThresholdPercent
}

// ScoreDifference is max minus min of the examiner totals, nil with fewer than two.
func ScoreDifference(totals []ExaminerTotal) *float64 {
	if len(totals) < 2 {
		return nil
	}
	d := round2(spread(totals))
	return &d
}

// spread is max minus min of the examiner totals, unrounded.
func spread(totals []ExaminerTotal) float64 {
	lo, hi := totals[0].Total, totals[0].Total
	for _, t := range totals[1:] {
		lo = min(lo, t.Total)
		hi = max(hi, t.Total)
	}
	return hi - lo
}

// AverageScore is the mean of examiner totals rounded to 2 decimal places, nil
// unless at least two examiners graded.
func AverageScore(totals []ExaminerTotal) *float64 {
	if len(totals) < 2 {
		return nil
	}
	var sum float64
	for _, t := range totals {
		sum += t.Total
	}
	avg := round2(sum / float64(len(totals)))
	return &avg
}

// SubmissionStatusFor maps a grading status onto the stored submission status.
// Statuses that do not settle the submission keep current.
func SubmissionStatusFor(status constants.GradingStatus, current constants.SubmissionStatus) constants.SubmissionStatus {
	switch status {
	case constants.GradingFinalized:
		return constants.SubmissionGraded
	case constants.GradingAwaitingModeratorReview, constants.GradingMarkedZero:
		return constants.SubmissionFlagged
	default:
		return current
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
