package entity

import (
	"time"

	"github.com/google/uuid"
)

// Grade is one (submission, examiner, rubric item) score. Immutable once IsFinal.
type Grade struct {
	ID           uuid.UUID `json:"id"`
	SubmissionID uuid.UUID `json:"submission_id"`
	ExaminerID   uuid.UUID `json:"examiner_id"`
	RubricItemID uuid.UUID `json:"rubric_item_id"`
	Points       float64   `json:"points"`
	Comments     *string   `json:"comments,omitempty"`
	GradedAt     time.Time `json:"graded_at"`
	IsFinal      bool      `json:"is_final"`
}
