package entity

import "github.com/google/uuid"

// Exam is owned by exam management; this core only reads it.
type Exam struct {
	ID     uuid.UUID `json:"id"`
	Title  string    `json:"title"`
	Active bool      `json:"active"`
}

// RubricItem is one gradable criterion of an exam.
type RubricItem struct {
	ID           uuid.UUID `json:"id"`
	ExamID       uuid.UUID `json:"exam_id"`
	Criteria     string    `json:"criteria"`
	MaxPoints    float64   `json:"max_points"`
	DisplayOrder int       `json:"display_order"`
}

// ExamDefinition is an exam with its rubric and examiner assignments, as loaded
// from an exam definition file.
type ExamDefinition struct {
	Exam      Exam         `json:"exam"`
	Rubric    []RubricItem `json:"rubric"`
	Examiners []uuid.UUID  `json:"examiners"`
}

// MaxPoints sums the rubric's max points.
func MaxPoints(rubric []RubricItem) float64 {
	var total float64
	for _, r := range rubric {
		total += r.MaxPoints
	}
	return total
}
