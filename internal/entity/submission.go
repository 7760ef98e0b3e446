package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/NAGH654/exam-submissions/constants"
)

// Submission is one student's document for one exam session.
type Submission struct {
	ID           uuid.UUID                  `json:"id"`
	ExamID       uuid.UUID                  `json:"exam_id"`
	StudentID    *string                    `json:"student_id,omitempty"`
	StudentName  *string                    `json:"student_name,omitempty"`
	FileName     string                     `json:"file_name"`
	StoragePath  string                     `json:"storage_path"`
	FileSize     int64                      `json:"file_size"`
	ContentHash  *string                    `json:"content_hash,omitempty"`
	DocumentType constants.DocumentType     `json:"document_type"`
	SubmittedAt  time.Time                  `json:"submitted_at"`
	Status       constants.SubmissionStatus `json:"status"`
	Version      int64                      `json:"version"`
}

// Violation is an integrity or format finding attached to a submission.
type Violation struct {
	ID           uuid.UUID               `json:"id"`
	SubmissionID uuid.UUID               `json:"submission_id"`
	Type         constants.ViolationType `json:"type"`
	Severity     constants.Severity      `json:"severity"`
	Description  string                  `json:"description"`
	DetectedAt   time.Time               `json:"detected_at"`
}

// SubmissionImage is an image extracted from a submitted document.
type SubmissionImage struct {
	ID           uuid.UUID `json:"id"`
	SubmissionID uuid.UUID `json:"submission_id"`
	Name         string    `json:"name"`
	StoragePath  string    `json:"storage_path"`
	Size         int64     `json:"size"`
	ExtractedAt  time.Time `json:"extracted_at"`
}

// SubmissionBundle groups the rows persisted together for one file.
type SubmissionBundle struct {
	Submission Submission
	Violations []Violation
	Images     []SubmissionImage
}
