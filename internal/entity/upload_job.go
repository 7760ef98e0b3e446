package entity

import (
	"time"

	"github.com/google/uuid"
)

// UploadJob identifies one ingestion run. It only lives for the duration of processing.
type UploadJob struct {
	ID             uuid.UUID `json:"id"`
	ExamID         uuid.UUID `json:"exam_id"`
	UploadPath     string    `json:"upload_path"`
	ExtractionRoot string    `json:"extraction_root"`
	Bulk           bool      `json:"bulk"`
	StartedAt      time.Time `json:"started_at"`
}

// CreatedSubmission is returned to the ingestion caller for immediate use.
type CreatedSubmission struct {
	SubmissionID uuid.UUID `json:"submission_id"`
	StudentID    *string   `json:"student_id,omitempty"`
	StudentName  *string   `json:"student_name,omitempty"`
	FileName     string    `json:"file_name"`
}

// ProcessingResult aggregates the outcome of one upload job.
type ProcessingResult struct {
	JobID       uuid.UUID           `json:"job_id"`
	TotalFiles  int                 `json:"total_files"`
	Processed   int                 `json:"processed"`
	Duplicates  int                 `json:"duplicates"`
	Violations  int                 `json:"violations"`
	Images      int                 `json:"images"`
	Errors      int                 `json:"errors"`
	Submissions []CreatedSubmission `json:"submissions"`
}
