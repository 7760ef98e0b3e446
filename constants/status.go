package constants

// SubmissionStatus is the lifecycle status stored on submissions.status.
type SubmissionStatus string

// Stable values (store these exact strings in DB).
const (
	SubmissionPending    SubmissionStatus = "PENDING"    // persisted, ready for grading
	SubmissionProcessing SubmissionStatus = "PROCESSING" // inserted by the batch pipeline, not yet released
	SubmissionGraded     SubmissionStatus = "GRADED"
	SubmissionFlagged    SubmissionStatus = "FLAGGED"
	SubmissionFailed     SubmissionStatus = "FAILED"
)

// GradingStatus is derived from grades and violations; it is never stored.
type GradingStatus string

const (
	GradingNotGraded               GradingStatus = "NOT_GRADED"
	GradingFirstGrading            GradingStatus = "FIRST_GRADING"
	GradingAwaitingModeratorReview GradingStatus = "AWAITING_MODERATOR_REVIEW"
	GradingFinalized               GradingStatus = "FINALIZED"
	GradingMarkedZero              GradingStatus = "MARKED_ZERO"
)

// JobStatus tracks an upload job in the job-status store.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusExtracting JobStatus = "EXTRACTING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED" // terminal failure
)
