package common

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// GRPCStatus lets status.FromError / status.Code translate an AppError at the API boundary.
func (e *AppError) GRPCStatus() *status.Status {
	return status.New(grpcCode(e.Code), e.Message)
}

// Error codes surfaced to callers.
const (
	CodeInvalidArgument         = "INVALID_ARGUMENT"
	CodeNotFound                = "NOT_FOUND"
	CodeInvalidArchiveFormat    = "INVALID_ARCHIVE_FORMAT"
	CodeArchiveTooLarge         = "ARCHIVE_TOO_LARGE"
	CodeExtractionFailed        = "EXTRACTION_FAILED"
	CodeNotAssigned             = "NOT_ASSIGNED"
	CodeIncompleteRubricSet     = "INCOMPLETE_RUBRIC_SET"
	CodePointsOutOfRange        = "POINTS_OUT_OF_RANGE"
	CodeFinalizedGradeImmutable = "FINALIZED_GRADE_IMMUTABLE"
	CodeUnauthorized            = "UNAUTHORIZED"
	CodeNoViolationsRecorded    = "NO_VIOLATIONS_RECORDED"
	CodeConcurrentUpdate        = "CONCURRENT_UPDATE"
	CodeConfig                  = "CONFIG_ERROR"
	CodeInternal                = "INTERNAL"
)

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
	ErrValidation   = errors.New("validation failed")

	// ingestion
	ErrInvalidArchiveFormat = errors.New("unsupported archive format")
	ErrArchiveTooLarge      = errors.New("archive too large")
	ErrExtractionFailed     = errors.New("archive extraction failed")

	// grading
	ErrNotAssigned             = errors.New("examiner not assigned to exam")
	ErrIncompleteRubricSet     = errors.New("rubric set does not match exam rubric")
	ErrPointsOutOfRange        = errors.New("points out of range")
	ErrFinalizedGradeImmutable = errors.New("grade is finalized")
	ErrUnauthorized            = errors.New("unauthorized")
	ErrNoViolationsRecorded    = errors.New("no violations recorded")
	ErrConcurrentUpdate        = errors.New("concurrent update")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NotFound(what string) error {
	return NewAppError(CodeNotFound, what+" not found", ErrNotFound)
}

func InvalidArchiveFormat(ext string) error {
	return NewAppError(CodeInvalidArchiveFormat, fmt.Sprintf("extension %q is not an accepted archive format", ext), ErrInvalidArchiveFormat)
}

func ArchiveTooLarge(size, limit int64) error {
	return NewAppError(CodeArchiveTooLarge, fmt.Sprintf("archive is %d bytes, limit is %d", size, limit), ErrArchiveTooLarge)
}

// ExtractionFailed carries the diagnostic text captured from the extractor.
func ExtractionFailed(diagnostic string) error {
	return NewAppError(CodeExtractionFailed, diagnostic, ErrExtractionFailed)
}

func NotAssigned(examinerID, examID fmt.Stringer) error {
	return NewAppError(CodeNotAssigned, fmt.Sprintf("examiner %s is not assigned to exam %s", examinerID, examID), ErrNotAssigned)
}

func IncompleteRubricSet(message string) error {
	return NewAppError(CodeIncompleteRubricSet, message, ErrIncompleteRubricSet)
}

func PointsOutOfRange(criteria string, points, max float64) error {
	return NewAppError(CodePointsOutOfRange, fmt.Sprintf("%q: %.2f is outside [0, %.2f]", criteria, points, max), ErrPointsOutOfRange)
}

func FinalizedGradeImmutable(gradeID fmt.Stringer) error {
	return NewAppError(CodeFinalizedGradeImmutable, fmt.Sprintf("grade %s is final and cannot be changed", gradeID), ErrFinalizedGradeImmutable)
}

func Unauthorized(message string) error {
	return NewAppError(CodeUnauthorized, message, ErrUnauthorized)
}

func NoViolationsRecorded(submissionID fmt.Stringer) error {
	return NewAppError(CodeNoViolationsRecorded, fmt.Sprintf("submission %s has no recorded violations", submissionID), ErrNoViolationsRecorded)
}

func grpcCode(code string) codes.Code {
	switch code {
	case CodeInvalidArgument, CodeInvalidArchiveFormat, CodeIncompleteRubricSet, CodePointsOutOfRange:
		return codes.InvalidArgument
	case CodeNotFound:
		return codes.NotFound
	case CodeArchiveTooLarge:
		return codes.ResourceExhausted
	case CodeNotAssigned, CodeUnauthorized:
		return codes.PermissionDenied
	case CodeFinalizedGradeImmutable, CodeNoViolationsRecorded:
		return codes.FailedPrecondition
	case CodeConcurrentUpdate:
		return codes.Aborted
	case CodeExtractionFailed:
		return codes.DataLoss
	default:
		return codes.Internal
	}
}
