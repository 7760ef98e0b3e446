// Package notify emits submission lifecycle events. Delivery is best effort:
// a failed notification is logged and never fails the operation that raised it.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Event types, also used as routing keys.
const (
	EventSubmissionUploaded = "submission.uploaded"
	EventViolationDetected  = "violation.detected"
	EventSubmissionGraded   = "submission.graded"
)

type Event struct {
	Type         string         `json:"type"`
	ExamID       uuid.UUID      `json:"exam_id"`
	JobID        *uuid.UUID     `json:"job_id,omitempty"`
	SubmissionID *uuid.UUID     `json:"submission_id,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// SendTimeout bounds how long Send waits on a notifier, retries included.
var SendTimeout = 2 * time.Second

// Send delivers ev and logs, rather than returns, any failure. It gives up
// after SendTimeout so a down broker does not stall the caller.
func Send(ctx context.Context, n Notifier, logger *slog.Logger, ev Event) {
	if n == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, SendTimeout)
	defer cancel()
	if err := n.Notify(ctx, ev); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("notification failed", "event", ev.Type, "exam_id", ev.ExamID, "error", err)
	}
}

// LogNotifier writes events to the log. Used when no broker is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"event", ev.Type, "exam_id", ev.ExamID}
	if ev.JobID != nil {
		attrs = append(attrs, "job_id", *ev.JobID)
	}
	if ev.SubmissionID != nil {
		attrs = append(attrs, "submission_id", *ev.SubmissionID)
	}
	for k, v := range ev.Data {
		attrs = append(attrs, k, v)
	}
	logger.Info("notification", attrs...)
	return nil
}
