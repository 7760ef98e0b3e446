package classify

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NAGH654/exam-submissions/constants"
	"github.com/NAGH654/exam-submissions/internal/entity"
)

// HashIndex answers whether a content hash was already seen for the exam and
// records it when it was not.
type HashIndex interface {
	Observe(hash string) (seen bool)
}

// Detector runs the naming, duplicate and prohibited-content checks in that order.
type Detector struct {
	pattern []byte // lowercased
	logger  *slog.Logger
	now     func() time.Time
}

// NewDetector creates a detector for the prohibited literal. An empty pattern
// falls back to the default.
func NewDetector(pattern string, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(pattern) == "" {
		pattern = constants.DefaultProhibitedPattern
	}
	return &Detector{
		pattern: bytes.ToLower([]byte(pattern)),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Detect returns the violations for a classified file. The first file carrying a
// hash is recorded in index and never flagged; later ones are duplicates.
func (d *Detector) Detect(submissionID uuid.UUID, c Classification, index HashIndex) []entity.Violation {
	var out []entity.Violation
	add := func(t constants.ViolationType, s constants.Severity, desc string) {
		out = append(out, entity.Violation{
			ID:           uuid.New(),
			SubmissionID: submissionID,
			Type:         t,
			Severity:     s,
			Description:  desc,
			DetectedAt:   d.now(),
		})
	}

	if !c.ValidID {
		if c.StudentID == nil {
			add(constants.ViolationNaming, constants.SeverityWarning,
				fmt.Sprintf("file name %q does not contain a student id and name", c.FileName))
		} else {
			add(constants.ViolationNaming, constants.SeverityWarning,
				fmt.Sprintf("student id %q does not match the expected format (two letters followed by six digits)", *c.StudentID))
		}
	}

	if c.ContentHash != nil && index != nil && index.Observe(*c.ContentHash) {
		add(constants.ViolationDuplicate, constants.SeverityError,
			fmt.Sprintf("content is identical to an earlier submission for this exam (sha256 %s)", *c.ContentHash))
	}

	if constants.IsSourceExt(c.Ext) {
		found, err := d.containsProhibited(c.Path)
		if err != nil {
			d.logger.Warn("failed to scan file content", "path", c.Path, "error", err)
		} else if found {
			add(constants.ViolationContent, constants.SeverityWarning,
				fmt.Sprintf("source file contains prohibited text %q", string(d.pattern)))
		}
	}
	return out
}

func (d *Detector) containsProhibited(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	return containsFold(f, d.pattern)
}

// containsFold streams r looking for the lowercased needle, carrying the tail of
// each chunk so matches across chunk boundaries are found.
func containsFold(r io.Reader, needle []byte) (bool, error) {
	if len(needle) == 0 {
		return false, nil
	}
	buf := make([]byte, 32<<10)
	var carry []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			window := append(carry, bytes.ToLower(buf[:n])...)
			if bytes.Contains(window, needle) {
				return true, nil
			}
			keep := len(needle) - 1
			if keep > len(window) {
				keep = len(window)
			}
			carry = append([]byte(nil), window[len(window)-keep:]...)
		}
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
	}
}
