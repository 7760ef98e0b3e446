// Package classify turns extracted files into classified candidate documents
// and runs the integrity checks that become violations.
package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/NAGH654/exam-submissions/constants"
	"github.com/NAGH654/exam-submissions/internal/common"
)

// Classification is everything derived from a file without looking at other files.
type Classification struct {
	Path         string
	FileName     string
	Ext          string // lowercased, without '.'
	Size         int64
	StudentID    *string
	StudentName  *string
	ValidID      bool
	ContentHash  *string
	DocumentType constants.DocumentType
}

type Classifier struct {
	logger *slog.Logger
}

func NewClassifier(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{logger: logger}
}

// Classify never fails: unreadable files get a nil hash and a zero size.
func (c *Classifier) Classify(path string) Classification {
	name := filepath.Base(path)
	ext := constants.NormalizeExt(filepath.Ext(name))
	out := Classification{
		Path:         path,
		FileName:     name,
		Ext:          ext,
		DocumentType: constants.MapExtToDocumentType(ext),
	}
	out.StudentID, out.StudentName, out.ValidID = ParseFileName(name)

	if info, err := os.Stat(path); err == nil {
		out.Size = info.Size()
	}
	if sum, err := HashFile(path); err != nil {
		c.logger.Warn("failed to hash file", "path", path, "error", err)
	} else {
		out.ContentHash = &sum
	}
	return out
}

// ParseFileName splits the name (minus extension) on '_': slot 0 is the student
// id, slot 1 the display name. With fewer than two parts both are nil. The id is
// upper-cased; valid reports whether it matches the student id pattern.
func ParseFileName(name string) (studentID, studentName *string, valid bool) {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(stem, "_")
	if len(parts) < 2 {
		return nil, nil, false
	}
	id := strings.ToUpper(strings.TrimSpace(parts[0]))
	display := strings.TrimSpace(parts[1])
	studentID = &id
	if display != "" {
		studentName = &display
	}
	return studentID, studentName, common.IsValidStudentID(id)
}

// HashFile returns the hex-encoded SHA-256 of the file's bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CollectCandidates walks root and returns the regular, non-hidden files whose
// extension is a candidate document type, in lexical order. Archives are never
// candidates. Unreadable directories are logged and skipped.
func CollectCandidates(root string, logger *slog.Logger) ([]string, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			logger.Warn("skipping unreadable path", "path", path, "error", walkErr)
			return nil
		}
		if path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		ext := filepath.Ext(path)
		if constants.IsArchiveExt(ext) || !constants.IsCandidateExt(ext) {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
