// Package archive validates uploaded archives and unpacks them, including the
// per-student secondary archives nested inside exam bundles, into an isolated
// per-job working directory.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/NAGH654/exam-submissions/constants"
	"github.com/NAGH654/exam-submissions/internal/common"
)

// MaxSecondaryDepth bounds how many levels of nested secondary archives are unpacked.
const MaxSecondaryDepth = 4

// Options configures an Extractor.
type Options struct {
	WorkRoot       string
	MaxDirectBytes int64
	MaxBulkBytes   int64
	MaxEntryBytes  int64
	SecondaryName  string
}

// Result describes the extracted tree of one job.
type Result struct {
	JobDir string // <work_root>/<job_id>, removed by Cleanup
	Root   string // <job_dir>/extracted
	// Secondary lists the directories secondary archives were unpacked into.
	Secondary []string
	// SecondaryFailures counts secondary archives that could not be unpacked.
	SecondaryFailures int
	// ToolWarning is the diagnostic of a tolerated external-tool failure.
	ToolWarning string
}

type Extractor struct {
	opts   Options
	rar    ArchiveTool
	logger *slog.Logger
}

// NewExtractor creates an extractor. rar may be nil, in which case rar uploads fail extraction.
func NewExtractor(opts Options, rar ArchiveTool, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SecondaryName == "" {
		opts.SecondaryName = constants.DefaultSecondaryArchiveName
	}
	if opts.MaxDirectBytes <= 0 {
		opts.MaxDirectBytes = constants.MaxDirectUploadBytes
	}
	if opts.MaxBulkBytes <= 0 {
		opts.MaxBulkBytes = constants.MaxBulkArchiveBytes
	}
	return &Extractor{opts: opts, rar: rar, logger: logger}
}

// Validate checks the archive extension and the size bound for the upload kind.
func (e *Extractor) Validate(ext string, size int64, bulk bool) error {
	if !constants.IsArchiveExt(ext) {
		return common.InvalidArchiveFormat(constants.NormalizeExt(ext))
	}
	limit := e.opts.MaxDirectBytes
	if bulk {
		limit = e.opts.MaxBulkBytes
	}
	if size > limit {
		return common.ArchiveTooLarge(size, limit)
	}
	return nil
}

// JobDir returns the isolated working directory of a job.
func (e *Extractor) JobDir(jobID uuid.UUID) string {
	return filepath.Join(e.opts.WorkRoot, jobID.String())
}

// Stage copies an uploaded payload into the job directory, enforcing the size bound
// while copying. It returns the staged path.
func (e *Extractor) Stage(jobID uuid.UUID, r io.Reader, ext string, bulk bool) (string, error) {
	if err := e.Validate(ext, 0, bulk); err != nil {
		return "", err
	}
	limit := e.opts.MaxDirectBytes
	if bulk {
		limit = e.opts.MaxBulkBytes
	}
	dir := e.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create job dir: %w", err)
	}
	path := filepath.Join(dir, "upload."+constants.NormalizeExt(ext))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create staged upload: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	if n > limit {
		_ = os.Remove(path)
		return "", common.ArchiveTooLarge(n, limit)
	}
	return path, nil
}

// Extract unpacks archivePath into <job_dir>/extracted and then every secondary
// archive found in the tree. A failing rar tool is tolerated only when the
// partial output still yields a secondary archive that unpacks. A zip that
// fails to extract is always fatal.
func (e *Extractor) Extract(ctx context.Context, jobID uuid.UUID, archivePath, ext string, bulk bool) (*Result, error) {
	logger := e.logger.With("job_id", jobID)

	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, common.NewAppError(common.CodeInvalidArgument, "archive not readable: "+err.Error(), common.ErrInvalidInput)
	}
	if err := e.Validate(ext, info.Size(), bulk); err != nil {
		return nil, err
	}

	res := &Result{JobDir: e.JobDir(jobID)}
	res.Root = filepath.Join(res.JobDir, "extracted")
	if err := os.MkdirAll(res.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create extraction root: %w", err)
	}

	norm := constants.NormalizeExt(ext)
	logger.Info("extracting archive", "path", archivePath, "ext", norm, "size", info.Size())
	topErr := e.extractOne(ctx, archivePath, norm, res.Root)
	if topErr != nil && (norm != constants.ArchiveRar || !errors.Is(topErr, common.ErrExtractionFailed)) {
		logger.Error("archive extraction failed", "error", topErr)
		return nil, topErr
	}

	found, err := e.extractSecondary(ctx, logger, res)
	if err != nil {
		return nil, err
	}

	if topErr != nil {
		if len(res.Secondary) == 0 {
			logger.Error("archive extraction failed", "error", topErr)
			return nil, topErr
		}
		res.ToolWarning = topErr.Error()
		logger.Warn("extraction tool reported failure, continuing with recovered archives",
			"error", topErr, "recovered", len(res.Secondary))
	}
	if found > 0 && len(res.Secondary) == 0 {
		return nil, common.ExtractionFailed(fmt.Sprintf("all %d secondary archives failed to extract", found))
	}

	logger.Info("archive extracted", "root", res.Root, "secondary", len(res.Secondary), "secondary_failures", res.SecondaryFailures)
	return res, nil
}

func (e *Extractor) extractOne(ctx context.Context, path, ext, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch ext {
	case constants.ArchiveZip:
		return extractZip(path, dest, e.opts.MaxEntryBytes)
	case constants.ArchiveRar:
		if e.rar == nil {
			return common.ExtractionFailed("no rar extraction tool configured")
		}
		return e.rar.Extract(ctx, path, dest)
	default:
		return common.InvalidArchiveFormat(ext)
	}
}

// extractSecondary walks the tree breadth first, unpacking every secondary archive
// next to itself and rescanning what it produced. It returns the number found.
func (e *Extractor) extractSecondary(ctx context.Context, logger *slog.Logger, res *Result) (int, error) {
	type level struct {
		dir   string
		depth int
	}
	queue := []level{{dir: res.Root, depth: 1}}
	found := 0

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		archives, err := e.findSecondary(cur.dir)
		if err != nil {
			return found, fmt.Errorf("scan %s: %w", cur.dir, err)
		}
		for _, path := range archives {
			if err := ctx.Err(); err != nil {
				return found, err
			}
			found++
			dest := SecondaryDest(path)
			ext := constants.NormalizeExt(filepath.Ext(path))
			if err := e.extractOne(ctx, path, ext, dest); err != nil {
				res.SecondaryFailures++
				logger.Warn("secondary archive failed to extract", "path", path, "error", err)
				continue
			}
			res.Secondary = append(res.Secondary, dest)
			if cur.depth < MaxSecondaryDepth {
				queue = append(queue, level{dir: dest, depth: cur.depth + 1})
			}
		}
	}
	return found, nil
}

func (e *Extractor) findSecondary(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.EqualFold(d.Name(), e.opts.SecondaryName) {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}

// SecondaryDest is the sibling directory a secondary archive is unpacked into:
// "dir/solution.zip" becomes "dir/solution_extracted".
func SecondaryDest(archivePath string) string {
	base := filepath.Base(archivePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(archivePath), stem+constants.ExtractedSuffix)
}

// Cleanup removes the job's working directory.
func (e *Extractor) Cleanup(jobID uuid.UUID) {
	dir := e.JobDir(jobID)
	if err := os.RemoveAll(dir); err != nil {
		e.logger.Warn("failed to remove job directory", "job_id", jobID, "dir", dir, "error", err)
	}
}
