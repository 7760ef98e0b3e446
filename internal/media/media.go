// Package media pulls embedded images out of word-processing documents.
package media

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NAGH654/exam-submissions/constants"
	"github.com/NAGH654/exam-submissions/internal/entity"
	"github.com/NAGH654/exam-submissions/internal/storage"
)

// DefaultMaxImageBytes caps a single embedded image.
const DefaultMaxImageBytes int64 = 64 << 20

type Extractor struct {
	store    storage.Store
	maxBytes int64
	logger   *slog.Logger
}

func NewExtractor(store storage.Store, maxBytes int64, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	return &Extractor{store: store, maxBytes: maxBytes, logger: logger}
}

// Extract stores every non-empty word/media/ entry of a .docx and returns one
// image row per entry. It is all or nothing: on any failure the objects already
// stored are removed, the failure is logged and no images are returned.
func (e *Extractor) Extract(ctx context.Context, submissionID uuid.UUID, docPath string) []entity.SubmissionImage {
	logger := e.logger.With("submission_id", submissionID, "path", docPath)

	images, err := e.extract(ctx, submissionID, docPath)
	if err != nil {
		logger.Warn("image extraction failed", "error", err)
		e.discard(ctx, logger, images)
		return nil
	}
	if len(images) > 0 {
		logger.Debug("images extracted", "count", len(images))
	}
	return images
}

func (e *Extractor) extract(ctx context.Context, submissionID uuid.UUID, docPath string) ([]entity.SubmissionImage, error) {
	zr, err := zip.OpenReader(docPath)
	if err != nil {
		return nil, fmt.Errorf("open document container: %w", err)
	}
	defer zr.Close()

	var images []entity.SubmissionImage
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, constants.WordMediaPrefix) || f.FileInfo().IsDir() || f.UncompressedSize64 == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return images, err
		}
		if f.UncompressedSize64 > uint64(e.maxBytes) {
			return images, fmt.Errorf("image %q is %d bytes, limit is %d", f.Name, f.UncompressedSize64, e.maxBytes)
		}

		name := path.Base(f.Name)
		key := storage.ImageKey(submissionID, name)
		if err := e.put(ctx, f, key); err != nil {
			return images, fmt.Errorf("store %q: %w", f.Name, err)
		}
		images = append(images, entity.SubmissionImage{
			ID:           uuid.New(),
			SubmissionID: submissionID,
			Name:         name,
			StoragePath:  key,
			Size:         int64(f.UncompressedSize64),
			ExtractedAt:  time.Now().UTC(),
		})
	}
	return images, nil
}

func (e *Extractor) put(ctx context.Context, f *zip.File, key string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return e.store.Put(ctx, key, io.LimitReader(rc, e.maxBytes), int64(f.UncompressedSize64), storage.ContentType(f.Name))
}

func (e *Extractor) discard(ctx context.Context, logger *slog.Logger, images []entity.SubmissionImage) {
	// the caller's context may already be cancelled; cleanup must still run
	ctx = context.WithoutCancel(ctx)
	for _, img := range images {
		if err := e.store.Delete(ctx, img.StoragePath); err != nil {
			logger.Warn("failed to remove stored image", "key", img.StoragePath, "error", err)
		}
	}
}
