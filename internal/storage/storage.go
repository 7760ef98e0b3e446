// Package storage persists submitted documents and extracted images under
// stable keys so they outlive the job's working directory.
package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store is an object store addressed by slash-separated keys.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// DocumentKey is the key of a submission's original document.
func DocumentKey(submissionID uuid.UUID, fileName string) string {
	return path.Join("submissions", submissionID.String(), cleanName(fileName))
}

// ImageKey is the key of an image extracted from a submission's document.
func ImageKey(submissionID uuid.UUID, name string) string {
	return path.Join("submissions", submissionID.String(), "images", cleanName(name))
}

// PutFile uploads a local file under key.
func PutFile(ctx context.Context, s Store, key, localPath string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if err := s.Put(ctx, key, f, info.Size(), ContentType(localPath)); err != nil {
		return 0, fmt.Errorf("store %s: %w", key, err)
	}
	return info.Size(), nil
}

// ContentType guesses a MIME type from the file extension.
func ContentType(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return "application/octet-stream"
}

// cleanName keeps only the final element of a name so keys cannot nest or escape.
func cleanName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		return "unnamed"
	}
	return name
}
