package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/NAGH654/exam-submissions/internal/common"
)

// extractZip unpacks src into dest. Entries that would land outside dest or
// exceed maxEntry bytes fail the whole archive.
func extractZip(src, dest string, maxEntry int64) error {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return common.ExtractionFailed(fmt.Sprintf("open %s: %v", filepath.Base(src), err))
	}
	defer zr.Close()

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return common.ExtractionFailed("create destination: " + err.Error())
	}
	for _, f := range zr.File {
		if err := extractZipEntry(f, dest, maxEntry); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, dest string, maxEntry int64) error {
	target, err := safeJoin(dest, f.Name)
	if err != nil {
		return err
	}
	mode := f.FileInfo().Mode()
	switch {
	case mode.IsDir():
		if err := os.MkdirAll(target, 0o755); err != nil {
			return common.ExtractionFailed("create directory: " + err.Error())
		}
		return nil
	case mode&os.ModeSymlink != 0:
		// links could point anywhere; the content is never needed
		return nil
	}
	if maxEntry > 0 && f.UncompressedSize64 > uint64(maxEntry) {
		return common.ExtractionFailed(fmt.Sprintf("entry %q is %d bytes, limit is %d", f.Name, f.UncompressedSize64, maxEntry))
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return common.ExtractionFailed("create directory: " + err.Error())
	}

	rc, err := f.Open()
	if err != nil {
		return common.ExtractionFailed(fmt.Sprintf("open entry %q: %v", f.Name, err))
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return common.ExtractionFailed(fmt.Sprintf("create %q: %v", f.Name, err))
	}
	var r io.Reader = rc
	if maxEntry > 0 {
		// the header size can lie; cap what is actually inflated
		r = io.LimitReader(rc, maxEntry+1)
	}
	n, copyErr := io.Copy(out, r)
	closeErr := out.Close()
	switch {
	case copyErr != nil:
		return common.ExtractionFailed(fmt.Sprintf("inflate %q: %v", f.Name, copyErr))
	case closeErr != nil:
		return common.ExtractionFailed(fmt.Sprintf("write %q: %v", f.Name, closeErr))
	case maxEntry > 0 && n > maxEntry:
		return common.ExtractionFailed(fmt.Sprintf("entry %q exceeds %d bytes", f.Name, maxEntry))
	}
	return nil
}

// safeJoin resolves an archive entry name under dest, rejecting traversal.
func safeJoin(dest, name string) (string, error) {
	clean := filepath.FromSlash(strings.ReplaceAll(name, `\`, "/"))
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", common.ExtractionFailed(fmt.Sprintf("entry %q has an absolute path", name))
	}
	target := filepath.Join(dest, clean)
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", common.ExtractionFailed(fmt.Sprintf("entry %q escapes the extraction directory", name))
	}
	return target, nil
}
