package constants

import "strings"

// Archive extensions accepted for upload (lowercased, without '.').
const (
	ArchiveZip = "zip" // extracted natively
	ArchiveRar = "rar" // extracted through the external tool
)

// Upload size limits.
const (
	MaxDirectUploadBytes int64 = 600 << 20
	MaxBulkArchiveBytes  int64 = 2 << 30
)

// DefaultSecondaryArchiveName is the per-student archive found inside exam bundles.
const DefaultSecondaryArchiveName = "solution.zip"

// ExtractedSuffix is appended to a secondary archive's base name to form its output dir.
const ExtractedSuffix = "_extracted"

// DefaultBatchSize bounds the number of files persisted per transaction.
const DefaultBatchSize = 50

// DocumentType classifies a candidate document.
type DocumentType string

const (
	DocWord       DocumentType = "WORD"
	DocPDF        DocumentType = "PDF"
	DocText       DocumentType = "TEXT"
	DocSourceCode DocumentType = "SOURCE_CODE"
	DocOther      DocumentType = "OTHER"
)

// WordMediaPrefix is the directory inside a .docx container that holds embedded images.
const WordMediaPrefix = "word/media/"

// SourceExtensions are scanned for prohibited content.
var SourceExtensions = map[string]struct{}{
	"c":    {},
	"cpp":  {},
	"cs":   {},
	"go":   {},
	"h":    {},
	"java": {},
	"js":   {},
	"kt":   {},
	"php":  {},
	"py":   {},
	"sql":  {},
	"ts":   {},
}

// DocumentExtensions are the non-source candidate documents.
var DocumentExtensions = map[string]DocumentType{
	"docx": DocWord,
	"pdf":  DocPDF,
	"txt":  DocText,
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsArchiveExt reports whether ext is one of the accepted upload archive formats.
func IsArchiveExt(ext string) bool {
	ext = NormalizeExt(ext)
	return ext == ArchiveZip || ext == ArchiveRar
}

// IsSourceExt reports whether ext is a source-code-like extension.
func IsSourceExt(ext string) bool {
	_, ok := SourceExtensions[NormalizeExt(ext)]
	return ok
}

// IsCandidateExt reports whether files with ext are classified as submissions.
func IsCandidateExt(ext string) bool {
	ext = NormalizeExt(ext)
	if _, ok := DocumentExtensions[ext]; ok {
		return true
	}
	return IsSourceExt(ext)
}

// MapExtToDocumentType maps a file extension to its DocumentType.
func MapExtToDocumentType(ext string) DocumentType {
	ext = NormalizeExt(ext)
	if t, ok := DocumentExtensions[ext]; ok {
		return t
	}
	if IsSourceExt(ext) {
		return DocSourceCode
	}
	return DocOther
}
