package archive

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/NAGH654/exam-submissions/internal/common"
)

// ArchiveTool extracts a format the process cannot read natively.
type ArchiveTool interface {
	Extract(ctx context.Context, archivePath, destDir string) error
}

// CommandTool shells out to an unrar-compatible binary:
//
//	<binary> x -o+ -y <archive> <dest>/
type CommandTool struct {
	Binary  string
	Timeout time.Duration
	Runner  Runner
	Logger  *slog.Logger
}

// NewCommandTool returns a tool that runs binary through the real process runner.
func NewCommandTool(binary string, timeout time.Duration, logger *slog.Logger) *CommandTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandTool{Binary: binary, Timeout: timeout, Runner: ExecRunner{}, Logger: logger}
}

func (t *CommandTool) Extract(ctx context.Context, archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return common.ExtractionFailed("create destination: " + err.Error())
	}
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	// unrar treats a trailing separator as "extract into this directory"
	dest := filepath.Clean(destDir) + string(os.PathSeparator)
	stdout, stderr, err := t.Runner.Run(ctx, t.Binary, t.Logger, "x", "-o+", "-y", archivePath, dest)
	if err != nil {
		return common.ExtractionFailed(diagnostic(stdout, stderr, err))
	}
	return nil
}

func diagnostic(stdout, stderr []byte, err error) string {
	if s := strings.TrimSpace(string(stderr)); s != "" {
		return truncate(s, 4<<10)
	}
	if s := strings.TrimSpace(string(stdout)); s != "" {
		return truncate(s, 4<<10)
	}
	return err.Error()
}
