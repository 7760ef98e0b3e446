package ingest

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/NAGH654/exam-submissions/constants"
)

// WatchConfig configures the drop-folder watcher. Archives are expected at
// <root>/<exam_id>/<name>.zip|rar.
type WatchConfig struct {
	Root        string
	InitialScan bool          // if true, emit archives already present
	Debounce    time.Duration // coalesce rapid write bursts while a file is copied in
	Logger      *slog.Logger
}

// Drop is an archive that appeared in the watched folder.
type Drop struct {
	ExamID uuid.UUID
	Path   string
	Ext    string
}

// StartWatcher watches cfg.Root recursively and emits every settled archive.
// The channels are closed when ctx is done.
func StartWatcher(ctx context.Context, cfg WatchConfig) (<-chan Drop, <-chan error, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Root == "" {
		logger.Error("watcher start failed: no root provided")
		return nil, nil, errors.New("no root provided")
	}
	evCh := make(chan Drop, 256)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher", "error", err)
		return nil, nil, err
	}

	var initial []string
	err = filepath.WalkDir(cfg.Root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return w.Add(path)
		}
		if cfg.InitialScan {
			initial = append(initial, path)
		}
		return nil
	})
	if err != nil {
		logger.Error("failed to add root directory", "root", cfg.Root, "error", err)
		_ = w.Close()
		return nil, nil, err
	}

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("failed to close watcher", "error", err)
			}
		}()

		emit := func(path string) {
			drop, ok := parseDrop(cfg.Root, path)
			if !ok {
				return
			}
			select {
			case evCh <- drop:
			case <-ctx.Done():
			}
		}
		for _, p := range initial {
			emit(p)
		}

		pending := map[string]struct{}{}
		var timer *time.Timer
		var fire <-chan time.Time
		flush := func() {
			for p := range pending {
				emit(p)
			}
			clear(pending)
		}

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Op&fsnotify.Create != 0 {
					// new exam folders must be watched too; errors for files are expected
					_ = w.Add(e.Name)
				}
				if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 || !isArchive(e.Name) {
					continue
				}
				pending[e.Name] = struct{}{}
				if cfg.Debounce <= 0 {
					flush()
					continue
				}
				if timer == nil {
					timer = time.NewTimer(cfg.Debounce)
				} else {
					timer.Reset(cfg.Debounce)
				}
				fire = timer.C
			case <-fire:
				fire = nil
				flush()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watcher error", "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

func isArchive(path string) bool {
	return constants.IsArchiveExt(filepath.Ext(path))
}

// parseDrop maps <root>/<exam_id>/<file> to a Drop. Anything else is ignored.
func parseDrop(root, path string) (Drop, bool) {
	if !isArchive(path) {
		return Drop{}, false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return Drop{}, false
	}
	dir := filepath.Dir(rel)
	if dir == "." || filepath.Dir(dir) != "." {
		return Drop{}, false
	}
	examID, err := uuid.Parse(dir)
	if err != nil {
		return Drop{}, false
	}
	return Drop{ExamID: examID, Path: path, Ext: constants.NormalizeExt(filepath.Ext(path))}, true
}
