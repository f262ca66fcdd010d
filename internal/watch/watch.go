// Package watch turns file-system events under the vault into change and
// remove notifications for the tag service.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/tagledger/internal/storage"
)

// Handler receives notifications for Markdown files, by path relative to the vault root.
type Handler interface {
	HandleFile(ctx context.Context, path string, data []byte) error
	HandleRemove(ctx context.Context, path string) error
	// Sync reconciles the whole vault. It is used after renames, where
	// fsnotify only reports the old path.
	Sync(ctx context.Context) error
}

// renameSettle is how long the watcher waits after the last rename before syncing.
const renameSettle = 200 * time.Millisecond

// Watch starts an fsnotify watcher on the vault root and forwards Markdown
// file events to h until ctx is cancelled.
//
// New directories created at runtime are added to the watch list and their
// existing files are handed to h. Renames trigger a debounced Sync.
func Watch(ctx context.Context, h Handler, store storage.Provider, vaultRoot string, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, vaultRoot); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", vaultRoot))

	var syncTimer *time.Timer
	var syncCh <-chan time.Time

	scheduleSync := func() {
		if syncTimer == nil {
			syncTimer = time.NewTimer(renameSettle)
			syncCh = syncTimer.C
		} else {
			syncTimer.Reset(renameSettle)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if syncTimer != nil {
				syncTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-syncCh:
			if err := h.Sync(ctx); err != nil {
				logger.Warn("watcher: sync after rename failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if isHidden(filepath.Base(absPath)) {
						continue
					}
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					handleNewDir(ctx, h, store, vaultRoot, absPath, logger)
					continue
				}
			}

			if !strings.HasSuffix(absPath, ".md") {
				continue
			}
			rel, relErr := filepath.Rel(vaultRoot, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				handleFile(ctx, h, store, rel, logger)

			case ev.Op&fsnotify.Remove != 0:
				if err := h.HandleRemove(ctx, rel); err != nil {
					logger.Warn("watcher: remove failed", slog.String("path", rel), slog.String("error", err.Error()))
					continue
				}
				logger.Debug("watcher: removed", slog.String("path", rel))

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify reports the old path only; the new one arrives as
				// a Create if it stays inside a watched directory.
				if err := h.HandleRemove(ctx, rel); err != nil {
					logger.Warn("watcher: rename remove failed", slog.String("path", rel), slog.String("error", err.Error()))
				}
				scheduleSync()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

func handleFile(ctx context.Context, h Handler, store storage.Provider, rel string, logger *slog.Logger) {
	data, err := store.Read(rel)
	if err != nil {
		// Editors that save through a temp file can remove it before we read.
		logger.Debug("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	if err := h.HandleFile(ctx, rel, data); err != nil {
		logger.Warn("watcher: handle failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	logger.Debug("watcher: handled", slog.String("path", rel))
}

// handleNewDir hands every Markdown file already in a new directory to h.
func handleNewDir(ctx context.Context, h Handler, store storage.Provider, vaultRoot, dirPath string, logger *slog.Logger) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(vaultRoot, path)
		if relErr != nil {
			return nil
		}
		handleFile(ctx, h, store, filepath.ToSlash(rel), logger)
		return nil
	})
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".") && name != "." && name != ".."
}
