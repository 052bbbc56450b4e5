package corpus

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/quire/internal/logging"
)

// DefaultDebounce is how long Watch waits after the last file event before
// re-validating.
const DefaultDebounce = 300 * time.Millisecond

// WatchFunc receives each re-validation. err is non-nil when loading or
// validating failed; c and res are nil then.
type WatchFunc func(c *Corpus, res *Result, err error)

// Watch validates the corpus at root once, then again after every burst of
// file changes, until ctx is cancelled. Hidden directories are not
// watched. It returns nil on cancellation.
func Watch(ctx context.Context, root string, opts Options, debounce time.Duration, fn WatchFunc) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := logging.OrNop(opts.Logger)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	if err := addWatches(w, root); err != nil {
		return err
	}

	run := func() {
		c, err := Load(root, opts)
		if err != nil {
			fn(nil, nil, err)
			return
		}
		res, err := c.Validate(ctx)
		if err != nil {
			if ctx.Err() == nil {
				fn(nil, nil, err)
			}
			return
		}
		fn(c, res, nil)
	}
	run()

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if hidden(root, ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				// New directories need their own watch.
				_ = addWatches(w, ev.Name)
			}
			logger.Debug("change detected", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", zap.Error(err))

		case <-timer.C:
			run()
		}
	}
}

// addWatches watches dir and every non-hidden directory below it. A path
// that is not a directory is ignored.
func addWatches(w *fsnotify.Watcher, dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	return nil
}

// hidden reports whether path lies in a dot-directory below root or is a
// dot-file, such as the temp files written by atomic replacement.
func hidden(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}
