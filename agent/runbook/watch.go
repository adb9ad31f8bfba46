package runbook

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeFunc is called with the agent name of a runbook that was written
// (removed=false) or deleted (removed=true).
type ChangeFunc func(name string, removed bool)

// Watch reports runbook file changes until ctx is cancelled. It creates the
// directory if needed so agents added later are noticed.
func (s *Store) Watch(ctx context.Context, fn ChangeFunc) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create runbooks dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(s.dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				base := filepath.Base(ev.Name)
				if !strings.HasSuffix(base, ext) {
					continue
				}
				name := strings.TrimSuffix(base, ext)
				switch {
				case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
					fn(name, true)
				case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
					fn(name, false)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("runbook watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
