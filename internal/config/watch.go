package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce coalesces the burst of events editors emit on save.
const DefaultReloadDebounce = 200 * time.Millisecond

// Watcher reloads the project configuration when its file changes.
// The directory is watched rather than the file so that atomic
// rename-on-save still produces events.
type Watcher struct {
	dir      string
	debounce time.Duration
	onChange func(*Config)
	onError  func(error)

	fsw  *fsnotify.Watcher
	done chan struct{}
	once sync.Once
}

// NewWatcher starts watching dir. onChange receives every configuration that
// loads and validates; onError (may be nil) receives load failures, after
// which the previous configuration stays in force.
func NewWatcher(dir string, onChange func(*Config), onError func(error)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:      dir,
		debounce: DefaultReloadDebounce,
		onChange: onChange,
		onError:  onError,
		fsw:      fsw,
		done:     make(chan struct{}),
	}, nil
}

// Run processes events until ctx is cancelled or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !isConfigFile(ev.Name) || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("config_watch_error", slog.String("error", err.Error()))
		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.dir)
	if err != nil {
		slog.Warn("config_reload_failed", slog.String("dir", w.dir), slog.String("error", err.Error()))
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	slog.Info("config_reloaded", slog.String("dir", w.dir))
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

func isConfigFile(path string) bool {
	base := filepath.Base(path)
	return base == ProjectConfigName || base == ".kbfusion.yml"
}
