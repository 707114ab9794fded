package internal

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lychee-technology/metaeditor"
	"go.uber.org/zap"
)

// SchemaWatcher reports which registered schemas need regenerating when their
// local files change. Changes to other schema files in the watched directories,
// such as shared $ref targets, affect every registered schema.
type SchemaWatcher struct {
	registry  metaeditor.SchemaRegistry
	debounce  time.Duration
	onChange  func(ctx context.Context, names []string) error
	ready     chan struct{}
	readyOnce sync.Once
}

func NewSchemaWatcher(registry metaeditor.SchemaRegistry, debounce time.Duration, onChange func(ctx context.Context, names []string) error) *SchemaWatcher {
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &SchemaWatcher{
		registry: registry,
		debounce: debounce,
		onChange: onChange,
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the watched directories are registered, or when Run
// returns before getting there.
func (w *SchemaWatcher) Ready() <-chan struct{} {
	return w.ready
}

func (w *SchemaWatcher) markReady() {
	w.readyOnce.Do(func() { close(w.ready) })
}

// Run watches until ctx is cancelled. Errors from onChange are logged and do
// not stop the watcher.
func (w *SchemaWatcher) Run(ctx context.Context) error {
	defer w.markReady()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	byPath := map[string]string{}
	dirs := map[string]bool{}
	for _, doc := range w.registry.List() {
		abs, err := filepath.Abs(doc.LocalPath)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", doc.LocalPath, err)
		}
		byPath[abs] = doc.Name
		dirs[filepath.Dir(abs)] = true
	}
	for _, dir := range sortedKeys(dirs) {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
		zap.S().Debugw("watching schema directory", "dir", dir)
	}
	w.markReady()

	pending := map[string]bool{}
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !isSchemaFileName(event.Name) {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			pending[abs] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			zap.S().Warnw("schema watcher error", "err", err)

		case <-fire:
			fire = nil
			names := w.affected(pending, byPath)
			pending = map[string]bool{}
			if len(names) == 0 {
				continue
			}
			zap.S().Infow("schema files changed", "schemas", names)
			if err := w.onChange(ctx, names); err != nil {
				zap.S().Warnw("regeneration after change failed", "schemas", names, "err", err)
			}
		}
	}
}

func (w *SchemaWatcher) affected(changed map[string]bool, byPath map[string]string) []string {
	set := map[string]bool{}
	for path := range changed {
		name, ok := byPath[path]
		if !ok {
			for _, n := range byPath {
				set[n] = true
			}
			break
		}
		set[name] = true
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func isSchemaFileName(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || base == modelIndexFile {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
