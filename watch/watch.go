// Package watch runs extractions automatically as document files land in a
// directory tree.
package watch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/lmarinho/kgraph"
	"github.com/lmarinho/kgraph/parser"
)

// DefaultDebounce is how long a file must stay quiet before extraction
// starts. Editors and downloads write in bursts.
const DefaultDebounce = 500 * time.Millisecond

// Watch starts an fsnotify watcher on root and extracts every supported
// document file that is created or modified, until ctx is cancelled. New
// directories created at runtime are added to the watch list.
func Watch(ctx context.Context, eng kgraph.Engine, root string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}
	slog.Info("watch: started", "root", root)

	reg := parser.NewRegistry()

	var mu sync.Mutex
	pending := make(map[string]*time.Timer)
	ready := make(chan string)

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := pending[path]; ok {
			t.Reset(debounce)
			return
		}
		pending[path] = time.AfterFunc(debounce, func() {
			mu.Lock()
			delete(pending, path)
			mu.Unlock()
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, t := range pending {
				t.Stop()
			}
			mu.Unlock()
			slog.Info("watch: stopped")
			return nil

		case path := <-ready:
			run, err := eng.ExtractFile(ctx, path)
			if err != nil {
				slog.Warn("watch: extraction failed", "path", path, "error", err)
				continue
			}
			slog.Info("watch: extracted", "path", path, "run", run.ID,
				"entities", len(run.Graph.Entities), "edges", len(run.Graph.Edges))

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						slog.Warn("watch: add new dir failed", "path", ev.Name, "error", addErr)
					}
					continue
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if _, err := reg.ForFile(ev.Name); err != nil {
				continue
			}
			schedule(ev.Name)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watch: watcher error", "error", err)
		}
	}
}

func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
