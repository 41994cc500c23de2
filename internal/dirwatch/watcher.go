// Package dirwatch reports HTML files created or rewritten under a directory,
// using github.com/fsnotify/fsnotify. Subdirectories are watched too, and
// rapid repeated events for one file are debounced (editors often write a
// file several times per save).
package dirwatch

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the window in which repeat events for a path are dropped.
const DefaultDebounce = 50 * time.Millisecond

// Directories never descended into.
var ignoreDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".idea":        true,
	".vscode":      true,
}

// Logger is satisfied by *log.Logger.
type Logger interface {
	Printf(format string, args ...any)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets where watch errors are reported.
func WithLogger(l Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithIgnoreDir skips an additional absolute directory (for example the
// output directory when it lives inside the input directory).
func WithIgnoreDir(path string) Option {
	return func(w *Watcher) {
		if abs, err := filepath.Abs(path); err == nil {
			w.ignorePaths = append(w.ignorePaths, abs)
		}
	}
}

// Watcher watches a directory tree for HTML files.
type Watcher struct {
	fw          *fsnotify.Watcher
	done        chan struct{}
	stopped     bool
	mu          sync.Mutex
	wg          sync.WaitGroup
	log         Logger
	debounce    time.Duration
	ignorePaths []string
}

type discard struct{}

func (discard) Printf(string, ...any) {}

// New creates a watcher. Call Watch to start it and Stop to release it.
func New(opts ...Option) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fw:       fw,
		done:     make(chan struct{}),
		log:      discard{},
		debounce: DefaultDebounce,
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// IsHTML reports whether path has an .html or .htm extension.
func IsHTML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return true
	}
	return false
}

// Watch starts monitoring root recursively. onChange is called with the
// absolute path of each created or written HTML file, from a single
// goroutine owned by the watcher.
func (w *Watcher) Watch(root string, onChange func(path string)) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	err = filepath.Walk(absRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip inaccessible paths
		}
		if info.IsDir() {
			if path != absRoot && w.ignoredDir(path) {
				return filepath.SkipDir
			}
			return w.fw.Add(path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	w.wg.Add(1)
	go w.loop(onChange)
	return nil
}

func (w *Watcher) loop(onChange func(string)) {
	defer w.wg.Done()

	last := make(map[string]time.Time)
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			path := event.Name

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(path); err == nil && info.IsDir() {
					if !w.ignoredDir(path) {
						if err := w.fw.Add(path); err != nil {
							w.log.Printf("dirwatch: add %s: %v", path, err)
						}
					}
					continue
				}
			}

			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !IsHTML(path) || w.ignoredPath(path) {
				continue
			}

			now := time.Now()
			if t, seen := last[path]; seen && now.Sub(t) < w.debounce {
				continue
			}
			last[path] = now
			onChange(path)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Printf("dirwatch: %v", err)

		case <-w.done:
			return
		}
	}
}

// Stop ends monitoring and waits for the callback goroutine to exit.
// Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.done)
	err := w.fw.Close()
	w.mu.Unlock()

	w.wg.Wait()
	return err
}

func (w *Watcher) ignoredDir(path string) bool {
	return ignoreDirs[filepath.Base(path)] || w.ignoredPath(path)
}

func (w *Watcher) ignoredPath(path string) bool {
	for _, p := range w.ignorePaths {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if ignoreDirs[part] {
			return true
		}
	}
	return false
}
