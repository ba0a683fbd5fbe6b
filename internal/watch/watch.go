// Package watch OCRs documents dropped into a directory and writes each
// transcript next to its source as <name>.ocr.md.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// SidecarExt is appended to the source name (minus its extension).
const SidecarExt = ".ocr.md"

// DefaultSettle is how long a file must stay quiet before processing.
const DefaultSettle = 2 * time.Second

// Handler turns a document into its transcript.
type Handler func(ctx context.Context, path string) (string, error)

// Config configures a Watcher.
type Config struct {
	// Dir is the directory to watch (not recursive).
	Dir string

	// Patterns selects files by base name (default: *.pdf).
	Patterns []string

	// Settle delays processing until writes stop (default: 2s).
	Settle time.Duration

	// ProcessExisting handles files already in Dir whose sidecar is
	// missing or older than the source.
	ProcessExisting bool

	// Handler produces the transcript (required).
	Handler Handler

	Logger *slog.Logger
}

// Watcher processes matching files as they appear. Files are handled one
// at a time in arrival order.
type Watcher struct {
	dir      string
	patterns []string
	settle   time.Duration
	existing bool
	handler  Handler
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a watcher.
func New(cfg Config) (*Watcher, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("directory is required")
	}
	if len(cfg.Patterns) == 0 {
		cfg.Patterns = []string{"*.pdf"}
	}
	for _, p := range cfg.Patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Watcher{
		dir:      cfg.Dir,
		patterns: cfg.Patterns,
		settle:   cfg.Settle,
		existing: cfg.ProcessExisting,
		handler:  cfg.Handler,
		logger:   cfg.Logger,
		pending:  make(map[string]*time.Timer),
	}, nil
}

// SidecarPath returns where the transcript of path is written.
func SidecarPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + SidecarExt
}

// Run watches until ctx is cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	st, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("cannot watch %s: %w", w.dir, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("cannot watch %s: not a directory", w.dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	queue := make(chan string, 256)
	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.worker(ctx, queue)
	}()
	defer wg.Wait()
	defer w.stopPending()
	defer cancel()

	if w.existing {
		if err := w.enqueueExisting(ctx, queue); err != nil {
			return err
		}
	}

	w.logger.Info("watching directory", "dir", w.dir, "patterns", w.patterns)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if w.matches(ev.Name) {
				w.schedule(ctx, ev.Name, queue)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "dir", w.dir, "error", err)
		}
	}
}

func (w *Watcher) matches(path string) bool {
	base := filepath.Base(path)
	if strings.HasSuffix(base, SidecarExt) || strings.HasPrefix(base, ".") {
		return false
	}
	for _, p := range w.patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

// schedule (re)arms the settle timer for path.
func (w *Watcher) schedule(ctx context.Context, path string, queue chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case queue <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) enqueueExisting(ctx context.Context, queue chan<- string) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", w.dir, err)
	}
	for _, e := range entries {
		path := filepath.Join(w.dir, e.Name())
		if e.IsDir() || !w.matches(path) || !needsProcessing(path) {
			continue
		}
		select {
		case queue <- path:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func (w *Watcher) worker(ctx context.Context, queue <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-queue:
			w.process(ctx, path)
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		w.logger.Debug("file vanished before processing", "path", path)
		return
	}

	start := time.Now()
	w.logger.Info("processing file", "path", path)
	text, err := w.handler(ctx, path)
	if err != nil {
		w.logger.Error("processing failed", "path", path, "error", err)
		return
	}

	out := SidecarPath(path)
	if err := writeAtomic(out, []byte(text)); err != nil {
		w.logger.Error("failed to write transcript", "path", out, "error", err)
		return
	}
	w.logger.Info("transcript written", "path", out, "chars", len(text), "elapsed", time.Since(start))
}

// needsProcessing reports whether path has no sidecar or a stale one.
func needsProcessing(path string) bool {
	src, err := os.Stat(path)
	if err != nil {
		return false
	}
	out, err := os.Stat(SidecarPath(path))
	if err != nil {
		return true
	}
	return out.ModTime().Before(src.ModTime())
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dococr-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
