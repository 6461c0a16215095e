package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avolkov/document-intel-engine/internal/core/ports"
)

// ingestedDir is where successfully submitted files are moved so a
// restart never re-ingests them.
const ingestedDir = "ingested"

// Watcher polls an inbox directory and submits new files for
// processing. Polling keeps the watcher dependency-free and works on
// network mounts where inotify does not; staleness is bounded by the
// poll interval.
type Watcher struct {
	dir      string
	interval time.Duration
	ingestor ports.DocumentIngestor

	// settleDelay guards against picking up files still being written.
	settleDelay time.Duration
}

func New(dir string, interval time.Duration, ingestor ports.DocumentIngestor) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("watch dir is required")
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if err := os.MkdirAll(filepath.Join(dir, ingestedDir), 0o755); err != nil {
		return nil, fmt.Errorf("create ingested dir: %w", err)
	}
	return &Watcher{
		dir:         dir,
		interval:    interval,
		ingestor:    ingestor,
		settleDelay: 2 * time.Second,
	}, nil
}

// Run blocks until the context is canceled, scanning once per
// interval. Scan errors are logged, never fatal.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.Info("watcher_started", "dir", w.dir, "interval", w.interval.String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.scan(ctx); err != nil {
				slog.Warn("watch_scan_failed", "dir", w.dir, "error", err)
			}
		}
	}
}

func (w *Watcher) scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read watch dir: %w", err)
	}

	cutoff := time.Now().Add(-w.settleDelay)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := w.submit(ctx, entry.Name()); err != nil {
			slog.Warn("watch_ingest_failed", "file", entry.Name(), "error", err)
		}
	}
	return nil
}

func (w *Watcher) submit(ctx context.Context, name string) error {
	path := filepath.Join(w.dir, name)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open inbox file: %w", err)
	}

	doc, err := w.ingestor.Upload(ctx, name, "", f)
	f.Close()
	if err != nil {
		return fmt.Errorf("upload inbox file: %w", err)
	}

	if err := os.Rename(path, filepath.Join(w.dir, ingestedDir, name)); err != nil {
		return fmt.Errorf("archive inbox file: %w", err)
	}
	slog.Info("watch_ingested", "file", name, "document_id", doc.ID)
	return nil
}
