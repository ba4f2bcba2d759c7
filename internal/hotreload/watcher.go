package hotreload

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/MJE43/minigame-playground/internal/logging"
	"github.com/MJE43/minigame-playground/internal/manifest"
)

// Watcher scans a games directory and publishes a Notice for every file
// whose mtime or size changed since the previous scan.
type Watcher struct {
	root     string
	interval time.Duration
	publish  func(Notice)
	logger   *slog.Logger

	seen   map[string]string
	primed bool
}

func NewWatcher(root string, interval time.Duration, publish func(Notice), logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &Watcher{
		root:     root,
		interval: interval,
		publish:  publish,
		logger:   logging.OrDiscard(logger).With("component", "hotreload.watcher"),
		seen:     make(map[string]string),
	}
}

// Scan walks the tree once. The first scan only records the baseline.
func (w *Watcher) Scan() ([]Notice, error) {
	current := make(map[string]string)
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != w.root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(w.root, p)
		if err != nil {
			return err
		}
		current[filepath.ToSlash(rel)] = fmt.Sprintf("%d:%d", info.ModTime().UnixNano(), info.Size())
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("hotreload: scan %s: %w", w.root, err)
	}

	var out []Notice
	if w.primed {
		now := time.Now().UnixMilli()
		for p, marker := range current {
			if prev, ok := w.seen[p]; !ok || prev != marker {
				out = append(out, noticeFor(p, false, now))
			}
		}
		for p := range w.seen {
			if _, ok := current[p]; !ok {
				out = append(out, noticeFor(p, true, now))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	}
	w.seen = current
	w.primed = true
	return out, nil
}

// noticeFor guesses the game id from the first path segment.
func noticeFor(p string, removed bool, now int64) Notice {
	n := Notice{Type: NoticeFile, Path: p, Removed: removed, Time: now}
	if manifest.IsManifestPath(p) {
		n.Type = NoticeManifest
	}
	if i := strings.IndexByte(p, '/'); i > 0 {
		n.GameID = p[:i]
	}
	return n
}

// Run scans every interval until ctx ends.
func (w *Watcher) Run(ctx context.Context) {
	if _, err := w.Scan(); err != nil {
		w.logger.Warn("initial scan failed", "err", err)
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			notices, err := w.Scan()
			if err != nil {
				w.logger.Warn("scan failed", "err", err)
				continue
			}
			for _, n := range notices {
				w.logger.Debug("file changed", "path", n.Path, "type", n.Type, "removed", n.Removed)
				w.publish(n)
			}
		}
	}
}
