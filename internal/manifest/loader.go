package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MJE43/minigame-playground/internal/logging"
)

// ErrNotFound is returned when no cached manifest carries the requested id.
var ErrNotFound = errors.New("manifest: not found")

const loadConcurrency = 8

// Loader caches validated manifests keyed by path. Cache entries change only
// through LoadManifest and InvalidateCache; a failed refresh never evicts a
// previously valid entry.
type Loader struct {
	src    Source
	logger *slog.Logger

	mu       sync.RWMutex
	cache    map[string]*Manifest
	observed map[string]Marker
}

// NewLoader creates a loader over src.
func NewLoader(src Source, logger *slog.Logger) *Loader {
	return &Loader{
		src:      src,
		logger:   logging.OrDiscard(logger).With("component", "manifest"),
		cache:    make(map[string]*Manifest),
		observed: make(map[string]Marker),
	}
}

// Source returns the underlying source.
func (l *Loader) Source() Source { return l.src }

// LoadManifest returns the manifest at path, fetching and validating it on a
// cache miss or when forceRefresh is set.
func (l *Loader) LoadManifest(ctx context.Context, path string, forceRefresh bool) (*Manifest, error) {
	if !forceRefresh {
		l.mu.RLock()
		m, ok := l.cache[path]
		l.mu.RUnlock()
		if ok {
			return m.Clone(), nil
		}
	}

	marker, err := l.src.Stat(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("manifest: load %s: %w", path, err)
	}
	data, err := l.src.Read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("manifest: load %s: %w", path, err)
	}
	m, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("manifest: load %s: %w", path, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for otherPath, other := range l.cache {
		if otherPath != path && other.ID == m.ID {
			return nil, fmt.Errorf("manifest: load %s: id %q already declared by %s", path, m.ID, otherPath)
		}
	}
	l.cache[path] = m
	l.observed[path] = marker
	l.logger.Debug("manifest loaded", "path", path, "id", m.ID, "version", m.Version)
	return m.Clone(), nil
}

// LoadManifests loads paths concurrently. Failures are logged and the path is
// left out of the result; the order of successful results follows paths.
func (l *Loader) LoadManifests(ctx context.Context, paths []string) []*Manifest {
	results := make([]*Manifest, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			m, err := l.LoadManifest(gctx, p, false)
			if err != nil {
				l.logger.Warn("manifest skipped", "path", p, "err", err)
				return nil
			}
			results[i] = m
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*Manifest, 0, len(paths))
	for _, m := range results {
		if m != nil {
			out = append(out, m)
		}
	}
	return out
}

// Discover lists manifest paths known to the source.
func (l *Loader) Discover(ctx context.Context) ([]string, error) {
	return l.src.List(ctx)
}

// CheckForUpdates reports whether path changed since it was last observed.
// A path never observed before always reports true.
func (l *Loader) CheckForUpdates(ctx context.Context, path string) (bool, error) {
	marker, err := l.src.Stat(ctx, path)
	if err != nil {
		return false, fmt.Errorf("manifest: check %s: %w", path, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	prev, seen := l.observed[path]
	l.observed[path] = marker
	return !seen || prev != marker, nil
}

// CheckAllForUpdates checks every cached and discoverable path and returns the
// changed ones in sorted order. Per-path errors are logged and skipped; a
// discovery failure is returned together with the changed cached paths.
func (l *Loader) CheckAllForUpdates(ctx context.Context) ([]string, error) {
	set := map[string]struct{}{}
	l.mu.RLock()
	for p := range l.cache {
		set[p] = struct{}{}
	}
	l.mu.RUnlock()

	listed, err := l.src.List(ctx)
	if err != nil {
		l.logger.Warn("manifest discovery failed", "err", err)
	}
	for _, p := range listed {
		set[p] = struct{}{}
	}

	var changed []string
	for p := range set {
		ok, err := l.CheckForUpdates(ctx, p)
		if err != nil {
			l.logger.Warn("manifest check failed", "path", p, "err", err)
			continue
		}
		if ok {
			changed = append(changed, p)
		}
	}
	sort.Strings(changed)
	return changed, err
}

// InvalidateCache drops the given paths, or every entry when none are given.
func (l *Loader) InvalidateCache(paths ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(paths) == 0 {
		l.cache = make(map[string]*Manifest)
		l.observed = make(map[string]Marker)
		return
	}
	for _, p := range paths {
		delete(l.cache, p)
		delete(l.observed, p)
	}
}

// Lookup finds a cached manifest by game id and returns it with its path.
func (l *Loader) Lookup(id string) (*Manifest, string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for p, m := range l.cache {
		if m.ID == id {
			return m.Clone(), p, nil
		}
	}
	return nil, "", fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Cached reports whether path has a cached manifest.
func (l *Loader) Cached(path string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.cache[path]
	return ok
}

// All returns every cached manifest ordered by id.
func (l *Loader) All() []*Manifest {
	l.mu.RLock()
	out := make([]*Manifest, 0, len(l.cache))
	for _, m := range l.cache {
		out = append(out, m.Clone())
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
