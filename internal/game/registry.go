package game

import (
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/MJE43/minigame-playground/internal/manifest"
)

// Factory builds fresh rules for one instance of a manifest.
type Factory func(m *manifest.Manifest) (Rules, error)

// Registry maps manifest entry references to rule factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	byExt     map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		byExt:     make(map[string]Factory),
	}
}

// Register binds name to f. Registering a name twice panics.
func (r *Registry) Register(name string, f Factory) {
	if name == "" || f == nil {
		panic("game: Register with empty name or nil factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.factories[name]; dup {
		panic("game: Register called twice for " + name)
	}
	r.factories[name] = f
}

// RegisterExt binds f to every entry with the given extension (".js") that
// has no named factory.
func (r *Registry) RegisterExt(ext string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byExt[ext]; dup {
		panic("game: RegisterExt called twice for " + ext)
	}
	r.byExt[ext] = f
}

// Resolve finds the factory for a manifest entry such as "dice" or "dice.js".
func (r *Registry) Resolve(entry string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.factories[entry]; ok {
		return f, nil
	}
	base := path.Base(entry)
	ext := path.Ext(base)
	if f, ok := r.factories[strings.TrimSuffix(base, ext)]; ok {
		return f, nil
	}
	if f, ok := r.byExt[ext]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("game: no factory for entry %q", entry)
}

// Create resolves m.Main and wraps fresh rules in a Runtime.
func (r *Registry) Create(m *manifest.Manifest, logger *slog.Logger) (*Runtime, error) {
	f, err := r.Resolve(m.Main)
	if err != nil {
		return nil, err
	}
	rules, err := f(m)
	if err != nil {
		return nil, fmt.Errorf("game: create %s: %w", m.ID, err)
	}
	return NewRuntime(m, rules, logger), nil
}

// Names lists the registered factory names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
