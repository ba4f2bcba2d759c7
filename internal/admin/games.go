package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/MJE43/minigame-playground/internal/domain"
	"github.com/MJE43/minigame-playground/internal/manifest"
)

// GameRecord is a game as the admin surface lists it.
type GameRecord struct {
	Manifest *manifest.Manifest `json:"manifest"`
	Path     string             `json:"path"`
	Files    []string           `json:"files"`
}

// GameSettings are the editable manifest config fields. Nil fields are left
// as they are.
type GameSettings struct {
	MinBet           *float64         `json:"minBet,omitempty"`
	MaxBet           *float64         `json:"maxBet,omitempty"`
	DefaultBet       *float64         `json:"defaultBet,omitempty"`
	DefaultRiskLevel domain.RiskLevel `json:"defaultRiskLevel,omitempty"`
	Settings         map[string]any   `json:"settings,omitempty"`
}

// File is one uploaded file, named relative to the game folder.
type File struct {
	Name string
	Data []byte
}

// LoadGames rescans the games folder and lists every valid game.
func (s *Service) LoadGames(ctx context.Context) ([]GameRecord, error) {
	m := s.opts.Manifests
	paths, err := m.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("admin: list games: %w", err)
	}
	m.LoadManifests(ctx, paths)

	var out []GameRecord
	for _, g := range m.All() {
		_, p, err := m.Lookup(g.ID)
		if err != nil {
			continue
		}
		files, err := s.files(path.Dir(p))
		if err != nil {
			s.logger.Warn("listing game files failed", "game", g.ID, "err", err)
		}
		out = append(out, GameRecord{Manifest: g, Path: p, Files: files})
	}
	return out, nil
}

func (s *Service) files(dir string) ([]string, error) {
	if dir == "." {
		return nil, nil
	}
	base := s.abs(dir)
	var out []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(out)
	return out, err
}

func (s *Service) abs(rel string) string {
	return filepath.Join(s.opts.Root, filepath.FromSlash(rel))
}

func (s *Service) lookup(ctx context.Context, id string) (*manifest.Manifest, string, error) {
	m, p, err := s.opts.Manifests.Lookup(id)
	if errors.Is(err, manifest.ErrNotFound) {
		if _, lerr := s.LoadGames(ctx); lerr != nil {
			return nil, "", lerr
		}
		m, p, err = s.opts.Manifests.Lookup(id)
	}
	if err != nil {
		return nil, "", fmt.Errorf("admin: %s: %w", id, err)
	}
	return m, p, nil
}

// SaveGameSettings rewrites the config block of a game's manifest.
func (s *Service) SaveGameSettings(ctx context.Context, id string, gs GameSettings) (*manifest.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, p, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Config == nil {
		m.Config = &manifest.GameConfig{}
	}
	if gs.MinBet != nil {
		m.Config.MinBet = gs.MinBet
	}
	if gs.MaxBet != nil {
		m.Config.MaxBet = gs.MaxBet
	}
	if gs.DefaultBet != nil {
		m.Config.DefaultBet = gs.DefaultBet
	}
	if gs.DefaultRiskLevel != "" {
		m.Config.DefaultRiskLevel = gs.DefaultRiskLevel
	}
	if gs.Settings != nil {
		m.Config.Settings = gs.Settings
	}
	if err := manifest.Validate(m); err != nil {
		return nil, err
	}

	data, err := encode(m, manifest.FormatFor(p))
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(s.abs(p), data); err != nil {
		return nil, err
	}
	s.logger.Info("game settings saved", "game", id, "path", p)
	return s.opts.Manifests.LoadManifest(ctx, p, true)
}

func encode(m *manifest.Manifest, format manifest.Format) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if format == manifest.FormatYAML {
		data, err = yaml.Marshal(m)
	} else {
		data, err = json.MarshalIndent(m, "", "  ")
	}
	if err != nil {
		return nil, fmt.Errorf("admin: encode manifest: %w", err)
	}
	return data, nil
}

// writeAtomic replaces target through a sibling temp file.
func writeAtomic(target string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("admin: write %s: %w", target, err)
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("admin: write %s: %w", target, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("admin: write %s: %w", target, err)
	}
	return nil
}

// DeleteGame removes a game's folder and forgets its manifest.
func (s *Service) DeleteGame(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, p, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	dir := path.Dir(p)
	if dir == "." {
		return fmt.Errorf("%w: %s", ErrNoGameFolder, id)
	}
	if err := os.RemoveAll(s.abs(dir)); err != nil {
		return fmt.Errorf("admin: delete %s: %w", id, err)
	}
	s.opts.Manifests.InvalidateCache(p)
	s.logger.Info("game deleted", "game", id, "path", dir)
	return nil
}

// UploadGame installs a game folder. The files must include exactly one
// top-level manifest, which is validated before anything is written. The
// folder is staged and swapped in with a rename, replacing any previous
// version of the game.
func (s *Service) UploadGame(ctx context.Context, files []File) (*manifest.Manifest, error) {
	clean := make([]File, 0, len(files))
	var (
		m            *manifest.Manifest
		manifestName string
	)
	names := map[string]bool{}
	for _, f := range files {
		name, err := cleanName(f.Name)
		if err != nil {
			return nil, err
		}
		if names[name] {
			return nil, fmt.Errorf("%w: duplicate file %s", ErrInvalidUpload, name)
		}
		names[name] = true
		if !strings.Contains(name, "/") && manifest.IsManifestPath(name) {
			if m != nil {
				return nil, fmt.Errorf("%w: more than one manifest", ErrInvalidUpload)
			}
			parsed, err := manifest.Parse(f.Data, manifest.FormatFor(name))
			if err != nil {
				return nil, err
			}
			m, manifestName = parsed, name
		}
		clean = append(clean, File{Name: name, Data: f.Data})
	}
	if m == nil {
		return nil, fmt.Errorf("%w: no manifest", ErrInvalidUpload)
	}
	if strings.HasSuffix(strings.ToLower(m.Main), ".js") && !names[path.Clean(m.Main)] {
		return nil, fmt.Errorf("%w: entry %s is missing", ErrInvalidUpload, m.Main)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p := m.ID + "/" + manifestName
	_, old, err := s.opts.Manifests.Lookup(m.ID)
	if err == nil && path.Dir(old) != m.ID {
		return nil, fmt.Errorf("%w: game %s is installed at %s", ErrInvalidUpload, m.ID, old)
	}
	if err := s.install(m.ID, clean); err != nil {
		return nil, err
	}
	if old != "" && old != p {
		s.opts.Manifests.InvalidateCache(old)
	}
	s.logger.Info("game uploaded", "game", m.ID, "version", m.Version, "files", len(clean))
	return s.opts.Manifests.LoadManifest(ctx, p, true)
}

func (s *Service) install(id string, files []File) error {
	if err := os.MkdirAll(s.opts.Root, 0o755); err != nil {
		return fmt.Errorf("admin: install %s: %w", id, err)
	}
	staging := s.abs(".upload-" + uuid.NewString())
	for _, f := range files {
		full := filepath.Join(staging, filepath.FromSlash(f.Name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			os.RemoveAll(staging)
			return fmt.Errorf("admin: install %s: %w", id, err)
		}
		if err := os.WriteFile(full, f.Data, 0o644); err != nil {
			os.RemoveAll(staging)
			return fmt.Errorf("admin: install %s: %w", id, err)
		}
	}

	target := s.abs(id)
	var trash string
	if _, err := os.Stat(target); err == nil {
		trash = s.abs(".trash-" + uuid.NewString())
		if err := os.Rename(target, trash); err != nil {
			os.RemoveAll(staging)
			return fmt.Errorf("admin: install %s: %w", id, err)
		}
	}
	if err := os.Rename(staging, target); err != nil {
		if trash != "" {
			os.Rename(trash, target)
		}
		os.RemoveAll(staging)
		return fmt.Errorf("admin: install %s: %w", id, err)
	}
	if trash != "" {
		if err := os.RemoveAll(trash); err != nil {
			s.logger.Warn("removing replaced game failed", "game", id, "err", err)
		}
	}
	return nil
}

func cleanName(name string) (string, error) {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if name == "" || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: bad file name %q", ErrInvalidUpload, name)
	}
	name = path.Clean(name)
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." || strings.HasPrefix(seg, ".") || strings.Contains(seg, ":") {
			return "", fmt.Errorf("%w: bad file name %q", ErrInvalidUpload, name)
		}
	}
	return name, nil
}
