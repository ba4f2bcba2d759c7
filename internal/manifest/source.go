package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Marker is a cheap change indicator for a path (mtime, Last-Modified, ETag).
type Marker string

// Source fetches manifest documents and their change markers.
type Source interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Stat(ctx context.Context, path string) (Marker, error)
	// List returns every manifest path the source can discover.
	List(ctx context.Context) ([]string, error)
}

// DirSource serves manifests from a directory tree. Paths are slash-separated
// and relative to Root, e.g. "dice-game/manifest.json".
type DirSource struct {
	Root string
}

func NewDirSource(root string) *DirSource {
	return &DirSource{Root: root}
}

func (d *DirSource) abs(p string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("manifest: path %q escapes source root", p)
	}
	return filepath.Join(d.Root, clean), nil
}

func (d *DirSource) Read(_ context.Context, p string) ([]byte, error) {
	full, err := d.abs(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("manifest: read %s: %w", p, err)
	}
	return data, nil
}

func (d *DirSource) Stat(_ context.Context, p string) (Marker, error) {
	full, err := d.abs(p)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		return "", fmt.Errorf("manifest: stat %s: %w", p, err)
	}
	return Marker(fmt.Sprintf("%d:%d", info.ModTime().UnixNano(), info.Size())), nil
}

func (d *DirSource) List(_ context.Context) ([]string, error) {
	var out []string
	err := filepath.WalkDir(d.Root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if p != d.Root && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsManifestPath(entry.Name()) {
			return nil
		}
		rel, err := filepath.Rel(d.Root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("manifest: list %s: %w", d.Root, err)
	}
	sort.Strings(out)
	return out, nil
}

// HTTPSource fetches manifests from a web server. The index document at
// IndexPath lists manifest paths as a JSON array of strings.
type HTTPSource struct {
	BaseURL   string
	IndexPath string
	Client    *http.Client
}

func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		IndexPath: "index.json",
		Client:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (h *HTTPSource) url(p string) string {
	return h.BaseURL + "/" + strings.TrimLeft(p, "/")
}

func (h *HTTPSource) do(ctx context.Context, method, p string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.url(p), nil)
	if err != nil {
		return nil, fmt.Errorf("manifest: build request: %w", err)
	}
	// force revalidation so cached copies never hide an edit
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("manifest: %s %s: %w", method, p, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("manifest: %s %s: unexpected status %d", method, p, resp.StatusCode)
	}
	return resp, nil
}

func (h *HTTPSource) Read(ctx context.Context, p string) ([]byte, error) {
	resp, err := h.do(ctx, http.MethodGet, p)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("manifest: read body %s: %w", p, err)
	}
	return data, nil
}

func (h *HTTPSource) Stat(ctx context.Context, p string) (Marker, error) {
	resp, err := h.do(ctx, http.MethodHead, p)
	if err != nil {
		return "", err
	}
	resp.Body.Close()
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		return Marker(lm), nil
	}
	if etag := resp.Header.Get("ETag"); etag != "" {
		return Marker(etag), nil
	}
	return "", fmt.Errorf("manifest: %s has no Last-Modified or ETag header", p)
}

func (h *HTTPSource) List(ctx context.Context) ([]string, error) {
	data, err := h.Read(ctx, h.IndexPath)
	if err != nil {
		return nil, err
	}
	var paths []string
	if err := json.Unmarshal(data, &paths); err != nil {
		return nil, fmt.Errorf("manifest: decode index: %w", err)
	}
	return paths, nil
}
