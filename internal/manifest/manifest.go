// Package manifest parses, validates and caches the per-game descriptor
// documents that declare a game's identity, entry point and betting limits.
package manifest

import (
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MJE43/minigame-playground/internal/domain"
)

var (
	idPattern      = regexp.MustCompile(`^[a-z0-9-]+$`)
	versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?(\+[0-9A-Za-z.-]+)?$`)
)

// Manifest describes one pluggable game. A validated Manifest is treated as
// immutable; the loader hands out copies.
type Manifest struct {
	ID           string          `json:"id" yaml:"id"`
	Version      string          `json:"version" yaml:"version"`
	Name         string          `json:"name" yaml:"name"`
	Main         string          `json:"main" yaml:"main"`
	Description  string          `json:"description,omitempty" yaml:"description,omitempty"`
	Author       string          `json:"author,omitempty" yaml:"author,omitempty"`
	Category     domain.Category `json:"category,omitempty" yaml:"category,omitempty"`
	Config       *GameConfig     `json:"config,omitempty" yaml:"config,omitempty"`
	Thumbnail    string          `json:"thumbnail,omitempty" yaml:"thumbnail,omitempty"`
	Tags         []string        `json:"tags,omitempty" yaml:"tags,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Assets       []string        `json:"assets,omitempty" yaml:"assets,omitempty"`
}

// GameConfig carries the optional betting parameters. Nil numbers are unset.
type GameConfig struct {
	MinBet           *float64         `json:"minBet,omitempty" yaml:"minBet,omitempty"`
	MaxBet           *float64         `json:"maxBet,omitempty" yaml:"maxBet,omitempty"`
	DefaultBet       *float64         `json:"defaultBet,omitempty" yaml:"defaultBet,omitempty"`
	DefaultRiskLevel domain.RiskLevel `json:"defaultRiskLevel,omitempty" yaml:"defaultRiskLevel,omitempty"`
	Settings         map[string]any   `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// ValidationError reports the first schema violation found.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifest: invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Format is the encoding of a manifest document.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor picks the format from a file extension; unknown extensions are JSON.
func FormatFor(p string) Format {
	switch strings.ToLower(path.Ext(p)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// IsManifestPath reports whether p names a manifest document.
func IsManifestPath(p string) bool {
	switch strings.ToLower(path.Base(strings.ReplaceAll(p, "\\", "/"))) {
	case "manifest.json", "manifest.yaml", "manifest.yml":
		return true
	}
	return false
}

// Parse decodes and validates a manifest document.
func Parse(data []byte, format Format) (*Manifest, error) {
	raw := map[string]any{}
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("manifest: parse yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("manifest: parse json: %w", err)
		}
	}
	if err := validateRaw(raw); err != nil {
		return nil, err
	}

	// Re-encode the checked document so both formats share one decoder.
	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("manifest: normalize: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(normalized, &m); err != nil {
		return nil, fmt.Errorf("manifest: decode: %w", err)
	}
	return &m, nil
}

// Validate checks a typed manifest against the same rules Parse applies.
func Validate(m *Manifest) error {
	if m == nil {
		return invalid("manifest", "is nil")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("manifest: decode: %w", err)
	}
	return validateRaw(raw)
}

func validateRaw(raw map[string]any) error {
	for _, field := range []string{"id", "version", "name", "main"} {
		v, ok := raw[field]
		if !ok || v == nil {
			return invalid(field, "field is required")
		}
		if _, ok := v.(string); !ok {
			return invalid(field, "must be a string, got %T", v)
		}
	}

	id := raw["id"].(string)
	if !idPattern.MatchString(id) {
		return invalid("id", "%q must contain only lowercase letters, digits and hyphens", id)
	}
	version := raw["version"].(string)
	if !versionPattern.MatchString(version) {
		return invalid("version", "%q is not a semantic version (MAJOR.MINOR.PATCH)", version)
	}
	if strings.TrimSpace(raw["name"].(string)) == "" {
		return invalid("name", "must not be empty")
	}
	if strings.TrimSpace(raw["main"].(string)) == "" {
		return invalid("main", "must not be empty")
	}

	if v, ok := raw["category"]; ok && v != nil {
		s, isStr := v.(string)
		if !isStr || !domain.Category(s).Valid() {
			return invalid("category", "%v is not one of dice, card, slot, table, other", v)
		}
	}

	for _, field := range []string{"description", "author", "thumbnail"} {
		if v, ok := raw[field]; ok && v != nil {
			if _, isStr := v.(string); !isStr {
				return invalid(field, "must be a string, got %T", v)
			}
		}
	}
	for _, field := range []string{"tags", "dependencies", "assets"} {
		if err := checkStringList(raw, field); err != nil {
			return err
		}
	}

	cfgRaw, ok := raw["config"]
	if !ok || cfgRaw == nil {
		return nil
	}
	cfg, ok := cfgRaw.(map[string]any)
	if !ok {
		return invalid("config", "must be an object, got %T", cfgRaw)
	}
	return validateConfig(cfg)
}

func validateConfig(cfg map[string]any) error {
	nums := map[string]float64{}
	for _, field := range []string{"minBet", "maxBet", "defaultBet"} {
		v, ok := cfg[field]
		if !ok || v == nil {
			continue
		}
		n, isNum := toFloat(v)
		if !isNum {
			return invalid("config."+field, "must be a number, got %T", v)
		}
		if n < 0 {
			return invalid("config."+field, "must be non-negative, got %v", n)
		}
		nums[field] = n
	}

	minBet, hasMin := nums["minBet"]
	maxBet, hasMax := nums["maxBet"]
	// a zero maxBet means no maximum
	bounded := hasMax && maxBet > 0
	if hasMin && bounded && minBet > maxBet {
		return invalid("config.minBet", "%v exceeds maxBet %v", minBet, maxBet)
	}
	if def, ok := nums["defaultBet"]; ok {
		if hasMin && def < minBet {
			return invalid("config.defaultBet", "%v is below minBet %v", def, minBet)
		}
		if bounded && def > maxBet {
			return invalid("config.defaultBet", "%v exceeds maxBet %v", def, maxBet)
		}
	}

	if v, ok := cfg["defaultRiskLevel"]; ok && v != nil {
		s, isStr := v.(string)
		if !isStr || !domain.RiskLevel(s).Valid() {
			return invalid("config.defaultRiskLevel", "%v is not one of low, medium, high", v)
		}
	}
	if v, ok := cfg["settings"]; ok && v != nil {
		if _, isMap := v.(map[string]any); !isMap {
			return invalid("config.settings", "must be an object, got %T", v)
		}
	}
	return nil
}

func checkStringList(raw map[string]any, field string) error {
	v, ok := raw[field]
	if !ok || v == nil {
		return nil
	}
	list, isList := v.([]any)
	if !isList {
		return invalid(field, "must be a list of strings, got %T", v)
	}
	for i, item := range list {
		if _, isStr := item.(string); !isStr {
			return invalid(fmt.Sprintf("%s[%d]", field, i), "must be a string, got %T", item)
		}
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// Clone returns a deep copy of m.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	out := *m
	out.Tags = append([]string(nil), m.Tags...)
	out.Dependencies = append([]string(nil), m.Dependencies...)
	out.Assets = append([]string(nil), m.Assets...)
	if m.Config != nil {
		cfg := *m.Config
		cfg.MinBet = cloneFloat(m.Config.MinBet)
		cfg.MaxBet = cloneFloat(m.Config.MaxBet)
		cfg.DefaultBet = cloneFloat(m.Config.DefaultBet)
		if m.Config.Settings != nil {
			// settings are decoded JSON values, a JSON round trip copies them
			if data, err := json.Marshal(m.Config.Settings); err == nil {
				var s map[string]any
				if json.Unmarshal(data, &s) == nil {
					cfg.Settings = s
				}
			}
		}
		out.Config = &cfg
	}
	return &out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// Limits resolves the manifest betting bounds over fallback. Declared
// bounds win: a fallback bound that conflicts with one moves to meet it, and
// the default bet is clamped into the result, so a valid manifest always
// yields valid limits.
func (m *Manifest) Limits(fallback domain.Limits) domain.Limits {
	out := fallback
	if m == nil || m.Config == nil {
		return out
	}
	c := m.Config
	if c.MinBet != nil {
		out.MinBet = *c.MinBet
	}
	if c.MaxBet != nil {
		out.MaxBet = *c.MaxBet
	}
	if c.DefaultBet != nil {
		out.DefaultBet = *c.DefaultBet
	}
	if out.MaxBet > 0 && out.MinBet > out.MaxBet {
		if c.MinBet != nil {
			out.MaxBet = out.MinBet
		} else {
			out.MinBet = out.MaxBet
		}
	}
	if out.DefaultBet != 0 {
		out.DefaultBet = out.Clamp(out.DefaultBet)
	}
	return out
}

// RiskLevel returns the manifest default risk, or fallback when unset.
func (m *Manifest) RiskLevel(fallback domain.RiskLevel) domain.RiskLevel {
	if m == nil || m.Config == nil || m.Config.DefaultRiskLevel == "" {
		return fallback
	}
	return m.Config.DefaultRiskLevel
}

// Settings returns the free-form game settings, never nil.
func (m *Manifest) Settings() map[string]any {
	if m == nil || m.Config == nil || m.Config.Settings == nil {
		return map[string]any{}
	}
	return m.Clone().Config.Settings
}
