package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MJE43/minigame-playground/internal/betting"
	"github.com/MJE43/minigame-playground/internal/domain"
)

const (
	keySettings  = "admin:settings"
	defaultTheme = "dark"
)

// Settings are the global playground settings.
type Settings struct {
	betting.Defaults
	Theme string `json:"theme"`
}

func (st Settings) Validate() error {
	if err := st.Defaults.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	switch st.Theme {
	case "dark", "light":
		return nil
	}
	return fmt.Errorf("%w: unknown theme %q", ErrInvalidSettings, st.Theme)
}

// LoadSettings returns the saved settings, or the start-up defaults when
// nothing is saved.
func (s *Service) LoadSettings(ctx context.Context) (Settings, error) {
	if s.opts.Store == nil {
		return s.current(), nil
	}
	raw, ok, err := s.opts.Store.Get(ctx, keySettings)
	if err != nil {
		return Settings{}, fmt.Errorf("admin: load settings: %w", err)
	}
	if !ok {
		return s.current(), nil
	}
	st := s.defaults.clone()
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		s.logger.Warn("saved settings are corrupt, using defaults", "err", err)
		return s.defaults.clone(), nil
	}
	return st, nil
}

func (st Settings) clone() Settings {
	out := st
	out.RiskMultipliers = make(map[domain.RiskLevel]float64, len(st.RiskMultipliers))
	for r, m := range st.RiskMultipliers {
		out.RiskMultipliers[r] = m
	}
	return out
}

func (s *Service) current() Settings {
	return Settings{Defaults: s.opts.Betting.CurrentDefaults(), Theme: s.currentTheme()}
}

// SaveSettings validates st, applies it to the wallet and stores it.
func (s *Service) SaveSettings(ctx context.Context, st Settings) (Settings, error) {
	if st.Theme == "" {
		st.Theme = defaultTheme
	}
	if err := st.Validate(); err != nil {
		return Settings{}, err
	}
	if err := s.opts.Betting.ApplyDefaults(st.Defaults); err != nil {
		return Settings{}, err
	}
	s.setTheme(st.Theme)
	if s.opts.Store != nil {
		raw, err := json.Marshal(st)
		if err != nil {
			return Settings{}, fmt.Errorf("admin: encode settings: %w", err)
		}
		if err := s.opts.Store.Set(ctx, keySettings, string(raw)); err != nil {
			return Settings{}, fmt.Errorf("admin: save settings: %w", err)
		}
	}
	s.logger.Info("settings saved", "minBet", st.MinBet, "maxBet", st.MaxBet, "theme", st.Theme)
	return st, nil
}

// ResetSettings drops saved settings and restores the start-up defaults.
func (s *Service) ResetSettings(ctx context.Context) (Settings, error) {
	if s.opts.Store != nil {
		if err := s.opts.Store.Delete(ctx, keySettings); err != nil {
			return Settings{}, fmt.Errorf("admin: reset settings: %w", err)
		}
	}
	def := s.defaults.clone()
	if err := s.opts.Betting.ApplyDefaults(def.Defaults); err != nil {
		return Settings{}, err
	}
	s.setTheme(def.Theme)
	s.logger.Info("settings reset")
	return def, nil
}

// Restore applies saved settings at start-up.
func (s *Service) Restore(ctx context.Context) error {
	if s.opts.Store == nil {
		return nil
	}
	if _, ok, err := s.opts.Store.Get(ctx, keySettings); err != nil || !ok {
		return err
	}
	st, err := s.LoadSettings(ctx)
	if err != nil {
		return err
	}
	if err := st.Validate(); err != nil {
		s.logger.Warn("saved settings rejected, keeping defaults", "err", err)
		return nil
	}
	if err := s.opts.Betting.ApplyDefaults(st.Defaults); err != nil {
		return err
	}
	s.setTheme(st.Theme)
	return nil
}
