// Package config loads runtime settings from defaults, an optional YAML file,
// an optional .env file and PLAYGROUND_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MJE43/minigame-playground/internal/domain"
)

const envPrefix = "PLAYGROUND_"

// Config is the full runtime configuration.
type Config struct {
	Log       LogConfig       `yaml:"log" json:"log"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Betting   BettingConfig   `yaml:"betting" json:"betting"`
	State     StateConfig     `yaml:"state" json:"state"`
	Games     GamesConfig     `yaml:"games" json:"games"`
	HotReload HotReloadConfig `yaml:"hotReload" json:"hotReload"`
	API       APIConfig       `yaml:"api" json:"api"`
	Admin     AdminConfig     `yaml:"admin" json:"admin"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	JSON  bool   `yaml:"json" json:"json"`
}

// StorageConfig picks the durable key/value backend.
type StorageConfig struct {
	Driver    string `yaml:"driver" json:"driver"` // sqlite | redis | memory
	Path      string `yaml:"path" json:"path"`
	RedisAddr string `yaml:"redisAddr" json:"redisAddr"`
	RedisDB   int    `yaml:"redisDB" json:"redisDB"`
}

type BettingConfig struct {
	StartingBalance  float64                      `yaml:"startingBalance" json:"startingBalance"`
	DefaultBet       float64                      `yaml:"defaultBet" json:"defaultBet"`
	MinBet           float64                      `yaml:"minBet" json:"minBet"`
	MaxBet           float64                      `yaml:"maxBet" json:"maxBet"`
	DefaultRiskLevel domain.RiskLevel             `yaml:"defaultRiskLevel" json:"defaultRiskLevel"`
	RiskMultipliers  map[domain.RiskLevel]float64 `yaml:"riskMultipliers" json:"riskMultipliers"`
	MaxHistory       int                          `yaml:"maxHistory" json:"maxHistory"`
	Persist          bool                         `yaml:"persist" json:"persist"`
}

type StateConfig struct {
	MaxHistory int  `yaml:"maxHistory" json:"maxHistory"`
	Persist    bool `yaml:"persist" json:"persist"`
}

type GamesConfig struct {
	Dir           string        `yaml:"dir" json:"dir"`
	BaseURL       string        `yaml:"baseURL" json:"baseURL"`
	InitTimeout   time.Duration `yaml:"initTimeout" json:"initTimeout"`
	ActionTimeout time.Duration `yaml:"actionTimeout" json:"actionTimeout"`
	FrameInterval time.Duration `yaml:"frameInterval" json:"frameInterval"`
}

type HotReloadConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	PushURL        string        `yaml:"pushURL" json:"pushURL"`
	PollInterval   time.Duration `yaml:"pollInterval" json:"pollInterval"`
	ReconnectDelay time.Duration `yaml:"reconnectDelay" json:"reconnectDelay"`
	WatchInterval  time.Duration `yaml:"watchInterval" json:"watchInterval"`
}

type APIConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

type AdminConfig struct {
	Password       string        `yaml:"password" json:"-"`
	TokenTTL       time.Duration `yaml:"tokenTTL" json:"tokenTTL"`
	KeyringService string        `yaml:"keyringService" json:"keyringService"`
	FallbackPath   string        `yaml:"fallbackPath" json:"fallbackPath"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "playground.db",
		},
		Betting: BettingConfig{
			StartingBalance:  1000,
			DefaultBet:       10,
			MinBet:           1,
			MaxBet:           1000,
			DefaultRiskLevel: domain.RiskMedium,
			RiskMultipliers: map[domain.RiskLevel]float64{
				domain.RiskLow:    1.5,
				domain.RiskMedium: 3,
				domain.RiskHigh:   6,
			},
			MaxHistory: 100,
			Persist:    true,
		},
		State: StateConfig{
			MaxHistory: 50,
			Persist:    true,
		},
		Games: GamesConfig{
			Dir:           "games",
			InitTimeout:   10 * time.Second,
			ActionTimeout: 5 * time.Second,
			FrameInterval: time.Second / 60,
		},
		HotReload: HotReloadConfig{
			Enabled:        true,
			PollInterval:   2 * time.Second,
			ReconnectDelay: 5 * time.Second,
			WatchInterval:  time.Second,
		},
		API: APIConfig{Addr: "127.0.0.1:17890"},
		Admin: AdminConfig{
			TokenTTL:       12 * time.Hour,
			KeyringService: "minigame-playground",
		},
	}
}

// Load builds the configuration. path may be empty; a missing .env is ignored.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("config: load .env: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	b := c.Betting
	// a zero maxBet means no maximum
	if err := (domain.Limits{MinBet: b.MinBet, MaxBet: b.MaxBet, DefaultBet: b.DefaultBet}).Validate(); err != nil {
		return fmt.Errorf("config: betting: %w", err)
	}
	if !b.DefaultRiskLevel.Valid() {
		return fmt.Errorf("config: invalid betting.defaultRiskLevel %q", b.DefaultRiskLevel)
	}
	for _, r := range domain.RiskLevels {
		if _, ok := b.RiskMultipliers[r]; !ok {
			return fmt.Errorf("config: missing risk multiplier for %q", r)
		}
	}
	switch c.Storage.Driver {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	var firstErr error
	num := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
				return
			}
			*dst = f
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("config: %s%s: %w", envPrefix, key, err)
				return
			}
			*dst = b
		}
	}

	str("LOG_LEVEL", &cfg.Log.Level)
	flag("LOG_JSON", &cfg.Log.JSON)
	str("STORAGE_DRIVER", &cfg.Storage.Driver)
	str("STORAGE_PATH", &cfg.Storage.Path)
	str("REDIS_ADDR", &cfg.Storage.RedisAddr)
	num("STARTING_BALANCE", &cfg.Betting.StartingBalance)
	num("DEFAULT_BET", &cfg.Betting.DefaultBet)
	num("MIN_BET", &cfg.Betting.MinBet)
	num("MAX_BET", &cfg.Betting.MaxBet)
	if v, ok := os.LookupEnv(envPrefix + "DEFAULT_RISK"); ok {
		cfg.Betting.DefaultRiskLevel = domain.RiskLevel(strings.ToLower(strings.TrimSpace(v)))
	}
	str("GAMES_DIR", &cfg.Games.Dir)
	str("GAMES_URL", &cfg.Games.BaseURL)
	dur("INIT_TIMEOUT", &cfg.Games.InitTimeout)
	dur("ACTION_TIMEOUT", &cfg.Games.ActionTimeout)
	flag("HOT_RELOAD", &cfg.HotReload.Enabled)
	str("HOT_RELOAD_URL", &cfg.HotReload.PushURL)
	dur("POLL_INTERVAL", &cfg.HotReload.PollInterval)
	dur("RECONNECT_DELAY", &cfg.HotReload.ReconnectDelay)
	str("API_ADDR", &cfg.API.Addr)
	str("ADMIN_PASSWORD", &cfg.Admin.Password)
	str("ADMIN_FALLBACK_PATH", &cfg.Admin.FallbackPath)
	return firstErr
}
