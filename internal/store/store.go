// Package store provides the durable key/value storage behind the betting
// wallet, the game state history and the admin settings.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/MJE43/minigame-playground/internal/config"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// KV is a flat string key/value store. Get reports ok=false for a missing key.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Open returns the backend selected by cfg.Driver.
func Open(cfg config.StorageConfig) (KV, error) {
	switch cfg.Driver {
	case "", "sqlite":
		s, err := NewSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	case "redis":
		return NewRedis(cfg.RedisAddr, cfg.RedisDB, "playground:")
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
