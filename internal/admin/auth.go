package admin

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/MJE43/minigame-playground/internal/config"
	"github.com/MJE43/minigame-playground/internal/logging"
)

var (
	ErrAuthDisabled = errors.New("admin: no admin password configured")
	ErrUnauthorized = errors.New("admin: unauthorized")
)

const (
	secretName = "jwt-signing-key"
	subject    = "admin"
)

// Token is an issued admin bearer token.
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Auth issues and checks HS256 admin tokens. The signing key lives in the
// secret store so tokens survive restarts.
type Auth struct {
	password string
	ttl      time.Duration
	secrets  SecretStore
	logger   *slog.Logger
	now      func() time.Time

	mu  sync.Mutex
	key []byte
}

func NewAuth(cfg config.AdminConfig, secrets SecretStore, logger *slog.Logger) *Auth {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Auth{
		password: cfg.Password,
		ttl:      ttl,
		secrets:  secrets,
		logger:   logging.OrDiscard(logger).With("component", "admin-auth"),
		now:      time.Now,
	}
}

// Enabled reports whether an admin password is configured.
func (a *Auth) Enabled() bool { return a.password != "" }

// Login checks password and issues a token.
func (a *Auth) Login(password string) (Token, error) {
	if !a.Enabled() {
		return Token{}, ErrAuthDisabled
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) != 1 {
		return Token{}, ErrUnauthorized
	}
	key, err := a.signingKey()
	if err != nil {
		return Token{}, err
	}
	now := a.now()
	exp := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return Token{}, fmt.Errorf("admin: sign token: %w", err)
	}
	return Token{Token: signed, ExpiresAt: exp.UTC()}, nil
}

// Verify accepts a token issued by Login that has not expired.
func (a *Auth) Verify(token string) error {
	if !a.Enabled() {
		return ErrAuthDisabled
	}
	key, err := a.signingKey()
	if err != nil {
		return err
	}
	_, err = jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(subject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

// Rotate replaces the signing key, invalidating every issued token.
func (a *Auth) Rotate() error {
	key, err := newKey()
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.store(key)
	a.key = key
	return nil
}

func (a *Auth) signingKey() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.key != nil {
		return a.key, nil
	}
	if a.secrets != nil {
		stored, err := a.secrets.Get(secretName)
		switch {
		case err == nil:
			if key, derr := hex.DecodeString(stored); derr == nil && len(key) > 0 {
				a.key = key
				return key, nil
			}
			a.logger.Warn("stored signing key is corrupt, generating a new one")
		case !errors.Is(err, ErrSecretNotFound):
			a.logger.Warn("secret store unavailable", "err", err)
		}
	}
	key, err := newKey()
	if err != nil {
		return nil, err
	}
	a.store(key)
	a.key = key
	return key, nil
}

// store persists key; a.mu must be held. Failures leave a process-local key.
func (a *Auth) store(key []byte) {
	if a.secrets == nil {
		return
	}
	if err := a.secrets.Set(secretName, hex.EncodeToString(key)); err != nil {
		a.logger.Warn("signing key not persisted, tokens end with the process", "err", err)
	}
}

func newKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("admin: generate signing key: %w", err)
	}
	return key, nil
}
