// Package config carrega a configuração do agente por variáveis de ambiente.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	// Control plane exposed to the host shell.
	HTTPAddr string `env:"HTTP_ADDR" envDefault:"127.0.0.1:7780"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Remote backend (opaque collaborator; we only hold its base URL).
	BackendURL string `env:"BACKEND_URL,required,notEmpty"`

	// Local key-value store. "sqlite" (default, file-backed) or "redis".
	StoreDriver string `env:"STORE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"join-sentinel.db"`
	RedisDSN    string `env:"REDIS_DSN" envDefault:"redis://localhost:6379/0"`

	// Credential-at-rest encryption key, base64, 32 bytes decoded.
	EncryptionKeyRaw string `env:"ENCRYPTION_KEY"`
	EncryptionKey    []byte `env:"-"`

	// Token capture.
	LoginURL      string        `env:"LOGIN_URL" envDefault:"https://discord.com/login"`
	TargetDomain  string        `env:"TARGET_DOMAIN" envDefault:"discord.com"`
	ProbeInterval time.Duration `env:"PROBE_INTERVAL" envDefault:"500ms"`
	ProbeSettle   time.Duration `env:"PROBE_SETTLE" envDefault:"1s"`
	CaptureBudget time.Duration `env:"CAPTURE_BUDGET" envDefault:"30s"`

	// Reconciler.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"2s"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"8s"`
	SweepEvery   time.Duration `env:"SWEEP_EVERY" envDefault:"30s"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed: %w", err)
	}

	if cfg.EncryptionKeyRaw != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.EncryptionKeyRaw)
		if err != nil {
			return Config{}, errors.New("ENCRYPTION_KEY must be valid base64")
		}
		if len(key) != 32 {
			return Config{}, errors.New("ENCRYPTION_KEY must be 32 bytes (256 bits)")
		}
		cfg.EncryptionKey = key
	}

	switch cfg.StoreDriver {
	case "sqlite", "redis":
	default:
		return Config{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}

	// The 2s-10s band observed across client iterations; anything outside it
	// is a misconfiguration, not a tuning choice.
	if cfg.PollInterval < 2*time.Second || cfg.PollInterval > 10*time.Second {
		return Config{}, errors.New("POLL_INTERVAL must be between 2s and 10s")
	}

	return cfg, nil
}
