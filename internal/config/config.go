package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"attempt-engine/internal/app"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port" env:"PORT"`
		// AllowedOrigins enables CORS for browser clients. Empty disables it.
		AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	} `yaml:"server" envPrefix:"SERVER_"`
	Log struct {
		Level  string `yaml:"level" env:"LEVEL"`
		Pretty bool   `yaml:"pretty" env:"PRETTY"`
	} `yaml:"log" envPrefix:"LOG_"`
	Redis struct {
		Addr     string `yaml:"addr" env:"ADDR"`
		Password string `yaml:"password" env:"PASSWORD"`
		DB       int    `yaml:"db" env:"DB"`
		TTL      string `yaml:"ttl" env:"TTL"`
	} `yaml:"redis" envPrefix:"REDIS_"`
	Postgres struct {
		URL string `yaml:"url" env:"URL"`
	} `yaml:"postgres" envPrefix:"POSTGRES_"`
	Quiz struct {
		TTL string `yaml:"ttl" env:"TTL"`
	} `yaml:"quiz" envPrefix:"QUIZ_"`
	Engine struct {
		Tick                string  `yaml:"tick" env:"TICK"`
		ReconcileInterval   string  `yaml:"reconcile_interval" env:"RECONCILE_INTERVAL"`
		AutosaveDebounce    string  `yaml:"autosave_debounce" env:"AUTOSAVE_DEBOUNCE"`
		AutosaveMaxFailures *int    `yaml:"autosave_max_failures" env:"AUTOSAVE_MAX_FAILURES"`
		PassThreshold       float64 `yaml:"pass_threshold" env:"PASS_THRESHOLD"`
		// StoreURL points the engine at a remote store API instead of the
		// local store.
		StoreURL string `yaml:"store_url" env:"STORE_URL"`
	} `yaml:"engine" envPrefix:"ENGINE_"`
}

// Load reads YAML config from path, then applies environment overrides.
// A missing file is not an error; the environment and defaults still apply.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing environment: %w", err)
	}
	return cfg, nil
}

// EngineOptions converts the engine section into app.Options, keeping the
// defaults for anything unset.
func (c Config) EngineOptions() app.Options {
	opts := app.DefaultOptions()
	opts.TickInterval = TTLDuration(c.Engine.Tick, opts.TickInterval)
	opts.ReconcileInterval = TTLDuration(c.Engine.ReconcileInterval, opts.ReconcileInterval)
	opts.AutosaveDebounce = TTLDuration(c.Engine.AutosaveDebounce, opts.AutosaveDebounce)
	if c.Engine.AutosaveMaxFailures != nil {
		opts.AutosaveMaxFailures = *c.Engine.AutosaveMaxFailures
	}
	if c.Engine.PassThreshold > 0 {
		opts.PassThreshold = c.Engine.PassThreshold
	}
	return opts
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
