// Package config reads node settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/DoyleJ11/cogbench/internal/engine"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

var ErrInvalidConfig = errors.New("invalid config")

const (
	SinkJSON     = "json"
	SinkBolt     = "bolt"
	SinkPostgres = "postgres"
	SinkMemory   = "memory"
)

type Config struct {
	Role          string        `env:"BENCH_ROLE" envDefault:"controller"`
	Port          int           `env:"BENCH_PORT" envDefault:"7350"`
	ServiceType   string        `env:"BENCH_SERVICE_TYPE" envDefault:"_vision._tcp"`
	Domain        string        `env:"BENCH_DOMAIN" envDefault:"local."`
	DisplayName   string        `env:"BENCH_DISPLAY_NAME"`
	DataDir       string        `env:"BENCH_DATA_DIR" envDefault:"./data"`
	Sink          string        `env:"BENCH_SINK" envDefault:"json"`
	DatabaseURL   string        `env:"DATABASE_URL"`
	InviteTimeout time.Duration `env:"BENCH_INVITE_TIMEOUT" envDefault:"60s"`
	WriteTimeout  time.Duration `env:"BENCH_WRITE_TIMEOUT" envDefault:"5s"`
	Palette       []string      `env:"BENCH_PALETTE" envSeparator:","`
	Benchmarks    []string      `env:"BENCH_BENCHMARKS" envDefault:"Passthrough" envSeparator:","`
	AutoConnect   bool          `env:"BENCH_AUTO_CONNECT" envDefault:"true"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"info"`
	LogDev        bool          `env:"LOG_DEV" envDefault:"false"`
}

// Load reads .env when present, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return parse(env.Options{})
}

// FromMap parses vars instead of the process environment.
func FromMap(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs error
	fail := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if !c.EngineRole().Valid() {
		fail("BENCH_ROLE %q is not controller or headset", c.Role)
	}
	if c.Port < 1 || c.Port > 65535 {
		fail("BENCH_PORT %d out of range", c.Port)
	}
	if !slices.Contains([]string{SinkJSON, SinkBolt, SinkPostgres, SinkMemory}, c.Sink) {
		fail("BENCH_SINK %q is not one of json, bolt, postgres, memory", c.Sink)
	}
	if c.Sink == SinkPostgres && strings.TrimSpace(c.DatabaseURL) == "" {
		fail("DATABASE_URL is required for the postgres sink")
	}
	if strings.TrimSpace(c.ServiceType) == "" {
		fail("BENCH_SERVICE_TYPE is empty")
	}
	if c.InviteTimeout <= 0 || c.WriteTimeout <= 0 {
		fail("timeouts must be positive")
	}
	if len(c.Benchmarks) == 0 {
		fail("BENCH_BENCHMARKS is empty")
	}
	if _, err := c.ColorPalette(); err != nil {
		fail("BENCH_PALETTE: %v", err)
	}
	return errs
}

func (c Config) EngineRole() engine.Role { return engine.Role(c.Role) }

// ColorPalette parses BENCH_PALETTE, falling back to the default palette
// when it is unset.
func (c Config) ColorPalette() (engine.Palette, error) {
	if c.Palette == nil {
		return engine.DefaultPalette, nil
	}
	return engine.ParsePalette(c.Palette)
}

// Name is the display name advertised to peers.
func (c Config) Name() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	if c.EngineRole() == engine.RoleHeadset {
		return "MY_VISION"
	}
	return "MY_MAC"
}

func (c Config) Addr() string { return ":" + strconv.Itoa(c.Port) }

func (c Config) StorePath() string { return filepath.Join(c.DataDir, "bench.db") }

func (c Config) ResultsDir() string { return filepath.Join(c.DataDir, "results") }
