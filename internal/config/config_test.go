package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/DoyleJ11/cogbench/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromMap_Defaults(t *testing.T) {
	cfg, err := FromMap(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, engine.RoleController, cfg.EngineRole())
	assert.Equal(t, 7350, cfg.Port)
	assert.Equal(t, ":7350", cfg.Addr())
	assert.Equal(t, "_vision._tcp", cfg.ServiceType)
	assert.Equal(t, "local.", cfg.Domain)
	assert.Equal(t, SinkJSON, cfg.Sink)
	assert.Equal(t, 60*time.Second, cfg.InviteTimeout)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.Equal(t, []string{"Passthrough"}, cfg.Benchmarks)
	assert.True(t, cfg.AutoConnect)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "MY_MAC", cfg.Name())
	assert.Equal(t, filepath.Join("data", "bench.db"), filepath.Clean(cfg.StorePath()))

	p, err := cfg.ColorPalette()
	require.NoError(t, err)
	assert.Equal(t, engine.DefaultPalette, p)
}

func TestFromMap_Overrides(t *testing.T) {
	cfg, err := FromMap(map[string]string{
		"BENCH_ROLE":           "headset",
		"BENCH_PORT":           "9000",
		"BENCH_SINK":           "postgres",
		"DATABASE_URL":         "postgres://bench@localhost/bench",
		"BENCH_PALETTE":        "#000000,#ffffff",
		"BENCH_BENCHMARKS":     "Passthrough,Stereo",
		"BENCH_INVITE_TIMEOUT": "2s",
		"BENCH_AUTO_CONNECT":   "false",
	})
	require.NoError(t, err)

	assert.Equal(t, engine.RoleHeadset, cfg.EngineRole())
	assert.Equal(t, "MY_VISION", cfg.Name())
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.InviteTimeout)
	assert.Equal(t, []string{"Passthrough", "Stereo"}, cfg.Benchmarks)
	assert.False(t, cfg.AutoConnect)

	p, err := cfg.ColorPalette()
	require.NoError(t, err)
	assert.Equal(t, engine.Palette{engine.Black, engine.White}, p)
}

func TestFromMap_Rejects(t *testing.T) {
	tests := map[string]map[string]string{
		"role":         {"BENCH_ROLE": "phone"},
		"sink":         {"BENCH_SINK": "s3"},
		"postgres url": {"BENCH_SINK": "postgres"},
		"bad hex":      {"BENCH_PALETTE": "#FF0000,banana"},
		"port":         {"BENCH_PORT": "0"},
		"timeout":      {"BENCH_WRITE_TIMEOUT": "-1s"},
		"not a number": {"BENCH_PORT": "many"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromMap(vars)
			assert.Error(t, err)
		})
	}
}

func TestValidate_EmptyPalette(t *testing.T) {
	cfg, err := FromMap(map[string]string{})
	require.NoError(t, err)

	cfg.Palette = []string{}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	err := Config{Role: "x", Sink: "y"}.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "BENCH_ROLE")
	assert.Contains(t, err.Error(), "BENCH_SINK")
	assert.Contains(t, err.Error(), "BENCH_PORT")
}
