package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcintegrity/internal/arc"
	"arcintegrity/internal/logging"
	"arcintegrity/internal/seed"
	"arcintegrity/internal/verify"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, 1e-9, cfg.Verify.Tolerance)
	assert.True(t, cfg.Geometry.Enabled)
	assert.Equal(t, 2_000_000, cfg.Geometry.Steps)
	assert.Equal(t, 1_000, cfg.Geometry.BurnIn)
	assert.Equal(t, 512, cfg.Geometry.Bins)
	assert.Equal(t, "composite", cfg.Geometry.BlendMode)
	assert.Equal(t, "pcg", cfg.Geometry.Selector)
	assert.Equal(t, 3.5, cfg.Constellation.Radius)
	assert.Equal(t, arc.DefaultWeights(), cfg.Constellation.Weights)
	assert.Equal(t, "text", cfg.Output.Format)
}

func TestConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("ARCINTEGRITY_CONFIG_DIR", dir)

	assert.Equal(t, filepath.Join(dir, "config.toml"), ConfigPath())
	assert.Equal(t, dir, PlatformConfigDir())
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Geometry, cfg.Geometry)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.toml", `
version = 1

[verify]
tolerance = 1e-6
parallelism = 2

[geometry]
n_steps = 50000
burn_in = 500
bins = 128
blend_mode = "first"
selector = "golden"

[constellation]
radius = 2.5

[constellation.weights]
core = 1.0
head = 1.0
arm = 1.0
foot = 1.0

[logging]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 1e-6, cfg.Verify.Tolerance)
	assert.Equal(t, 2, cfg.Verify.Parallelism)
	assert.Equal(t, 50_000, cfg.Geometry.Steps)
	assert.Equal(t, 500, cfg.Geometry.BurnIn)
	assert.Equal(t, 128, cfg.Geometry.Bins)
	assert.Equal(t, "first", cfg.Geometry.BlendMode)
	assert.Equal(t, "golden", cfg.Geometry.Selector)
	assert.True(t, cfg.Geometry.Enabled, "unset keys keep defaults")
	assert.Equal(t, 2.5, cfg.Constellation.Radius)
	assert.Equal(t, 1.0, cfg.Constellation.Weights.Foot)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadJSONAndYAML(t *testing.T) {
	dir := t.TempDir()

	jsonPath := writeFile(t, dir, "config.json", `{"geometry": {"bins": 64, "enabled": false}}`)
	cfg, err := Load(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Geometry.Bins)
	assert.False(t, cfg.Geometry.Enabled)
	assert.Equal(t, 2_000_000, cfg.Geometry.Steps)

	yamlPath := writeFile(t, dir, "config.yaml", "geometry:\n  bins: 96\noutput:\n  format: markdown\n")
	cfg, err = Load(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 96, cfg.Geometry.Bins)
	assert.Equal(t, "markdown", cfg.Output.Format)
}

func TestLoadAutoDetect(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(writeFile(t, dir, "a.conf", "[geometry]\nbins = 32\n"))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Geometry.Bins)

	cfg, err = Load(writeFile(t, dir, "b.conf", `{"geometry": {"bins": 48}}`))
	require.NoError(t, err)
	assert.Equal(t, 48, cfg.Geometry.Bins)

	cfg, err = Load(writeFile(t, dir, "c.conf", "geometry:\n  bins: 40\n"))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Geometry.Bins)
}

func TestLoadInvalidTOML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.toml", "[geometry\nbins = ")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode TOML")
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.toml", "[verify]\ntolerance = 0.1\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "verify.tolerance")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"version", func(c *Config) { c.Version = 9 }, "version"},
		{"tolerance too large", func(c *Config) { c.Verify.Tolerance = 1e-4 }, "verify.tolerance"},
		{"tolerance too small", func(c *Config) { c.Verify.Tolerance = 1e-16 }, "verify.tolerance"},
		{"negative timeout", func(c *Config) { c.Verify.TimeoutSec = -1 }, "verify.timeout_sec"},
		{"parallelism", func(c *Config) { c.Verify.Parallelism = 0 }, "verify.parallelism"},
		{"negative burn-in", func(c *Config) { c.Geometry.BurnIn = -1 }, "geometry.burn_in"},
		{"steps not above burn-in", func(c *Config) { c.Geometry.Steps = 1000 }, "geometry.n_steps"},
		{"zero bins", func(c *Config) { c.Geometry.Bins = 0 }, "geometry.bins"},
		{"huge bins", func(c *Config) { c.Geometry.Bins = MaxBins + 1 }, "geometry.bins"},
		{"blend mode", func(c *Config) { c.Geometry.BlendMode = "average" }, "geometry.blend_mode"},
		{"selector", func(c *Config) { c.Geometry.Selector = "lcg" }, "geometry.selector"},
		{"radius", func(c *Config) { c.Constellation.Radius = 0 }, "constellation.radius"},
		{"weight", func(c *Config) { c.Constellation.Weights.Arm = -0.1 }, "constellation.weights.arm"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"log output", func(c *Config) { c.Logging.Output = "syslog" }, "logging.output"},
		{"log file", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }, "logging.file_path"},
		{"report format", func(c *Config) { c.Output.Format = "html" }, "output.format"},
		{"color", func(c *Config) { c.Output.Color = "sometimes" }, "output.color"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			assert.Contains(t, verrs.Fields(), tt.field)
		})
	}
}

func TestValidateCollectsAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Geometry.Bins = 0
	cfg.Output.Format = "pdf"

	err := cfg.Validate()
	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, []string{"geometry.bins", "output.format"}, verrs.Fields())
	assert.Contains(t, err.Error(), "; ")
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("ARCINTEGRITY_TOLERANCE", "1e-7")
	t.Setenv("ARCINTEGRITY_STEPS", "4000")
	t.Setenv("ARCINTEGRITY_BURN_IN", "10")
	t.Setenv("ARCINTEGRITY_BINS", "16")
	t.Setenv("ARCINTEGRITY_BLEND_MODE", "first")
	t.Setenv("ARCINTEGRITY_SELECTOR", "golden")
	t.Setenv("ARCINTEGRITY_LOG_LEVEL", "error")
	t.Setenv("ARCINTEGRITY_OUTPUT_FORMAT", "json")
	t.Setenv("NO_COLOR", "1")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnvOverrides())

	assert.Equal(t, 1e-7, cfg.Verify.Tolerance)
	assert.Equal(t, 4000, cfg.Geometry.Steps)
	assert.Equal(t, 10, cfg.Geometry.BurnIn)
	assert.Equal(t, 16, cfg.Geometry.Bins)
	assert.Equal(t, "first", cfg.Geometry.BlendMode)
	assert.Equal(t, "golden", cfg.Geometry.Selector)
	assert.Equal(t, "error", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, "never", cfg.Output.Color)
}

func TestApplyEnvOverridesInvalidNumber(t *testing.T) {
	t.Setenv("ARCINTEGRITY_STEPS", "many")

	cfg := DefaultConfig()
	err := cfg.ApplyEnvOverrides()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ARCINTEGRITY_STEPS")
	assert.Equal(t, 2_000_000, cfg.Geometry.Steps)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Geometry.Bins = 200
	cfg.Geometry.Selector = "golden"
	cfg.Constellation.Weights.Head = 0.5

	for _, name := range []string{"config.toml", "config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "nested", name)
			require.NoError(t, SaveConfig(cfg, path))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg.Geometry, loaded.Geometry)
			assert.Equal(t, cfg.Constellation, loaded.Constellation)
		})
	}
}

func TestEncodeTOMLHeader(t *testing.T) {
	data, err := Encode(DefaultConfig(), ".toml")
	require.NoError(t, err)
	s := string(data)
	assert.True(t, strings.HasPrefix(s, "# arcintegrity configuration"))
	assert.Contains(t, s, "[geometry]")
	assert.Contains(t, s, "n_steps = 2000000")
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, DefaultConfig().Geometry, cfg.Geometry)

	_, created, err = LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestGeometryParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Geometry.BlendMode = "first"
	cfg.Geometry.Selector = "golden"

	p, err := cfg.GeometryParams()
	require.NoError(t, err)
	assert.Equal(t, verify.GeometryParams{
		Enabled:   true,
		Steps:     2_000_000,
		BurnIn:    1_000,
		Bins:      512,
		BlendMode: seed.BlendFirst,
		Selector:  arc.SelectorGolden,
	}, p)

	cfg.Geometry.Selector = "bogus"
	_, err = cfg.GeometryParams()
	assert.Error(t, err)
}

func TestVerifierOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Verify.Tolerance = 1e-6
	cfg.Geometry.Bins = 64

	opts, err := cfg.VerifierOptions(logging.Discard())
	require.NoError(t, err)

	v := verify.NewVerifier(opts...)
	assert.Equal(t, 1e-6, v.Tolerance())
	assert.Equal(t, 64, v.Geometry().Bins)

	cfg.Constellation.Radius = -1
	_, err = cfg.VerifierOptions(nil)
	assert.ErrorIs(t, err, arc.ErrInvalidConstellation)
}

func TestLoggingConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Logging.FilePath = "/tmp/arc.log"

	lc, err := cfg.LoggingConfig()
	require.NoError(t, err)
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, logging.FormatJSON, lc.Format)
	assert.Equal(t, "stderr", lc.Output)
	assert.Equal(t, "/tmp/arc.log", lc.FilePath)

	cfg.Logging.Level = "loud"
	_, err = cfg.LoggingConfig()
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	clone := cfg.Clone()
	clone.Geometry.Bins = 7
	assert.Equal(t, 512, cfg.Geometry.Bins)
}

func TestLoaderWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", "[geometry]\nbins = 100\n")

	loader := NewLoader(path)
	defer loader.Close()

	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Geometry.Bins)

	changed := make(chan *Config, 1)
	loader.OnChange(func(c *Config) {
		select {
		case changed <- c:
		default:
		}
	})
	require.NoError(t, loader.Watch())

	writeFile(t, dir, "config.toml", "[geometry]\nbins = 200\n")

	select {
	case c := <-changed:
		assert.Equal(t, 200, c.Geometry.Bins)
		assert.Equal(t, 200, loader.Config().Geometry.Bins)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}

func TestLoaderWatchKeepsConfigOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", "[geometry]\nbins = 100\n")

	loader := NewLoader(path)
	defer loader.Close()
	_, err := loader.Load()
	require.NoError(t, err)
	require.NoError(t, loader.Watch())

	writeFile(t, dir, "config.toml", "[geometry]\nbins = 0\n")

	select {
	case err := <-loader.Errors():
		assert.Contains(t, err.Error(), "geometry.bins")
	case <-time.After(5 * time.Second):
		t.Fatal("reload error not reported")
	}
	assert.Equal(t, 100, loader.Config().Geometry.Bins)
}
