// Package config handles configuration loading, validation, and management for arcintegrity.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"arcintegrity/internal/arc"
	"arcintegrity/internal/density"
	"arcintegrity/internal/logging"
	"arcintegrity/internal/phi"
	"arcintegrity/internal/seed"
	"arcintegrity/internal/verify"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete tool configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Verify configuration for the integrity checks.
	Verify VerifyConfig `toml:"verify" json:"verify" yaml:"verify"`

	// Geometry configuration for seed mapping, sampling and binning.
	Geometry GeometryConfig `toml:"geometry" json:"geometry" yaml:"geometry"`

	// Constellation configuration for the attractor centers.
	Constellation ConstellationConfig `toml:"constellation" json:"constellation" yaml:"constellation"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Output configuration for reports.
	Output OutputConfig `toml:"output" json:"output" yaml:"output"`
}

// VerifyConfig holds integrity check settings.
type VerifyConfig struct {
	// Tolerance is the allowed absolute deviation of the observed ratio from phi.
	Tolerance float64 `toml:"tolerance" json:"tolerance" yaml:"tolerance"`

	// TimeoutSec bounds a single verification. Zero disables the limit.
	TimeoutSec int `toml:"timeout_sec" json:"timeout_sec" yaml:"timeout_sec"`

	// Parallelism bounds how many envelopes are compared at once.
	Parallelism int `toml:"parallelism" json:"parallelism" yaml:"parallelism"`
}

// GeometryConfig holds trajectory and density settings.
type GeometryConfig struct {
	Enabled   bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Steps     int    `toml:"n_steps" json:"n_steps" yaml:"n_steps"`
	BurnIn    int    `toml:"burn_in" json:"burn_in" yaml:"burn_in"`
	Bins      int    `toml:"bins" json:"bins" yaml:"bins"`
	BlendMode string `toml:"blend_mode" json:"blend_mode" yaml:"blend_mode"`
	Selector  string `toml:"selector" json:"selector" yaml:"selector"`
}

// ConstellationConfig holds the ring radius and per-role weights.
type ConstellationConfig struct {
	Radius  float64     `toml:"radius" json:"radius" yaml:"radius"`
	Weights arc.Weights `toml:"weights" json:"weights" yaml:"weights"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format (text, json).
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is where logs are written (stdout, stderr, file, both, none).
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path when output includes a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// AddSource adds source locations to log entries.
	AddSource bool `toml:"add_source" json:"add_source" yaml:"add_source"`
}

// OutputConfig holds report settings.
type OutputConfig struct {
	// Format is the report format (text, json, yaml, markdown).
	Format string `toml:"format" json:"format" yaml:"format"`

	// Color controls ANSI colour in text reports (auto, always, never).
	Color string `toml:"color" json:"color" yaml:"color"`

	// Verbose prints full digests and every coil.
	Verbose bool `toml:"verbose" json:"verbose" yaml:"verbose"`
}

// DefaultConfig returns a configuration with the standard constants.
func DefaultConfig() *Config {
	w := arc.DefaultWeights()
	return &Config{
		Version: Version,
		Verify: VerifyConfig{
			Tolerance:   phi.DefaultTolerance,
			TimeoutSec:  0,
			Parallelism: 4,
		},
		Geometry: GeometryConfig{
			Enabled:   true,
			Steps:     arc.DefaultSteps,
			BurnIn:    arc.DefaultBurnIn,
			Bins:      density.DefaultBins,
			BlendMode: seed.BlendComposite.String(),
			Selector:  arc.SelectorPCG.String(),
		},
		Constellation: ConstellationConfig{
			Radius:  arc.DefaultRadius,
			Weights: w,
		},
		Logging: LoggingConfig{
			Level:    "warn",
			Format:   "text",
			Output:   "stderr",
			FilePath: filepath.Join(PlatformLogDir(), "arcintegrity.log"),
		},
		Output: OutputConfig{
			Format: "text",
			Color:  "auto",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
// Environment overrides are applied and the result is validated.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with ARCINTEGRITY_ and use underscores.
func (c *Config) ApplyEnvOverrides() error {
	var errs ValidationErrors

	envFloat := func(name string, dst *float64) {
		if v := os.Getenv(name); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, ValidationError{Field: name, Message: "not a number"})
				return
			}
			*dst = f
		}
	}
	envInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, ValidationError{Field: name, Message: "not an integer"})
				return
			}
			*dst = n
		}
	}
	envString := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	// Verify overrides
	envFloat("ARCINTEGRITY_TOLERANCE", &c.Verify.Tolerance)
	envInt("ARCINTEGRITY_TIMEOUT_SEC", &c.Verify.TimeoutSec)
	envInt("ARCINTEGRITY_PARALLELISM", &c.Verify.Parallelism)

	// Geometry overrides
	envInt("ARCINTEGRITY_STEPS", &c.Geometry.Steps)
	envInt("ARCINTEGRITY_BURN_IN", &c.Geometry.BurnIn)
	envInt("ARCINTEGRITY_BINS", &c.Geometry.Bins)
	envString("ARCINTEGRITY_BLEND_MODE", &c.Geometry.BlendMode)
	envString("ARCINTEGRITY_SELECTOR", &c.Geometry.Selector)

	// Logging overrides
	envString("ARCINTEGRITY_LOG_LEVEL", &c.Logging.Level)
	envString("ARCINTEGRITY_LOG_FORMAT", &c.Logging.Format)
	envString("ARCINTEGRITY_LOG_PATH", &c.Logging.FilePath)

	// Output overrides
	envString("ARCINTEGRITY_OUTPUT_FORMAT", &c.Output.Format)
	if os.Getenv("NO_COLOR") != "" {
		c.Output.Color = "never"
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// BuildConstellation builds the attractor centers.
func (c *Config) BuildConstellation() (arc.Constellation, error) {
	return arc.NewConstellation(c.Constellation.Radius, c.Constellation.Weights)
}

// GeometryParams converts the geometry section.
func (c *Config) GeometryParams() (verify.GeometryParams, error) {
	mode, err := seed.ParseBlendMode(c.Geometry.BlendMode)
	if err != nil {
		return verify.GeometryParams{}, err
	}
	sel, err := arc.ParseSelector(c.Geometry.Selector)
	if err != nil {
		return verify.GeometryParams{}, err
	}
	return verify.GeometryParams{
		Enabled:   c.Geometry.Enabled,
		Steps:     c.Geometry.Steps,
		BurnIn:    c.Geometry.BurnIn,
		Bins:      c.Geometry.Bins,
		BlendMode: mode,
		Selector:  sel,
	}, nil
}

// VerifierOptions converts the verify, geometry and constellation sections
// into verifier options. logger may be nil.
func (c *Config) VerifierOptions(logger *logging.Logger) ([]verify.Option, error) {
	geo, err := c.GeometryParams()
	if err != nil {
		return nil, err
	}
	cons, err := c.BuildConstellation()
	if err != nil {
		return nil, err
	}

	opts := []verify.Option{
		verify.WithTolerance(c.Verify.Tolerance),
		verify.WithGeometry(geo),
		verify.WithConstellation(cons),
		verify.WithParallelism(c.Verify.Parallelism),
		verify.WithTimeout(time.Duration(c.Verify.TimeoutSec) * time.Second),
	}
	if logger != nil {
		opts = append(opts, verify.WithLogger(logger))
	}
	return opts, nil
}

// LoggingConfig converts the logging section.
func (c *Config) LoggingConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}

	lc := logging.DefaultConfig()
	lc.Level = level
	lc.Format = format
	lc.Output = c.Logging.Output
	lc.AddSource = c.Logging.AddSource
	lc.FilePath = c.Logging.FilePath
	return lc, nil
}
