package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"arcintegrity/internal/arc"
	"arcintegrity/internal/seed"
)

// Tolerance limits for the golden-ratio check.
const (
	MinTolerance = 1e-15
	MaxTolerance = 1e-5
)

// MaxBins caps the density grid side.
const MaxBins = 8192

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is lets errors.Is(err, ErrInvalidConfig) match any validation failure.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Fields returns the names of the failing fields, in order.
func (e ValidationErrors) Fields() []string {
	out := make([]string, len(e))
	for i, err := range e {
		out[i] = err.Field
	}
	return out
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateVerify(&c.Verify)...)
	errs = append(errs, validateGeometry(&c.Geometry)...)
	errs = append(errs, validateConstellation(&c.Constellation)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateOutput(&c.Output)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateVerify(v *VerifyConfig) ValidationErrors {
	var errs ValidationErrors

	if math.IsNaN(v.Tolerance) || v.Tolerance < MinTolerance || v.Tolerance > MaxTolerance {
		errs = append(errs, *RangeError("verify.tolerance", MinTolerance, MaxTolerance))
	}
	if v.TimeoutSec < 0 {
		errs = append(errs, ValidationError{
			Field:   "verify.timeout_sec",
			Message: "timeout cannot be negative",
		})
	}
	if v.Parallelism < 1 {
		errs = append(errs, ValidationError{
			Field:   "verify.parallelism",
			Message: "parallelism must be at least 1",
		})
	}

	return errs
}

func validateGeometry(g *GeometryConfig) ValidationErrors {
	var errs ValidationErrors

	if g.BurnIn < 0 {
		errs = append(errs, ValidationError{
			Field:   "geometry.burn_in",
			Message: "burn-in cannot be negative",
		})
	}
	if g.Steps <= g.BurnIn {
		errs = append(errs, ValidationError{
			Field:   "geometry.n_steps",
			Message: fmt.Sprintf("steps (%d) must exceed burn-in (%d)", g.Steps, g.BurnIn),
		})
	}
	if g.Bins < 1 || g.Bins > MaxBins {
		errs = append(errs, *RangeError("geometry.bins", 1, MaxBins))
	}
	if _, err := seed.ParseBlendMode(g.BlendMode); err != nil {
		errs = append(errs, ValidationError{
			Field:   "geometry.blend_mode",
			Message: fmt.Sprintf("invalid blend mode: %s (valid: composite, first)", g.BlendMode),
		})
	}
	if _, err := arc.ParseSelector(g.Selector); err != nil {
		errs = append(errs, ValidationError{
			Field:   "geometry.selector",
			Message: fmt.Sprintf("invalid selector: %s (valid: pcg, golden)", g.Selector),
		})
	}

	return errs
}

func validateConstellation(c *ConstellationConfig) ValidationErrors {
	var errs ValidationErrors

	if !(c.Radius > 0) || math.IsInf(c.Radius, 0) {
		errs = append(errs, ValidationError{
			Field:   "constellation.radius",
			Message: "radius must be positive",
		})
	}

	weights := []struct {
		name  string
		value float64
	}{
		{"core", c.Weights.Core},
		{"head", c.Weights.Head},
		{"arm", c.Weights.Arm},
		{"foot", c.Weights.Foot},
	}
	for _, w := range weights {
		if !(w.value > 0) || math.IsInf(w.value, 0) {
			errs = append(errs, ValidationError{
				Field:   "constellation.weights." + w.name,
				Message: "weight must be positive",
			})
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr", "none":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both, none)", l.Output),
		})
	}

	return errs
}

func validateOutput(o *OutputConfig) ValidationErrors {
	var errs ValidationErrors

	switch o.Format {
	case "text", "json", "yaml", "markdown":
	default:
		errs = append(errs, ValidationError{
			Field:   "output.format",
			Message: fmt.Sprintf("invalid report format: %s (valid: text, json, yaml, markdown)", o.Format),
		})
	}

	switch o.Color {
	case "auto", "always", "never":
	default:
		errs = append(errs, ValidationError{
			Field:   "output.color",
			Message: fmt.Sprintf("invalid color mode: %s (valid: auto, always, never)", o.Color),
		})
	}

	return errs
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
