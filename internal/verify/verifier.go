// Package verify runs the complete envelope check and derives a density
// pattern from the envelope's coil fingerprints.
//
// A run has two stages. The integrity stage recomputes the eternal
// fingerprint and every coil, checks the golden ratio and lists external
// fingerprints. The geometry stage maps fingerprints to a seed, samples
// the chaos-game trajectory and bins it. Geometry never changes the
// verdict; its failures are recorded in the report.
package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"arcintegrity/internal/arc"
	"arcintegrity/internal/chain"
	"arcintegrity/internal/density"
	"arcintegrity/internal/envelope"
	"arcintegrity/internal/logging"
	"arcintegrity/internal/metrics"
	"arcintegrity/internal/phi"
	"arcintegrity/internal/seed"
	"arcintegrity/internal/tracing"
)

// Common verification errors
var (
	ErrNilEnvelope       = errors.New("verify: nil envelope")
	ErrMalformedEnvelope = chain.ErrMalformedEnvelope
	ErrNoEnvelopes       = errors.New("verify: no envelopes")
)

// Overall results.
const (
	ResultPass = "PASS"
	ResultFail = "FAIL"
)

const (
	verdictPass = "Envelope cryptographically consistent: all checks passed"
	verdictFail = "Envelope has integrity issues: see failing checks"
)

// GeometryParams controls the geometry stage.
type GeometryParams struct {
	Enabled   bool
	Steps     int
	BurnIn    int
	Bins      int
	BlendMode seed.BlendMode
	Selector  arc.SelectorKind
}

// Validate rejects step counts the sampler cannot run and bin counts the
// density estimator cannot use. Disabled geometry is always valid.
func (p GeometryParams) Validate() error {
	if !p.Enabled {
		return nil
	}
	if err := (arc.Params{Steps: p.Steps, BurnIn: p.BurnIn, Selector: p.Selector}).Validate(); err != nil {
		return err
	}
	if p.Bins < 1 {
		return fmt.Errorf("%w: %d", density.ErrInvalidBins, p.Bins)
	}
	return nil
}

// DefaultGeometryParams returns the standard sampling setup.
func DefaultGeometryParams() GeometryParams {
	return GeometryParams{
		Enabled:   true,
		Steps:     arc.DefaultSteps,
		BurnIn:    arc.DefaultBurnIn,
		Bins:      density.DefaultBins,
		BlendMode: seed.BlendComposite,
		Selector:  arc.SelectorPCG,
	}
}

// Verifier runs envelope verification. Its settings are fixed at
// construction, so one Verifier may serve concurrent calls.
type Verifier struct {
	tolerance     float64
	geometry      GeometryParams
	constellation arc.Constellation
	logger        *logging.Logger
	tracer        trace.Tracer
	metrics       *metrics.VerifyMetrics
	parallelism   int
	timeout       time.Duration
}

// Option configures the verifier.
type Option func(*Verifier)

// WithTolerance sets the golden-ratio tolerance.
func WithTolerance(tol float64) Option {
	return func(v *Verifier) {
		v.tolerance = tol
	}
}

// WithGeometry sets the geometry stage parameters.
func WithGeometry(p GeometryParams) Option {
	return func(v *Verifier) {
		v.geometry = p
	}
}

// WithConstellation replaces the default centers and weights.
func WithConstellation(c arc.Constellation) Option {
	return func(v *Verifier) {
		v.constellation = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *Verifier) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithTracerProvider sets where spans go. The default is the global
// OpenTelemetry provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(v *Verifier) {
		v.tracer = tracing.Tracer(tp, "verify")
	}
}

// WithMetrics records every run in m.
func WithMetrics(m *metrics.VerifyMetrics) Option {
	return func(v *Verifier) {
		v.metrics = m
	}
}

// WithParallelism bounds the number of envelopes Compare works on at once.
func WithParallelism(n int) Option {
	return func(v *Verifier) {
		if n > 0 {
			v.parallelism = n
		}
	}
}

// WithTimeout bounds a single Verify call. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(v *Verifier) {
		v.timeout = d
	}
}

// NewVerifier creates a verifier with the default tolerance, geometry and
// constellation, adjusted by opts.
func NewVerifier(opts ...Option) *Verifier {
	v := &Verifier{
		tolerance:     phi.DefaultTolerance,
		geometry:      DefaultGeometryParams(),
		constellation: arc.DefaultConstellation(),
		parallelism:   4,
	}

	for _, opt := range opts {
		opt(v)
	}

	if v.logger == nil {
		v.logger = logging.Default().WithComponent("verify")
	}
	if v.tracer == nil {
		v.tracer = tracing.Tracer(nil, "verify")
	}
	return v
}

// Tolerance returns the configured ratio tolerance.
func (v *Verifier) Tolerance() float64 { return v.tolerance }

// Geometry returns the configured geometry parameters.
func (v *Verifier) Geometry() GeometryParams { return v.geometry }

// Result bundles a report with the artifacts of the geometry stage.
// Trajectory and Grid are nil when geometry is disabled or failed. Err is
// set only by CompareDetailed, for an envelope that could not be verified.
type Result struct {
	Report     *Report
	Trajectory arc.Trajectory
	Grid       *density.Grid
	Err        error
}

// Verify checks env and returns a fresh report. A nil or malformed
// envelope, invalid tolerance or geometry parameters, and cancellation
// produce an error; failed checks are reported with verification_result
// FAIL.
func (v *Verifier) Verify(ctx context.Context, env *envelope.Envelope) (*Report, error) {
	res, err := v.VerifyDetailed(ctx, env)
	if err != nil {
		return nil, err
	}
	return res.Report, nil
}

// VerifyDetailed is Verify that also returns the trajectory and density
// grid for rendering.
func (v *Verifier) VerifyDetailed(ctx context.Context, env *envelope.Envelope) (res *Result, err error) {
	if env == nil {
		v.metrics.ObserveError()
		return nil, ErrNilEnvelope
	}
	if err := v.geometry.Validate(); err != nil {
		v.metrics.ObserveError()
		return nil, fmt.Errorf("geometry parameters: %w", err)
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	runID := logging.RequestIDFromContext(ctx)
	if runID == "" {
		runID = logging.NewRequestID()
		ctx = logging.ContextWithRequestID(ctx, runID)
	}

	ctx, span := v.tracer.Start(ctx, "verify", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.Int("coils", len(env.Coils)),
	))
	log := v.logger.WithContext(ctx)
	defer func() {
		if err != nil {
			v.metrics.ObserveError()
		}
		tracing.End(span, err)
	}()

	report := &Report{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
	}

	_, ispan := v.tracer.Start(ctx, "verify.integrity")
	integrity, err := chain.NewVerifier(v.tolerance).Verify(env)
	if err != nil {
		tracing.End(ispan, err)
		log.Debug("integrity stage failed", "error", err)
		return nil, err
	}
	ispan.SetAttributes(
		attribute.Bool("eternal_ok", integrity.Eternal.OK),
		attribute.Int("failing_coils", len(integrity.Coils.FailingIndices)),
		attribute.Bool("phi_ok", integrity.Ratio.OK),
	)
	ispan.End()

	report.Eternal = integrity.Eternal
	report.CoilChain = integrity.Coils
	report.PhiRatio = integrity.Ratio
	report.External = integrity.External
	report.setVerdict(integrity.OK)

	log.Debug("integrity stage complete",
		"eternal_ok", integrity.Eternal.OK,
		"coils_checked", integrity.Coils.CoilsChecked,
		"failing_coils", len(integrity.Coils.FailingIndices),
		"phi_ok", integrity.Ratio.OK,
	)

	res = &Result{Report: report}
	if v.geometry.Enabled {
		geo, traj, grid, gerr := v.runGeometry(ctx, env)
		switch {
		case gerr == nil:
			report.Geometry = geo
			res.Trajectory = traj
			res.Grid = grid
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			report.GeometryError = gerr.Error()
			log.Warn("geometry stage failed", "error", gerr)
		}
	}

	report.Duration = time.Since(report.StartedAt)
	span.SetAttributes(attribute.String("result", report.VerificationResult))

	run := metrics.Run{
		Passed:         report.Passed(),
		CoilsChecked:   report.CoilChain.CoilsChecked,
		CoilsFailed:    len(report.CoilChain.FailingIndices),
		GeometryFailed: report.GeometryError != "",
		Duration:       report.Duration,
	}
	if report.Geometry != nil {
		run.Seed = &report.Geometry.SeedUsed
	}
	v.metrics.ObserveRun(run)

	log.Info("verification complete",
		"result", report.VerificationResult,
		"coils", report.CoilChain.CoilsChecked,
		"duration", report.Duration,
	)
	return res, nil
}

// runGeometry maps the fingerprints to one seed and samples the density.
func (v *Verifier) runGeometry(ctx context.Context, env *envelope.Envelope) (_ *Geometry, _ arc.Trajectory, _ *density.Grid, err error) {
	ctx, span := v.tracer.Start(ctx, "verify.geometry")
	defer func() { tracing.End(span, err) }()

	p := v.geometry
	geo := &Geometry{
		BlendMode: p.BlendMode,
		Selector:  p.Selector,
		Bins:      p.Bins,
	}

	if len(env.Coils) == 0 {
		geo.SeedUsed = seed.FallbackSeed
		geo.FallbackSeed = true
	} else {
		seeds, err := seed.Extract(env.Coils)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("seed mapping: %w", err)
		}
		geo.SeedsExtracted = len(seeds)
		if geo.SeedUsed, err = seed.Blend(seeds, p.BlendMode); err != nil {
			return nil, nil, nil, fmt.Errorf("seed blend: %w", err)
		}
	}
	span.SetAttributes(
		attribute.Float64("seed", geo.SeedUsed),
		attribute.Bool("fallback_seed", geo.FallbackSeed),
	)

	_, sspan := v.tracer.Start(ctx, "arc.sample", trace.WithAttributes(
		attribute.Int("steps", p.Steps),
		attribute.Int("burn_in", p.BurnIn),
		attribute.String("selector", p.Selector.String()),
	))
	traj, err := arc.Sample(ctx, geo.SeedUsed, arc.Params{
		Steps:    p.Steps,
		BurnIn:   p.BurnIn,
		Selector: p.Selector,
	}, v.constellation)
	tracing.End(sspan, err)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("sample trajectory: %w", err)
	}
	geo.TrajectorySteps = len(traj)
	geo.Bounds = traj.Bounds()

	_, dspan := v.tracer.Start(ctx, "density.estimate", trace.WithAttributes(
		attribute.Int("bins", p.Bins),
	))
	grid, err := density.Estimate(traj, p.Bins, density.Options{})
	tracing.End(dspan, err)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("estimate density: %w", err)
	}
	geo.Density = grid.Summary()

	return geo, traj, grid, nil
}
