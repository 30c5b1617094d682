package verify

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"arcintegrity/internal/envelope"
	"arcintegrity/internal/tracing"
)

// Compare verifies each envelope independently, at most parallelism at a
// time. Reports come back in input order. An envelope that cannot be
// verified leaves a nil report at its position; the others still carry
// their verdicts and the returned error joins every per-envelope failure.
func (v *Verifier) Compare(ctx context.Context, envs []*envelope.Envelope) ([]*Report, error) {
	results, err := v.CompareDetailed(ctx, envs)
	if results == nil {
		return nil, err
	}
	reports := make([]*Report, len(results))
	for i, r := range results {
		reports[i] = r.Report
	}
	return reports, err
}

// CompareDetailed is Compare keeping trajectories and grids. Every position
// holds a Result; failed envelopes have Err set and no Report. Only an
// empty input or cancellation returns nil results.
func (v *Verifier) CompareDetailed(ctx context.Context, envs []*envelope.Envelope) (_ []*Result, err error) {
	if len(envs) == 0 {
		return nil, ErrNoEnvelopes
	}

	ctx, span := v.tracer.Start(ctx, "verify.compare", trace.WithAttributes(
		attribute.Int("envelopes", len(envs)),
		attribute.Int("parallelism", v.parallelism),
	))
	defer func() { tracing.End(span, err) }()

	results := make([]*Result, len(envs))
	var g errgroup.Group
	g.SetLimit(v.parallelism)

	for i, env := range envs {
		g.Go(func() error {
			res, err := v.VerifyDetailed(ctx, env)
			if err != nil {
				res = &Result{Err: fmt.Errorf("envelope %d: %w", i, err)}
			}
			results[i] = res
			return ctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	span.SetAttributes(attribute.Int("failed", len(errs)))
	v.logger.Debug("comparison complete", "envelopes", len(envs), "failed", len(errs))
	return results, errors.Join(errs...)
}
