package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arcintegrity/internal/arc"
	"arcintegrity/internal/chain"
	"arcintegrity/internal/density"
	"arcintegrity/internal/envelope"
	"arcintegrity/internal/logging"
	"arcintegrity/internal/seed"
)

func smallGeometry() GeometryParams {
	return GeometryParams{
		Enabled:   true,
		Steps:     20_000,
		BurnIn:    100,
		Bins:      32,
		BlendMode: seed.BlendComposite,
		Selector:  arc.SelectorPCG,
	}
}

func newTestVerifier(opts ...Option) *Verifier {
	base := []Option{WithLogger(logging.Discard()), WithGeometry(smallGeometry())}
	return NewVerifier(append(base, opts...)...)
}

func generate(t *testing.T, coils int) *envelope.Envelope {
	t.Helper()
	opts := chain.DefaultGenerateOptions()
	opts.Coils = coils
	env, err := chain.Generate(opts)
	require.NoError(t, err)
	return env
}

// mutate re-encodes env, lets fn edit the raw document and decodes it again.
func mutate(t *testing.T, env *envelope.Envelope, fn func(core map[string]any)) *envelope.Envelope {
	t.Helper()
	data, err := envelope.Encode(env)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	fn(doc[envelope.KeyCore].(map[string]any))

	data, err = json.Marshal(doc)
	require.NoError(t, err)
	out, err := envelope.Decode(data)
	require.NoError(t, err)
	return out
}

func TestNewVerifierDefaults(t *testing.T) {
	v := NewVerifier(WithLogger(logging.Discard()))
	assert.Equal(t, 1e-9, v.Tolerance())
	assert.Equal(t, DefaultGeometryParams(), v.Geometry())
	assert.Equal(t, 2_000_000, v.Geometry().Steps)
	assert.Equal(t, 1_000, v.Geometry().BurnIn)
	assert.Equal(t, 512, v.Geometry().Bins)
}

func TestVerifyValidEnvelope(t *testing.T) {
	env := generate(t, 13)

	report, err := newTestVerifier().Verify(context.Background(), env)
	require.NoError(t, err)

	assert.True(t, report.Passed())
	assert.Equal(t, ResultPass, report.VerificationResult)
	assert.Equal(t, verdictPass, report.Verdict)
	assert.True(t, report.Eternal.OK)
	assert.True(t, report.CoilChain.OK)
	assert.Equal(t, 13, report.CoilChain.CoilsChecked)
	assert.Empty(t, report.CoilChain.FailingIndices)
	assert.True(t, report.PhiRatio.OK)
	assert.Equal(t, 1, report.External.Count)
	assert.Nil(t, report.External.Verified)
	assert.NotEmpty(t, report.RunID)
	assert.Empty(t, report.GeometryError)

	geo := report.Geometry
	require.NotNil(t, geo)
	assert.Equal(t, 13, geo.SeedsExtracted)
	assert.Equal(t, 19_900, geo.TrajectorySteps)
	assert.Equal(t, 32, geo.Bins)
	assert.Equal(t, uint64(19_900), geo.Density.Total)
	assert.GreaterOrEqual(t, geo.SeedUsed, 0.0)
	assert.Less(t, geo.SeedUsed, 1.0)
	assert.False(t, geo.FallbackSeed)

	seeds, err := seed.Extract(env.Coils)
	require.NoError(t, err)
	want, err := seed.Blend(seeds, seed.BlendComposite)
	require.NoError(t, err)
	assert.Equal(t, want, geo.SeedUsed)
}

func TestVerifyDetailedReturnsArtifacts(t *testing.T) {
	res, err := newTestVerifier().VerifyDetailed(context.Background(), generate(t, 5))
	require.NoError(t, err)
	require.NotNil(t, res.Grid)
	assert.Len(t, res.Trajectory, 19_900)
	assert.Len(t, res.Grid.Counts, 32)
	assert.Equal(t, res.Trajectory.Bounds(), res.Report.Geometry.Bounds)
}

func TestVerifyIsDeterministic(t *testing.T) {
	env := generate(t, 8)
	v := newTestVerifier()

	a, err := v.VerifyDetailed(context.Background(), env)
	require.NoError(t, err)
	b, err := v.VerifyDetailed(context.Background(), env)
	require.NoError(t, err)

	assert.Equal(t, a.Trajectory, b.Trajectory)
	assert.Equal(t, a.Grid.Counts, b.Grid.Counts)
	assert.NotEqual(t, a.Report.RunID, b.Report.RunID)
}

func TestVerifyBlendFirst(t *testing.T) {
	env := generate(t, 4)
	geo := smallGeometry()
	geo.BlendMode = seed.BlendFirst

	report, err := newTestVerifier(WithGeometry(geo)).Verify(context.Background(), env)
	require.NoError(t, err)

	first, err := seed.FromFingerprint(env.Coils[0].Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, first, report.Geometry.SeedUsed)
	assert.Equal(t, seed.BlendFirst, report.Geometry.BlendMode)
}

func TestVerifyTamperedCoil(t *testing.T) {
	env := mutate(t, generate(t, 3), func(core map[string]any) {
		gens := core[envelope.KeyGenerations].([]any)
		gens[1].(map[string]any)["fingerprint"] = strings.Repeat("ab", 64)
	})

	report, err := newTestVerifier().Verify(context.Background(), env)
	require.NoError(t, err)

	assert.False(t, report.Passed())
	assert.Equal(t, ResultFail, report.VerificationResult)
	assert.Equal(t, verdictFail, report.Verdict)
	assert.Equal(t, []int{1, 2}, report.CoilChain.FailingIndices)
	assert.True(t, report.CoilChain.Coils[0].OK)

	// Geometry still runs on a failing envelope.
	require.NotNil(t, report.Geometry)
	assert.Equal(t, 3, report.Geometry.SeedsExtracted)
}

func TestVerifyRatioOutOfTolerance(t *testing.T) {
	ratio := 1.6
	opts := chain.DefaultGenerateOptions()
	opts.Coils = 2
	opts.PhiRatio = &ratio
	env, err := chain.Generate(opts)
	require.NoError(t, err)

	report, err := newTestVerifier().Verify(context.Background(), env)
	require.NoError(t, err)
	assert.True(t, report.Eternal.OK)
	assert.True(t, report.CoilChain.OK)
	assert.False(t, report.PhiRatio.OK)
	assert.False(t, report.Passed())
}

func TestVerifyLooseTolerance(t *testing.T) {
	ratio := 1.618
	opts := chain.DefaultGenerateOptions()
	opts.Coils = 2
	opts.PhiRatio = &ratio
	env, err := chain.Generate(opts)
	require.NoError(t, err)

	report, err := newTestVerifier(WithTolerance(1e-3)).Verify(context.Background(), env)
	require.NoError(t, err)
	assert.True(t, report.Passed())
	assert.Equal(t, 1e-3, report.PhiRatio.Tolerance)
}

func TestVerifyNoCoilsUsesFallbackSeed(t *testing.T) {
	report, err := newTestVerifier().Verify(context.Background(), generate(t, 0))
	require.NoError(t, err)

	assert.True(t, report.Passed())
	assert.Equal(t, 0, report.CoilChain.CoilsChecked)
	require.NotNil(t, report.Geometry)
	assert.Equal(t, seed.FallbackSeed, report.Geometry.SeedUsed)
	assert.True(t, report.Geometry.FallbackSeed)
	assert.Equal(t, 0, report.Geometry.SeedsExtracted)
}

func TestVerifyBadFingerprintSkipsGeometryOnly(t *testing.T) {
	env := mutate(t, generate(t, 3), func(core map[string]any) {
		gens := core[envelope.KeyGenerations].([]any)
		gens[2].(map[string]any)["fingerprint"] = "not-hex"
	})

	report, err := newTestVerifier().Verify(context.Background(), env)
	require.NoError(t, err)

	assert.False(t, report.Passed())
	assert.Equal(t, []string{chain.ReasonInvalidFormat}, report.CoilChain.Coils[2].Reasons)
	assert.Nil(t, report.Geometry)
	assert.Contains(t, report.GeometryError, "seed mapping")
	assert.Contains(t, report.GeometryError, "coil 2")
}

func TestVerifyRejectsInvalidGeometry(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*GeometryParams)
		want   error
	}{
		{"steps equal burn-in", func(g *GeometryParams) { g.Steps = g.BurnIn }, arc.ErrInvalidStepCount},
		{"steps below burn-in", func(g *GeometryParams) { g.Steps = 10; g.BurnIn = 20 }, arc.ErrInvalidStepCount},
		{"negative burn-in", func(g *GeometryParams) { g.BurnIn = -1 }, arc.ErrInvalidStepCount},
		{"zero bins", func(g *GeometryParams) { g.Bins = 0 }, density.ErrInvalidBins},
		{"negative bins", func(g *GeometryParams) { g.Bins = -4 }, density.ErrInvalidBins},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			geo := smallGeometry()
			tt.modify(&geo)
			require.ErrorIs(t, geo.Validate(), tt.want)

			report, err := newTestVerifier(WithGeometry(geo)).Verify(context.Background(), generate(t, 2))
			require.ErrorIs(t, err, tt.want)
			assert.Nil(t, report)
			assert.True(t, strings.HasPrefix(err.Error(), "geometry parameters: "+tt.want.Error()), err.Error())
			assert.NotContains(t, err.Error(), "density: density")
			assert.NotContains(t, err.Error(), "arc: arc")
		})
	}
}

func TestGeometryValidateIgnoresDisabled(t *testing.T) {
	geo := GeometryParams{Enabled: false, Bins: 0}
	assert.NoError(t, geo.Validate())
	assert.NoError(t, smallGeometry().Validate())
	assert.NoError(t, DefaultGeometryParams().Validate())
}

func TestVerifyGeometryDisabled(t *testing.T) {
	geo := smallGeometry()
	geo.Enabled = false

	res, err := newTestVerifier(WithGeometry(geo)).VerifyDetailed(context.Background(), generate(t, 3))
	require.NoError(t, err)
	assert.Nil(t, res.Report.Geometry)
	assert.Empty(t, res.Report.GeometryError)
	assert.Nil(t, res.Trajectory)
	assert.Nil(t, res.Grid)
}

func TestVerifyErrors(t *testing.T) {
	v := newTestVerifier()

	_, err := v.Verify(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilEnvelope)

	env := generate(t, 2)
	env.EternalFingerprint = ""
	_, err = v.Verify(context.Background(), env)
	assert.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = newTestVerifier(WithTolerance(-1)).Verify(context.Background(), generate(t, 2))
	assert.Error(t, err)
}

func TestVerifyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestVerifier().Verify(ctx, generate(t, 2))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerifyUsesContextRequestID(t *testing.T) {
	ctx := logging.ContextWithRequestID(context.Background(), "run-42")
	report, err := newTestVerifier().Verify(ctx, generate(t, 1))
	require.NoError(t, err)
	assert.Equal(t, "run-42", report.RunID)
}

func TestVerifyLogsCompletion(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(&logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON, Writer: &buf})
	require.NoError(t, err)

	report, err := newTestVerifier(WithLogger(logger)).Verify(context.Background(), generate(t, 2))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"verification complete"`)
	assert.Contains(t, out, `"result":"PASS"`)
	assert.Contains(t, out, report.RunID)
}

func TestVerifyCustomConstellation(t *testing.T) {
	c, err := arc.NewConstellation(1, arc.DefaultWeights())
	require.NoError(t, err)

	report, err := newTestVerifier(WithConstellation(c)).Verify(context.Background(), generate(t, 3))
	require.NoError(t, err)
	require.NotNil(t, report.Geometry)

	limit := c.AttractorRadius()
	b := report.Geometry.Bounds
	for _, v := range []float64{b.RealMin, b.RealMax, b.ImagMin, b.ImagMax} {
		assert.LessOrEqual(t, v*v, limit*limit)
	}
}

func TestCompare(t *testing.T) {
	good := generate(t, 5)
	bad := mutate(t, generate(t, 5), func(core map[string]any) {
		core["phi_ratio_observed"] = 1.5
	})
	other := generate(t, 8)

	reports, err := newTestVerifier(WithParallelism(2)).Compare(context.Background(), []*envelope.Envelope{good, bad, other})
	require.NoError(t, err)
	require.Len(t, reports, 3)

	assert.True(t, reports[0].Passed())
	assert.False(t, reports[1].Passed())
	assert.True(t, reports[2].Passed())
	assert.Equal(t, 8, reports[2].CoilChain.CoilsChecked)
	assert.NotEqual(t, reports[0].Geometry.SeedUsed, reports[2].Geometry.SeedUsed)
}

func TestCompareMatchesSequential(t *testing.T) {
	envs := []*envelope.Envelope{generate(t, 2), generate(t, 3), generate(t, 4), generate(t, 5)}
	v := newTestVerifier(WithParallelism(3))

	results, err := v.CompareDetailed(context.Background(), envs)
	require.NoError(t, err)
	for i, env := range envs {
		single, err := v.VerifyDetailed(context.Background(), env)
		require.NoError(t, err)
		assert.Equal(t, single.Trajectory, results[i].Trajectory, "envelope %d", i)
	}
}

func TestCompareErrors(t *testing.T) {
	v := newTestVerifier()

	_, err := v.Compare(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoEnvelopes)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	reports, err := v.Compare(ctx, []*envelope.Envelope{generate(t, 1), generate(t, 2)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, reports)
}

func TestCompareKeepsOtherVerdicts(t *testing.T) {
	broken := generate(t, 2)
	broken.EternalFingerprint = ""
	envs := []*envelope.Envelope{generate(t, 1), nil, broken, generate(t, 3)}

	reports, err := newTestVerifier(WithParallelism(2)).Compare(context.Background(), envs)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNilEnvelope)
	assert.ErrorIs(t, err, chain.ErrMalformedEnvelope)
	assert.Contains(t, err.Error(), "envelope 1")
	assert.Contains(t, err.Error(), "envelope 2")

	require.Len(t, reports, 4)
	require.NotNil(t, reports[0])
	assert.True(t, reports[0].Passed())
	assert.Nil(t, reports[1])
	assert.Nil(t, reports[2])
	require.NotNil(t, reports[3])
	assert.True(t, reports[3].Passed())
	assert.Equal(t, 3, reports[3].CoilChain.CoilsChecked)
}

func TestCompareDetailedRecordsErrPerEnvelope(t *testing.T) {
	results, err := newTestVerifier().CompareDetailed(context.Background(), []*envelope.Envelope{nil, generate(t, 2)})
	require.ErrorIs(t, err, ErrNilEnvelope)
	require.Len(t, results, 2)

	assert.ErrorIs(t, results[0].Err, ErrNilEnvelope)
	assert.Nil(t, results[0].Report)
	assert.NoError(t, results[1].Err)
	assert.True(t, results[1].Report.Passed())
	assert.NotNil(t, results[1].Grid)
}

func TestVerifyTimeout(t *testing.T) {
	geo := smallGeometry()
	geo.Steps = 3_000_000

	v := newTestVerifier(WithGeometry(geo), WithTimeout(time.Microsecond))
	_, err := v.Verify(context.Background(), generate(t, 2))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
