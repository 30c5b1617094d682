package phi

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhiConstant(t *testing.T) {
	assert.Equal(t, (1+math.Sqrt(5))/2, Phi)
	assert.InDelta(t, 1.618033988749895, Phi, 1e-15)
	assert.InDelta(t, Phi*Phi, Phi+1, 1e-15)
}

func TestCheckExact(t *testing.T) {
	for _, tol := range []float64{1e-15, 1e-9, 1e-5} {
		res, err := Check(Phi, tol)
		require.NoError(t, err)
		assert.True(t, res.OK)
		assert.Zero(t, res.Delta)
		assert.Equal(t, tol, res.Tolerance)
		assert.Equal(t, Phi, res.Expected)
	}
}

func TestCheckBoundaryIsStrict(t *testing.T) {
	// A power-of-two tolerance keeps Phi+tol and the subtraction exact.
	tol := math.Ldexp(1, -20)

	res, err := Check(Phi+tol, tol)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, tol, res.Delta)

	res, err = Check(Phi-tol, tol)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, -tol, res.Delta)

	res, err = Check(Phi+tol/2, tol)
	require.NoError(t, err)
	assert.True(t, res.OK)
}

func TestCheckSerializedValue(t *testing.T) {
	res, err := Check(1.618033988749895, DefaultTolerance)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.InDelta(t, 0, res.Delta, 1e-15)
}

func TestCheckDeltaSign(t *testing.T) {
	res, err := Check(1.5, DefaultTolerance)
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Less(t, res.Delta, 0.0)

	res, err = Check(2, DefaultTolerance)
	require.NoError(t, err)
	assert.Greater(t, res.Delta, 0.0)
}

func TestCheckInvalidTolerance(t *testing.T) {
	for _, tol := range []float64{0, -1e-9, math.NaN(), math.Inf(1)} {
		_, err := Check(Phi, tol)
		assert.ErrorIs(t, err, ErrInvalidTolerance)
	}
}

func TestPow(t *testing.T) {
	assert.Equal(t, 1.0, Pow(0))
	assert.InDelta(t, 1/Phi, Pow(-1), 1e-15)
	assert.InDelta(t, Phi*Phi, Pow(2), 1e-15)
}
