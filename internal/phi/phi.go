// Package phi holds the golden ratio and the observed-ratio check folded
// into envelope verification.
package phi

import (
	"errors"
	"fmt"
	"math"
)

// Phi is the golden ratio (1+√5)/2 at float64 precision.
const Phi = 1.6180339887498948482045868343656381177203091798057628621

// DefaultTolerance rejects coincidental matches while allowing for float
// serialization round trips.
const DefaultTolerance = 1e-9

// ErrInvalidTolerance is returned for a non-positive or NaN tolerance.
var ErrInvalidTolerance = errors.New("phi: tolerance must be a positive number")

// Result is the outcome of a ratio check.
type Result struct {
	OK        bool    `json:"ok" yaml:"ok"`
	Observed  float64 `json:"observed" yaml:"observed"`
	Expected  float64 `json:"expected" yaml:"expected"`
	Delta     float64 `json:"delta" yaml:"delta"`
	Tolerance float64 `json:"tolerance" yaml:"tolerance"`
}

// Check compares observed against Phi. The comparison is strict: a delta
// equal to the tolerance fails. Delta is signed (observed - Phi).
func Check(observed, tolerance float64) (Result, error) {
	if !(tolerance > 0) || math.IsInf(tolerance, 0) {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidTolerance, tolerance)
	}

	delta := observed - Phi
	return Result{
		OK:        math.Abs(delta) < tolerance,
		Observed:  observed,
		Expected:  Phi,
		Delta:     delta,
		Tolerance: tolerance,
	}, nil
}

// Pow returns Phi raised to n. Negative n gives the decaying weights used
// when blending seeds.
func Pow(n int) float64 {
	return math.Pow(Phi, float64(n))
}
