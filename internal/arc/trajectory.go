package arc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
)

const (
	DefaultSteps  = 2_000_000
	DefaultBurnIn = 1_000

	// cancelCheckEvery is how often Sample looks at ctx.
	cancelCheckEvery = 1 << 16
)

var (
	// ErrInvalidStepCount is returned when Steps <= BurnIn or BurnIn < 0.
	ErrInvalidStepCount = errors.New("arc: invalid step count")
	// ErrInvalidSeed is returned for a NaN or infinite seed.
	ErrInvalidSeed = errors.New("arc: invalid seed")
)

// Params controls one sampling run.
type Params struct {
	Steps    int
	BurnIn   int
	Selector SelectorKind
}

// DefaultParams returns 2,000,000 steps with 1,000 discarded.
func DefaultParams() Params {
	return Params{Steps: DefaultSteps, BurnIn: DefaultBurnIn, Selector: SelectorPCG}
}

// Validate checks the step counts.
func (p Params) Validate() error {
	if p.BurnIn < 0 || p.Steps <= p.BurnIn {
		return fmt.Errorf("%w: steps=%d burn_in=%d", ErrInvalidStepCount, p.Steps, p.BurnIn)
	}
	return nil
}

// Recorded is the number of points a valid run keeps.
func (p Params) Recorded() int { return p.Steps - p.BurnIn }

// Trajectory is the ordered list of recorded points.
type Trajectory []complex128

// Bounds is the axis-aligned box around a trajectory.
type Bounds struct {
	RealMin float64 `json:"real_min" yaml:"real_min"`
	RealMax float64 `json:"real_max" yaml:"real_max"`
	ImagMin float64 `json:"imag_min" yaml:"imag_min"`
	ImagMax float64 `json:"imag_max" yaml:"imag_max"`
}

// Bounds returns the min/max of each axis. An empty trajectory yields the
// zero box.
func (t Trajectory) Bounds() Bounds {
	if len(t) == 0 {
		return Bounds{}
	}
	b := Bounds{
		RealMin: real(t[0]), RealMax: real(t[0]),
		ImagMin: imag(t[0]), ImagMax: imag(t[0]),
	}
	for _, z := range t[1:] {
		x, y := real(z), imag(z)
		b.RealMin = math.Min(b.RealMin, x)
		b.RealMax = math.Max(b.RealMax, x)
		b.ImagMin = math.Min(b.ImagMin, y)
		b.ImagMax = math.Max(b.ImagMax, y)
	}
	return b
}

// StartPoint places the seed on the unit circle at angle 2π·seed.
func StartPoint(seed float64) complex128 {
	return cmplx.Exp(complex(0, 2*math.Pi*seed))
}

// Sample runs the chaos game from StartPoint(seed), applying one
// contraction per step toward a center picked by weight. The first
// p.BurnIn points are discarded. The same seed, params and constellation
// always give the same trajectory. A zero Constellation means the default.
func Sample(ctx context.Context, seed float64, p Params, c Constellation) (Trajectory, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if math.IsNaN(seed) || math.IsInf(seed, 0) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSeed, seed)
	}
	if c.IsZero() {
		c = DefaultConstellation()
	}

	sel, err := newSelector(p.Selector, seed)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make(Trajectory, 0, p.Recorded())
	z := StartPoint(seed)
	for i := 0; i < p.Steps; i++ {
		if i%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		z = c.Contract(z, c.Pick(sel.next()))
		if i >= p.BurnIn {
			out = append(out, z)
		}
	}
	return out, nil
}
