// Package arc samples the invariant density of a weighted iterated
// function system: a point repeatedly contracted and rotated toward one of
// six fixed centers, chosen at random by weight.
package arc

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"arcintegrity/internal/phi"
)

// DefaultRadius is the ring radius of the five outer centers.
const DefaultRadius = 3.5

// Lambda is the contraction factor exp(-1/phi + 2πi·phi). Its modulus is
// below one; its argument rotates each application.
var Lambda = cmplx.Exp(complex(-1/phi.Phi, 2*math.Pi*phi.Phi))

// ErrInvalidConstellation is returned for a non-positive radius or weight.
var ErrInvalidConstellation = errors.New("arc: invalid constellation")

// Role names a center by its place in the figure.
type Role string

const (
	RoleCore Role = "core"
	RoleHead Role = "head"
	RoleArm  Role = "arm"
	RoleFoot Role = "foot"
)

// roles lists the centers in order: origin, then the ring counter-clockwise
// from the top.
var roles = [...]Role{RoleCore, RoleHead, RoleArm, RoleFoot, RoleFoot, RoleArm}

// Weights are the unnormalized selection weights per role.
type Weights struct {
	Core float64 `toml:"core" json:"core" yaml:"core"`
	Head float64 `toml:"head" json:"head" yaml:"head"`
	Arm  float64 `toml:"arm" json:"arm" yaml:"arm"`
	Foot float64 `toml:"foot" json:"foot" yaml:"foot"`
}

// DefaultWeights favour the core, then the head, arms and feet.
func DefaultWeights() Weights {
	return Weights{Core: 0.30, Head: 0.25, Arm: 0.15, Foot: 0.075}
}

func (w Weights) of(r Role) float64 {
	switch r {
	case RoleCore:
		return w.Core
	case RoleHead:
		return w.Head
	case RoleArm:
		return w.Arm
	default:
		return w.Foot
	}
}

// Center is one attractor point.
type Center struct {
	Role     Role
	Position complex128
	// Weight is the normalized selection probability.
	Weight float64
}

// Constellation is the fixed set of six centers with a cumulative weight
// table for selection. It is a value type and never changes once built.
type Constellation struct {
	radius     float64
	centers    [6]Center
	cumulative [6]float64
}

// NewConstellation places the core at the origin and five centers on a
// circle of the given radius, at multiples of 72° rotated by 90°.
func NewConstellation(radius float64, w Weights) (Constellation, error) {
	if !(radius > 0) || math.IsInf(radius, 0) {
		return Constellation{}, fmt.Errorf("%w: radius %v", ErrInvalidConstellation, radius)
	}

	var c Constellation
	c.radius = radius

	var total float64
	for i, r := range roles {
		wt := w.of(r)
		if !(wt > 0) || math.IsInf(wt, 0) {
			return Constellation{}, fmt.Errorf("%w: %s weight %v", ErrInvalidConstellation, r, wt)
		}
		total += wt

		var pos complex128
		if i > 0 {
			angle := 2*math.Pi*float64(i-1)/5 + math.Pi/2
			pos = cmplx.Rect(radius, angle)
		}
		c.centers[i] = Center{Role: r, Position: pos, Weight: wt}
	}

	var acc float64
	for i := range c.centers {
		c.centers[i].Weight /= total
		acc += c.centers[i].Weight
		c.cumulative[i] = acc
	}
	c.cumulative[len(c.cumulative)-1] = 1

	return c, nil
}

// DefaultConstellation returns the standard figure.
func DefaultConstellation() Constellation {
	c, err := NewConstellation(DefaultRadius, DefaultWeights())
	if err != nil {
		panic(err)
	}
	return c
}

// Radius returns the ring radius.
func (c Constellation) Radius() float64 { return c.radius }

// Centers returns a copy of the centers.
func (c Constellation) Centers() []Center {
	out := make([]Center, len(c.centers))
	copy(out, c.centers[:])
	return out
}

// IsZero reports whether c was never built.
func (c Constellation) IsZero() bool { return c.radius == 0 }

// Pick maps a uniform draw u in [0, 1) to a center index: the first index
// whose cumulative weight is at least u.
func (c Constellation) Pick(u float64) int {
	i := sort.SearchFloat64s(c.cumulative[:], u)
	if i >= len(c.cumulative) {
		i = len(c.cumulative) - 1
	}
	return i
}

// Contract applies the map z -> Lambda·(z - p) + p toward center k.
func (c Constellation) Contract(z complex128, k int) complex128 {
	p := c.centers[k].Position
	return Lambda*(z-p) + p
}

// AttractorRadius bounds the attractor: every orbit that starts inside
// this disc stays inside it.
func (c Constellation) AttractorRadius() float64 {
	r := cmplx.Abs(Lambda)
	return c.radius * (1 + r) / (1 - r)
}
