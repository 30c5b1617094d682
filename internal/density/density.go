// Package density bins a trajectory into a square 2-D histogram and a
// log-scaled intensity grid.
package density

import (
	"errors"
	"fmt"
	"math"
)

// DefaultBins is the grid side used when nothing else is configured.
const DefaultBins = 512

// DefaultMargin widens the automatic extent by this fraction of each span.
const DefaultMargin = 0.05

var (
	// ErrEmptyTrajectory is returned when there are no finite points.
	ErrEmptyTrajectory = errors.New("density: empty trajectory")
	// ErrInvalidBins is returned when bins < 1.
	ErrInvalidBins = errors.New("density: invalid bin count")
	// ErrInvalidExtent is returned for a fixed extent with an empty or
	// non-finite range.
	ErrInvalidExtent = errors.New("density: invalid extent")
)

// Extent is the rectangle covered by the grid.
type Extent struct {
	XMin float64 `json:"x_min" yaml:"x_min"`
	XMax float64 `json:"x_max" yaml:"x_max"`
	YMin float64 `json:"y_min" yaml:"y_min"`
	YMax float64 `json:"y_max" yaml:"y_max"`
}

func (e Extent) valid() bool {
	for _, v := range []float64{e.XMin, e.XMax, e.YMin, e.YMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return e.XMin < e.XMax && e.YMin < e.YMax
}

// Options tune Estimate.
type Options struct {
	// Extent fixes the grid rectangle; points outside it are dropped.
	// Nil means the observed range widened by Margin.
	Extent *Extent
	// Margin is the fraction added on each side of an automatic extent.
	// Zero means DefaultMargin.
	Margin float64
}

// Grid is a bins×bins histogram. Row r covers the imaginary axis interval
// [YEdges[r], YEdges[r+1]), column c the real axis interval
// [XEdges[c], XEdges[c+1]); the last row and column are closed.
type Grid struct {
	Bins      int
	Counts    [][]uint64
	Intensity [][]float64
	XEdges    []float64
	YEdges    []float64
	Total     uint64
}

// Summary condenses a grid for reports.
type Summary struct {
	Total    uint64 `json:"total" yaml:"total"`
	MaxCount uint64 `json:"max_count" yaml:"max_count"`
	Occupied int    `json:"occupied_cells" yaml:"occupied_cells"`
	Extent   Extent `json:"extent" yaml:"extent"`
}

// Estimate counts points per cell and sets Intensity to log1p(count).
// With an automatic extent every finite point lands in a cell, so Total
// equals the number of finite points.
func Estimate(points []complex128, bins int, opts Options) (*Grid, error) {
	if bins < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBins, bins)
	}

	var ext Extent
	if opts.Extent != nil {
		if !opts.Extent.valid() {
			return nil, fmt.Errorf("%w: %+v", ErrInvalidExtent, *opts.Extent)
		}
		ext = *opts.Extent
	} else {
		margin := opts.Margin
		if margin == 0 {
			margin = DefaultMargin
		}
		if margin < 0 || math.IsNaN(margin) || math.IsInf(margin, 0) {
			return nil, fmt.Errorf("%w: margin %v", ErrInvalidExtent, margin)
		}
		var ok bool
		ext, ok = autoExtent(points, margin)
		if !ok {
			return nil, ErrEmptyTrajectory
		}
	}
	if len(points) == 0 {
		return nil, ErrEmptyTrajectory
	}

	g := &Grid{
		Bins:      bins,
		Counts:    make([][]uint64, bins),
		Intensity: make([][]float64, bins),
		XEdges:    linspace(ext.XMin, ext.XMax, bins+1),
		YEdges:    linspace(ext.YMin, ext.YMax, bins+1),
	}
	for r := range g.Counts {
		g.Counts[r] = make([]uint64, bins)
		g.Intensity[r] = make([]float64, bins)
	}

	for _, z := range points {
		col, ok := binIndex(real(z), g.XEdges)
		if !ok {
			continue
		}
		row, ok := binIndex(imag(z), g.YEdges)
		if !ok {
			continue
		}
		g.Counts[row][col]++
		g.Total++
	}

	for r, row := range g.Counts {
		for c, n := range row {
			g.Intensity[r][c] = math.Log1p(float64(n))
		}
	}
	return g, nil
}

// Extent returns the rectangle the grid covers.
func (g *Grid) Extent() Extent {
	return Extent{
		XMin: g.XEdges[0], XMax: g.XEdges[len(g.XEdges)-1],
		YMin: g.YEdges[0], YMax: g.YEdges[len(g.YEdges)-1],
	}
}

// MaxIntensity returns the largest log1p count.
func (g *Grid) MaxIntensity() float64 {
	var m float64
	for _, row := range g.Intensity {
		for _, v := range row {
			m = math.Max(m, v)
		}
	}
	return m
}

// Summary returns the totals of the grid.
func (g *Grid) Summary() Summary {
	s := Summary{Total: g.Total, Extent: g.Extent()}
	for _, row := range g.Counts {
		for _, n := range row {
			if n > 0 {
				s.Occupied++
			}
			if n > s.MaxCount {
				s.MaxCount = n
			}
		}
	}
	return s
}

func autoExtent(points []complex128, margin float64) (Extent, bool) {
	first := true
	var e Extent
	for _, z := range points {
		x, y := real(z), imag(z)
		if !finite(x) || !finite(y) {
			continue
		}
		if first {
			e = Extent{XMin: x, XMax: x, YMin: y, YMax: y}
			first = false
			continue
		}
		e.XMin = math.Min(e.XMin, x)
		e.XMax = math.Max(e.XMax, x)
		e.YMin = math.Min(e.YMin, y)
		e.YMax = math.Max(e.YMax, y)
	}
	if first {
		return Extent{}, false
	}
	e.XMin, e.XMax = widen(e.XMin, e.XMax, margin)
	e.YMin, e.YMax = widen(e.YMin, e.YMax, margin)
	return e, true
}

func widen(lo, hi, margin float64) (float64, float64) {
	if lo == hi {
		return lo - 0.5, hi + 0.5
	}
	pad := (hi - lo) * margin
	return lo - pad, hi + pad
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func linspace(lo, hi float64, n int) []float64 {
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// binIndex finds i with edges[i] <= v < edges[i+1], treating the last
// interval as closed. It reports false for values outside the edges.
func binIndex(v float64, edges []float64) (int, bool) {
	n := len(edges) - 1
	lo, hi := edges[0], edges[n]
	if !finite(v) || v < lo || v > hi {
		return 0, false
	}
	if v == hi {
		return n - 1, true
	}

	i := int((v - lo) / (hi - lo) * float64(n))
	if i >= n {
		i = n - 1
	}
	for i > 0 && v < edges[i] {
		i--
	}
	for i < n-1 && v >= edges[i+1] {
		i++
	}
	return i, true
}
