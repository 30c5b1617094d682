// Package render draws density grids as PNG heat maps.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"arcintegrity/internal/density"
)

// DefaultScale is the number of pixels per grid cell along each axis.
const DefaultScale = 1

// MaxPixels caps the side of a rendered image.
const MaxPixels = 16384

var (
	ErrNilGrid      = errors.New("render: nil grid")
	ErrInvalidScale = errors.New("render: invalid scale")
)

// MarkerColor is the default colour of center markers.
var MarkerColor = color.RGBA{R: 0x00, G: 0xe5, B: 0xff, A: 0xff}

// Options tune Image.
type Options struct {
	// Scale is the pixels per cell. Zero means DefaultScale.
	Scale int
	// Markers are plane positions drawn as small crosses, typically the
	// constellation centers. Positions outside the grid are skipped.
	Markers []complex128
	// MarkerColor overrides the marker colour.
	MarkerColor color.Color
}

// Image renders g with the inferno ramp applied to log1p intensities
// normalized by the grid maximum. Larger imaginary parts are drawn at the top.
func Image(g *density.Grid, opts Options) (*image.RGBA, error) {
	if g == nil || g.Bins < 1 {
		return nil, ErrNilGrid
	}
	scale := opts.Scale
	if scale == 0 {
		scale = DefaultScale
	}
	if scale < 1 || g.Bins*scale > MaxPixels {
		return nil, fmt.Errorf("%w: %d", ErrInvalidScale, opts.Scale)
	}

	side := g.Bins * scale
	img := image.NewRGBA(image.Rect(0, 0, side, side))

	peak := g.MaxIntensity()
	for row := 0; row < g.Bins; row++ {
		y0 := (g.Bins - 1 - row) * scale
		for col := 0; col < g.Bins; col++ {
			t := 0.0
			if peak > 0 {
				t = g.Intensity[row][col] / peak
			}
			c := Inferno(t)
			x0 := col * scale
			for dy := 0; dy < scale; dy++ {
				for dx := 0; dx < scale; dx++ {
					img.SetRGBA(x0+dx, y0+dy, c)
				}
			}
		}
	}

	mc := opts.MarkerColor
	if mc == nil {
		mc = MarkerColor
	}
	ext := g.Extent()
	arm := max(2, side/128)
	for _, m := range opts.Markers {
		x, y, ok := pixel(m, ext, side)
		if !ok {
			continue
		}
		drawCross(img, x, y, arm, mc)
	}
	return img, nil
}

// WritePNG renders g and encodes it to w.
func WritePNG(w io.Writer, g *density.Grid, opts Options) error {
	img, err := Image(g, opts)
	if err != nil {
		return err
	}
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	return enc.Encode(w, img)
}

// pixel maps a plane position to image coordinates.
func pixel(z complex128, ext density.Extent, side int) (int, int, bool) {
	x, y := real(z), imag(z)
	if x < ext.XMin || x > ext.XMax || y < ext.YMin || y > ext.YMax {
		return 0, 0, false
	}
	px := int((x - ext.XMin) / (ext.XMax - ext.XMin) * float64(side))
	py := int((ext.YMax - y) / (ext.YMax - ext.YMin) * float64(side))
	return min(px, side-1), min(py, side-1), true
}

func drawCross(img *image.RGBA, x, y, arm int, c color.Color) {
	b := img.Bounds()
	for d := -arm; d <= arm; d++ {
		if p := image.Pt(x+d, y); p.In(b) {
			img.Set(p.X, p.Y, c)
		}
		if p := image.Pt(x, y+d); p.In(b) {
			img.Set(p.X, p.Y, c)
		}
	}
}

// infernoStops samples the inferno colour map at nine evenly spaced points.
var infernoStops = [...]color.RGBA{
	{0, 0, 4, 255},
	{31, 12, 72, 255},
	{85, 15, 109, 255},
	{136, 34, 106, 255},
	{186, 54, 85, 255},
	{227, 89, 51, 255},
	{249, 140, 10, 255},
	{249, 201, 50, 255},
	{252, 255, 164, 255},
}

// Inferno maps t in [0,1] onto the ramp. Values outside are clamped.
func Inferno(t float64) color.RGBA {
	if math.IsNaN(t) || t <= 0 {
		return infernoStops[0]
	}
	if t >= 1 {
		return infernoStops[len(infernoStops)-1]
	}
	pos := t * float64(len(infernoStops)-1)
	i := int(pos)
	f := pos - float64(i)
	a, b := infernoStops[i], infernoStops[i+1]
	lerp := func(x, y uint8) uint8 {
		return uint8(math.Round(float64(x) + f*(float64(y)-float64(x))))
	}
	return color.RGBA{R: lerp(a.R, b.R), G: lerp(a.G, b.G), B: lerp(a.B, b.B), A: 255}
}
