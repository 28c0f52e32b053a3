// Package intensity - High resolution joint intensity surfaces built from
// normalized intensity rows.
package intensity

import (
	"github.com/chewxy/math32"

	"github.com/nvr-ai/go-pose/fields"
)

const (
	// DefaultPifNN is the number of field rows expected to vote for one joint.
	DefaultPifNN = 16
	// DefaultMinConfidence skips rows too weak to matter.
	DefaultMinConfidence = 0.1
	// truncate bounds the Gaussian footprint in units of sigma.
	truncate = 2.0
)

// Options configures an Accumulator.
type Options struct {
	// PifNN divides every contribution; a joint seen by PifNN full-confidence
	// rows saturates the surface.
	PifNN int
	// MinConfidence skips rows with confidence <= MinConfidence.
	MinConfidence float32
}

// Accumulator holds one continuous scoring surface per joint type over the
// pixel frame. Contributions add, so the surface does not depend on the order
// rows are added in (up to float rounding).
type Accumulator struct {
	Width  int
	Height int

	opts Options
	maps [][]float32
}

// New allocates an empty accumulator for joints surfaces of width x height.
//
// Arguments:
//   - joints: Number of joint types.
//   - width: Frame width in pixels.
//   - height: Frame height in pixels.
//   - opts: Kernel options. Zero values take the defaults.
//
// Returns:
//   - *Accumulator: The zeroed accumulator.
func New(joints, width, height int, opts Options) *Accumulator {
	if opts.PifNN <= 0 {
		opts.PifNN = DefaultPifNN
	}
	if opts.MinConfidence <= 0 {
		opts.MinConfidence = DefaultMinConfidence
	}
	maps := make([][]float32, joints)
	for j := range maps {
		maps[j] = make([]float32, width*height)
	}
	return &Accumulator{Width: width, Height: height, opts: opts, maps: maps}
}

// Joints returns the number of surfaces.
func (a *Accumulator) Joints() int { return len(a.maps) }

// Add splats the rows of one joint type onto its surface. Rows whose scale is
// below minScale are ignored.
func (a *Accumulator) Add(joint int, rows []fields.IntensityRow, minScale float32) {
	if joint < 0 || joint >= len(a.maps) {
		return
	}
	target := a.maps[joint]
	nn := float32(a.opts.PifNN)
	for _, r := range rows {
		if r.C <= a.opts.MinConfidence {
			continue
		}
		if minScale > 0 && r.Scale < minScale {
			continue
		}
		sigma := math32.Max(1, 0.5*r.B)
		a.splat(target, r.X, r.Y, sigma, r.C/nn/sigma)
	}
}

// AddAll splats one source worth of rows for every joint type.
func (a *Accumulator) AddAll(rows [][]fields.IntensityRow, minScale float32) {
	for j, r := range rows {
		a.Add(j, r, minScale)
	}
}

func (a *Accumulator) splat(target []float32, x, y, sigma, v float32) {
	reach := truncate * sigma
	minX := max(0, int(math32.Ceil(x-reach)))
	maxX := min(a.Width-1, int(math32.Floor(x+reach)))
	minY := max(0, int(math32.Ceil(y-reach)))
	maxY := min(a.Height-1, int(math32.Floor(y+reach)))
	if minX > maxX || minY > maxY {
		return
	}

	inv := -0.5 / (sigma * sigma)
	reach2 := reach * reach
	for yy := minY; yy <= maxY; yy++ {
		dy := float32(yy) - y
		row := target[yy*a.Width : (yy+1)*a.Width]
		for xx := minX; xx <= maxX; xx++ {
			dx := float32(xx) - x
			d2 := dx*dx + dy*dy
			if d2 > reach2 {
				continue
			}
			row[xx] += v * math32.Exp(d2*inv)
		}
	}
}

// at returns the clipped surface value of a pixel, 0 outside the frame.
func (a *Accumulator) at(joint, x, y int) float32 {
	if x < 0 || y < 0 || x >= a.Width || y >= a.Height {
		return 0
	}
	return math32.Min(1, a.maps[joint][y*a.Width+x])
}

// Value returns the bilinear interpolated confidence of joint at (x, y).
func (a *Accumulator) Value(joint int, x, y float32) float32 {
	if joint < 0 || joint >= len(a.maps) {
		return 0
	}
	x0, y0 := math32.Floor(x), math32.Floor(y)
	fx, fy := x-x0, y-y0
	ix, iy := int(x0), int(y0)

	v00 := a.at(joint, ix, iy)
	v10 := a.at(joint, ix+1, iy)
	v01 := a.at(joint, ix, iy+1)
	v11 := a.at(joint, ix+1, iy+1)
	return (1-fy)*((1-fx)*v00+fx*v10) + fy*((1-fx)*v01+fx*v11)
}

// Peak returns the highest surface pixel of joint within radius of (x, y).
// Ties keep the first pixel in row-major order. A zero value means the
// region holds no evidence.
func (a *Accumulator) Peak(joint int, x, y, radius float32) (px, py, v float32) {
	px, py = x, y
	a.region(joint, x, y, radius, func(xx, yy int, value float32) {
		if value > v {
			px, py, v = float32(xx), float32(yy), value
		}
	})
	return px, py, v
}

// Centroid returns the value-weighted centroid of the surface of joint within
// radius of (x, y) together with the peak value of that region.
func (a *Accumulator) Centroid(joint int, x, y, radius float32) (cx, cy, peak float32) {
	var sx, sy, sw float32
	a.region(joint, x, y, radius, func(xx, yy int, value float32) {
		sx += value * float32(xx)
		sy += value * float32(yy)
		sw += value
		if value > peak {
			peak = value
		}
	})
	if sw == 0 {
		return x, y, 0
	}
	return sx / sw, sy / sw, peak
}

func (a *Accumulator) region(joint int, x, y, radius float32, visit func(xx, yy int, value float32)) {
	if joint < 0 || joint >= len(a.maps) {
		return
	}
	radius = math32.Max(radius, 1)
	r2 := radius * radius
	minX := max(0, int(math32.Ceil(x-radius)))
	maxX := min(a.Width-1, int(math32.Floor(x+radius)))
	minY := max(0, int(math32.Ceil(y-radius)))
	maxY := min(a.Height-1, int(math32.Floor(y+radius)))
	for yy := minY; yy <= maxY; yy++ {
		dy := float32(yy) - y
		for xx := minX; xx <= maxX; xx++ {
			dx := float32(xx) - x
			if dx*dx+dy*dy > r2 {
				continue
			}
			if value := a.at(joint, xx, yy); value > 0 {
				visit(xx, yy, value)
			}
		}
	}
}

// Map returns a copy of the clipped surface of joint in row-major order.
func (a *Accumulator) Map(joint int) []float32 {
	out := make([]float32, a.Width*a.Height)
	for i, v := range a.maps[joint] {
		out[i] = math32.Min(1, v)
	}
	return out
}
