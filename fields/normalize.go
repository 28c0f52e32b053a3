package fields

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// IntensityRow is one normalized intensity (PIF) location in pixel space.
type IntensityRow struct {
	C     float32 // confidence
	X, Y  float32 // regressed joint location
	B     float32 // spread of the regression
	Scale float32 // joint scale, 0 when the field carries none
}

// AssociationRow is one normalized association (PAF) location in pixel space.
type AssociationRow struct {
	C      float32
	X1, Y1 float32
	B1     float32
	X2, Y2 float32
	B2     float32
}

// Length is the distance between the two regressed endpoints.
func (r AssociationRow) Length() float32 {
	return math32.Hypot(r.X2-r.X1, r.Y2-r.Y1)
}

// Reversed swaps the endpoints of the row.
func (r AssociationRow) Reversed() AssociationRow {
	return AssociationRow{C: r.C, X1: r.X2, Y1: r.Y2, B1: r.B2, X2: r.X1, Y2: r.Y1, B2: r.B1}
}

// Options controls how one field source is normalized.
type Options struct {
	// Stride maps field cells to pixels.
	Stride int
	// FixedB, when > 0, replaces the regressed spread (in field units).
	FixedB float32
	// ConfidenceScales multiplies association confidences per edge before
	// anything else. Ignored for intensity fields.
	ConfidenceScales []float32
}

// Intensity holds normalized rows per joint type for one source.
type Intensity struct {
	Stride int
	Rows   [][]IntensityRow
	// HasScale is false for 4-channel fields; every row Scale is then 0.
	HasScale bool
}

// Association holds normalized rows per edge type for one source.
type Association struct {
	Stride int
	Rows   [][]AssociationRow
}

// NormalizeIntensity converts a raw [joints, 4|5, h, w] intensity field to
// pixel-space rows. The input tensor is not modified.
func NormalizeIntensity(t *tensor.Dense, joints int, opts Options) (*Intensity, error) {
	if opts.Stride <= 0 {
		return nil, errors.Errorf("stride must be positive, got %d", opts.Stride)
	}
	raw, err := NewRaw(t, joints, IntensityChannels-1, IntensityChannels)
	if err != nil {
		return nil, errors.Wrap(err, "intensity field")
	}

	stride := float32(opts.Stride)
	out := &Intensity{
		Stride:   opts.Stride,
		Rows:     make([][]IntensityRow, joints),
		HasScale: raw.Channels == IntensityChannels,
	}
	for j := 0; j < joints; j++ {
		c, dx, dy, logb := raw.Plane(j, 0), raw.Plane(j, 1), raw.Plane(j, 2), raw.Plane(j, 3)
		var scale []float32
		if raw.Channels == IntensityChannels {
			scale = raw.Plane(j, 4)
		}
		rows := make([]IntensityRow, 0, 16)
		for i := range c {
			if c[i] <= 0 {
				continue
			}
			ix, iy := float32(i%raw.Width), float32(i/raw.Width)
			row := IntensityRow{
				C: c[i],
				X: (ix + dx[i]) * stride,
				Y: (iy + dy[i]) * stride,
				B: spread(logb[i], opts.FixedB) * stride,
			}
			if scale != nil {
				row.Scale = scale[i] * stride
			}
			rows = append(rows, row)
		}
		out.Rows[j] = rows
	}
	return out, nil
}

// NormalizeAssociation converts a raw [edges, 7, h, w] association field to
// pixel-space rows. Confidence scales are applied to a copy; the caller's
// tensor is never written.
func NormalizeAssociation(t *tensor.Dense, edges int, opts Options) (*Association, error) {
	if opts.Stride <= 0 {
		return nil, errors.Errorf("stride must be positive, got %d", opts.Stride)
	}
	if opts.ConfidenceScales != nil && len(opts.ConfidenceScales) != edges {
		return nil, errors.Wrapf(ErrShape, "%d confidence scales for %d edges",
			len(opts.ConfidenceScales), edges)
	}
	raw, err := NewRaw(t, edges, AssociationChannels, AssociationChannels)
	if err != nil {
		return nil, errors.Wrap(err, "association field")
	}

	stride := float32(opts.Stride)
	out := &Association{Stride: opts.Stride, Rows: make([][]AssociationRow, edges)}
	for e := 0; e < edges; e++ {
		cs := float32(1)
		if opts.ConfidenceScales != nil {
			cs = opts.ConfidenceScales[e]
		}
		c := raw.Plane(e, 0)
		dx1, dy1 := raw.Plane(e, 1), raw.Plane(e, 2)
		dx2, dy2 := raw.Plane(e, 3), raw.Plane(e, 4)
		logb1, logb2 := raw.Plane(e, 5), raw.Plane(e, 6)

		rows := make([]AssociationRow, 0, 16)
		for i := range c {
			conf := cs * c[i]
			if conf <= 0 {
				continue
			}
			ix, iy := float32(i%raw.Width), float32(i/raw.Width)
			rows = append(rows, AssociationRow{
				C:  conf,
				X1: (ix + dx1[i]) * stride,
				Y1: (iy + dy1[i]) * stride,
				B1: spread(logb1[i], opts.FixedB) * stride,
				X2: (ix + dx2[i]) * stride,
				Y2: (iy + dy2[i]) * stride,
				B2: spread(logb2[i], opts.FixedB) * stride,
			})
		}
		out.Rows[e] = rows
	}
	return out, nil
}

func spread(logb, fixed float32) float32 {
	if fixed > 0 {
		return fixed
	}
	return math32.Exp(logb)
}

// ConcatAssociation joins the rows of several sources per edge type.
func ConcatAssociation(sources []*Association) [][]AssociationRow {
	if len(sources) == 0 {
		return nil
	}
	out := make([][]AssociationRow, len(sources[0].Rows))
	for _, s := range sources {
		for e, rows := range s.Rows {
			out[e] = append(out[e], rows...)
		}
	}
	return out
}
