// Package fields - Normalization of raw PIF/PAF model outputs into scored rows.
package fields

import (
	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// ErrShape is returned when a raw field tensor does not have the layout the
// skeleton requires. It is a caller error and aborts the decode.
var ErrShape = errors.New("field shape mismatch")

const (
	// IntensityChannels is the full channel count of an intensity field:
	// confidence, dx, dy, log-spread, scale.
	IntensityChannels = 5
	// AssociationChannels is the channel count of an association field:
	// confidence, dx1, dy1, dx2, dy2, log-spread1, log-spread2.
	AssociationChannels = 7
)

// Raw is a read-only [types, channels, height, width] view over a float32
// field tensor.
type Raw struct {
	data     []float32
	Types    int
	Channels int
	Height   int
	Width    int
}

// NewRaw validates t and wraps its backing data.
//
// Arguments:
//   - t: The field tensor, rank 4, float32.
//   - types: Required size of the first dimension (joints or edges).
//   - minChannels: Minimum channel count.
//   - maxChannels: Maximum channel count.
//
// Returns:
//   - *Raw: The view.
//   - error: ErrShape if rank, dtype or dimensions disagree.
func NewRaw(t *tensor.Dense, types, minChannels, maxChannels int) (*Raw, error) {
	if t == nil {
		return nil, errors.Wrap(ErrShape, "nil tensor")
	}
	if t.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(ErrShape, "dtype %v, want float32", t.Dtype())
	}
	shape := t.Shape()
	if len(shape) != 4 {
		return nil, errors.Wrapf(ErrShape, "rank %d (shape %v), want 4", len(shape), shape)
	}
	if shape[0] != types {
		return nil, errors.Wrapf(ErrShape, "shape %v has %d types, want %d", shape, shape[0], types)
	}
	if shape[1] < minChannels || shape[1] > maxChannels {
		return nil, errors.Wrapf(ErrShape, "shape %v has %d channels, want %d..%d",
			shape, shape[1], minChannels, maxChannels)
	}
	data, ok := t.Data().([]float32)
	if !ok || len(data) != shape.TotalSize() {
		return nil, errors.Wrapf(ErrShape, "backing data does not cover shape %v", shape)
	}
	return &Raw{
		data:     data,
		Types:    shape[0],
		Channels: shape[1],
		Height:   shape[2],
		Width:    shape[3],
	}, nil
}

// Plane returns the height*width slice of one channel of one type.
func (r *Raw) Plane(typ, channel int) []float32 {
	n := r.Height * r.Width
	off := (typ*r.Channels + channel) * n
	return r.data[off : off+n]
}
