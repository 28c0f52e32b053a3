// Package visualize - Inspection sinks and heatmap rendering for decoder
// intermediates.
package visualize

import (
	"image"
	"sync"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-pose/decoder"
	"github.com/nvr-ai/go-pose/fields"
	"github.com/nvr-ai/go-pose/intensity"
)

// RawField is a copy of one raw field handed to a sink.
type RawField struct {
	Kind   decoder.FieldKind
	Stride int
	Field  *tensor.Dense
}

// Recorder keeps every intermediate of the decodes it observes in memory.
// It is safe for concurrent use.
type Recorder struct {
	mu          sync.Mutex
	raw         []RawField
	intensity   []*fields.Intensity
	association []*fields.Association
	surfaces    []*intensity.Accumulator
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordRawField stores a deep copy of field.
func (r *Recorder) RecordRawField(kind decoder.FieldKind, stride int, field *tensor.Dense) {
	if field == nil {
		return
	}
	clone, ok := field.Clone().(*tensor.Dense)
	if !ok {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raw = append(r.raw, RawField{Kind: kind, Stride: stride, Field: clone})
}

// RecordIntensity stores a normalized intensity source.
func (r *Recorder) RecordIntensity(src *fields.Intensity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intensity = append(r.intensity, src)
}

// RecordAssociation stores a normalized association source.
func (r *Recorder) RecordAssociation(src *fields.Association) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.association = append(r.association, src)
}

// RecordSurface stores the intensity surface of a decode.
func (r *Recorder) RecordSurface(acc *intensity.Accumulator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surfaces = append(r.surfaces, acc)
}

// Raw returns the recorded raw fields of one kind in arrival order.
func (r *Recorder) Raw(kind decoder.FieldKind) []RawField {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []RawField
	for _, f := range r.raw {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Intensity returns the recorded normalized intensity sources.
func (r *Recorder) Intensity() []*fields.Intensity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fields.Intensity(nil), r.intensity...)
}

// Association returns the recorded normalized association sources.
func (r *Recorder) Association() []*fields.Association {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fields.Association(nil), r.association...)
}

// Surfaces returns the recorded intensity surfaces.
func (r *Recorder) Surfaces() []*intensity.Accumulator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*intensity.Accumulator(nil), r.surfaces...)
}

// Reset drops everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.raw, r.intensity, r.association, r.surfaces = nil, nil, nil, nil
}

// SurfaceImage renders the surface of one joint as an 8-bit image over the
// full pixel frame.
func SurfaceImage(acc *intensity.Accumulator, joint int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, acc.Width, acc.Height))
	for i, v := range acc.Map(joint) {
		img.Pix[i] = toGray(v)
	}
	return img
}

// ConfidenceImage renders the strongest confidence over all types of a raw
// [types, channels, h, w] field, upscaled by stride to the pixel frame.
//
// Arguments:
//   - field: The raw field tensor.
//   - stride: The field stride; 1 keeps field resolution.
//
// Returns:
//   - *image.Gray: The heatmap.
//   - error: fields.ErrShape when the tensor is not a rank 4 float32 field.
func ConfidenceImage(field *tensor.Dense, stride int) (*image.Gray, error) {
	if field == nil {
		return nil, errors.Wrap(fields.ErrShape, "nil field")
	}
	shape := field.Shape()
	if len(shape) != 4 {
		return nil, errors.Wrapf(fields.ErrShape, "shape %v, want rank 4", shape)
	}
	raw, err := fields.NewRaw(field, shape[0], 1, shape[1])
	if err != nil {
		return nil, err
	}

	img := image.NewGray(image.Rect(0, 0, raw.Width, raw.Height))
	for typ := 0; typ < raw.Types; typ++ {
		for i, v := range raw.Plane(typ, 0) {
			if g := toGray(v); g > img.Pix[i] {
				img.Pix[i] = g
			}
		}
	}
	if stride <= 1 {
		return img, nil
	}

	scaled := resize.Resize(uint(raw.Width*stride), uint(raw.Height*stride), img, resize.NearestNeighbor)
	gray, ok := scaled.(*image.Gray)
	if !ok {
		return nil, errors.Errorf("unexpected resized image type %T", scaled)
	}
	return gray, nil
}

func toGray(v float32) uint8 {
	return uint8(math32.Round(255 * math32.Max(0, math32.Min(1, v))))
}
