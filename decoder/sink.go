package decoder

import (
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-pose/fields"
	"github.com/nvr-ai/go-pose/intensity"
)

// FieldKind distinguishes intensity from association fields.
type FieldKind int

const (
	// FieldIntensity is a per-joint intensity (PIF) field.
	FieldIntensity FieldKind = iota
	// FieldAssociation is a per-edge association (PAF) field.
	FieldAssociation
)

// String returns the short field name.
func (k FieldKind) String() string {
	switch k {
	case FieldIntensity:
		return "pif"
	case FieldAssociation:
		return "paf"
	default:
		return "unknown"
	}
}

// Sink receives intermediate arrays for inspection. It is write-only: nothing
// a sink does feeds back into decoding. Arguments must be treated as
// read-only and must not be retained past the call unless copied.
type Sink interface {
	// RecordRawField receives a raw field tensor before any scaling.
	RecordRawField(kind FieldKind, stride int, field *tensor.Dense)
	// RecordIntensity receives a normalized intensity source.
	RecordIntensity(src *fields.Intensity)
	// RecordAssociation receives a normalized association source.
	RecordAssociation(src *fields.Association)
	// RecordSurface receives the accumulated intensity surface.
	RecordSurface(acc *intensity.Accumulator)
}
