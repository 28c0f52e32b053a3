package decoder

import (
	"io"
	"log"
	"time"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-pose/annotation"
	"github.com/nvr-ai/go-pose/fields"
	"github.com/nvr-ai/go-pose/intensity"
	"github.com/nvr-ai/go-pose/profiler"
	"github.com/nvr-ai/go-pose/seeds"
	"github.com/nvr-ai/go-pose/skeleton"
)

// Stage names recorded in Timings.
const (
	StageNormalize = "normalize"
	StageSurface   = "surface"
	StageSeeds     = "seeds"
	StageAssemble  = "assemble"
	StageComplete  = "complete"
	StageDecode    = "decode"
)

// Options holds the collaborators of a Decoder. Every field is optional.
type Options struct {
	// Sink receives intermediate arrays.
	Sink Sink
	// Logger receives one line per decode. Nil discards.
	Logger *log.Logger
	// OutSkeleton is attached to returned annotations instead of the
	// decoding skeleton. It must have the same keypoint count.
	OutSkeleton *skeleton.Skeleton
	// Timings collects stage durations. Nil allocates a private recorder.
	Timings *profiler.Timings
}

// Decoder turns field tensors into pose annotations. It holds no per-call
// state and is safe for concurrent Decode calls as long as the Sink is.
type Decoder struct {
	skel    *skeleton.Skeleton
	out     *skeleton.Skeleton
	set     *settings
	sink    Sink
	logger  *log.Logger
	timings *profiler.Timings
}

// NewDecoder validates cfg against skel and returns a ready decoder.
//
// Arguments:
//   - cfg: The decoder configuration.
//   - skel: The skeleton the fields are laid out for.
//   - opts: Optional collaborators.
//
// Returns:
//   - *Decoder: The decoder.
//   - error: ErrConfig wrapped with the offending option.
//
// @example
// dec, err := NewDecoder(DefaultConfig(), skeleton.COCOPerson(), Options{})
//
//	if err != nil {
//		return err
//	}
//
// anns, err := dec.Decode([]*tensor.Dense{pif, paf}, nil)
func NewDecoder(cfg Config, skel *skeleton.Skeleton, opts Options) (*Decoder, error) {
	set, err := resolve(cfg, skel)
	if err != nil {
		return nil, err
	}
	out := skel
	if opts.OutSkeleton != nil {
		if opts.OutSkeleton.NumJoints() != skel.NumJoints() {
			return nil, errors.Wrapf(ErrConfig, "output skeleton has %d keypoints, want %d",
				opts.OutSkeleton.NumJoints(), skel.NumJoints())
		}
		out = opts.OutSkeleton
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	timings := opts.Timings
	if timings == nil {
		timings = profiler.NewTimings(0)
	}
	return &Decoder{
		skel:    skel,
		out:     out,
		set:     set,
		sink:    opts.Sink,
		logger:  logger,
		timings: timings,
	}, nil
}

// Config returns the configuration the decoder was built from.
func (d *Decoder) Config() Config { return d.set.Config }

// Skeleton returns the decoding skeleton.
func (d *Decoder) Skeleton() *skeleton.Skeleton { return d.skel }

// Timings returns the stage duration recorder.
func (d *Decoder) Timings() *profiler.Timings { return d.timings }

// Decode runs the full pipeline on one image worth of fields.
//
// Arguments:
//   - in: Field tensors, addressed by the PifIndex and PafIndex of each source.
//   - initial: Optional annotations to extend. They are copied, never mutated.
//
// Returns:
//   - []*annotation.Annotation: Annotations with at least two joints, best first.
//   - error: fields.ErrShape for malformed tensors, ErrConfig for mismatched
//     initial annotations.
func (d *Decoder) Decode(in []*tensor.Dense, initial []*annotation.Annotation) ([]*annotation.Annotation, error) {
	start := time.Now()

	f, candidates, err := d.prepare(in)
	if err != nil {
		return nil, err
	}

	done := d.timings.Start(StageAssemble)
	asm := newAssembler(f)
	if err := asm.adopt(initial); err != nil {
		done()
		return nil, err
	}
	for _, s := range candidates {
		if err := asm.consume(s); err != nil {
			done()
			return nil, err
		}
	}
	anns := asm.result()
	done()

	completed := 0
	if d.set.ForceComplete {
		done = d.timings.Start(StageComplete)
		completed = f.complete(anns)
		sortByScore(anns)
		done()
	}

	for _, ann := range anns {
		ann.Skeleton = d.out
	}

	elapsed := time.Since(start)
	d.timings.Record(StageDecode, elapsed)
	d.logger.Printf("decoded %d annotations from %d seeds (%d joints completed) in %s",
		len(anns), len(candidates), completed, elapsed.Truncate(time.Microsecond))
	return anns, nil
}

// prepare normalizes the fields, builds the intensity surface and extracts
// the ordered seeds.
func (d *Decoder) prepare(in []*tensor.Dense) (*frame, []seeds.Seed, error) {
	done := d.timings.Start(StageNormalize)
	pifs, pafs, err := d.normalize(in)
	done()
	if err != nil {
		return nil, nil, err
	}

	var width, height int
	for _, src := range d.set.Sources {
		for _, idx := range []int{src.PifIndex, src.PafIndex} {
			shape := in[idx].Shape()
			width = max(width, shape[3]*src.Stride)
			height = max(height, shape[2]*src.Stride)
		}
	}

	done = d.timings.Start(StageSurface)
	surface := intensity.New(d.skel.NumJoints(), width, height, intensity.Options{
		PifNN:         d.set.PifNN,
		MinConfidence: d.set.PifTh,
	})
	for i, pif := range pifs {
		minScale := d.set.pifMinScale[i]
		if !pif.HasScale {
			// No scale channel to filter on.
			minScale = 0
		}
		surface.AddAll(pif.Rows, minScale)
	}
	done()
	if d.sink != nil {
		d.sink.RecordSurface(surface)
	}

	done = d.timings.Start(StageSeeds)
	defer done()
	gen, err := seeds.NewGenerator(d.skel, seeds.Options{
		Threshold:         d.set.SeedThreshold,
		ScoreScale:        d.set.seedScoreScale,
		SuppressionFactor: d.set.SuppressionFactor,
	})
	if err != nil {
		return nil, nil, invalidConfig(err)
	}
	minStride := 0
	for i, paf := range pafs {
		limits := seeds.Limits{MinDistance: d.set.pafMinDistance[i], MaxDistance: d.set.pafMaxDistance[i]}
		if err := gen.Fill(paf, limits); err != nil {
			return nil, nil, err
		}
		if minStride == 0 || paf.Stride < minStride {
			minStride = paf.Stride
		}
	}

	f := &frame{
		skel:    d.skel,
		set:     d.set,
		surface: surface,
		rows:    fields.ConcatAssociation(pafs),
		spread:  math32.Max(1, float32(minStride)),
		radius:  seeds.SuppressionRadius(minStride, d.set.SuppressionFactor),
	}
	f.offsets = edgeOffsets(f.rows)
	return f, gen.Seeds(), nil
}

// normalize checks the field indices and converts every source. Raw fields
// reach the sink before any scaling.
func (d *Decoder) normalize(in []*tensor.Dense) ([]*fields.Intensity, []*fields.Association, error) {
	for i, src := range d.set.Sources {
		if src.PifIndex >= len(in) || src.PafIndex >= len(in) {
			return nil, nil, errors.Wrapf(fields.ErrShape, "source %d addresses fields %d and %d, got %d fields",
				i, src.PifIndex, src.PafIndex, len(in))
		}
	}

	pifs := make([]*fields.Intensity, len(d.set.Sources))
	pafs := make([]*fields.Association, len(d.set.Sources))
	for i, src := range d.set.Sources {
		if d.sink != nil {
			d.sink.RecordRawField(FieldIntensity, src.Stride, in[src.PifIndex])
			d.sink.RecordRawField(FieldAssociation, src.Stride, in[src.PafIndex])
		}

		pif, err := fields.NormalizeIntensity(in[src.PifIndex], d.skel.NumJoints(), fields.Options{
			Stride: src.Stride,
			FixedB: d.set.FixedB,
		})
		if err != nil {
			return nil, nil, errors.Wrapf(err, "source %d", i)
		}
		paf, err := fields.NormalizeAssociation(in[src.PafIndex], d.skel.NumEdges(), fields.Options{
			Stride:           src.Stride,
			FixedB:           d.set.FixedB,
			ConfidenceScales: d.set.ConfidenceScales,
		})
		if err != nil {
			return nil, nil, errors.Wrapf(err, "source %d", i)
		}
		if d.sink != nil {
			d.sink.RecordIntensity(pif)
			d.sink.RecordAssociation(paf)
		}
		pifs[i], pafs[i] = pif, paf
	}
	return pifs, pafs, nil
}
