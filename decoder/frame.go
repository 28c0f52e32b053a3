package decoder

import (
	"sort"

	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/stat"

	"github.com/nvr-ai/go-pose/fields"
	"github.com/nvr-ai/go-pose/intensity"
	"github.com/nvr-ai/go-pose/skeleton"
)

// frame is the read-only evidence of one decode call.
type frame struct {
	skel    *skeleton.Skeleton
	set     *settings
	surface *intensity.Accumulator
	// rows holds the association rows of every source, per edge.
	rows [][]fields.AssociationRow
	// offsets is the mean From→To displacement per edge.
	offsets []offset
	// spread is the anchor spread used when none is known.
	spread float32
	// radius is the claim tolerance.
	radius float32
}

type offset struct {
	dx, dy float32
	ok     bool
}

// edgeOffsets computes the confidence weighted mean displacement of every edge.
func edgeOffsets(rows [][]fields.AssociationRow) []offset {
	out := make([]offset, len(rows))
	for e, rs := range rows {
		if len(rs) == 0 {
			continue
		}
		dx := make([]float64, len(rs))
		dy := make([]float64, len(rs))
		w := make([]float64, len(rs))
		var total float64
		for i, r := range rs {
			dx[i] = float64(r.X2 - r.X1)
			dy[i] = float64(r.Y2 - r.Y1)
			w[i] = float64(r.C)
			total += w[i]
		}
		if total <= 0 {
			continue
		}
		out[e] = offset{
			dx: float32(stat.Mean(dx, w)),
			dy: float32(stat.Mean(dy, w)),
			ok: true,
		}
	}
	return out
}

// estimate is a proposed joint location.
type estimate struct {
	x, y float32
	b    float32
	c    float32
}

type candidate struct {
	score float32
	row   fields.AssociationRow
}

// associate estimates the far joint of edge from an anchor at (x, y) with
// spread b. Rows are oriented so that their first endpoint is the anchor
// side. Candidates must start within 2 sigma of the anchor and are scored by
// confidence times a Gaussian of that distance.
func (f *frame) associate(edge int, forward bool, x, y, b float32) (estimate, bool) {
	sigma := math32.Max(1, b)
	filter2 := 4 * sigma * sigma
	inv := -0.5 / (0.25 * sigma * sigma)

	var cands []candidate
	for _, r := range f.rows[edge] {
		if !forward {
			r = r.Reversed()
		}
		dx, dy := r.X1-x, r.Y1-y
		d2 := dx*dx + dy*dy
		if d2 >= filter2 {
			continue
		}
		score := r.C * math32.Exp(d2*inv)
		if score <= 0 {
			continue
		}
		cands = append(cands, candidate{score: score, row: r})
	}
	if len(cands) == 0 {
		return estimate{}, false
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	if len(cands) > f.set.pafNN {
		cands = cands[:f.set.pafNN]
	}

	if f.set.ConnectionMethod == ConnectionMax {
		best := cands[0]
		return estimate{x: best.row.X2, y: best.row.Y2, b: best.row.B2, c: best.score}, true
	}

	var sx, sy, sb, sc, sw float32
	for _, c := range cands {
		sx += c.score * c.row.X2
		sy += c.score * c.row.Y2
		sb += c.score * c.row.B2
		sc += c.score * c.score
		sw += c.score
	}
	return estimate{x: sx / sw, y: sy / sw, b: sb / sw, c: sc / sw}, true
}

// refine mixes the intensity surface of joint near est into the estimate,
// both sides weighted by their confidence. Only the blend method refines.
func (f *frame) refine(joint skeleton.JointType, est estimate) estimate {
	if f.set.ConnectionMethod != ConnectionBlend || f.surface == nil {
		return est
	}
	cx, cy, peak := f.surface.Centroid(int(joint), est.x, est.y, math32.Max(1, est.b))
	if peak <= 0 {
		return est
	}
	w := est.c + peak
	return estimate{
		x: (est.c*est.x + peak*cx) / w,
		y: (est.c*est.y + peak*cy) / w,
		b: est.b,
		c: (est.c*est.c + peak*peak) / w,
	}
}

// anchorConfidence blends a seed confidence with the surface value at the
// seed's start location.
func (f *frame) anchorConfidence(joint skeleton.JointType, x, y, c float32) float32 {
	if f.set.ConnectionMethod != ConnectionBlend || f.surface == nil {
		return c
	}
	v := f.surface.Value(int(joint), x, y)
	if v <= 0 {
		return c
	}
	return (c*c + v*v) / (c + v)
}
