// Package seeds - Priority ordered edge seeds extracted from association fields.
package seeds

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-pose/fields"
	"github.com/nvr-ai/go-pose/skeleton"
)

// DefaultSuppressionFactor scales the stride into the suppression radius.
const DefaultSuppressionFactor = 2.0

// Seed is a candidate instantiation of one skeleton edge.
type Seed struct {
	// Edge is the index of the skeleton edge.
	Edge int
	// From and To are the joint types at the start and end of the edge.
	From, To skeleton.JointType
	// Row holds both regressed endpoints and the (scaled) confidence.
	Row fields.AssociationRow
	// Score orders seeds; it is the confidence times the edge score scale.
	Score float32
	// Stride of the field source the seed came from.
	Stride int
}

// Limits bounds the endpoint distance of rows from one field source.
type Limits struct {
	// MinDistance drops rows with shorter edges.
	MinDistance float32
	// MaxDistance drops rows with longer edges; 0 disables the bound.
	MaxDistance float32
}

// Allows reports whether a row of the given endpoint distance passes.
func (l Limits) Allows(d float32) bool {
	if d < l.MinDistance {
		return false
	}
	return l.MaxDistance <= 0 || d <= l.MaxDistance
}

// Options configures a Generator.
type Options struct {
	// Threshold is the minimum confidence of a seed row (exclusive).
	Threshold float32
	// ScoreScale multiplies the score per edge. Nil means 1 for every edge.
	ScoreScale []float32
	// SuppressionFactor scales the stride into the suppression radius.
	SuppressionFactor float32
}

// SuppressionRadius returns the pixel distance under which two endpoints of
// the same type count as the same location for a field of the given stride.
func SuppressionRadius(stride int, factor float32) float32 {
	if factor <= 0 {
		factor = DefaultSuppressionFactor
	}
	return math32.Max(2, factor*float32(stride)/2)
}

// Generator collects seed candidates from one or more field sources.
// It is not safe for concurrent use.
type Generator struct {
	skeleton   *skeleton.Skeleton
	opts       Options
	candidates []Seed
}

// NewGenerator validates opts against the skeleton.
func NewGenerator(skel *skeleton.Skeleton, opts Options) (*Generator, error) {
	if opts.ScoreScale != nil && len(opts.ScoreScale) != skel.NumEdges() {
		return nil, errors.Errorf("score scale has %d entries for %d edges",
			len(opts.ScoreScale), skel.NumEdges())
	}
	if opts.SuppressionFactor <= 0 {
		opts.SuppressionFactor = DefaultSuppressionFactor
	}
	return &Generator{skeleton: skel, opts: opts}, nil
}

// Fill scans one normalized association source and records every row above
// the threshold whose edge length passes limits.
func (g *Generator) Fill(src *fields.Association, limits Limits) error {
	if len(src.Rows) != g.skeleton.NumEdges() {
		return errors.Wrapf(fields.ErrShape, "association source has %d edges, skeleton has %d",
			len(src.Rows), g.skeleton.NumEdges())
	}
	for e, rows := range src.Rows {
		edge := g.skeleton.Edges[e]
		scale := float32(1)
		if g.opts.ScoreScale != nil {
			scale = g.opts.ScoreScale[e]
		}
		for _, r := range rows {
			if r.C <= g.opts.Threshold {
				continue
			}
			if !limits.Allows(r.Length()) {
				continue
			}
			g.candidates = append(g.candidates, Seed{
				Edge:   e,
				From:   edge.From,
				To:     edge.To,
				Row:    r,
				Score:  r.C * scale,
				Stride: src.Stride,
			})
		}
	}
	return nil
}

// Len returns the number of candidates recorded so far.
func (g *Generator) Len() int { return len(g.candidates) }

type cell struct{ edge, x, y int }

// Seeds suppresses near-duplicate candidates of the same edge and returns the
// survivors ordered by descending score, then edge index, then scan order.
func (g *Generator) Seeds() []Seed {
	if len(g.candidates) == 0 {
		return nil
	}

	ordered := make([]Seed, len(g.candidates))
	copy(ordered, g.candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].Edge < ordered[j].Edge
	})

	var size float32
	for _, s := range ordered {
		size = math32.Max(size, SuppressionRadius(s.Stride, g.opts.SuppressionFactor))
	}

	kept := make([]Seed, 0, len(ordered))
	grid := make(map[cell][]int)
	for _, s := range ordered {
		cx := int(math32.Floor(s.Row.X1 / size))
		cy := int(math32.Floor(s.Row.Y1 / size))
		if g.suppressed(s, kept, grid, cx, cy) {
			continue
		}
		key := cell{edge: s.Edge, x: cx, y: cy}
		grid[key] = append(grid[key], len(kept))
		kept = append(kept, s)
	}
	return kept
}

func (g *Generator) suppressed(s Seed, kept []Seed, grid map[cell][]int, cx, cy int) bool {
	r := SuppressionRadius(s.Stride, g.opts.SuppressionFactor)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			for _, i := range grid[cell{edge: s.Edge, x: cx + dx, y: cy + dy}] {
				k := kept[i]
				radius := math32.Max(r, SuppressionRadius(k.Stride, g.opts.SuppressionFactor))
				if math32.Hypot(k.Row.X1-s.Row.X1, k.Row.Y1-s.Row.Y1) < radius &&
					math32.Hypot(k.Row.X2-s.Row.X2, k.Row.Y2-s.Row.Y2) < radius {
					return true
				}
			}
		}
	}
	return false
}
