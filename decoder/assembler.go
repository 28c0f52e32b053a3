package decoder

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-pose/annotation"
	"github.com/nvr-ai/go-pose/seeds"
	"github.com/nvr-ai/go-pose/skeleton"
)

// assembler grows annotations from seeds in score order. Every extension is
// final: joints are never reassigned once claimed.
type assembler struct {
	*frame
	occ   *Occupancy
	arena []*annotation.Annotation
}

func newAssembler(f *frame) *assembler {
	return &assembler{
		frame: f,
		occ:   NewOccupancy(f.skel.NumJoints(), f.radius),
	}
}

func (a *assembler) add(ann *annotation.Annotation) Handle {
	h := Handle(len(a.arena))
	a.arena = append(a.arena, ann)
	return h
}

func (a *assembler) place(h Handle, j skeleton.JointType, x, y, c float32) {
	a.arena[h].Set(j, x, y, c)
	a.occ.Claim(j, x, y, h)
}

// adopt copies initial annotations into the arena and claims their joints.
// A joint already claimed by an earlier annotation is dropped from the copy.
func (a *assembler) adopt(initial []*annotation.Annotation) error {
	for i, in := range initial {
		if in == nil {
			continue
		}
		if len(in.Keypoints) != a.skel.NumJoints() {
			return errors.Wrapf(ErrConfig, "initial annotation %d has %d keypoints, skeleton has %d",
				i, len(in.Keypoints), a.skel.NumJoints())
		}
		h := a.add(annotation.New(a.skel))
		for j, k := range in.Keypoints {
			jt := skeleton.JointType(j)
			if !k.Set || a.occ.Claimed(jt, k.X, k.Y) {
				continue
			}
			a.place(h, jt, k.X, k.Y, k.C)
		}
	}
	return nil
}

// consume applies one seed. A seed that cannot extend anything is dropped
// without side effects.
func (a *assembler) consume(s seeds.Seed) error {
	if s.Edge < 0 || s.Edge >= a.skel.NumEdges() {
		return errors.Wrapf(ErrSeed, "edge %d out of range", s.Edge)
	}
	if e := a.skel.Edges[s.Edge]; e.From != s.From || e.To != s.To {
		return errors.Wrapf(ErrSeed, "seed joints %d-%d do not match edge %d (%d-%d)",
			s.From, s.To, s.Edge, e.From, e.To)
	}

	from, to, row, forward := s.From, s.To, s.Row, true
	owner, claimed := a.occ.Owner(from, row.X1, row.Y1)
	if !claimed {
		// Grow from the other end when only that one is known.
		if h, ok := a.occ.Owner(to, row.X2, row.Y2); ok {
			from, to, row, forward = to, from, row.Reversed(), false
			owner, claimed = h, true
		}
	}

	if claimed {
		if a.arena[owner].Has(to) {
			return nil
		}
		est, ok := a.connect(s.Edge, forward, to, row.X1, row.Y1, row.B1)
		if !ok {
			return nil
		}
		a.place(owner, to, est.x, est.y, est.c)
		return nil
	}

	est, ok := a.connect(s.Edge, forward, to, row.X1, row.Y1, row.B1)
	if !ok {
		return nil
	}
	h := a.add(annotation.New(a.skel))
	a.place(h, from, row.X1, row.Y1, a.anchorConfidence(from, row.X1, row.Y1, row.C))
	a.place(h, to, est.x, est.y, est.c)
	return nil
}

// connect estimates joint to from an anchor and checks it can be claimed.
func (a *assembler) connect(edge int, forward bool, to skeleton.JointType, x, y, b float32) (estimate, bool) {
	est, ok := a.associate(edge, forward, x, y, b)
	if !ok {
		return estimate{}, false
	}
	est = a.refine(to, est)
	if est.c < a.set.PafTh {
		return estimate{}, false
	}
	if a.occ.Claimed(to, est.x, est.y) {
		return estimate{}, false
	}
	return est, true
}

// result returns the annotations with at least two joints, best first.
// Equal scores keep arena order.
func (a *assembler) result() []*annotation.Annotation {
	out := make([]*annotation.Annotation, 0, len(a.arena))
	for _, ann := range a.arena {
		if ann.Count() < 2 {
			continue
		}
		out = append(out, ann)
	}
	sortByScore(out)
	return out
}

func sortByScore(anns []*annotation.Annotation) {
	sort.SliceStable(anns, func(i, j int) bool { return anns[i].Score > anns[j].Score })
}
