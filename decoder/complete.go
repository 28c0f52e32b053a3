package decoder

import (
	"sort"

	"github.com/chewxy/math32"

	"github.com/nvr-ai/go-pose/annotation"
	"github.com/nvr-ai/go-pose/skeleton"
)

// complete fills missing joints of anns in place and returns how many joints
// were added. Claims are rebuilt from anns so a second call on its own output
// adds nothing. Annotations are visited best first; the order is fixed before
// the first pass.
func (f *frame) complete(anns []*annotation.Annotation) int {
	if f.surface == nil || len(anns) == 0 {
		return 0
	}

	occ := NewOccupancy(f.skel.NumJoints(), f.radius)
	for i, ann := range anns {
		for j, k := range ann.Keypoints {
			if k.Set {
				occ.Claim(skeleton.JointType(j), k.X, k.Y, Handle(i))
			}
		}
	}

	order := make([]int, len(anns))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return anns[order[a]].Score > anns[order[b]].Score })

	added := 0
	for pass := 0; pass < f.set.maxPasses; pass++ {
		n := 0
		for _, i := range order {
			n += f.completeOne(Handle(i), anns[i], occ)
		}
		added += n
		if n == 0 {
			break
		}
	}
	return added
}

// completeOne grows ann along the edges that leave its populated joints.
// Joints are visited in index order; a joint added here is extended in the
// same call when its index comes later.
func (f *frame) completeOne(h Handle, ann *annotation.Annotation, occ *Occupancy) int {
	n := 0
	for j := range ann.Keypoints {
		anchor := skeleton.JointType(j)
		if !ann.Has(anchor) {
			continue
		}
		k := ann.Keypoints[anchor]
		for _, inc := range f.skel.Incident(anchor) {
			target := inc.Other
			if ann.Has(target) {
				continue
			}

			est, ok := f.expect(inc.Edge, inc.Forward, k.X, k.Y)
			if !ok {
				continue
			}

			px, py, peak := f.surface.Peak(int(target), est.x, est.y, 2*math32.Max(1, est.b))
			if peak <= 0 || peak < f.set.CompletionThreshold {
				continue
			}
			x, y, _ := f.surface.Centroid(int(target), px, py, math32.Max(1, 0.5*est.b))
			if occ.Claimed(target, x, y) {
				continue
			}
			ann.Set(target, x, y, peak)
			occ.Claim(target, x, y, h)
			n++
		}
	}
	return n
}

// expect returns where the far joint of edge should be, seen from (x, y).
// Association evidence wins; the mean edge offset is the fallback.
func (f *frame) expect(edge int, forward bool, x, y float32) (estimate, bool) {
	if est, ok := f.associate(edge, forward, x, y, f.spread); ok {
		return est, true
	}
	off := f.offsets[edge]
	if !off.ok {
		return estimate{}, false
	}
	if !forward {
		return estimate{x: x - off.dx, y: y - off.dy, b: f.spread}, true
	}
	return estimate{x: x + off.dx, y: y + off.dy, b: f.spread}, true
}
