// Package annotation - Pose annotations produced by the decoder.
package annotation

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/nvr-ai/go-pose/skeleton"
)

// Keypoint is one joint of an annotation.
type Keypoint struct {
	X   float32 `json:"x"`
	Y   float32 `json:"y"`
	C   float32 `json:"c"`
	Set bool    `json:"set"`
}

// Annotation is a single person: one optional keypoint per joint type plus an
// aggregate score.
type Annotation struct {
	Keypoints []Keypoint `json:"keypoints"`
	Score     float32    `json:"score"`

	// Skeleton the keypoints are indexed by.
	Skeleton *skeleton.Skeleton `json:"-"`
}

// New returns an empty annotation for skel.
func New(skel *skeleton.Skeleton) *Annotation {
	return &Annotation{
		Keypoints: make([]Keypoint, skel.NumJoints()),
		Skeleton:  skel,
	}
}

// Set stores joint j and refreshes the score.
func (a *Annotation) Set(j skeleton.JointType, x, y, c float32) {
	a.Keypoints[j] = Keypoint{X: x, Y: y, C: c, Set: true}
	a.Rescore()
}

// Has reports whether joint j is populated.
func (a *Annotation) Has(j skeleton.JointType) bool {
	return j >= 0 && int(j) < len(a.Keypoints) && a.Keypoints[j].Set
}

// Count returns the number of populated joints.
func (a *Annotation) Count() int {
	n := 0
	for _, k := range a.Keypoints {
		if k.Set {
			n++
		}
	}
	return n
}

// Rescore recomputes Score as 0.1 * max(c) + 0.9 * mean(c²) over all joint
// types, counting missing joints as zero. More joints and more confident
// joints both raise the score.
func (a *Annotation) Rescore() {
	if len(a.Keypoints) == 0 {
		a.Score = 0
		return
	}
	c := make([]float64, len(a.Keypoints))
	sq := make([]float64, len(a.Keypoints))
	for i, k := range a.Keypoints {
		if !k.Set {
			continue
		}
		c[i] = float64(k.C)
		sq[i] = c[i] * c[i]
	}
	a.Score = float32(0.1*floats.Max(c) + 0.9*stat.Mean(sq, nil))
}

// Clone returns a deep copy.
func (a *Annotation) Clone() *Annotation {
	kps := make([]Keypoint, len(a.Keypoints))
	copy(kps, a.Keypoints)
	return &Annotation{Keypoints: kps, Score: a.Score, Skeleton: a.Skeleton}
}

// Scale multiplies every populated joint location by (sx, sy).
func (a *Annotation) Scale(sx, sy float32) {
	for i := range a.Keypoints {
		if a.Keypoints[i].Set {
			a.Keypoints[i].X *= sx
			a.Keypoints[i].Y *= sy
		}
	}
}

// String formats the populated joints for logs.
func (a *Annotation) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Annotation (score %.3f, %d joints)", a.Score, a.Count())
	for j, k := range a.Keypoints {
		if !k.Set {
			continue
		}
		name := fmt.Sprintf("%d", j)
		if a.Skeleton != nil {
			name = a.Skeleton.Name(skeleton.JointType(j))
		}
		fmt.Fprintf(&b, " %s=(%.1f, %.1f, %.2f)", name, k.X, k.Y, k.C)
	}
	return b.String()
}
