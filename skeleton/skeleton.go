// Package skeleton - Keypoint and edge topology shared by the pose decoder.
package skeleton

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// JointType is an index into the ordered keypoint list of a Skeleton.
type JointType int

// Edge is a directed connection between two joint types. Association fields
// regress the From joint first and the To joint second.
type Edge struct {
	From JointType `json:"from" yaml:"from"`
	To   JointType `json:"to" yaml:"to"`
}

// Reverse returns the edge with its endpoints swapped.
func (e Edge) Reverse() Edge {
	return Edge{From: e.To, To: e.From}
}

// Skeleton is the fixed topology a model was trained with. Keypoints and
// Edges must not change after first use; the adjacency index is built once,
// so a single value can be shared by concurrent decoders. Use it by pointer.
type Skeleton struct {
	// Keypoints are the joint names, indexed by JointType.
	Keypoints []string `json:"keypoints" yaml:"keypoints"`
	// Edges are the connections, indexed by association field.
	Edges []Edge `json:"edges" yaml:"edges"`

	indexOnce sync.Once
	adjacency [][]Incidence
}

// Incidence describes one edge touching a joint.
type Incidence struct {
	// Edge is the index of the edge in Skeleton.Edges.
	Edge int
	// Other is the joint at the far end.
	Other JointType
	// Forward is true when the joint is the From end of the edge.
	Forward bool
}

// ErrInvalid is returned for skeletons with out-of-range or degenerate edges.
var ErrInvalid = errors.New("invalid skeleton")

// New builds a validated skeleton from keypoint names and edges.
//
// Arguments:
//   - keypoints: Ordered keypoint names.
//   - edges: Connections between keypoints.
//
// Returns:
//   - *Skeleton: The skeleton with its adjacency index built.
//   - error: ErrInvalid if an edge is out of range, a self loop or a duplicate.
func New(keypoints []string, edges []Edge) (*Skeleton, error) {
	s := &Skeleton{Keypoints: keypoints, Edges: edges}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s.indexOnce.Do(s.index)
	return s, nil
}

// MustNew is like New but panics on an invalid definition. Use it for
// package-level definitions only.
func MustNew(keypoints []string, edges []Edge) *Skeleton {
	s, err := New(keypoints, edges)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks that every edge references two distinct known keypoints
// and that no connection is listed twice.
func (s *Skeleton) Validate() error {
	if len(s.Keypoints) == 0 {
		return errors.Wrap(ErrInvalid, "no keypoints")
	}
	seen := make(map[Edge]int, len(s.Edges))
	for i, e := range s.Edges {
		if !s.valid(e.From) || !s.valid(e.To) {
			return errors.Wrapf(ErrInvalid, "edge %d (%d-%d) out of range", i, e.From, e.To)
		}
		if e.From == e.To {
			return errors.Wrapf(ErrInvalid, "edge %d is a self loop on %d", i, e.From)
		}
		if prev, ok := seen[e]; ok {
			return errors.Wrapf(ErrInvalid, "edge %d duplicates edge %d", i, prev)
		}
		if prev, ok := seen[e.Reverse()]; ok {
			return errors.Wrapf(ErrInvalid, "edge %d duplicates edge %d", i, prev)
		}
		seen[e] = i
	}
	return nil
}

func (s *Skeleton) valid(j JointType) bool {
	return j >= 0 && int(j) < len(s.Keypoints)
}

func (s *Skeleton) index() {
	s.adjacency = make([][]Incidence, len(s.Keypoints))
	for i, e := range s.Edges {
		s.adjacency[e.From] = append(s.adjacency[e.From], Incidence{Edge: i, Other: e.To, Forward: true})
		s.adjacency[e.To] = append(s.adjacency[e.To], Incidence{Edge: i, Other: e.From, Forward: false})
	}
}

// NumJoints returns the number of keypoint types.
func (s *Skeleton) NumJoints() int { return len(s.Keypoints) }

// NumEdges returns the number of edge types.
func (s *Skeleton) NumEdges() int { return len(s.Edges) }

// Incident returns the edges touching joint j in edge index order.
func (s *Skeleton) Incident(j JointType) []Incidence {
	s.indexOnce.Do(s.index)
	if !s.valid(j) {
		return nil
	}
	return s.adjacency[j]
}

// Name returns the keypoint name of j.
func (s *Skeleton) Name(j JointType) string {
	if !s.valid(j) {
		return fmt.Sprintf("joint(%d)", int(j))
	}
	return s.Keypoints[j]
}
