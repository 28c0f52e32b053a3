package decoder

import (
	"github.com/chewxy/math32"

	"github.com/nvr-ai/go-pose/skeleton"
)

// Handle is the stable index of an annotation in the decode arena.
type Handle int

type claim struct {
	x, y float32
	h    Handle
}

type cellKey struct{ x, y int }

// Occupancy records which annotation claimed which joint location. A
// location is taken when a claim of the same joint type lies within the
// radius. It lives for one decode and is owned by a single goroutine.
type Occupancy struct {
	radius float32
	cells  []map[cellKey][]claim
}

// NewOccupancy returns an empty map for joints joint types.
func NewOccupancy(joints int, radius float32) *Occupancy {
	cells := make([]map[cellKey][]claim, joints)
	for j := range cells {
		cells[j] = make(map[cellKey][]claim)
	}
	return &Occupancy{radius: math32.Max(radius, 1e-3), cells: cells}
}

// Radius returns the claim tolerance in pixels.
func (o *Occupancy) Radius() float32 { return o.radius }

func (o *Occupancy) key(x, y float32) cellKey {
	return cellKey{x: int(math32.Floor(x / o.radius)), y: int(math32.Floor(y / o.radius))}
}

// Owner returns the annotation holding joint j closest to (x, y) within the
// radius. Equal distances resolve to the lower handle.
func (o *Occupancy) Owner(j skeleton.JointType, x, y float32) (Handle, bool) {
	k := o.key(x, y)
	best, found := Handle(-1), false
	bestD := o.radius * o.radius
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			for _, c := range o.cells[j][cellKey{x: k.x + dx, y: k.y + dy}] {
				ddx, ddy := c.x-x, c.y-y
				d := ddx*ddx + ddy*ddy
				if d > bestD || (found && d == bestD && c.h > best) {
					continue
				}
				best, bestD, found = c.h, d, true
			}
		}
	}
	return best, found
}

// Claimed reports whether any annotation holds joint j near (x, y).
func (o *Occupancy) Claimed(j skeleton.JointType, x, y float32) bool {
	_, ok := o.Owner(j, x, y)
	return ok
}

// Claim marks (x, y) of joint j as held by h. Claims are permanent for the
// lifetime of the map.
func (o *Occupancy) Claim(j skeleton.JointType, x, y float32, h Handle) {
	k := o.key(x, y)
	o.cells[j][k] = append(o.cells[j][k], claim{x: x, y: y, h: h})
}
