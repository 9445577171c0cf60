// Package geom defines index points and the rectangular domains that
// parallel task launches range over.
package geom

import (
	"fmt"
	"strconv"
	"strings"
)

// Point is the coordinate of a single task within a launch domain.
type Point []int

// String returns the point in (a,b,c) form.
func (p Point) String() string {
	parts := make([]string, len(p))
	for i, c := range p {
		parts[i] = strconv.Itoa(c)
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// Equal reports whether two points have the same dimensionality and
// coordinates.
func (p Point) Equal(q Point) bool {
	if len(p) != len(q) {
		return false
	}
	for i := range p {
		if p[i] != q[i] {
			return false
		}
	}
	return true
}

// Rect is a dense rectangular index space described by per-dimension
// extents. The zero value has no dimensions and volume 0.
type Rect struct {
	extents []int
}

// NewRect builds a domain from per-dimension extents. It panics if any
// extent is negative.
func NewRect(extents ...int) Rect {
	for i, e := range extents {
		if e < 0 {
			panic(fmt.Sprintf("geom: negative extent %d in dimension %d", e, i))
		}
	}
	ext := make([]int, len(extents))
	copy(ext, extents)
	return Rect{extents: ext}
}

// Dim returns the number of dimensions.
func (r Rect) Dim() int { return len(r.extents) }

// Extent returns the size of dimension i.
func (r Rect) Extent(i int) int { return r.extents[i] }

// Extents returns a copy of the per-dimension extents.
func (r Rect) Extents() []int {
	out := make([]int, len(r.extents))
	copy(out, r.extents)
	return out
}

// Volume returns the number of points in the domain. A zero-dimensional
// domain has volume 0.
func (r Rect) Volume() int {
	if len(r.extents) == 0 {
		return 0
	}
	v := 1
	for _, e := range r.extents {
		v *= e
	}
	return v
}

// IsEmpty reports whether the domain contains no points.
func (r Rect) IsEmpty() bool { return r.Volume() == 0 }

// Key returns the canonical shape key, e.g. "4" or "2x2". Two domains share
// a key exactly when their extents are identical.
func (r Rect) Key() string {
	parts := make([]string, len(r.extents))
	for i, e := range r.extents {
		parts[i] = strconv.Itoa(e)
	}
	return strings.Join(parts, "x")
}

// String implements fmt.Stringer.
func (r Rect) String() string { return "[" + r.Key() + "]" }

// Equal reports whether two domains have identical extents.
func (r Rect) Equal(o Rect) bool {
	if len(r.extents) != len(o.extents) {
		return false
	}
	for i := range r.extents {
		if r.extents[i] != o.extents[i] {
			return false
		}
	}
	return true
}

// PointAt returns the i-th point of the domain in row-major order (the last
// dimension varies fastest). It panics if i is out of range.
func (r Rect) PointAt(i int) Point {
	if i < 0 || i >= r.Volume() {
		panic(fmt.Sprintf("geom: point index %d out of range for %s", i, r))
	}
	p := make(Point, len(r.extents))
	for d := len(r.extents) - 1; d >= 0; d-- {
		p[d] = i % r.extents[d]
		i /= r.extents[d]
	}
	return p
}

// LinearIndex returns the row-major position of p within the domain. It
// panics if p has the wrong dimensionality or lies outside the domain.
func (r Rect) LinearIndex(p Point) int {
	if len(p) != len(r.extents) {
		panic(fmt.Sprintf("geom: point %s has wrong dimensionality for %s", p, r))
	}
	idx := 0
	for d, c := range p {
		if c < 0 || c >= r.extents[d] {
			panic(fmt.Sprintf("geom: point %s outside %s", p, r))
		}
		idx = idx*r.extents[d] + c
	}
	return idx
}
