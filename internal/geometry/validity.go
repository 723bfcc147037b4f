// Package geometry implements the topological validity predicate used by the
// cleaning pipeline. A geometry is valid when its rings are closed, carry
// enough vertices, enclose a nonzero area and do not self-intersect.
package geometry

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
)

var ErrNilGeometry = errors.New("geometry is nil")

// Valid reports whether g passes the validity predicate.
func Valid(g orb.Geometry) bool {
	return Check(g) == nil
}

// Check returns a descriptive error for the first validity violation found,
// or nil when g is valid.
func Check(g orb.Geometry) error {
	if g == nil {
		return ErrNilGeometry
	}

	switch t := g.(type) {
	case orb.Point:
		return nil

	case orb.MultiPoint:
		if len(t) == 0 {
			return errors.New("multipoint is empty")
		}
		return nil

	case orb.LineString:
		if len(t) < 2 {
			return fmt.Errorf("linestring has %d points, want at least 2", len(t))
		}
		return nil

	case orb.MultiLineString:
		if len(t) == 0 {
			return errors.New("multilinestring is empty")
		}
		for i, ls := range t {
			if len(ls) < 2 {
				return fmt.Errorf("multilinestring[%d] has %d points, want at least 2", i, len(ls))
			}
		}
		return nil

	case orb.Ring:
		return checkRing(t)

	case orb.Polygon:
		return checkPolygon(t)

	case orb.MultiPolygon:
		if len(t) == 0 {
			return errors.New("multipolygon is empty")
		}
		for i, p := range t {
			if err := checkPolygon(p); err != nil {
				return fmt.Errorf("multipolygon[%d]: %w", i, err)
			}
		}
		return nil

	case orb.Collection:
		if len(t) == 0 {
			return errors.New("geometry collection is empty")
		}
		for i, sub := range t {
			if err := Check(sub); err != nil {
				return fmt.Errorf("collection[%d]: %w", i, err)
			}
		}
		return nil

	case orb.Bound:
		return Check(t.ToPolygon())

	default:
		return fmt.Errorf("unsupported geometry type %T", g)
	}
}

func checkPolygon(p orb.Polygon) error {
	if len(p) == 0 {
		return errors.New("polygon has no rings")
	}
	if err := checkRing(p[0]); err != nil {
		return fmt.Errorf("outer ring: %w", err)
	}
	for i, hole := range p[1:] {
		if err := checkRing(hole); err != nil {
			return fmt.Errorf("hole[%d]: %w", i, err)
		}
	}
	return nil
}

func checkRing(r orb.Ring) error {
	if len(r) < 4 {
		return fmt.Errorf("ring has %d points, want at least 4", len(r))
	}
	if !r[0].Equal(r[len(r)-1]) {
		return errors.New("ring is not closed")
	}
	if ringArea(r) == 0 {
		return errors.New("ring encloses no area")
	}
	if i, j, ok := ringSelfIntersection(r); ok {
		return fmt.Errorf("ring self-intersects (segments %d and %d)", i, j)
	}
	return nil
}

// twice the signed area via the shoelace formula
func ringArea(r orb.Ring) float64 {
	var sum float64
	for i := 0; i+1 < len(r); i++ {
		sum += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return sum
}

// ringSelfIntersection scans all segment pairs of a closed ring. Non-adjacent
// segments must not touch at all; adjacent segments share exactly one endpoint
// and must not overlap beyond it.
func ringSelfIntersection(r orb.Ring) (int, int, bool) {
	n := len(r) - 1 // closing point duplicates r[0]
	for i := 0; i < n; i++ {
		a1, a2 := r[i], r[i+1]
		for j := i + 1; j < n; j++ {
			b1, b2 := r[j], r[j+1]

			adjacent := j == i+1 || (i == 0 && j == n-1)
			if adjacent {
				if collinearOverlap(a1, a2, b1, b2) {
					return i, j, true
				}
				continue
			}
			if segmentsIntersect(a1, a2, b1, b2) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

func segmentsIntersect(p1, p2, q1, q2 orb.Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	if d1 == 0 && onSegment(q1, q2, p1) {
		return true
	}
	if d2 == 0 && onSegment(q1, q2, p2) {
		return true
	}
	if d3 == 0 && onSegment(p1, p2, q1) {
		return true
	}
	if d4 == 0 && onSegment(p1, p2, q2) {
		return true
	}
	return false
}

// collinearOverlap reports whether two segments that share an endpoint run
// back over each other (a spike in the ring).
func collinearOverlap(p1, p2, q1, q2 orb.Point) bool {
	if cross(p1, p2, q1) != 0 || cross(p1, p2, q2) != 0 {
		return false
	}
	// Count interior containments beyond the shared vertex.
	overlaps := 0
	for _, pt := range []orb.Point{q1, q2} {
		if !pt.Equal(p1) && !pt.Equal(p2) && onSegment(p1, p2, pt) {
			overlaps++
		}
	}
	for _, pt := range []orb.Point{p1, p2} {
		if !pt.Equal(q1) && !pt.Equal(q2) && onSegment(q1, q2, pt) {
			overlaps++
		}
	}
	return overlaps > 0
}

func cross(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// onSegment assumes c is collinear with a-b and reports whether it lies
// within the segment's bounding box.
func onSegment(a, b, c orb.Point) bool {
	return min(a[0], b[0]) <= c[0] && c[0] <= max(a[0], b[0]) &&
		min(a[1], b[1]) <= c[1] && c[1] <= max(a[1], b[1])
}
