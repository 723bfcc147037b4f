// Package index keeps an in-memory spatial index of cleaned parcels, keyed by
// the H3 cells covering their geometry.
package index

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"
)

// Parcel is one indexed record. ID is the normalized cadastral identifier,
// empty when missing.
type Parcel struct {
	UUID     string       `json:"uuid"`
	ID       string       `json:"id,omitempty"`
	Geometry orb.Geometry `json:"-"`
}

type Index struct {
	res int

	mu    sync.RWMutex
	cells map[h3.Cell][]Parcel
	count int
}

func New(res int) (*Index, error) {
	if res < 0 || res > 15 {
		return nil, fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return &Index{res: res, cells: map[h3.Cell][]Parcel{}}, nil
}

// Add indexes one parcel under every cell covering its geometry.
func (ix *Index) Add(p Parcel) error {
	cells, err := coveringCells(p.Geometry, ix.res)
	if err != nil {
		return fmt.Errorf("parcel %s: %w", p.UUID, err)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, c := range cells {
		ix.cells[c] = append(ix.cells[c], p)
	}
	ix.count++
	return nil
}

// Query returns the parcels indexed under any cell covering the bound,
// deduplicated by uuid and sorted for determinism.
func (ix *Index) Query(b orb.Bound) ([]Parcel, error) {
	outer := h3.GeoLoop{
		{Lat: b.Min[1], Lng: b.Min[0]},
		{Lat: b.Min[1], Lng: b.Max[0]},
		{Lat: b.Max[1], Lng: b.Max[0]},
		{Lat: b.Max[1], Lng: b.Min[0]},
	}
	cells, err := polyfill(outer, nil, ix.res)
	if err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	seen := map[string]struct{}{}
	var out []Parcel
	for _, c := range cells {
		for _, p := range ix.cells[c] {
			if _, dup := seen[p.UUID]; dup {
				continue
			}
			seen[p.UUID] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UUID < out[j].UUID })
	return out, nil
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.count
}

func (ix *Index) Resolution() int { return ix.res }

// coveringCells polyfills polygonal geometry; anything else indexes under the
// cell of its first coordinate. A polygon smaller than one cell falls back to
// the cell of its first vertex.
func coveringCells(g orb.Geometry, res int) ([]h3.Cell, error) {
	switch t := g.(type) {
	case orb.Polygon:
		return polygonCells(t, res)

	case orb.MultiPolygon:
		seen := map[h3.Cell]struct{}{}
		var out []h3.Cell
		for _, poly := range t {
			cells, err := polygonCells(poly, res)
			if err != nil {
				return nil, err
			}
			for _, c := range cells {
				if _, ok := seen[c]; !ok {
					seen[c] = struct{}{}
					out = append(out, c)
				}
			}
		}
		return out, nil

	case orb.Point:
		return pointCell(t, res)

	case orb.LineString:
		if len(t) == 0 {
			return nil, errors.New("empty linestring")
		}
		return pointCell(t[0], res)

	case nil:
		return nil, errors.New("nil geometry")

	default:
		return pointCell(pointOf(g), res)
	}
}

func polygonCells(p orb.Polygon, res int) ([]h3.Cell, error) {
	if len(p) == 0 || len(p[0]) == 0 {
		return nil, errors.New("empty polygon")
	}
	outer := toLoop(p[0])
	var holes []h3.GeoLoop
	for _, ring := range p[1:] {
		holes = append(holes, toLoop(ring))
	}
	cells, err := polyfill(outer, holes, res)
	if err != nil {
		return nil, err
	}
	if len(cells) == 0 {
		return pointCell(p[0][0], res)
	}
	return cells, nil
}

func pointCell(pt orb.Point, res int) ([]h3.Cell, error) {
	c, err := h3.LatLngToCell(h3.LatLng{Lat: pt[1], Lng: pt[0]}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 cell for point: %w", err)
	}
	return []h3.Cell{c}, nil
}

func pointOf(g orb.Geometry) orb.Point {
	b := g.Bound()
	return b.Min
}

// toLoop converts an orb ring to an h3 loop, dropping the duplicated closing
// vertex.
func toLoop(r orb.Ring) h3.GeoLoop {
	loop := make(h3.GeoLoop, 0, len(r))
	for _, pt := range r {
		loop = append(loop, h3.LatLng{Lat: pt[1], Lng: pt[0]})
	}
	if len(loop) >= 2 && loop[0] == loop[len(loop)-1] {
		loop = loop[:len(loop)-1]
	}
	return loop
}

func polyfill(outer h3.GeoLoop, holes []h3.GeoLoop, res int) ([]h3.Cell, error) {
	if len(outer) < 3 {
		return nil, errors.New("outer loop has < 3 vertices")
	}
	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer, Holes: holes}, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}
	return cells, nil
}
