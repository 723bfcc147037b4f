// Package geofilter removes unusable shapes from GeoJSON feature collections:
// features whose geometry is unreadable or topologically invalid, and features
// whose area falls outside a configured range.
package geofilter

import (
	"log/slog"
	"math"

	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/solivr/cadasters/internal/geometry"
)

// Valid returns the features with a readable, valid geometry and the count of
// excluded features. Order among retained features is preserved; a bad record
// never aborts the pass. With verbose set, every exclusion is logged
// individually; the total is logged either way.
func Valid(log *slog.Logger, feats []*geojson.Feature, verbose bool) ([]*geojson.Feature, int) {
	if log == nil {
		log = slog.Default()
	}

	valid := make([]*geojson.Feature, 0, len(feats))
	invalid := 0
	for i, f := range feats {
		if f == nil || f.Geometry == nil {
			invalid++
			if verbose {
				log.Warn("feature geometry is not readable", "index", i, "invalid_so_far", invalid)
			}
			continue
		}
		if err := geometry.Check(f.Geometry); err != nil {
			invalid++
			if verbose {
				log.Warn("feature shape is not valid", "index", i, "invalid_so_far", invalid, "reason", err)
			}
			continue
		}
		valid = append(valid, f)
	}

	log.Info("filtered invalid shapes", "invalid", invalid, "kept", len(valid))
	return valid, invalid
}

// ByArea keeps features whose geometry area lies strictly inside
// (minArea, maxArea), in native coordinate units. Pass math.Inf(1) for an
// unbounded maximum. Zero-area shapes are dropped unless minArea is negative.
//
// ByArea assumes Valid already ran; unreadable geometries are not handled
// here. Clean composes the two in the safe order.
func ByArea(feats []*geojson.Feature, minArea, maxArea float64) []*geojson.Feature {
	out := make([]*geojson.Feature, 0, len(feats))
	for _, f := range feats {
		a := math.Abs(planar.Area(f.Geometry))
		if a > minArea && a < maxArea {
			out = append(out, f)
		}
	}
	return out
}

// Stats summarises one cleaning pass.
type Stats struct {
	Total      int `json:"total"`
	Invalid    int `json:"invalid"`
	OutOfRange int `json:"outOfRange"`
	Kept       int `json:"kept"`
}

// Options configures Clean. The zero value filters on validity only.
type Options struct {
	Verbose bool
	MinArea float64
	MaxArea float64 // <= 0 means unbounded
}

// Clean runs the validity filter and, when an area range is configured, the
// area filter on the surviving features. The input collection is not mutated.
//
// With the zero Options the area filter does not run at all, so valid
// zero-area geometries (points, linestrings) survive. A direct
// ByArea(feats, 0, Inf) call would drop them; configure a negative MinArea if
// that pass-through behavior is wanted together with an upper bound.
func Clean(log *slog.Logger, fc *geojson.FeatureCollection, opts Options) (*geojson.FeatureCollection, Stats) {
	maxArea := opts.MaxArea
	if maxArea <= 0 {
		maxArea = math.Inf(1)
	}

	stats := Stats{Total: len(fc.Features)}

	feats, invalid := Valid(log, fc.Features, opts.Verbose)
	stats.Invalid = invalid

	if opts.MinArea != 0 || !math.IsInf(maxArea, 1) {
		filtered := ByArea(feats, opts.MinArea, maxArea)
		stats.OutOfRange = len(feats) - len(filtered)
		feats = filtered
	}
	stats.Kept = len(feats)

	out := geojson.NewFeatureCollection()
	out.Features = feats
	return out, stats
}
