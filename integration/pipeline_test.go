package integration

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/solivr/cadasters/internal/annotations"
	"github.com/solivr/cadasters/internal/batch"
	"github.com/solivr/cadasters/internal/geofilter"
	"github.com/solivr/cadasters/internal/index"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// One sheet near Lausanne: two valid parcels and one self-intersecting one.
const sheet = `{
	"type": "FeatureCollection",
	"features": [
		{"type": "Feature", "properties": {"uuid": "u-1", "id": "12"},
		 "geometry": {"type": "Polygon", "coordinates": [[[6.60,46.50],[6.61,46.50],[6.61,46.51],[6.60,46.51],[6.60,46.50]]]}},
		{"type": "Feature", "properties": {"uuid": "u-2", "id": "13"},
		 "geometry": {"type": "Polygon", "coordinates": [[[6.63,46.50],[6.64,46.50],[6.64,46.51],[6.63,46.51],[6.63,46.50]]]}},
		{"type": "Feature", "properties": {"uuid": "u-3", "id": "14"},
		 "geometry": {"type": "Polygon", "coordinates": [[[6.66,46.50],[6.67,46.51],[6.67,46.50],[6.66,46.51],[6.66,46.50]]]}}
	]
}`

func Test_Pipeline_CleanExportIndexQuery(t *testing.T) {
	srcDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "cleaned")

	src := filepath.Join(srcDir, "berney_003.geojson")
	if err := os.WriteFile(src, []byte(sheet), 0o644); err != nil {
		t.Fatalf("write sheet: %v", err)
	}

	files, err := batch.ListFiles(srcDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	stats, err := batch.CleanFiles(discard(), files, outDir, geofilter.Options{})
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("processed %d files, want 1", len(stats))
	}
	if s := stats[0].Stats; s.Total != 3 || s.Kept != 2 || s.Invalid != 1 {
		t.Fatalf("stats = %+v", s)
	}

	raw, err := os.ReadFile(filepath.Join(outDir, "berney_003.geojson"))
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		t.Fatalf("parse export: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("exported %d features, want 2", len(fc.Features))
	}

	idx, err := index.New(9)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	for _, f := range fc.Features {
		p := index.Parcel{Geometry: f.Geometry}
		if v, ok := f.Properties["uuid"].(string); ok {
			p.UUID = v
		}
		if v, ok := f.Properties["id"].(string); ok {
			p.ID = v
		}
		if err := idx.Add(p); err != nil {
			t.Fatalf("add %s: %v", p.UUID, err)
		}
	}

	hits, err := idx.Query(orb.Bound{Min: orb.Point{6.59, 46.49}, Max: orb.Point{6.62, 46.52}})
	if err != nil {
		t.Fatalf("narrow query: %v", err)
	}
	if len(hits) != 1 || hits[0].UUID != "u-1" {
		t.Fatalf("narrow query hits = %+v", hits)
	}
	hits, err = idx.Query(orb.Bound{Min: orb.Point{6.55, 46.45}, Max: orb.Point{6.70, 46.55}})
	if err != nil {
		t.Fatalf("wide query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("wide query hits = %+v", hits)
	}
}

func Test_Pipeline_AnnotationTableToParcels(t *testing.T) {
	csv := strings.Join([]string{
		"WKT,best_trans,uuid,ID,extra",
		`"POLYGON ((0 0, 2 0, 2 2, 0 2, 0 0))",127,u-1,12.0,x`,
		`"POLYGON ((0 0, 2 2, 2 0, 0 2, 0 0))",33,u-2,ID-13a,y`,
		`"POLYGON ((5 5, 7 5, 7 7, 5 7, 5 5))",84,u-3,abc,z`,
	}, "\n")

	rows, err := annotations.LoadTable(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	parcels, removed := annotations.NewCleaner(discard()).Clean(rows)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if len(parcels) != 2 {
		t.Fatalf("parcels = %d, want 2", len(parcels))
	}
	if parcels[0].ID == nil || *parcels[0].ID != "12" {
		t.Fatalf("first id = %v, want 12", parcels[0].ID)
	}
	if parcels[1].ID != nil {
		t.Fatalf("letters-only id should be missing, got %v", *parcels[1].ID)
	}
}
