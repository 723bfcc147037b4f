package batch

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb/geojson"

	"github.com/solivr/cadasters/internal/geofilter"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const mixedCollection = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"id": 1},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[2,0],[2,2],[0,2],[0,0]]]}},
    {"type": "Feature", "properties": {"id": 2},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,1],[1,0],[0,1],[0,0]]]}},
    {"type": "Feature", "properties": {"id": 3},
     "geometry": {"type": "Polygon", "coordinates": [[[5,5],[9,5],[9,9],[5,9],[5,5]]]}}
  ]
}`

func writeInput(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return p
}

func TestCleanFile_FiltersAndExports(t *testing.T) {
	src := t.TempDir()
	export := t.TempDir()
	in := writeInput(t, src, "sheet.geojson", mixedCollection)

	stats, err := CleanFile(discard(), in, export, geofilter.Options{})
	if err != nil {
		t.Fatalf("CleanFile: %v", err)
	}
	if stats.Total != 3 || stats.Invalid != 1 || stats.Kept != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	raw, err := os.ReadFile(filepath.Join(export, "sheet.geojson"))
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
}

func TestCleanFile_AreaRange(t *testing.T) {
	src := t.TempDir()
	export := t.TempDir()
	in := writeInput(t, src, "sheet.geojson", mixedCollection)

	// square of area 4 is excluded by min_area=4 (strict), 16 survives
	stats, err := CleanFile(discard(), in, export, geofilter.Options{MinArea: 4})
	if err != nil {
		t.Fatalf("CleanFile: %v", err)
	}
	if stats.Kept != 1 || stats.OutOfRange != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestCleanFiles_CreatesDirAndSkipsBadFiles(t *testing.T) {
	src := t.TempDir()
	export := filepath.Join(t.TempDir(), "cleaned")

	good := writeInput(t, src, "a.geojson", mixedCollection)
	bad := writeInput(t, src, "b.geojson", "{not json")

	stats, err := CleanFiles(discard(), []string{good, bad}, export, geofilter.Options{})
	if err != nil {
		t.Fatalf("CleanFiles: %v", err)
	}
	if len(stats) != 1 || stats[0].File != good {
		t.Fatalf("stats = %+v", stats)
	}
	if _, err := os.Stat(filepath.Join(export, "a.geojson")); err != nil {
		t.Fatalf("export missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(export, "b.geojson")); err == nil {
		t.Fatal("bad input should not produce an export")
	}
}

func TestCleanFiles_ExistingExportDirIsFine(t *testing.T) {
	src := t.TempDir()
	export := t.TempDir() // already exists
	in := writeInput(t, src, "a.geojson", mixedCollection)

	if _, err := CleanFiles(discard(), []string{in}, export, geofilter.Options{}); err != nil {
		t.Fatalf("CleanFiles: %v", err)
	}
}

func TestListFiles(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "b.geojson", "{}")
	writeInput(t, dir, "a.json", "{}")
	writeInput(t, dir, "notes.txt", "x")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ListFiles(dir)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(got) != 2 ||
		filepath.Base(got[0]) != "a.json" ||
		filepath.Base(got[1]) != "b.geojson" {
		t.Fatalf("ListFiles = %v", got)
	}
}
