package index

import (
	"testing"

	"github.com/paulmach/orb"
)

// a roughly 1km-wide parcel near Lausanne
func parcelPolygon(lon, lat float64) orb.Polygon {
	const d = 0.01
	return orb.Polygon{{
		{lon, lat},
		{lon + d, lat},
		{lon + d, lat + d},
		{lon, lat + d},
		{lon, lat},
	}}
}

func TestNew_RejectsBadResolution(t *testing.T) {
	if _, err := New(-1); err == nil {
		t.Fatal("expected error for res -1")
	}
	if _, err := New(16); err == nil {
		t.Fatal("expected error for res 16")
	}
}

func TestAddAndQuery(t *testing.T) {
	ix, err := New(9)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	id := "42"
	err = ix.Add(Parcel{UUID: "p-1", ID: id, Geometry: parcelPolygon(6.63, 46.52)})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := ix.Add(Parcel{UUID: "p-2", Geometry: parcelPolygon(6.70, 46.60)}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if ix.Len() != 2 {
		t.Fatalf("Len = %d, want 2", ix.Len())
	}

	// bbox over the first parcel only
	hits, err := ix.Query(orb.Bound{Min: orb.Point{6.62, 46.51}, Max: orb.Point{6.65, 46.54}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 || hits[0].UUID != "p-1" {
		t.Fatalf("Query = %+v, want p-1 only", hits)
	}
	if hits[0].ID != "42" {
		t.Fatalf("ID = %q, want 42", hits[0].ID)
	}

	// bbox over both
	hits, err = ix.Query(orb.Bound{Min: orb.Point{6.60, 46.50}, Max: orb.Point{6.75, 46.65}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 || hits[0].UUID != "p-1" || hits[1].UUID != "p-2" {
		t.Fatalf("Query = %+v, want p-1 and p-2 sorted", hits)
	}

	// bbox far away
	hits, err = ix.Query(orb.Bound{Min: orb.Point{10.0, 50.0}, Max: orb.Point{10.1, 50.1}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("Query far away = %+v, want none", hits)
	}
}

func TestAdd_TinyParcelFallsBackToVertexCell(t *testing.T) {
	ix, err := New(5) // coarse cells, polyfill of a tiny square is empty
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tiny := orb.Polygon{{
		{6.63, 46.52},
		{6.6301, 46.52},
		{6.6301, 46.5201},
		{6.63, 46.5201},
		{6.63, 46.52},
	}}
	if err := ix.Add(Parcel{UUID: "tiny", Geometry: tiny}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	hits, err := ix.Query(orb.Bound{Min: orb.Point{6.2, 46.1}, Max: orb.Point{7.1, 46.9}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 || hits[0].UUID != "tiny" {
		t.Fatalf("Query = %+v, want tiny", hits)
	}
}

func TestAdd_NilGeometryFails(t *testing.T) {
	ix, _ := New(9)
	if err := ix.Add(Parcel{UUID: "x"}); err == nil {
		t.Fatal("expected error for nil geometry")
	}
}
