package router

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/solivr/cadasters/internal/cache/resultcache"
	"github.com/solivr/cadasters/internal/core/config"
	"github.com/solivr/cadasters/internal/index"
)

const mixedCollection = `{
	"type": "FeatureCollection",
	"features": [
		{"type": "Feature", "properties": {"name": "square"},
		 "geometry": {"type": "Polygon", "coordinates": [[[0,0],[2,0],[2,2],[0,2],[0,0]]]}},
		{"type": "Feature", "properties": {"name": "bowtie"},
		 "geometry": {"type": "Polygon", "coordinates": [[[0,0],[2,2],[2,0],[0,2],[0,0]]]}}
	]
}`

func testConfig() config.Config {
	return config.Config{
		MinArea:      0,
		MaxArea:      math.Inf(1),
		MaxBodyBytes: 1 << 20,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseBBOX_Valid(t *testing.T) {
	b, err := parseBBOX("6.5,46.4,6.8,46.7,EPSG:4326")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := orb.Bound{Min: orb.Point{6.5, 46.4}, Max: orb.Point{6.8, 46.7}}
	if b != want {
		t.Fatalf("got %+v want %+v", b, want)
	}
}

func TestParseBBOX_Rejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"wrong srid", "6.5,46.4,6.8,46.7,EPSG:3857"},
		{"too few parts", "6.5,46.4,6.8,46.7"},
		{"bad float", "abc,46.4,6.8,46.7,EPSG:4326"},
		{"inverted", "6.8,46.4,6.5,46.7,EPSG:4326"},
		{"out of range", "200,46.4,201,46.7,EPSG:4326"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseBBOX(tc.raw); err == nil {
				t.Fatalf("expected error for %q", tc.raw)
			}
		})
	}
}

func TestParseCleanRequest_Overrides(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/clean?layer=berney&min_area=2&max_area=100", bytes.NewReader([]byte(mixedCollection)))
	req, err := ParseCleanRequest(r, testConfig())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Layer != "berney" {
		t.Fatalf("layer = %q", req.Layer)
	}
	if req.Options.MinArea != 2 || req.Options.MaxArea != 100 {
		t.Fatalf("options = %+v", req.Options)
	}
}

func TestParseCleanRequest_Rejections(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/clean", bytes.NewReader(nil))
	if _, err := ParseCleanRequest(r, testConfig()); err == nil {
		t.Fatalf("expected error for empty body")
	}

	r = httptest.NewRequest(http.MethodPost, "/clean?min_area=abc", bytes.NewReader([]byte("{}")))
	if _, err := ParseCleanRequest(r, testConfig()); err == nil {
		t.Fatalf("expected error for bad min_area")
	}

	r = httptest.NewRequest(http.MethodPost, "/clean", bytes.NewReader([]byte("{}")))
	r.Header.Set("Content-Type", "text/csv")
	if _, err := ParseCleanRequest(r, testConfig()); err == nil {
		t.Fatalf("expected error for wrong content type")
	}
}

func TestHandleClean_FiltersAndCaches(t *testing.T) {
	cache, err := resultcache.New(discardLogger(), nil, 16, time.Minute, time.Second)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	h := HandleClean(discardLogger(), testConfig(), cache)

	do := func() (*httptest.ResponseRecorder, CleanResponse) {
		r := httptest.NewRequest(http.MethodPost, "/clean?layer=berney", bytes.NewReader([]byte(mixedCollection)))
		rr := httptest.NewRecorder()
		h(rr, r)
		var resp CleanResponse
		if rr.Code == http.StatusOK {
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
		}
		return rr, resp
	}

	rr, resp := do()
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Cache") != "miss" {
		t.Fatalf("first request should miss, got %q", rr.Header().Get("X-Cache"))
	}
	if resp.Stats.Total != 2 || resp.Stats.Kept != 1 || resp.Stats.Invalid != 1 {
		t.Fatalf("stats = %+v", resp.Stats)
	}

	rr, resp2 := do()
	if rr.Header().Get("X-Cache") != "hit" {
		t.Fatalf("second request should hit, got %q", rr.Header().Get("X-Cache"))
	}
	if resp2.Stats != resp.Stats {
		t.Fatalf("cached stats diverge: %+v vs %+v", resp2.Stats, resp.Stats)
	}
}

func TestHandleClean_AreaOverrideChangesKey(t *testing.T) {
	cache, err := resultcache.New(discardLogger(), nil, 16, time.Minute, time.Second)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	h := HandleClean(discardLogger(), testConfig(), cache)

	r := httptest.NewRequest(http.MethodPost, "/clean", bytes.NewReader([]byte(mixedCollection)))
	rr := httptest.NewRecorder()
	h(rr, r)
	if rr.Header().Get("X-Cache") != "miss" {
		t.Fatalf("first request should miss")
	}

	// same body with a stricter bound must not reuse the cached result
	r = httptest.NewRequest(http.MethodPost, "/clean?min_area=100", bytes.NewReader([]byte(mixedCollection)))
	rr = httptest.NewRecorder()
	h(rr, r)
	if rr.Header().Get("X-Cache") != "miss" {
		t.Fatalf("override request should miss")
	}
	var resp CleanResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Stats.Kept != 0 || resp.Stats.OutOfRange != 1 {
		t.Fatalf("stats = %+v", resp.Stats)
	}
}

func TestHandleClean_BadCollection(t *testing.T) {
	h := HandleClean(discardLogger(), testConfig(), nil)
	r := httptest.NewRequest(http.MethodPost, "/clean", bytes.NewReader([]byte(`{"type":"nope"}`)))
	rr := httptest.NewRecorder()
	h(rr, r)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", rr.Code)
	}
}

func TestHandleParcels(t *testing.T) {
	idx, err := index.New(9)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	poly := orb.Polygon{{
		{6.60, 46.50}, {6.61, 46.50}, {6.61, 46.51}, {6.60, 46.51}, {6.60, 46.50},
	}}
	if err := idx.Add(index.Parcel{UUID: "u-1", ID: "12", Geometry: poly}); err != nil {
		t.Fatalf("add: %v", err)
	}
	h := HandleParcels(discardLogger(), idx)

	r := httptest.NewRequest(http.MethodGet, "/parcels?bbox=6.5,46.4,6.8,46.7,EPSG:4326", nil)
	rr := httptest.NewRecorder()
	h(rr, r)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp ParcelsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || len(resp.Parcels) != 1 || resp.Parcels[0].UUID != "u-1" {
		t.Fatalf("response = %+v", resp)
	}

	r = httptest.NewRequest(http.MethodGet, "/parcels", nil)
	rr = httptest.NewRecorder()
	h(rr, r)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing bbox: status=%d want 400", rr.Code)
	}
}
