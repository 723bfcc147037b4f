// Package router validates HTTP input for the cleaning service and serves
// the cleaning and parcel lookup endpoints.
package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/solivr/cadasters/internal/cache/resultcache"
	"github.com/solivr/cadasters/internal/core/config"
	"github.com/solivr/cadasters/internal/core/observability"
	"github.com/solivr/cadasters/internal/geofilter"
	"github.com/solivr/cadasters/internal/index"
)

// ParcelLookup answers bounding box queries over indexed parcels.
type ParcelLookup interface {
	Query(b orb.Bound) ([]index.Parcel, error)
	Resolution() int
}

// CleanRequest is the parsed input of the cleaning endpoint.
type CleanRequest struct {
	Layer   string
	Options geofilter.Options
	Body    []byte
}

// CleanResponse wraps the cleaned collection with its run statistics.
type CleanResponse struct {
	Layer      string           `json:"layer"`
	Stats      geofilter.Stats  `json:"stats"`
	Collection *json.RawMessage `json:"collection"`
}

// HandleClean cleans a posted feature collection, serving repeated requests
// from the result cache.
func HandleClean(logger *slog.Logger, cfg config.Config, cache *resultcache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		req, err := ParseCleanRequest(r, cfg)
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/clean", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		key := resultcache.Key(req.Layer, keyPayload(req))
		if cache != nil {
			if cached, ok := cache.Get(r.Context(), key); ok {
				sw.Header().Set("Content-Type", "application/json")
				sw.Header().Set("X-Cache", "hit")
				_, _ = sw.Write(cached)
				observability.ObserveHTTP(r.Method, "/clean", sw.code, time.Since(start).Seconds())
				return
			}
		}

		fc, err := geojson.UnmarshalFeatureCollection(req.Body)
		if err != nil {
			http.Error(sw, fmt.Sprintf("invalid feature collection: %v", err), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/clean", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		cleanStart := time.Now()
		cleaned, stats := geofilter.Clean(logger, fc, req.Options)
		observability.ObserveClean(stats.Kept, stats.Invalid, stats.OutOfRange, time.Since(cleanStart).Seconds())

		raw, err := cleaned.MarshalJSON()
		if err != nil {
			http.Error(sw, "encode collection", http.StatusInternalServerError)
			observability.ObserveHTTP(r.Method, "/clean", http.StatusInternalServerError, time.Since(start).Seconds())
			return
		}
		rawMsg := json.RawMessage(raw)

		body, err := json.Marshal(CleanResponse{Layer: req.Layer, Stats: stats, Collection: &rawMsg})
		if err != nil {
			http.Error(sw, "encode response", http.StatusInternalServerError)
			observability.ObserveHTTP(r.Method, "/clean", http.StatusInternalServerError, time.Since(start).Seconds())
			return
		}
		if cache != nil {
			cache.Put(r.Context(), key, body)
		}

		sw.Header().Set("Content-Type", "application/json")
		sw.Header().Set("X-Cache", "miss")
		_, _ = sw.Write(body)
		observability.ObserveHTTP(r.Method, "/clean", sw.code, time.Since(start).Seconds())
	}
}

// ParcelsResponse lists the parcels intersecting a queried bounding box.
type ParcelsResponse struct {
	Count      int            `json:"count"`
	Resolution int            `json:"resolution"`
	Parcels    []ParcelRecord `json:"parcels"`
}

type ParcelRecord struct {
	UUID     string          `json:"uuid"`
	ID       string          `json:"id,omitempty"`
	Geometry geojson.Geometry `json:"geometry"`
}

// HandleParcels resolves bbox queries against the in-memory parcel index.
func HandleParcels(logger *slog.Logger, idx ParcelLookup) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		rawBBox := strings.TrimSpace(r.URL.Query().Get("bbox"))
		if rawBBox == "" {
			http.Error(sw, "missing required parameter: bbox", http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/parcels", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}
		bound, err := parseBBOX(rawBBox)
		if err != nil {
			http.Error(sw, fmt.Sprintf("invalid bbox: %v", err), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, "/parcels", http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		hits, err := idx.Query(bound)
		if err != nil {
			logger.Warn("parcel query failed", "err", err)
			http.Error(sw, "parcel query failed", http.StatusInternalServerError)
			observability.ObserveHTTP(r.Method, "/parcels", http.StatusInternalServerError, time.Since(start).Seconds())
			return
		}
		out := ParcelsResponse{
			Count:      len(hits),
			Resolution: idx.Resolution(),
			Parcels:    make([]ParcelRecord, 0, len(hits)),
		}
		for _, p := range hits {
			out.Parcels = append(out.Parcels, ParcelRecord{
				UUID:     p.UUID,
				ID:       p.ID,
				Geometry: *geojson.NewGeometry(p.Geometry),
			})
		}

		sw.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(sw).Encode(out); err != nil {
			logger.Warn("encode parcels response", "err", err)
		}
		observability.ObserveHTTP(r.Method, "/parcels", sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ParseCleanRequest validates the body and the optional filter overrides of a
// cleaning request.
func ParseCleanRequest(r *http.Request, cfg config.Config) (CleanRequest, error) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") && !strings.HasPrefix(ct, "application/geo+json") {
		return CleanRequest{}, fmt.Errorf("unsupported content type %q", ct)
	}

	layer := strings.TrimSpace(r.URL.Query().Get("layer"))
	if layer == "" {
		layer = "default"
	}

	opts := geofilter.Options{
		Verbose: cfg.Verbose,
		MinArea: cfg.MinArea,
		MaxArea: cfg.MaxArea,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("min_area")); raw != "" {
		v, err := parseFloat(raw)
		if err != nil {
			return CleanRequest{}, fmt.Errorf("min_area: %w", err)
		}
		opts.MinArea = v
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("max_area")); raw != "" {
		v, err := parseFloat(raw)
		if err != nil {
			return CleanRequest{}, fmt.Errorf("max_area: %w", err)
		}
		opts.MaxArea = v
	}

	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, cfg.MaxBodyBytes))
	if err != nil {
		return CleanRequest{}, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return CleanRequest{}, errors.New("empty request body")
	}

	return CleanRequest{Layer: layer, Options: opts, Body: body}, nil
}

// keyPayload folds the filter settings into the cached content so requests
// with different bounds never collide.
func keyPayload(req CleanRequest) []byte {
	suffix := fmt.Sprintf("|min=%g|max=%g", req.Options.MinArea, req.Options.MaxArea)
	payload := make([]byte, 0, len(req.Body)+len(suffix))
	payload = append(payload, req.Body...)
	payload = append(payload, suffix...)
	return payload
}

func parseBBOX(bboxParam string) (orb.Bound, error) {
	parts := strings.Split(bboxParam, ",")
	if len(parts) != 5 {
		return orb.Bound{}, errors.New("expected 5 comma-separated values: x1,y1,x2,y2,EPSG:4326")
	}
	xMin, err := parseFloat(parts[0])
	if err != nil {
		return orb.Bound{}, fmt.Errorf("x1: %w", err)
	}
	yMin, err := parseFloat(parts[1])
	if err != nil {
		return orb.Bound{}, fmt.Errorf("y1: %w", err)
	}
	xMax, err := parseFloat(parts[2])
	if err != nil {
		return orb.Bound{}, fmt.Errorf("x2: %w", err)
	}
	yMax, err := parseFloat(parts[3])
	if err != nil {
		return orb.Bound{}, fmt.Errorf("y2: %w", err)
	}

	srid := strings.ToUpper(strings.TrimSpace(parts[4]))
	if srid != "EPSG:4326" {
		return orb.Bound{}, fmt.Errorf("only EPSG:4326 is supported at this stage (got %q)", srid)
	}

	if !(xMin >= -180 && xMin <= 180 && xMax >= -180 && xMax <= 180) {
		return orb.Bound{}, errors.New("longitude must be in [-180,180]")
	}
	if !(yMin >= -90 && yMin <= 90 && yMax >= -90 && yMax <= 90) {
		return orb.Bound{}, errors.New("latitude must be in [-90,90]")
	}
	if xMax <= xMin || yMax <= yMin {
		return orb.Bound{}, errors.New("coordinates must satisfy x2>x1 and y2>y1")
	}
	return orb.Bound{Min: orb.Point{xMin, yMin}, Max: orb.Point{xMax, yMax}}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}
