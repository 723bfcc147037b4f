// Package annotations cleans manually annotated parcel tables: geometry is
// re-derived from the WKT column, identifiers are normalized to their digit
// form, and records with invalid shapes are dropped.
package annotations

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/solivr/cadasters/internal/geometry"
)

// Parcel is a cleaned annotation record. ID is nil when the identifier
// stripped down to nothing.
type Parcel struct {
	Geometry  orb.Geometry
	BestTrans string
	UUID      string
	ID        *string
}

type Cleaner struct {
	log *slog.Logger
}

func NewCleaner(log *slog.Logger) *Cleaner {
	if log == nil {
		log = slog.Default()
	}
	return &Cleaner{log: log}
}

// Clean parses each row's WKT, normalizes its identifier and drops rows whose
// geometry is invalid or unparseable. It returns the surviving parcels and the
// number of removed rows. Order of survivors follows the input.
//
// A multi-part WKT collapses to its first part, matching the historical
// behavior of the annotation exports; the collapse is logged so multi-part
// sheets do not lose data silently.
func (c *Cleaner) Clean(rows []Row) ([]Parcel, int) {
	parcels := make([]Parcel, 0, len(rows))
	removed := 0

	for i, row := range rows {
		geom, err := parseWKT(row.WKT)
		if err != nil {
			removed++
			c.log.Warn("annotation geometry unparseable", "row", i, "err", err)
			continue
		}
		geom, parts := firstPart(geom)
		if parts > 1 {
			c.log.Warn("multi-part annotation geometry collapsed to first part",
				"row", i, "uuid", row.UUID, "parts", parts)
		}
		if err := geometry.Check(geom); err != nil {
			removed++
			continue
		}

		parcels = append(parcels, Parcel{
			Geometry:  geom,
			BestTrans: row.BestTrans,
			UUID:      row.UUID,
			ID:        NormalizeID(row.ID),
		})
	}

	c.log.Info("removed invalid polygons", "removed", removed, "kept", len(parcels))
	return parcels, removed
}

func parseWKT(s string) (orb.Geometry, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty WKT")
	}
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, fmt.Errorf("parse WKT: %w", err)
	}
	return g, nil
}

// firstPart unwraps multi geometries to their first member and reports how
// many members there were.
func firstPart(g orb.Geometry) (orb.Geometry, int) {
	switch t := g.(type) {
	case orb.MultiPolygon:
		if len(t) == 0 {
			return nil, 0
		}
		return t[0], len(t)
	case orb.MultiLineString:
		if len(t) == 0 {
			return nil, 0
		}
		return t[0], len(t)
	case orb.MultiPoint:
		if len(t) == 0 {
			return nil, 0
		}
		return t[0], len(t)
	case orb.Collection:
		if len(t) == 0 {
			return nil, 0
		}
		return t[0], len(t)
	default:
		return g, 1
	}
}

// RemoveEmptyTranscripts keeps only the parcels that carry a transcription.
func RemoveEmptyTranscripts(parcels []Parcel) []Parcel {
	out := make([]Parcel, 0, len(parcels))
	for _, p := range parcels {
		if p.BestTrans != "" {
			out = append(out, p)
		}
	}
	return out
}

// plain decimal forms only; scientific notation is stripped, not parsed
var plainDecimal = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// NormalizeID canonicalizes an annotation identifier: an integral float form
// is coerced to its integer rendering, then every non-digit rune is stripped.
// An identifier that strips down to nothing is missing, not empty.
func NormalizeID(raw string) *string {
	s := strings.TrimSpace(raw)
	if plainDecimal.MatchString(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) {
			s = strconv.FormatFloat(f, 'f', -1, 64)
		}
	}

	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return nil
	}
	id := b.String()
	return &id
}
