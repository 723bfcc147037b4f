package annotations

import (
	"encoding/csv"
	"fmt"
	"io"
)

// Column names of a manually annotated parcel table. Anything else in the
// source is dropped at load time.
const (
	ColWKT       = "WKT"
	ColBestTrans = "best_trans"
	ColUUID      = "uuid"
	ColID        = "ID"
)

// Row is one annotated record projected down to the four required columns.
type Row struct {
	WKT       string
	BestTrans string
	UUID      string
	ID        string
}

// LoadTable reads a CSV annotation table. A missing required column is a
// schema violation and fails the load; extra columns are ignored.
func LoadTable(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx := map[string]int{}
	for i, name := range header {
		idx[name] = i
	}
	for _, required := range []string{ColWKT, ColBestTrans, ColUUID, ColID} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("annotation table is missing required column %q", required)
		}
	}

	var rows []Row
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, Row{
			WKT:       field(rec, idx[ColWKT]),
			BestTrans: field(rec, idx[ColBestTrans]),
			UUID:      field(rec, idx[ColUUID]),
			ID:        field(rec, idx[ColID]),
		})
	}
	return rows, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}
