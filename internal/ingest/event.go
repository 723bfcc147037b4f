// Package ingest defines the digitization events consumed by the cleaning
// worker.
package ingest

import (
	"fmt"
	"strings"
	"time"
)

// Event announces that a digitized cadaster sheet is ready for cleaning.
type Event struct {
	Version   int       `json:"version"`
	ID        string    `json:"id,omitempty"`
	Op        string    `json:"op"`
	Layer     string    `json:"layer"`
	Path      string    `json:"path"`
	ExportDir string    `json:"export_dir,omitempty"`
	TS        time.Time `json:"ts"`
}

const (
	OpSheetDigitized = "sheet_digitized"
	OpSheetUpdated   = "sheet_updated"
)

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpSheetDigitized, OpSheetUpdated:
	default:
		return fmt.Errorf("op must be %s|%s", OpSheetDigitized, OpSheetUpdated)
	}
	if strings.TrimSpace(e.Layer) == "" {
		return fmt.Errorf("layer is required")
	}
	if strings.TrimSpace(e.Path) == "" {
		return fmt.Errorf("path is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// DedupeKey identifies a delivery for replay suppression.
func (e Event) DedupeKey() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Path + "@" + e.TS.UTC().Format(time.RFC3339Nano)
}
