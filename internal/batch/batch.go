// Package batch runs the cleaning pass over GeoJSON files on disk: each input
// file is read, filtered and written under the same basename in an export
// directory.
package batch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/solivr/cadasters/internal/geofilter"
)

// FileStats pairs a processed file with its cleaning stats.
type FileStats struct {
	File  string
	Stats geofilter.Stats
}

// CleanFile filters one GeoJSON feature collection and writes the cleaned
// collection to exportDir under the input's basename.
func CleanFile(log *slog.Logger, srcPath, exportDir string, opts geofilter.Options) (geofilter.Stats, error) {
	raw, err := os.ReadFile(srcPath)
	if err != nil {
		return geofilter.Stats{}, fmt.Errorf("read %s: %w", srcPath, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return geofilter.Stats{}, fmt.Errorf("parse %s: %w", srcPath, err)
	}

	cleaned, stats := geofilter.Clean(log, fc, opts)

	out, err := cleaned.MarshalJSON()
	if err != nil {
		return stats, fmt.Errorf("marshal cleaned collection: %w", err)
	}

	dst := filepath.Join(exportDir, filepath.Base(srcPath))
	if err := os.WriteFile(dst, out, 0o644); err != nil {
		return stats, fmt.Errorf("write %s: %w", dst, err)
	}
	return stats, nil
}

// CleanFiles processes every path into exportDir, creating the directory if
// needed. A file that fails to read or parse is logged and skipped; the batch
// carries on. Stats are returned for the files that were processed.
func CleanFiles(log *slog.Logger, paths []string, exportDir string, opts geofilter.Options) ([]FileStats, error) {
	if log == nil {
		log = slog.Default()
	}

	if info, err := os.Stat(exportDir); err == nil && info.IsDir() {
		log.Info("export directory already exists", "dir", exportDir)
	} else if err := os.MkdirAll(exportDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir %s: %w", exportDir, err)
	}

	out := make([]FileStats, 0, len(paths))
	for _, p := range paths {
		log.Info("processing", "file", p)
		stats, err := CleanFile(log, p, exportDir, opts)
		if err != nil {
			log.Error("skipping file", "file", p, "err", err)
			continue
		}
		out = append(out, FileStats{File: p, Stats: stats})
	}
	return out, nil
}

// ListFiles returns the GeoJSON files directly under dir, sorted by name.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".geojson", ".json":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
