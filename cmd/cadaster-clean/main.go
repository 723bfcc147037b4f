// Command cadaster-clean filters digitized cadaster sheets on disk: geometry
// validity, area bounds and annotation table cleanup, with an optional run
// summary.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/solivr/cadasters/internal/annotations"
	"github.com/solivr/cadasters/internal/batch"
	"github.com/solivr/cadasters/internal/geofilter"
	"github.com/solivr/cadasters/internal/logger"
	"github.com/solivr/cadasters/internal/report"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		inDir       = flag.String("in", "", "directory of .geojson sheets to clean")
		outDir      = flag.String("out", "cleaned", "export directory for cleaned sheets")
		minArea     = flag.Float64("min-area", 0, "keep features with area strictly above this")
		maxArea     = flag.Float64("max-area", math.Inf(1), "keep features with area strictly below this")
		verbose     = flag.Bool("verbose", false, "log a diagnostic per rejected feature")
		annotCSV    = flag.String("annotations", "", "annotation table (csv) to clean alongside the sheets")
		withTrans   = flag.Bool("with-transcript-only", false, "drop annotated parcels without a transcription")
		reportPath  = flag.String("report", "", "write a run summary to this path")
		logLevelStr = flag.String("log-level", "info", "debug|info|warn|error")
	)
	flag.Parse()

	zl := logger.Build(logger.Config{
		Level:     *logLevelStr,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) != "false",
		Component: "clean",
	}, os.Stderr)
	log := logger.NewSlog(&zl)

	if *inDir == "" && *annotCSV == "" {
		fmt.Fprintln(os.Stderr, "usage: cadaster-clean -in <dir> [-out dir] [-min-area f] [-max-area f] [-annotations file.csv] [-report file.txt]")
		return 2
	}

	start := time.Now()
	opts := geofilter.Options{Verbose: *verbose, MinArea: *minArea, MaxArea: *maxArea}

	var fileStats []batch.FileStats
	if *inDir != "" {
		files, err := batch.ListFiles(*inDir)
		if err != nil {
			log.Error("list input files", "dir", *inDir, "err", err)
			return 1
		}
		if len(files) == 0 {
			log.Warn("no geojson files found", "dir", *inDir)
		}
		fileStats, err = batch.CleanFiles(log, files, *outDir, opts)
		if err != nil {
			log.Error("batch clean", "err", err)
			return 1
		}
	}

	if *annotCSV != "" {
		if err := cleanAnnotations(log, *annotCSV, *outDir, *withTrans); err != nil {
			log.Error("annotation cleanup", "file", *annotCSV, "err", err)
			return 1
		}
	}

	var kept, invalid, outOfRange int
	for _, fs := range fileStats {
		kept += fs.Stats.Kept
		invalid += fs.Stats.Invalid
		outOfRange += fs.Stats.OutOfRange
	}
	log.Info("run finished",
		"files", len(fileStats),
		"kept", kept,
		"invalid", invalid,
		"out_of_range", outOfRange,
		"elapsed", time.Since(start).Round(time.Millisecond))

	if *reportPath != "" {
		s := report.Summary{
			RunID:        uuid.NewString(),
			GeneratedAt:  time.Now(),
			CadasterFile: *inDir,
			Elapsed:      time.Since(start),
		}
		if err := report.Write(*reportPath, s); err != nil {
			log.Error("write run summary", "path", *reportPath, "err", err)
			return 1
		}
	}
	return 0
}

// cleanAnnotations cleans the parcel annotation table and exports the
// surviving parcels as a feature collection next to the cleaned sheets.
func cleanAnnotations(log *slog.Logger, csvPath, outDir string, withTransOnly bool) error {
	f, err := os.Open(csvPath)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := annotations.LoadTable(f)
	if err != nil {
		return err
	}
	parcels, removed := annotations.NewCleaner(log).Clean(rows)
	if withTransOnly {
		withTrans := annotations.RemoveEmptyTranscripts(parcels)
		log.Info("parcels without transcription dropped", "dropped", len(parcels)-len(withTrans))
		parcels = withTrans
	}
	log.Info("annotation table cleaned",
		"rows", len(rows), "parcels", len(parcels), "removed", removed)

	fc := geojson.NewFeatureCollection()
	for _, p := range parcels {
		feat := geojson.NewFeature(p.Geometry)
		feat.Properties["uuid"] = p.UUID
		feat.Properties["best_trans"] = p.BestTrans
		if p.ID != nil {
			feat.Properties["id"] = *p.ID
		}
		fc.Append(feat)
	}
	raw, err := fc.MarshalJSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(csvPath), filepath.Ext(csvPath)) + ".geojson"
	return os.WriteFile(filepath.Join(outDir, name), raw, 0o644)
}
