package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/solivr/cadasters/internal/batch"
	"github.com/solivr/cadasters/internal/cache/redisstore"
	"github.com/solivr/cadasters/internal/cache/resultcache"
	"github.com/solivr/cadasters/internal/core/config"
	"github.com/solivr/cadasters/internal/core/observability"
	"github.com/solivr/cadasters/internal/core/server"
	"github.com/solivr/cadasters/internal/geofilter"
	"github.com/solivr/cadasters/internal/index"
	"github.com/solivr/cadasters/internal/ingest"
	ingestkafka "github.com/solivr/cadasters/internal/ingest/kafka"
	"github.com/solivr/cadasters/internal/logger"
	"github.com/solivr/cadasters/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	addrFlag := flag.String("addr", "", "listen address override")
	flag.Parse()

	cfg := config.FromEnv()
	if *addrFlag != "" {
		cfg.Addr = strings.TrimSpace(*addrFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "server",
	}, os.Stdout)

	appLog := logger.NewSlog(&zl)

	appLog.Info("starting cadaster cleaning service",
		"addr", cfg.Addr,
		"version", Version,
		"h3_res", cfg.H3Res,
		"ingest", cfg.Ingest.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := server.Deps{}

	var registerer prometheus.Registerer
	metricsEnabled := os.Getenv("METRICS_ENABLED") == "true"
	if metricsEnabled {
		addr := os.Getenv("METRICS_ADDR")
		if addr == "" {
			addr = ":9090"
		}
		path := os.Getenv("METRICS_PATH")
		if path == "" {
			path = "/metrics"
		}

		p := metrics.Init(metrics.Config{
			Build: metrics.BuildInfo{
				Version:   os.Getenv("BUILD_VERSION"),
				Revision:  os.Getenv("BUILD_REVISION"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})

		observability.Init(p.Registerer(), true)
		observability.ExposeBuildInfo(Version)
		registerer = p.Registerer()
		deps.Metrics = p.Handler()

		mux := http.NewServeMux()
		mux.Handle(path, p.Handler())

		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		}

		go func() {
			log.Printf("metrics: listening on %s%s", addr, path)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server exited: %v", err)
			}
		}()

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("metrics: shutdown error: %v", err)
			}
		}()
	} else {
		observability.Init(nil, false)
	}

	var redisClient *redisstore.Client
	if cfg.RedisAddr != "" {
		c, err := redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			appLog.Warn("redis unavailable, caching locally only", "addr", cfg.RedisAddr, "err", err)
		} else {
			redisClient = c
			defer func() {
				if err := redisClient.Close(); err != nil {
					appLog.Warn("redis close", "err", err)
				}
			}()
		}
	}

	cache, err := resultcache.New(appLog, redisClient, cfg.CacheLRUSize, cfg.CacheTTL, cfg.CacheOpTimeout)
	if err != nil {
		appLog.Error("result cache setup failed", "err", err)
		return 1
	}
	deps.Cache = cache

	idx, err := index.New(cfg.H3Res)
	if err != nil {
		appLog.Error("parcel index setup failed", "err", err)
		return 1
	}
	deps.Index = idx

	if cfg.Ingest.Enabled {
		runner := ingestkafka.New(ingestkafka.Config{
			Enabled: true,
			Brokers: splitList(cfg.Ingest.Brokers),
			Topic:   cfg.Ingest.Topic,
			GroupID: cfg.Ingest.GroupID,
		}, sheetProcessor(appLog, cfg, idx), ingestkafka.Options{Logger: appLog, Register: registerer})
		if err := runner.Start(ctx); err != nil {
			appLog.Error("ingest runner start failed", "err", err)
			return 1
		}
		defer runner.Stop()
		deps.Ingest = runner
	}

	if err := server.Run(ctx, cfg, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// sheetProcessor cleans an announced sheet file and folds the surviving
// parcels into the spatial index.
func sheetProcessor(appLog *slog.Logger, cfg config.Config, idx *index.Index) ingestkafka.Processor {
	return ingestkafka.ProcessorFunc(func(_ context.Context, ev ingest.Event) error {
		exportDir := ev.ExportDir
		if exportDir == "" {
			exportDir = cfg.ExportDir
		}
		if err := os.MkdirAll(exportDir, 0o755); err != nil {
			return err
		}

		opts := geofilter.Options{
			Verbose: cfg.Verbose,
			MinArea: cfg.MinArea,
			MaxArea: cfg.MaxArea,
		}
		stats, err := batch.CleanFile(appLog, ev.Path, exportDir, opts)
		if err != nil {
			return err
		}
		appLog.Info("sheet cleaned",
			"path", ev.Path,
			"layer", ev.Layer,
			"kept", stats.Kept,
			"invalid", stats.Invalid,
			"out_of_range", stats.OutOfRange)

		raw, err := os.ReadFile(filepath.Join(exportDir, filepath.Base(ev.Path)))
		if err != nil {
			return err
		}
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return err
		}
		for _, f := range fc.Features {
			p := index.Parcel{Geometry: f.Geometry}
			if v, ok := f.Properties["uuid"].(string); ok && v != "" {
				p.UUID = v
			} else {
				p.UUID = uuid.NewString()
			}
			if v, ok := f.Properties["id"].(string); ok {
				p.ID = v
			}
			if err := idx.Add(p); err != nil {
				appLog.Warn("parcel not indexed", "uuid", p.UUID, "err", err)
			}
		}
		return nil
	})
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
