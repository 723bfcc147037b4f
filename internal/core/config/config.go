// Package config reads the service configuration from the environment.
package config

import (
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

type IngestCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	GroupID string
}

type Config struct {
	Addr     string
	LogLevel string

	RedisAddr      string
	CacheOpTimeout time.Duration
	CacheTTL       time.Duration
	CacheLRUSize   int

	ExportDir string
	MinArea   float64
	MaxArea   float64
	Verbose   bool

	H3Res int

	MaxBodyBytes int64

	Ingest IngestCfg
}

func FromEnv() Config {
	res := getint("H3_RES", 9)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	return Config{
		Addr:           getenv("ADDR", ":8080"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		RedisAddr:      getenv("REDIS_ADDR", ""),
		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		CacheTTL:       getduration("CACHE_TTL", time.Hour),
		CacheLRUSize:   getint("CACHE_LRU_SIZE", 128),
		ExportDir:      getenv("EXPORT_DIR", "cleaned"),
		MinArea:        getfloat("MIN_AREA", 0),
		MaxArea:        getfloat("MAX_AREA", math.Inf(1)),
		Verbose:        getbool("VERBOSE", false),
		H3Res:          res,
		MaxBodyBytes:   getint64("MAX_BODY_BYTES", 32<<20),
		Ingest: IngestCfg{
			Enabled: getbool("INGEST_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "cadaster-sheets"),
			GroupID: getenv("KAFKA_GROUP_ID", "cadaster-cleaner"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
