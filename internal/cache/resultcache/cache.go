// Package resultcache remembers cleaned feature collections keyed by a digest
// of the raw upload, so re-submitting the same sheet skips the filtering pass.
// A small in-process LRU fronts an optional redis backend.
package resultcache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/solivr/cadasters/internal/cache/redisstore"
	"github.com/solivr/cadasters/internal/core/observability"
)

type Cache struct {
	log       *slog.Logger
	lru       *lru.Cache[string, []byte]
	redis     *redisstore.Client
	ttl       time.Duration
	opTimeout time.Duration
}

// New builds a cache with the given LRU capacity. redisClient may be nil; the
// cache then works purely in process.
func New(log *slog.Logger, redisClient *redisstore.Client, size int, ttl, opTimeout time.Duration) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	if size <= 0 {
		size = 128
	}
	l, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("lru: %w", err)
	}
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	return &Cache{
		log:       log,
		lru:       l,
		redis:     redisClient,
		ttl:       ttl,
		opTimeout: opTimeout,
	}, nil
}

// Key derives the cache key for a raw upload. Same layer and same bytes give
// the same key.
func Key(layer string, payload []byte) string {
	return fmt.Sprintf("clean:%s:%016x", sanitizeLayer(layer), xxhash.Sum64(payload))
}

// Get returns the cached result for key. Redis trouble degrades to a miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.lru.Get(key); ok {
		observability.IncCacheHit()
		return v, true
	}
	if c.redis != nil {
		opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		defer cancel()
		v, err := c.redis.Get(opCtx, key)
		if err != nil {
			c.log.Warn("result cache read failed", "key", key, "err", err)
		} else if v != nil {
			c.lru.Add(key, v)
			observability.IncCacheHit()
			return v, true
		}
	}
	observability.IncCacheMiss()
	return nil, false
}

// Put stores a result under key. Redis write failures are logged, not
// propagated; the LRU copy still serves until eviction.
func (c *Cache) Put(ctx context.Context, key string, val []byte) {
	c.lru.Add(key, val)
	if c.redis == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	if err := c.redis.Set(opCtx, key, val, c.ttl); err != nil {
		c.log.Warn("result cache write failed", "key", key, "err", err)
	}
}

func sanitizeLayer(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "default"
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == ' ' || r == '\t':
			b.WriteRune('_')
		case isAlphaNum(r) || r == ':' || r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
