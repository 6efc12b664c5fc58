package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Cache kinds.
const (
	KindBacktest    = "backtest"
	KindPropagation = "propagation"
)

// AnalysisCacheStats tracks cache performance metrics.
type AnalysisCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// HitRate returns hits as a percentage of lookups.
func (s AnalysisCacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// AnalysisCache stores serialized analysis results keyed by request hash.
type AnalysisCache interface {
	// Get decodes the cached value into dest and reports whether it was found.
	Get(ctx context.Context, kind, hash string, dest interface{}) bool
	// Set stores value under kind and hash.
	Set(ctx context.Context, kind, hash string, value interface{})
	// Clear removes every cached analysis.
	Clear(ctx context.Context) error
	// GetStats returns the current cache statistics.
	GetStats() AnalysisCacheStats
}

// RequestHash returns a stable SHA-256 hex digest of the JSON encoding of
// request. Map keys are sorted by encoding/json so equal requests hash equally.
func RequestHash(request interface{}) (string, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to hash request: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

type statsCounter struct {
	mu    sync.RWMutex
	stats AnalysisCacheStats
}

func (s *statsCounter) hit() {
	s.mu.Lock()
	s.stats.Hits++
	s.mu.Unlock()
}

func (s *statsCounter) miss() {
	s.mu.Lock()
	s.stats.Misses++
	s.mu.Unlock()
}

func (s *statsCounter) set() {
	s.mu.Lock()
	s.stats.Sets++
	s.mu.Unlock()
}

func (s *statsCounter) snapshot() AnalysisCacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

var (
	_ AnalysisCache = (*RedisAnalysisCache)(nil)
	_ AnalysisCache = (*InMemoryAnalysisCache)(nil)
)

// RedisAnalysisCache implements AnalysisCache using Redis.
type RedisAnalysisCache struct {
	redis  redis.Cmdable
	ttl    time.Duration
	stats  *statsCounter
	prefix string
	logger *logrus.Logger
}

// NewRedisAnalysisCache creates a new Redis-based analysis cache.
func NewRedisAnalysisCache(client redis.Cmdable, ttl time.Duration, logger *logrus.Logger) *RedisAnalysisCache {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RedisAnalysisCache{
		redis:  client,
		ttl:    ttl,
		stats:  &statsCounter{},
		prefix: "analysis_cache:",
		logger: logger,
	}
}

func (c *RedisAnalysisCache) key(kind, hash string) string {
	return c.prefix + kind + ":" + hash
}

// Get retrieves a cached analysis. Redis and decoding errors count as misses.
func (c *RedisAnalysisCache) Get(ctx context.Context, kind, hash string, dest interface{}) bool {
	cacheKey := c.key(kind, hash)

	data, err := c.redis.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		c.stats.miss()
		return false
	}
	if err != nil {
		c.logger.WithError(err).WithField("key", cacheKey).Warn("Redis error reading analysis cache")
		c.stats.miss()
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.WithError(err).WithField("key", cacheKey).Warn("Error deserializing cached analysis")
		c.stats.miss()
		return false
	}

	c.stats.hit()
	return true
}

// Set stores an analysis in Redis with the cache TTL.
func (c *RedisAnalysisCache) Set(ctx context.Context, kind, hash string, value interface{}) {
	cacheKey := c.key(kind, hash)

	data, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("key", cacheKey).Warn("Error serializing analysis")
		return
	}

	if err := c.redis.Set(ctx, cacheKey, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", cacheKey).Warn("Redis error writing analysis cache")
		return
	}

	c.stats.set()
	c.logger.WithFields(logrus.Fields{"key": cacheKey, "ttl": c.ttl.String()}).Debug("Cached analysis")
}

// GetStats returns current cache statistics.
func (c *RedisAnalysisCache) GetStats() AnalysisCacheStats {
	return c.stats.snapshot()
}

// LogStats logs current cache performance statistics.
func (c *RedisAnalysisCache) LogStats() {
	stats := c.GetStats()
	c.logger.WithFields(logrus.Fields{
		"hits":     stats.Hits,
		"misses":   stats.Misses,
		"sets":     stats.Sets,
		"hit_rate": fmt.Sprintf("%.2f%%", stats.HitRate()),
	}).Info("Analysis cache stats")
}

// Clear removes all cached analyses.
func (c *RedisAnalysisCache) Clear(ctx context.Context) error {
	var keys []string
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("error scanning cache keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("error clearing cache: %w", err)
	}

	c.logger.WithField("count", len(keys)).Info("Cleared analysis cache entries")
	return nil
}

// DefaultMaxEntries bounds the in-memory cache when no size is configured.
const DefaultMaxEntries = 1000

// InMemoryAnalysisCache implements AnalysisCache in process memory. It is used
// when Redis is disabled. Entries expire after the TTL and the least recently
// used entry is evicted once the cache is full.
type InMemoryAnalysisCache struct {
	entries *expirable.LRU[string, []byte]
	stats   *statsCounter
}

// NewInMemoryAnalysisCache creates a new in-memory analysis cache holding at
// most maxEntries results. A non-positive ttl disables expiry.
func NewInMemoryAnalysisCache(ttl time.Duration, maxEntries int) *InMemoryAnalysisCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &InMemoryAnalysisCache{
		entries: expirable.NewLRU[string, []byte](maxEntries, nil, ttl),
		stats:   &statsCounter{},
	}
}

func (c *InMemoryAnalysisCache) Get(_ context.Context, kind, hash string, dest interface{}) bool {
	data, ok := c.entries.Get(kind + ":" + hash)
	if !ok {
		c.stats.miss()
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.stats.miss()
		return false
	}
	c.stats.hit()
	return true
}

func (c *InMemoryAnalysisCache) Set(_ context.Context, kind, hash string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.entries.Add(kind+":"+hash, data)
	c.stats.set()
}

func (c *InMemoryAnalysisCache) Clear(context.Context) error {
	c.entries.Purge()
	return nil
}

// Len returns the number of cached entries.
func (c *InMemoryAnalysisCache) Len() int {
	return c.entries.Len()
}

func (c *InMemoryAnalysisCache) GetStats() AnalysisCacheStats {
	return c.stats.snapshot()
}
