package cache

import (
	"context"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	goCache "github.com/patrickmn/go-cache"
	"github.com/pewsoft/subscriptions/internal/config"
	"github.com/pewsoft/subscriptions/internal/logger"
)

// DefaultCleanupInterval is how often expired items are removed from the cache
const DefaultCleanupInterval = 1 * time.Hour

// InMemoryCache is a process-local Cache over github.com/patrickmn/go-cache.
// Each API replica keeps its own copy, so writers invalidate locally and
// other replicas converge within the TTL.
type InMemoryCache struct {
	cache   *goCache.Cache
	enabled bool
	log     *logger.Logger
}

func NewInMemoryCache(cfg *config.Configuration, log *logger.Logger) Cache {
	ttl := cfg.Cache.TTL
	if ttl <= 0 {
		ttl = goCache.NoExpiration
	}

	log.Infow("initializing in-memory cache", "enabled", cfg.Cache.Enabled, "ttl", ttl)

	return &InMemoryCache{
		cache:   goCache.New(ttl, DefaultCleanupInterval),
		enabled: cfg.Cache.Enabled,
		log:     log,
	}
}

func (c *InMemoryCache) Get(ctx context.Context, key string) (interface{}, bool) {
	if !c.enabled {
		return nil, false
	}

	span := startSpan(ctx, "get", key)
	defer finishSpan(span)

	return c.cache.Get(key)
}

func (c *InMemoryCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) {
	if !c.enabled {
		return
	}
	if expiration <= 0 {
		expiration = goCache.DefaultExpiration
	}

	span := startSpan(ctx, "set", key)
	defer finishSpan(span)

	c.cache.Set(key, value, expiration)
}

func (c *InMemoryCache) DeleteByPrefix(ctx context.Context, prefix string) {
	span := startSpan(ctx, "delete_prefix", prefix)
	defer finishSpan(span)

	deleted := 0
	for k := range c.cache.Items() {
		if strings.HasPrefix(k, prefix) {
			c.cache.Delete(k)
			deleted++
		}
	}
	c.log.Debugw("invalidated cache keys", "prefix", prefix, "count", deleted)
}

// startSpan returns nil when the request carries no sentry hub
func startSpan(ctx context.Context, operation, key string) *sentry.Span {
	if sentry.GetHubFromContext(ctx) == nil {
		return nil
	}

	span := sentry.StartSpan(ctx, "cache.inmemory."+operation)
	span.Op = "db.cache"
	span.Description = "cache.inmemory." + operation
	span.SetData("key", key)
	return span
}

func finishSpan(span *sentry.Span) {
	if span != nil {
		span.Finish()
	}
}
