package search

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-search/meridian-core/internal/core/domain"
)

// ResponseCache memoizes SearchResponses by request hash for the
// configured TTL. Implementations must be safe for concurrent use.
type ResponseCache interface {
	Get(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, bool)
	Set(ctx context.Context, req *domain.SearchRequest, resp *domain.SearchResponse)
}

// cacheKey is a deterministic FNV-1a hash over the fields of a
// SearchRequest that affect its result set, computed over a canonical JSON
// encoding so field order never changes the hash.
func cacheKey(req *domain.SearchRequest) string {
	canonical := struct {
		Query         string     `json:"query"`
		Mode          string     `json:"mode"`
		Limit         int        `json:"limit"`
		Offset        int        `json:"offset"`
		Sources       []string   `json:"sources,omitempty"`
		ContentTypes  []string   `json:"content_types,omitempty"`
		IncludeFacets bool       `json:"include_facets"`
		UserEmail     string     `json:"user_email,omitempty"`
	}{
		Query:         req.Query,
		Mode:          string(req.Mode),
		Limit:         req.Limit,
		Offset:        req.Offset,
		Sources:       req.Sources,
		ContentTypes:  req.ContentTypes,
		IncludeFacets: req.IncludeFacets,
		UserEmail:     req.UserEmail,
	}
	b, _ := json.Marshal(canonical)
	h := fnv.New64a()
	_, _ = h.Write(b)
	return fmt.Sprintf("meridian:search:%x", h.Sum64())
}

// RedisCache is a ResponseCache backed by Redis, used when REDIS_URL is
// configured so the cache is shared across search-api replicas.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed ResponseCache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, bool) {
	raw, err := c.client.Get(ctx, cacheKey(req)).Bytes()
	if err != nil {
		return nil, false
	}
	var resp domain.SearchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}

func (c *RedisCache) Set(ctx context.Context, req *domain.SearchRequest, resp *domain.SearchResponse) {
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.client.Set(ctx, cacheKey(req), b, c.ttl)
}

// LRUCache is the in-process fallback ResponseCache used when no Redis
// instance is configured. golang-lru's Cache already serializes its own
// internal map access, so entries just carry their own expiry alongside
// the response for TTL enforcement on Get.
type LRUCache struct {
	cache *lru.Cache
	ttl   time.Duration
}

type lruEntry struct {
	resp    *domain.SearchResponse
	expires time.Time
}

// NewLRUCache creates an in-process ResponseCache holding up to size
// entries for ttl each.
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = 1000
	}
	c, _ := lru.New(size)
	return &LRUCache{cache: c, ttl: ttl}
}

func (c *LRUCache) Get(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, bool) {
	v, ok := c.cache.Get(cacheKey(req))
	if !ok {
		return nil, false
	}
	entry := v.(lruEntry)
	if time.Now().After(entry.expires) {
		c.cache.Remove(cacheKey(req))
		return nil, false
	}
	return entry.resp, true
}

func (c *LRUCache) Set(ctx context.Context, req *domain.SearchRequest, resp *domain.SearchResponse) {
	c.cache.Add(cacheKey(req), lruEntry{resp: resp, expires: time.Now().Add(c.ttl)})
}
