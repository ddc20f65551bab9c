package reasonbank

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// expiredSweepInterval is how many misses pass between opportunistic sweeps
// of expired entries.
const expiredSweepInterval = 10

// ResponseCache wraps a Generator and deduplicates deterministic calls.
// Only requests with temperature 0.0 are cached; everything else bypasses
// the cache without touching stored entries. Entries expire after the TTL
// and the least-recently-used entry is evicted when capacity is exceeded.
//
// All table operations happen under one mutex; the generator call itself
// happens outside it so one slow network call never blocks other users.
type ResponseCache struct {
	generator Generator
	capacity  int
	ttl       time.Duration
	enabled   bool
	logger    *zap.Logger

	// clock is swappable for tests.
	now func() time.Time

	mu       sync.Mutex
	table    map[string]*list.Element
	order    *list.List // front = LRU, back = MRU
	hits     int
	misses   int
	bypassed int

	cancelSweep context.CancelFunc
}

type cacheEntry struct {
	key      string
	result   *GenerateResult
	storedAt time.Time
}

// CacheStats is a snapshot of cache performance.
type CacheStats struct {
	Hits          int     `json:"hits"`
	Misses        int     `json:"misses"`
	Bypassed      int     `json:"bypassed"`
	TotalRequests int     `json:"total_requests"`
	HitRate       float64 `json:"hit_rate"`
	CostSavings   float64 `json:"cost_savings_estimate"`
	Entries       int     `json:"entries"`
}

// NewResponseCache wraps gen with an LRU+TTL cache of the given capacity.
// A capacity < 1 disables caching entirely: every call degrades to a direct
// generator invocation counted as bypassed.
func NewResponseCache(gen Generator, capacity int, ttl time.Duration, logger *zap.Logger) *ResponseCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseCache{
		generator: gen,
		capacity:  capacity,
		ttl:       ttl,
		enabled:   capacity >= 1 && ttl > 0,
		logger:    logger,
		now:       time.Now,
		table:     make(map[string]*list.Element),
		order:     list.New(),
	}
}

// Generate serves the request from cache when possible, otherwise invokes
// the underlying generator and stores the fresh result.
func (c *ResponseCache) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	// Only deterministic calls are cacheable.
	if !c.enabled || req.Temperature != 0.0 {
		c.mu.Lock()
		c.bypassed++
		c.mu.Unlock()
		return c.generator.Generate(ctx, req)
	}

	key, err := cacheKey(req)
	if err != nil {
		// Extra carried something json cannot serialize; a hash of the
		// partial payload would collide across distinct requests.
		c.logger.Warn("request not hashable, bypassing cache", zap.Error(err))
		c.mu.Lock()
		c.bypassed++
		c.mu.Unlock()
		return c.generator.Generate(ctx, req)
	}

	c.mu.Lock()
	if elem, ok := c.table[key]; ok {
		entry := elem.Value.(*cacheEntry)
		if c.now().Sub(entry.storedAt) < c.ttl {
			c.order.MoveToBack(elem)
			c.hits++
			res := entry.result
			c.mu.Unlock()
			return res, nil
		}
		// Expired: drop it and fall through to a miss.
		c.order.Remove(elem)
		delete(c.table, key)
	}
	c.misses++
	sweep := c.misses%expiredSweepInterval == 0
	if sweep {
		c.sweepExpiredLocked()
	}
	c.mu.Unlock()

	// The network call happens outside the lock.
	result, err := c.generator.Generate(ctx, req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.table[key]; ok {
		// A concurrent caller inserted the same key first; refresh it.
		elem.Value.(*cacheEntry).result = result
		elem.Value.(*cacheEntry).storedAt = c.now()
		c.order.MoveToBack(elem)
		return result, nil
	}
	elem := c.order.PushBack(&cacheEntry{key: key, result: result, storedAt: c.now()})
	c.table[key] = elem
	if c.order.Len() > c.capacity {
		c.evictOldestLocked()
	}
	return result, nil
}

// evictOldestLocked removes the least-recently-used entry. Caller holds mu.
func (c *ResponseCache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.table, front.Value.(*cacheEntry).key)
}

// sweepExpiredLocked removes every expired entry. Caller holds mu.
func (c *ResponseCache) sweepExpiredLocked() {
	now := c.now()
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*cacheEntry)
		if now.Sub(entry.storedAt) >= c.ttl {
			c.order.Remove(elem)
			delete(c.table, entry.key)
		}
		elem = next
	}
}

// Stats returns a snapshot of cache counters. Hit rate covers cacheable
// requests only; the cost-savings estimate spreads hits over all requests.
func (c *ResponseCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses + c.bypassed
	s := CacheStats{
		Hits:          c.hits,
		Misses:        c.misses,
		Bypassed:      c.bypassed,
		TotalRequests: total,
		Entries:       c.order.Len(),
	}
	if cacheable := c.hits + c.misses; cacheable > 0 {
		s.HitRate = float64(c.hits) / float64(cacheable)
	}
	if total > 0 {
		s.CostSavings = float64(c.hits) / float64(total)
	}
	return s
}

// Clear drops every cached entry. Counters are kept.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table = make(map[string]*list.Element)
	c.order.Init()
}

// Len returns the current number of cached entries.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// cacheKey hashes the normalized request so identical logical requests
// always produce identical keys. Extra parameters are serialized in sorted
// key order before hashing. A request whose Extra values cannot be
// serialized returns an error so the caller can bypass the cache.
func cacheKey(req GenerateRequest) (string, error) {
	type keyed struct {
		Model           string    `json:"model"`
		Messages        []Message `json:"messages"`
		Temperature     float64   `json:"temperature"`
		MaxOutputTokens int       `json:"max_output_tokens"`
		ReasoningEffort string    `json:"reasoning_effort"`
		Extra           [][2]any  `json:"extra,omitempty"`
	}

	k := keyed{
		Model:           req.Model,
		Messages:        req.Messages,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
		ReasoningEffort: req.ReasoningEffort,
	}
	if len(req.Extra) > 0 {
		names := make([]string, 0, len(req.Extra))
		for name := range req.Extra {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			k.Extra = append(k.Extra, [2]any{name, req.Extra[name]})
		}
	}

	data, err := json.Marshal(k)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
