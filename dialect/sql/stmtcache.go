package sql

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/singleflight"

	"github.com/syssam/strata"
	"github.com/syssam/strata/dialect"
	"github.com/syssam/strata/internal/lru"
)

// StatementCache caches compiled statements by CacheKey. Trees that differ
// only in bound values are compiled once; their arguments are taken from
// the tree being executed. It is safe for concurrent use.
type StatementCache struct {
	d       dialect.Dialect
	opts    []CompileOption
	literal bool
	prefix  string

	mu    sync.Mutex
	local *lru.Cache
	group singleflight.Group

	shared strata.Cache
	ttl    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// CacheOption configures a StatementCache.
type CacheOption func(*StatementCache)

// WithCacheSize bounds the number of cached statements (default 500).
func WithCacheSize(n int) CacheOption {
	return func(c *StatementCache) { c.local = lru.New(c.local.MaxBytes(), n, nil) }
}

// WithCacheMaxBytes bounds the size of the cached SQL text.
func WithCacheMaxBytes(n int64) CacheOption {
	return func(c *StatementCache) { c.local = lru.New(n, c.local.MaxEntries(), nil) }
}

// WithSharedCache adds a second level cache, typically shared between
// processes. Compiled statements are stored msgpack encoded.
func WithSharedCache(cache strata.Cache, ttl time.Duration) CacheOption {
	return func(c *StatementCache) { c.shared, c.ttl = cache, ttl }
}

// WithCompileOptions sets the options used to compile statements. Literal
// binds disable caching.
func WithCompileOptions(opts ...CompileOption) CacheOption {
	return func(c *StatementCache) {
		c.opts = append(c.opts, opts...)
		var o compileOptions
		for _, opt := range c.opts {
			opt(&o)
		}
		c.literal = o.literal
	}
}

// NewStatementCache returns a statement cache for the dialect.
func NewStatementCache(d dialect.Dialect, opts ...CacheOption) *StatementCache {
	c := &StatementCache{d: d, local: lru.New(0, 500, nil)}
	for _, opt := range opts {
		opt(c)
	}
	var o compileOptions
	for _, opt := range c.opts {
		opt(&o)
	}
	style := d.Paramstyle()
	if o.style != nil {
		style = *o.style
	}
	c.prefix = "strata:stmt:" + d.Name() + ":" + style.String() + ":"
	return c
}

// Compile returns the compiled statement for root and the driver arguments
// bound in root.
func (c *StatementCache) Compile(ctx context.Context, root Node) (*Compiled, []any, error) {
	if c.literal {
		cs, err := Compile(root, c.d, c.opts...)
		if err != nil {
			return nil, nil, err
		}
		return cs, nil, nil
	}
	if e, ok := root.(interface{ Err() error }); ok {
		if err := e.Err(); err != nil {
			return nil, nil, err
		}
	}
	key := CacheKey(root)
	c.mu.Lock()
	v, ok := c.local.Get(key)
	c.mu.Unlock()
	if ok {
		c.hits.Add(1)
		cs := v.(*Compiled)
		args, err := cs.ArgsFrom(root)
		return cs, args, err
	}
	c.misses.Add(1)
	res, err, _ := c.group.Do(key, func() (any, error) {
		if cs := c.loadShared(ctx, key); cs != nil {
			return cs, nil
		}
		cs, err := Compile(root, c.d, c.opts...)
		if err != nil {
			return nil, err
		}
		c.storeShared(ctx, key, cs)
		return cs, nil
	})
	if err != nil {
		return nil, nil, err
	}
	cs := res.(*Compiled)
	c.mu.Lock()
	c.local.Add(key, cs)
	c.mu.Unlock()
	args, err := cs.ArgsFrom(root)
	return cs, args, err
}

func (c *StatementCache) loadShared(ctx context.Context, key string) *Compiled {
	if c.shared == nil {
		return nil
	}
	b, err := c.shared.Get(ctx, c.prefix+key)
	if err != nil || b == nil {
		return nil
	}
	cs := new(Compiled)
	if err := msgpack.Unmarshal(b, cs); err != nil || cs.Fingerprint != key {
		slog.WarnContext(ctx, "discarding undecodable cached statement", "key", key, "error", err)
		return nil
	}
	cs.d = c.d
	return cs
}

func (c *StatementCache) storeShared(ctx context.Context, key string, cs *Compiled) {
	if c.shared == nil {
		return
	}
	b, err := msgpack.Marshal(cs)
	if err != nil {
		slog.WarnContext(ctx, "failed to encode compiled statement", "key", key, "error", err)
		return
	}
	if err := c.shared.Set(ctx, c.prefix+key, b, c.ttl); err != nil {
		slog.WarnContext(ctx, "failed to store compiled statement", "key", key, "error", err)
	}
}

// Dialect returns the dialect statements are compiled for.
func (c *StatementCache) Dialect() dialect.Dialect { return c.d }

// Len returns the number of locally cached statements.
func (c *StatementCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local.Len()
}

// Stats returns the number of cache hits and misses.
func (c *StatementCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Clear empties the local cache.
func (c *StatementCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local.Clear()
}
