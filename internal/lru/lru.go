// Package lru implements a size-bounded least-recently-used cache. It is not
// safe for concurrent use; callers hold their own lock.
package lru

import "container/list"

// Cache is an LRU cache bounded by total byte size and entry count. A zero
// bound means unlimited.
type Cache struct {
	maxBytes   int64
	maxEntries int
	nBytes     int64
	ll         *list.List
	cache      map[string]*list.Element
	// OnEvicted is called when an entry is purged from the cache.
	OnEvicted func(key string, value Value)
}

type entry struct {
	key   string
	value Value
}

// Value is a cached value that reports its size in bytes.
type Value interface {
	Len() int
}

// New returns a cache bounded by maxBytes and maxEntries.
func New(maxBytes int64, maxEntries int, onEvicted func(string, Value)) *Cache {
	return &Cache{
		maxBytes:   maxBytes,
		maxEntries: maxEntries,
		ll:         list.New(),
		cache:      make(map[string]*list.Element),
		OnEvicted:  onEvicted,
	}
}

// Get looks up a key's value and marks it as recently used.
func (c *Cache) Get(key string) (Value, bool) {
	if ele, ok := c.cache[key]; ok {
		c.ll.MoveToFront(ele)
		return ele.Value.(*entry).value, true
	}
	return nil, false
}

// Add inserts or replaces a value and evicts the oldest entries until the
// cache fits its bounds again.
func (c *Cache) Add(key string, value Value) {
	if ele, ok := c.cache[key]; ok {
		c.ll.MoveToFront(ele)
		kv := ele.Value.(*entry)
		c.nBytes += int64(value.Len()) - int64(kv.value.Len())
		kv.value = value
	} else {
		ele := c.ll.PushFront(&entry{key, value})
		c.cache[key] = ele
		c.nBytes += int64(len(key)) + int64(value.Len())
	}
	for c.overflow() && c.ll.Len() > 0 {
		c.RemoveOldest()
	}
}

func (c *Cache) overflow() bool {
	return (c.maxBytes != 0 && c.nBytes > c.maxBytes) ||
		(c.maxEntries != 0 && c.ll.Len() > c.maxEntries)
}

// Remove removes the given key from the cache.
func (c *Cache) Remove(key string) {
	if ele, ok := c.cache[key]; ok {
		c.removeElement(ele)
	}
}

// RemoveOldest removes the least recently used entry.
func (c *Cache) RemoveOldest() {
	if ele := c.ll.Back(); ele != nil {
		c.removeElement(ele)
	}
}

func (c *Cache) removeElement(ele *list.Element) {
	c.ll.Remove(ele)
	kv := ele.Value.(*entry)
	delete(c.cache, kv.key)
	c.nBytes -= int64(len(kv.key)) + int64(kv.value.Len())
	if c.OnEvicted != nil {
		c.OnEvicted(kv.key, kv.value)
	}
}

// Keys returns the cached keys from most to least recently used.
func (c *Cache) Keys() []string {
	keys := make([]string, 0, c.ll.Len())
	for ele := c.ll.Front(); ele != nil; ele = ele.Next() {
		keys = append(keys, ele.Value.(*entry).key)
	}
	return keys
}

// Clear removes all entries without calling OnEvicted.
func (c *Cache) Clear() {
	c.ll.Init()
	c.cache = make(map[string]*list.Element)
	c.nBytes = 0
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	return c.ll.Len()
}

// Bytes returns the accounted size of all entries.
func (c *Cache) Bytes() int64 {
	return c.nBytes
}

// MaxBytes returns the byte bound of the cache.
func (c *Cache) MaxBytes() int64 { return c.maxBytes }

// MaxEntries returns the entry bound of the cache.
func (c *Cache) MaxEntries() int { return c.maxEntries }
