// Package cache holds the per-channel TTL caches used by the engine. Entries
// are populated on demand and evicted by TTL, single-key invalidation, or flush.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Key scopes a cached id to one channel.
type Key struct {
	ChannelID string
	ID        string
}

// TTLCache is a size-bounded, concurrency-safe cache with a fixed TTL.
type TTLCache[V any] struct {
	lru *expirable.LRU[Key, V]
}

// NewTTLCache creates a cache holding at most size entries for ttl each.
func NewTTLCache[V any](size int, ttl time.Duration) *TTLCache[V] {
	if size <= 0 {
		size = 1024
	}
	return &TTLCache[V]{lru: expirable.NewLRU[Key, V](size, nil, ttl)}
}

func (c *TTLCache[V]) Get(channelID, id string) (V, bool) {
	return c.lru.Get(Key{ChannelID: channelID, ID: id})
}

func (c *TTLCache[V]) Set(channelID, id string, value V) {
	c.lru.Add(Key{ChannelID: channelID, ID: id}, value)
}

// Invalidate drops a single entry.
func (c *TTLCache[V]) Invalidate(channelID, id string) bool {
	return c.lru.Remove(Key{ChannelID: channelID, ID: id})
}

// Flush drops every entry.
func (c *TTLCache[V]) Flush() {
	c.lru.Purge()
}

// FlushChannel drops every entry of one channel and returns how many were removed.
func (c *TTLCache[V]) FlushChannel(channelID string) int {
	removed := 0
	for _, key := range c.lru.Keys() {
		if key.ChannelID == channelID && c.lru.Remove(key) {
			removed++
		}
	}
	return removed
}

// GetOrLoad returns the cached value or calls load and caches its result.
// Load errors are returned and never cached. The bool reports a cache hit.
func (c *TTLCache[V]) GetOrLoad(ctx context.Context, channelID, id string, load func(ctx context.Context) (V, error)) (V, bool, error) {
	if value, ok := c.Get(channelID, id); ok {
		return value, true, nil
	}
	value, err := load(ctx)
	if err != nil {
		var zero V
		return zero, false, err
	}
	c.Set(channelID, id, value)
	return value, false, nil
}
