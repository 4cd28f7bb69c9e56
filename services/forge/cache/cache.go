// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides the LRU read cache in front of the graph
// database.
//
// Entries expire by TTL and are evicted least-recently-used when the
// cache is full. Concurrent misses for the same key collapse into a
// single load via singleflight, so a cold popular query costs one
// database round trip, not one per waiting caller.
//
// Invalidation is by label version. Every write to the graph bumps a
// counter per touched label; readers fold the current counters into
// their cache keys, so entries built before the write become
// unreachable rather than being hunted down. The unreachable entries
// age out through TTL and LRU pressure. Expired entries are dropped
// lazily on access and by a background sweep.
package cache

import (
	"container/list"
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// LoadFunc produces a value on a cache miss.
type LoadFunc func(ctx context.Context) (any, error)

// Cache is an LRU cache with TTL expiry. Safe for concurrent use.
type Cache struct {
	capacity int
	ttl      time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List

	versionMu sync.Mutex
	versions  map[string]uint64

	flight singleflight.Group

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type entry struct {
	key     string
	value   any
	expires time.Time
	elem    *list.Element
}

// New creates a cache holding at most capacity entries, each expiring
// ttl after insertion.
func New(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*entry),
		lru:      list.New(),
		versions: make(map[string]uint64),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Get returns the cached value for key, if present and unexpired.
// Expired entries are removed on the spot.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}
	if time.Now().After(e.expires) {
		c.removeLocked(e)
		c.mu.Unlock()
		c.expirations.Add(1)
		c.misses.Add(1)
		return nil, false
	}
	c.lru.MoveToFront(e.elem)
	value := e.value
	c.mu.Unlock()

	c.hits.Add(1)
	return value, true
}

// Put stores value under key, evicting the least recently used entry
// if the cache is full.
func (c *Cache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expires = time.Now().Add(c.ttl)
		c.lru.MoveToFront(e.elem)
		return
	}

	for len(c.entries) >= c.capacity {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(c.entries[oldest.Value.(string)])
		c.evictions.Add(1)
	}

	e := &entry{key: key, value: value, expires: time.Now().Add(c.ttl)}
	e.elem = c.lru.PushFront(key)
	c.entries[key] = e
}

// Do returns the cached value for key or loads it, collapsing
// concurrent loads for the same key into one call. The second return
// reports whether the value came from cache. Load errors are returned
// to every collapsed caller and are not cached.
func (c *Cache) Do(ctx context.Context, key string, load LoadFunc) (any, bool, error) {
	if value, ok := c.Get(key); ok {
		return value, true, nil
	}

	value, err, _ := c.flight.Do(key, func() (any, error) {
		// A collapsed caller may land here after the winner already
		// populated the entry.
		if value, ok := c.Get(key); ok {
			return value, nil
		}
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(key, value)
		return value, nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, false, nil
}

// Version returns the current version counter for a label. Unknown
// labels are version zero.
func (c *Cache) Version(label string) uint64 {
	c.versionMu.Lock()
	defer c.versionMu.Unlock()
	return c.versions[label]
}

// BumpVersion advances the version counter for each label, making
// every cache key that folded in the old versions unreachable.
func (c *Cache) BumpVersion(labels ...string) {
	c.versionMu.Lock()
	defer c.versionMu.Unlock()
	for _, label := range labels {
		c.versions[label]++
	}
}

// Invalidate removes a single key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Clear removes every entry. Version counters survive so keys built
// before the clear stay distinct from keys built after later writes.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
	c.lru.Init()
}

// Sweep removes all expired entries and returns how many it dropped.
// Called by the background sweeper and by tests.
func (c *Cache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, e := range c.entries {
		if now.After(e.expires) {
			c.removeLocked(e)
			removed++
		}
	}
	if removed > 0 {
		c.expirations.Add(int64(removed))
	}
	return removed
}

// StartSweeper begins periodic expiry sweeps. Stop it with Close.
func (c *Cache) StartSweeper(interval time.Duration) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Close stops the background sweeper, if one was started. Idempotent.
func (c *Cache) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

// Stats is a point-in-time snapshot for the status endpoint.
type Stats struct {
	Entries     int    `json:"entries"`
	Capacity    int    `json:"capacity"`
	Hits        int64  `json:"hits"`
	Misses      int64  `json:"misses"`
	Evictions   int64  `json:"evictions"`
	Expirations int64  `json:"expirations"`
	HitRate     string `json:"hit_rate"`
}

// Stats returns current cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return Stats{
		Entries:     entries,
		Capacity:    c.capacity,
		Hits:        hits,
		Misses:      misses,
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
		HitRate:     strconv.FormatFloat(rate, 'f', 2, 64),
	}
}

// removeLocked drops an entry. Caller holds c.mu.
func (c *Cache) removeLocked(e *entry) {
	if e == nil {
		return
	}
	if e.elem != nil {
		c.lru.Remove(e.elem)
		e.elem = nil
	}
	delete(c.entries, e.key)
}
