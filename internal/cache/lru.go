/**
* Copyright 2018 Comcast Cable Communications Management, LLC
* Licensed under the Apache License, Version 2.0 (the "License");
* you may not use this file except in compliance with the License.
* You may obtain a copy of the License at
* http://www.apache.org/licenses/LICENSE-2.0
* Unless required by applicable law or agreed to in writing, software
* distributed under the License is distributed on an "AS IS" BASIS,
* WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
* See the License for the specific language governing permissions and
* limitations under the License.
 */

package cache

import (
	"container/list"
	"sync"

	"github.com/trickstertech/rustysquid/internal/clock"
	"github.com/trickstertech/rustysquid/internal/log"
	"github.com/trickstertech/rustysquid/internal/metrics"
)

const (
	// MaxEntries is the hard cap on the number of live cache entries.
	MaxEntries = 10000
	// MaxCacheBytes is the hard cap on aggregate artifact byte accounting.
	MaxCacheBytes = 50 * clock.MiB
	// MaxEntrySize is the largest artifact the cache will ever admit.
	MaxEntrySize = 5 * clock.MiB
)

type entry struct {
	fp       uint64
	artifact *Artifact
}

// Cache is the bounded LRU cache (C4). All exported methods are safe for
// concurrent use: a single mutex protects both the recency list and the
// aggregate byte counter together, so the two can never be observed out
// of sync. Critical sections never perform I/O or otherwise suspend.
type Cache struct {
	mu        sync.Mutex
	ll        *list.List // front = most recently used
	index     map[uint64]*list.Element
	aggregate int64
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{
		ll:    list.New(),
		index: make(map[uint64]*list.Element),
	}
}

// Get looks up fp. It returns (nil, false) if the fingerprint is absent or
// its artifact has expired; an expired entry is removed and its
// accounting decremented before returning. On a hit, the entry is
// promoted to most-recently-used and an additional reference on the
// shared artifact is returned — callers must Release it when done.
func (c *Cache) Get(fp uint64) (*Artifact, bool) {
	c.mu.Lock()
	el, ok := c.index[fp]
	if !ok {
		c.mu.Unlock()
		metrics.CacheMiss()
		return nil, false
	}
	e := el.Value.(*entry)
	if clock.Expired(e.artifact.CreatedAt, e.artifact.TTL, clock.NowSeconds()) {
		c.removeElementLocked(el)
		c.mu.Unlock()
		metrics.CacheMiss()
		log.Debug("cache entry expired", log.Pairs{"fingerprint": fp})
		return nil, false
	}
	c.ll.MoveToFront(el)
	a := e.artifact.Acquire()
	c.mu.Unlock()
	metrics.CacheHit()
	return a, true
}

// Insert admits artifact under fp, replacing any existing entry for that
// fingerprint, then evicts least-recently-used entries until both the
// entry-count and aggregate-byte invariants hold. It is a no-op (and
// returns false) if artifact.ContentSize() exceeds MaxEntrySize — the
// fixed per-entry accounting overhead is charged against the aggregate
// cache budget (via Size()) but never counts against this per-artifact
// cap, so a body of exactly MaxEntrySize bytes is still admitted.
func (c *Cache) Insert(fp uint64, artifact *Artifact) bool {
	if artifact.ContentSize() > MaxEntrySize {
		log.Warn("artifact exceeds max entry size, not cached", log.Pairs{
			"fingerprint": fp, "size": artifact.ContentSize(), "max": int64(MaxEntrySize),
		})
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[fp]; ok {
		c.removeElementLocked(el)
	}

	el := c.ll.PushFront(&entry{fp: fp, artifact: artifact})
	c.index[fp] = el
	c.aggregate += artifact.Size()

	for c.aggregate > MaxCacheBytes || c.ll.Len() > MaxEntries {
		back := c.ll.Back()
		if back == nil {
			break
		}
		c.removeElementLocked(back)
		metrics.CacheEvict()
	}

	metrics.SetCacheGauges(int64(c.ll.Len()), c.aggregate)
	return true
}

// Remove deletes fp's entry, if present.
func (c *Cache) Remove(fp uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[fp]; ok {
		c.removeElementLocked(el)
	}
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll = list.New()
	c.index = make(map[uint64]*list.Element)
	c.aggregate = 0
}

// Len reports the current number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// AggregateSize reports the current sum of all entries' Size().
func (c *Cache) AggregateSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aggregate
}

// removeElementLocked removes el from both the list and the index and
// decrements the aggregate counter. c.mu must be held.
func (c *Cache) removeElementLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.ll.Remove(el)
	delete(c.index, e.fp)
	c.aggregate -= e.artifact.Size()
	e.artifact.Release()
}
