// ABOUTME: Thread-safe TTL cache for suppressing redelivered inbound messages.
// ABOUTME: Keys are "<clientID>/<messageID>"; the oldest key is evicted when full.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry is one remembered key and its position in the eviction order.
type entry struct {
	key    string
	seenAt time.Time
}

// Cache remembers recently relayed message keys for a bounded time and count.
// Transports redeliver recent history after a reconnect; the relay consults
// the cache so each message reaches the webhook once per TTL window.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache holding at most maxSize keys for ttl each.
// A background goroutine sweeps expired keys once per minute until Close.
func New(ttl time.Duration, maxSize int) *Cache {
	c := newCache(ttl, maxSize, time.Now)
	go c.sweepLoop(time.Minute)
	return c
}

func newCache(ttl time.Duration, maxSize int, now func() time.Time) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
}

// Key builds the cache key for a tenant's message.
func Key(clientID, messageID string) string {
	return clientID + "/" + messageID
}

// seen reports whether key was marked within the TTL.
func (c *Cache) seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.index[key]
	if !ok {
		return false
	}
	return c.fresh(elem.Value.(*entry))
}

// CheckAndMark atomically reports whether key is a duplicate and, if it is
// not, marks it. Returns true for duplicates.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		e := elem.Value.(*entry)
		if c.fresh(e) {
			return true
		}
		e.seenAt = c.now()
		c.order.MoveToBack(elem)
		return false
	}

	if c.order.Len() >= c.maxSize {
		c.evictFront()
	}
	c.index[key] = c.order.PushBack(&entry{key: key, seenAt: c.now()})
	return false
}

// size returns the number of remembered keys, expired or not.
func (c *Cache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// fresh must be called with mu held.
func (c *Cache) fresh(e *entry) bool {
	return c.now().Sub(e.seenAt) < c.ttl
}

// evictFront must be called with mu held.
func (c *Cache) evictFront() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.index, front.Value.(*entry).key)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired keys. Keys are ordered by last mark, so it stops at the
// first fresh one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for elem := c.order.Front(); elem != nil; {
		e := elem.Value.(*entry)
		if c.fresh(e) {
			return
		}
		next := elem.Next()
		c.order.Remove(elem)
		delete(c.index, e.key)
		elem = next
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
