// Package coalesce batches high-frequency keyed updates, keeping only the
// latest value per key until the batch is flushed.
package coalesce

import (
	"sync"
	"time"
)

const (
	DefaultMaxKeys    = 32
	DefaultFlushDelay = 50 * time.Millisecond
)

// Coalescer collects values by key and hands them to flush after a quiet
// period, or as soon as maxKeys distinct keys are pending. Flushes never
// overlap and are delivered in order.
type Coalescer[T any] struct {
	deliver    func(items map[string]T)
	maxKeys    int
	flushDelay time.Duration

	mu      sync.Mutex
	items   map[string]T
	timer   *time.Timer
	stopped bool

	flushMu sync.Mutex
}

func New[T any](maxKeys int, flushDelay time.Duration, deliver func(items map[string]T)) *Coalescer[T] {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	if flushDelay <= 0 {
		flushDelay = DefaultFlushDelay
	}
	return &Coalescer[T]{
		deliver:    deliver,
		maxKeys:    maxKeys,
		flushDelay: flushDelay,
		items:      make(map[string]T),
	}
}

// Add records v as the latest value for key.
func (c *Coalescer[T]) Add(key string, v T) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.items[key] = v
	full := len(c.items) >= c.maxKeys
	if !full {
		if c.timer == nil {
			c.timer = time.AfterFunc(c.flushDelay, c.Flush)
		} else {
			c.timer.Reset(c.flushDelay)
		}
	}
	c.mu.Unlock()

	if full {
		c.Flush()
	}
}

// Flush delivers everything pending now.
func (c *Coalescer[T]) Flush() {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	items := c.items
	c.items = make(map[string]T)
	c.mu.Unlock()

	if len(items) > 0 {
		c.deliver(items)
	}
}

// Stop flushes what is pending and drops later adds.
func (c *Coalescer[T]) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.Flush()
}
