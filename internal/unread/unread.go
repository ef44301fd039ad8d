// Package unread maintains per-feed unread counts over the in-memory article set.
package unread

import (
	"sync"

	"github.com/bryan-buckman/rssreader/internal/event"
	"github.com/bryan-buckman/rssreader/internal/model"
)

// Source returns the current article set. The counter never modifies it.
type Source func() []model.Article

// Counter caches unread counts and recomputes them lazily after
// invalidation. A count is never served from cache once its feed has been
// invalidated.
type Counter struct {
	mu       sync.Mutex
	source   Source
	counts   map[string]int
	stale    map[string]struct{}
	allStale bool
}

// New creates a counter over source. Nothing is computed until the first query.
func New(source Source) *Counter {
	return &Counter{
		source:   source,
		counts:   make(map[string]int),
		stale:    make(map[string]struct{}),
		allStale: true,
	}
}

// Count returns the number of unread articles of feedID. Unknown feeds have 0.
func (c *Counter) Count(feedID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isStaleLocked(feedID) {
		c.recountLocked()
	}
	return c.counts[feedID]
}

// Counts returns the unread count of each of feedIDs.
func (c *Counter) Counts(feedIDs []string) map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range feedIDs {
		if c.isStaleLocked(id) {
			c.recountLocked()
			break
		}
	}

	out := make(map[string]int, len(feedIDs))
	for _, id := range feedIDs {
		out[id] = c.counts[id]
	}
	return out
}

// Invalidate marks the counts of feedIDs as stale.
func (c *Counter) Invalidate(feedIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range feedIDs {
		c.stale[id] = struct{}{}
	}
}

// InvalidateAll marks every count as stale.
func (c *Counter) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.allStale = true
}

// HandleEvent invalidates the feeds an event touched.
func (c *Counter) HandleEvent(e event.Event) {
	if e.AllFeeds {
		c.InvalidateAll()
		return
	}
	if len(e.FeedIDs) > 0 {
		c.Invalidate(e.FeedIDs...)
	}
}

func (c *Counter) isStaleLocked(feedID string) bool {
	if c.allStale {
		return true
	}
	_, ok := c.stale[feedID]
	return ok
}

func (c *Counter) recountLocked() {
	c.counts = Tally(c.source())
	clear(c.stale)
	c.allStale = false
}

// Tally counts unread articles per feed from scratch.
func Tally(articles []model.Article) map[string]int {
	counts := make(map[string]int)
	for _, a := range articles {
		if !a.IsRead {
			counts[a.FeedID]++
		}
	}
	return counts
}
