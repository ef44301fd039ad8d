// Package event carries typed change notifications from the library to the
// consumers that subscribed to them.
package event

import (
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Kind names what changed.
type Kind string

// Event kinds.
const (
	FeedAdded           Kind = "feed_added"
	FeedUpdated         Kind = "feed_updated"
	FeedRemoved         Kind = "feed_removed"
	ArticlesMerged      Kind = "articles_merged"
	ArticleStateChanged Kind = "article_state_changed"
	CacheCleared        Kind = "cache_cleared"
	FeedRefreshFailed   Kind = "feed_refresh_failed"
	RefreshCompleted    Kind = "refresh_completed"
)

// RefreshSummary describes one whole-library refresh cycle.
type RefreshSummary struct {
	Feeds  int `json:"feeds"`
	Failed int `json:"failed"`
	Added  int `json:"added"`
}

// Event is a single change notification.
type Event struct {
	Kind Kind `json:"kind"`
	// FeedIDs lists the feeds whose articles changed. AllFeeds marks a change
	// that touches every feed.
	FeedIDs   []string        `json:"feedIDs,omitempty"`
	AllFeeds  bool            `json:"allFeeds,omitempty"`
	ArticleID string          `json:"articleID,omitempty"`
	Added     int             `json:"added,omitempty"`
	Error     string          `json:"error,omitempty"`
	Summary   *RefreshSummary `json:"summary,omitempty"`
	At        time.Time       `json:"at"`
}

// Listener receives events synchronously, in publish order.
type Listener interface {
	HandleEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) HandleEvent(e Event) { f(e) }

type subscription struct {
	id       uint64
	listener Listener
}

// Bus fans events out to subscribed listeners. Publish returns only after
// every listener has handled the event, so a listener that invalidates a
// cache is up to date before the publisher continues.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers l and returns a function that removes it.
func (b *Bus) Subscribe(l Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, listener: l})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
	}
}

// Publish delivers e to every listener.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		s.listener.HandleEvent(e)
	}
}

// Channel is a listener that forwards events to a buffered channel for
// asynchronous consumers. When the buffer is full the event is dropped
// rather than blocking the publisher.
type Channel struct {
	ch      chan Event
	dropped atomic.Int64
	log     *slog.Logger
}

// NewChannel creates a channel listener with the given buffer size.
func NewChannel(buffer int, log *slog.Logger) *Channel {
	if buffer < 1 {
		buffer = 1
	}
	return &Channel{ch: make(chan Event, buffer), log: log}
}

func (c *Channel) HandleEvent(e Event) {
	select {
	case c.ch <- e:
	default:
		n := c.dropped.Add(1)
		c.log.Warn("Dropping event for slow consumer",
			"kind", e.Kind,
			"droppedTotal", n)
	}
}

// C returns the receive side.
func (c *Channel) C() <-chan Event {
	return c.ch
}

// Dropped returns how many events were discarded.
func (c *Channel) Dropped() int64 {
	return c.dropped.Load()
}
