// Package model defines shared data structures.
package model

import (
	"slices"
	"time"
)

// Feed represents an RSS feed subscription.
type Feed struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`            // machine-readable feed endpoint
	HomepageURL string `json:"link,omitempty"` // human-readable site, optional
}

// Article represents a single item parsed from a feed.
type Article struct {
	ID          string    `json:"id"`
	FeedID      string    `json:"feedID"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"` // plain text preview
	Content     string    `json:"content"` // raw description markup
	Link        string    `json:"link"`    // canonical link, the dedup key
	PublishedAt time.Time `json:"date"`
	IsRead      bool      `json:"isRead"`
	IsFavorite  bool      `json:"isFavorite"`
}

// Key returns the identity used for duplicate detection.
func (a Article) Key() ArticleKey {
	return ArticleKey{FeedID: a.FeedID, Link: a.Link}
}

// ArticleKey identifies an article by owning feed and canonical link.
type ArticleKey struct {
	FeedID string
	Link   string
}

// Library is the unit persisted by a store: every feed and every article.
type Library struct {
	Feeds    []Feed
	Articles []Article
}

// Clone returns a deep copy safe to mutate.
func (l Library) Clone() Library {
	return Library{
		Feeds:    slices.Clone(l.Feeds),
		Articles: slices.Clone(l.Articles),
	}
}

// FeedByID returns the index of the feed with the given id, or -1.
func (l Library) FeedByID(id string) int {
	return slices.IndexFunc(l.Feeds, func(f Feed) bool { return f.ID == id })
}

// ArticleByID returns the index of the article with the given id, or -1.
func (l Library) ArticleByID(id string) int {
	return slices.IndexFunc(l.Articles, func(a Article) bool { return a.ID == id })
}

// ArticleFilter selects which articles a listing returns.
type ArticleFilter struct {
	FeedID string // empty selects every feed
	Show   Show
}

// Show narrows a listing by article state.
type Show string

// Listing modes.
const (
	ShowAll       Show = "all"
	ShowUnread    Show = "unread"
	ShowFavorites Show = "favorites"
)

// Match reports whether the article passes the filter.
func (f ArticleFilter) Match(a Article) bool {
	if f.FeedID != "" && a.FeedID != f.FeedID {
		return false
	}
	switch f.Show {
	case ShowUnread:
		return !a.IsRead
	case ShowFavorites:
		return a.IsFavorite
	default:
		return true
	}
}
