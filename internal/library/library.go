// Package library is the single writer over the persisted feeds and
// articles. Every mutation reads the current library, builds a new one,
// saves it through the store and only then makes it visible to readers.
package library

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/bryan-buckman/rssreader/internal/database"
	"github.com/bryan-buckman/rssreader/internal/event"
	"github.com/bryan-buckman/rssreader/internal/metrics"
	"github.com/bryan-buckman/rssreader/internal/model"
	"github.com/bryan-buckman/rssreader/internal/rss"
	"github.com/bryan-buckman/rssreader/internal/unread"
)

var (
	ErrFeedNotFound    = errors.New("feed not found")
	ErrArticleNotFound = errors.New("article not found")
	ErrDuplicateFeed   = errors.New("feed already subscribed")
	ErrInvalidURL      = errors.New("invalid feed URL")
)

// Fetcher downloads and parses feeds.
type Fetcher interface {
	FetchFeed(ctx context.Context, feed model.Feed) (rss.Document, error)
	FetchAll(ctx context.Context, feeds []model.Feed, handle func(rss.Result)) error
}

// Options holds optional settings for a Service.
type Options struct {
	// ExportDir receives exported OPML files. Empty means the OS temp dir.
	ExportDir string
}

// Service owns the in-memory library and serializes writers.
//
// Events are published while the writer lock is held, so listeners see them
// in commit order and must not call back into mutating methods.
type Service struct {
	store   database.Store
	fetcher Fetcher
	bus     *event.Bus
	unread  *unread.Counter
	metrics *metrics.Metrics
	log     *slog.Logger
	opts    Options

	mu sync.Mutex // held by writers for the whole read-modify-write

	snapMu sync.RWMutex
	lib    model.Library // published snapshot, never modified in place
}

// New loads the library from store. A load failure is logged and the
// service starts empty.
func New(ctx context.Context, store database.Store, fetcher Fetcher, bus *event.Bus, m *metrics.Metrics, log *slog.Logger, opts Options) *Service {
	s := &Service{
		store:   store,
		fetcher: fetcher,
		bus:     bus,
		metrics: m,
		log:     log,
		opts:    opts,
	}

	lib, err := store.Load(ctx)
	if err != nil {
		log.WarnContext(ctx, "Failed to load library, starting empty",
			"error", err,
			"store", store.DatabaseType())
		lib = model.Library{}
	} else {
		log.InfoContext(ctx, "Library loaded",
			"store", store.DatabaseType(),
			"feedCount", len(lib.Feeds),
			"articleCount", len(lib.Articles))
	}
	s.lib = lib

	s.unread = unread.New(s.articles)
	bus.Subscribe(s.unread)

	return s
}

func (s *Service) snapshot() model.Library {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.lib
}

func (s *Service) articles() []model.Article {
	return s.snapshot().Articles
}

// commit persists next and publishes it. Callers hold s.mu.
func (s *Service) commit(ctx context.Context, next model.Library) error {
	if err := s.store.Save(ctx, next); err != nil {
		s.log.ErrorContext(ctx, "Failed to save library",
			"error", err,
			"store", s.store.DatabaseType())
		return err
	}

	s.snapMu.Lock()
	s.lib = next
	s.snapMu.Unlock()
	return nil
}

// Feeds returns every subscribed feed in subscription order.
func (s *Service) Feeds() []model.Feed {
	return slices.Clone(s.snapshot().Feeds)
}

// Feed returns the feed with the given id.
func (s *Service) Feed(id string) (model.Feed, error) {
	lib := s.snapshot()
	i := lib.FeedByID(id)
	if i < 0 {
		return model.Feed{}, ErrFeedNotFound
	}
	return lib.Feeds[i], nil
}

// Articles returns the articles matching filter, newest first. Articles
// with equal dates keep their stored order.
func (s *Service) Articles(filter model.ArticleFilter) []model.Article {
	var out []model.Article
	for _, a := range s.articles() {
		if filter.Match(a) {
			out = append(out, a)
		}
	}
	slices.SortStableFunc(out, func(a, b model.Article) int {
		return cmp.Compare(b.PublishedAt.UnixNano(), a.PublishedAt.UnixNano())
	})
	return out
}

// Article returns the article with the given id.
func (s *Service) Article(id string) (model.Article, error) {
	lib := s.snapshot()
	i := lib.ArticleByID(id)
	if i < 0 {
		return model.Article{}, ErrArticleNotFound
	}
	return lib.Articles[i], nil
}

// UnreadCount returns the number of unread articles of feedID.
func (s *Service) UnreadCount(feedID string) int {
	return s.unread.Count(feedID)
}

// UnreadCounts returns the unread count of every subscribed feed.
func (s *Service) UnreadCounts() map[string]int {
	feeds := s.snapshot().Feeds
	ids := make([]string, len(feeds))
	for i, f := range feeds {
		ids[i] = f.ID
	}
	return s.unread.Counts(ids)
}
