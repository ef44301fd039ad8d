package library

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bryan-buckman/rssreader/internal/event"
	"github.com/bryan-buckman/rssreader/internal/model"
	"github.com/bryan-buckman/rssreader/internal/rss"
	"github.com/bryan-buckman/rssreader/internal/subscription"
	"github.com/google/uuid"
)

// Subscribe adds the feed at rawURL and performs its first fetch. A custom
// title is kept; otherwise the channel title is adopted, falling back to
// the URL. A failed first fetch does not undo the subscription.
func (s *Service) Subscribe(ctx context.Context, rawURL, title string) (model.Feed, error) {
	feedURL := strings.TrimSpace(rawURL)
	if !rss.ValidURL(feedURL) {
		return model.Feed{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	feed := model.Feed{
		ID:    uuid.NewString(),
		Title: strings.TrimSpace(title),
		URL:   feedURL,
	}

	if err := s.addFeed(ctx, feed); err != nil {
		return model.Feed{}, err
	}

	if _, err := s.RefreshFeed(ctx, feed.ID); err != nil {
		s.log.WarnContext(ctx, "Initial fetch failed",
			"error", err,
			"feedID", feed.ID,
			"feedURL", feed.URL)
		if feed.Title == "" {
			s.fallbackTitle(ctx, feed.ID)
		}
	}

	return s.Feed(feed.ID)
}

func (s *Service) addFeed(ctx context.Context, feed model.Feed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot().Clone()
	if slices.ContainsFunc(next.Feeds, func(f model.Feed) bool { return f.URL == feed.URL }) {
		return fmt.Errorf("%w: %s", ErrDuplicateFeed, feed.URL)
	}
	next.Feeds = append(next.Feeds, feed)

	if err := s.commit(ctx, next); err != nil {
		return fmt.Errorf("add feed: %w", err)
	}

	s.log.InfoContext(ctx, "Feed subscribed",
		"feedID", feed.ID,
		"feedURL", feed.URL)
	s.bus.Publish(event.Event{Kind: event.FeedAdded, FeedIDs: []string{feed.ID}})
	return nil
}

// fallbackTitle titles a feed after its URL when nothing better is known.
func (s *Service) fallbackTitle(ctx context.Context, feedID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot().Clone()
	i := next.FeedByID(feedID)
	if i < 0 || next.Feeds[i].Title != "" {
		return
	}
	next.Feeds[i].Title = next.Feeds[i].URL

	if err := s.commit(ctx, next); err != nil {
		return
	}
	s.bus.Publish(event.Event{Kind: event.FeedUpdated, FeedIDs: []string{feedID}})
}

// SubscribeText subscribes to every http(s) URL found in text. URLs that are
// already subscribed are skipped; other failures are joined into the
// returned error while the remaining URLs are still processed.
func (s *Service) SubscribeText(ctx context.Context, text string) ([]model.Feed, error) {
	urls := rss.FindURLs(text)
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: no URL found in text", ErrInvalidURL)
	}

	var (
		added []model.Feed
		errs  []error
	)
	for _, u := range urls {
		feed, err := s.Subscribe(ctx, u, "")
		switch {
		case errors.Is(err, ErrDuplicateFeed):
			continue
		case err != nil:
			errs = append(errs, err)
		default:
			added = append(added, feed)
		}
	}
	return added, errors.Join(errs...)
}

// UpdateFeed changes a feed's title and URL. An empty title becomes the URL.
func (s *Service) UpdateFeed(ctx context.Context, id, title, rawURL string) (model.Feed, error) {
	feedURL := strings.TrimSpace(rawURL)
	if !rss.ValidURL(feedURL) {
		return model.Feed{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot().Clone()
	i := next.FeedByID(id)
	if i < 0 {
		return model.Feed{}, ErrFeedNotFound
	}
	if slices.ContainsFunc(next.Feeds, func(f model.Feed) bool { return f.ID != id && f.URL == feedURL }) {
		return model.Feed{}, fmt.Errorf("%w: %s", ErrDuplicateFeed, feedURL)
	}

	feed := &next.Feeds[i]
	feed.URL = feedURL
	feed.Title = strings.TrimSpace(title)
	if feed.Title == "" {
		feed.Title = feedURL
	}

	if err := s.commit(ctx, next); err != nil {
		return model.Feed{}, fmt.Errorf("update feed: %w", err)
	}

	s.bus.Publish(event.Event{Kind: event.FeedUpdated, FeedIDs: []string{id}})
	return *feed, nil
}

// Unsubscribe removes a feed together with all of its articles.
func (s *Service) Unsubscribe(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot().Clone()
	i := next.FeedByID(id)
	if i < 0 {
		return ErrFeedNotFound
	}
	next.Feeds = slices.Delete(next.Feeds, i, i+1)

	before := len(next.Articles)
	next.Articles = slices.DeleteFunc(next.Articles, func(a model.Article) bool { return a.FeedID == id })

	if err := s.commit(ctx, next); err != nil {
		return fmt.Errorf("remove feed: %w", err)
	}

	s.log.InfoContext(ctx, "Feed unsubscribed",
		"feedID", id,
		"removedArticles", before-len(next.Articles))
	s.bus.Publish(event.Event{Kind: event.FeedRemoved, FeedIDs: []string{id}})
	return nil
}

// Import decodes a feed list and subscribes to every feed whose URL is not
// already present. It returns the feeds that were added; articles arrive
// with the next refresh.
func (s *Service) Import(ctx context.Context, data []byte, formatHint string) ([]model.Feed, error) {
	imported, err := subscription.Decode(data, formatHint)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot().Clone()
	merged, added := subscription.MergeFeeds(next.Feeds, imported)
	if len(added) == 0 {
		return nil, nil
	}
	// Only imported feeds fall back to their URL; existing feeds keep an
	// empty title until their first fetch names them.
	for i := len(merged) - len(added); i < len(merged); i++ {
		if merged[i].Title == "" {
			merged[i].Title = merged[i].URL
		}
	}
	next.Feeds = merged

	if err := s.commit(ctx, next); err != nil {
		return nil, fmt.Errorf("import feeds: %w", err)
	}

	ids := make([]string, len(added))
	for i, f := range added {
		ids[i] = f.ID
	}
	s.log.InfoContext(ctx, "Feeds imported",
		"decoded", len(imported),
		"added", len(added))
	s.bus.Publish(event.Event{Kind: event.FeedAdded, FeedIDs: ids})

	return slices.Clone(next.Feeds[len(next.Feeds)-len(added):]), nil
}

// Export returns the OPML document of every subscribed feed.
func (s *Service) Export() ([]byte, error) {
	return subscription.Export(s.Feeds())
}

// ExportToFile writes the OPML document to the export directory and returns
// its path.
func (s *Service) ExportToFile() (string, error) {
	return subscription.WriteExport(s.opts.ExportDir, s.Feeds())
}
