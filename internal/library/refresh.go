package library

import (
	"context"
	"fmt"
	"time"

	"github.com/bryan-buckman/rssreader/internal/event"
	"github.com/bryan-buckman/rssreader/internal/merge"
	"github.com/bryan-buckman/rssreader/internal/model"
	"github.com/bryan-buckman/rssreader/internal/rss"
)

// RefreshFeed fetches one feed and appends the articles whose links are not
// stored yet. It returns all articles of that feed afterwards.
func (s *Service) RefreshFeed(ctx context.Context, id string) ([]model.Article, error) {
	feed, err := s.Feed(id)
	if err != nil {
		return nil, err
	}

	doc, err := s.fetcher.FetchFeed(ctx, feed)
	if err != nil {
		s.reportFailure(ctx, feed, err)
		return nil, fmt.Errorf("refresh feed %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot().Clone()
	i := next.FeedByID(id)
	if i < 0 {
		return nil, ErrFeedNotFound
	}

	before := len(next.Articles)
	next.Articles = merge.Merge(next.Articles, doc.Articles)
	added := len(next.Articles) - before
	updated := applyDocument(&next.Feeds[i], doc)

	if err := s.commit(ctx, next); err != nil {
		return nil, fmt.Errorf("refresh feed %s: %w", id, err)
	}
	s.publishMerge(ctx, next.Feeds[i], added, updated)

	return merge.ForFeed(next.Articles, id), nil
}

// RefreshAll fetches every feed. Each fetched document becomes the
// authoritative version of its feed's articles, with read and favorite
// state carried over from the stored versions. Failures are counted per
// feed and never stop the cycle; only ctx cancellation ends it early.
// One RefreshCompleted event is published per call.
func (s *Service) RefreshAll(ctx context.Context) (event.RefreshSummary, error) {
	feeds := s.Feeds()
	summary := event.RefreshSummary{Feeds: len(feeds)}
	start := time.Now()

	err := s.fetcher.FetchAll(ctx, feeds, func(r rss.Result) {
		if r.Err != nil {
			summary.Failed++
			s.reportFailure(ctx, r.Feed, r.Err)
			return
		}

		added, err := s.replaceFeed(ctx, r.Feed.ID, r.Document)
		if err != nil {
			summary.Failed++
			return
		}
		summary.Added += added
	})

	s.log.InfoContext(ctx, "Refresh cycle completed",
		"feedCount", summary.Feeds,
		"failed", summary.Failed,
		"added", summary.Added,
		"duration", time.Since(start))
	s.bus.Publish(event.Event{Kind: event.RefreshCompleted, Summary: &summary})

	return summary, err
}

func (s *Service) replaceFeed(ctx context.Context, feedID string, doc rss.Document) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot().Clone()
	i := next.FeedByID(feedID)
	if i < 0 {
		// Unsubscribed while the fetch was in flight.
		return 0, nil
	}

	current := merge.ReapplyState(doc.Articles, merge.ForFeed(next.Articles, feedID))
	articles, added := merge.ReplaceFeed(next.Articles, feedID, current)
	next.Articles = articles
	updated := applyDocument(&next.Feeds[i], doc)

	if err := s.commit(ctx, next); err != nil {
		return 0, err
	}
	s.publishMerge(ctx, next.Feeds[i], added, updated)

	return added, nil
}

// applyDocument fills a feed's empty title and homepage from a parsed
// channel. It reports whether anything changed.
func applyDocument(feed *model.Feed, doc rss.Document) bool {
	changed := false
	if feed.Title == "" {
		feed.Title = doc.Title
		if feed.Title == "" {
			feed.Title = feed.URL
		}
		changed = true
	}
	if feed.HomepageURL == "" && rss.ValidURL(doc.Homepage) {
		feed.HomepageURL = doc.Homepage
		changed = true
	}
	return changed
}

func (s *Service) publishMerge(ctx context.Context, feed model.Feed, added int, feedUpdated bool) {
	s.metrics.AddArticles(added)
	if added > 0 {
		s.log.InfoContext(ctx, "Articles merged",
			"feedID", feed.ID,
			"added", added)
	}

	if feedUpdated {
		s.bus.Publish(event.Event{Kind: event.FeedUpdated, FeedIDs: []string{feed.ID}})
	}
	s.bus.Publish(event.Event{Kind: event.ArticlesMerged, FeedIDs: []string{feed.ID}, Added: added})
}

func (s *Service) reportFailure(ctx context.Context, feed model.Feed, err error) {
	s.log.WarnContext(ctx, "Failed to refresh feed",
		"error", err,
		"feedID", feed.ID,
		"feedURL", feed.URL)
	s.bus.Publish(event.Event{
		Kind:    event.FeedRefreshFailed,
		FeedIDs: []string{feed.ID},
		Error:   err.Error(),
	})
}
