package library

import (
	"context"
	"fmt"

	"github.com/bryan-buckman/rssreader/internal/event"
	"github.com/bryan-buckman/rssreader/internal/model"
)

// SetRead sets an article's read flag.
func (s *Service) SetRead(ctx context.Context, articleID string, read bool) (model.Article, error) {
	return s.updateArticle(ctx, articleID, func(a *model.Article) { a.IsRead = read })
}

// MarkRead marks an article as read.
func (s *Service) MarkRead(ctx context.Context, articleID string) (model.Article, error) {
	return s.SetRead(ctx, articleID, true)
}

// ToggleFavorite flips an article's favorite flag.
func (s *Service) ToggleFavorite(ctx context.Context, articleID string) (model.Article, error) {
	return s.updateArticle(ctx, articleID, func(a *model.Article) { a.IsFavorite = !a.IsFavorite })
}

func (s *Service) updateArticle(ctx context.Context, articleID string, mutate func(*model.Article)) (model.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot().Clone()
	i := next.ArticleByID(articleID)
	if i < 0 {
		return model.Article{}, ErrArticleNotFound
	}
	mutate(&next.Articles[i])
	a := next.Articles[i]

	if err := s.commit(ctx, next); err != nil {
		return model.Article{}, fmt.Errorf("update article: %w", err)
	}

	s.bus.Publish(event.Event{
		Kind:      event.ArticleStateChanged,
		FeedIDs:   []string{a.FeedID},
		ArticleID: a.ID,
	})
	return a, nil
}

// MarkFeedRead marks every article of a feed as read and returns how many
// changed.
func (s *Service) MarkFeedRead(ctx context.Context, feedID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot().Clone()
	if next.FeedByID(feedID) < 0 {
		return 0, ErrFeedNotFound
	}

	changed := 0
	for i := range next.Articles {
		if a := &next.Articles[i]; a.FeedID == feedID && !a.IsRead {
			a.IsRead = true
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}

	if err := s.commit(ctx, next); err != nil {
		return 0, fmt.Errorf("mark feed read: %w", err)
	}

	s.bus.Publish(event.Event{Kind: event.ArticleStateChanged, FeedIDs: []string{feedID}})
	return changed, nil
}

// ClearCache deletes every article. Feeds are kept.
func (s *Service) ClearCache(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snapshot().Clone()
	removed := len(next.Articles)
	next.Articles = nil

	if err := s.commit(ctx, next); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}

	s.log.InfoContext(ctx, "Article cache cleared",
		"removedArticles", removed)
	s.bus.Publish(event.Event{Kind: event.CacheCleared, AllFeeds: true})
	return nil
}
