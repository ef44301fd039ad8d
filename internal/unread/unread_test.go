package unread

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/bryan-buckman/rssreader/internal/event"
	"github.com/bryan-buckman/rssreader/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	articles []model.Article
	reads    int
}

func (s *fakeStore) source() []model.Article {
	s.reads++
	return s.articles
}

func TestCountBasics(t *testing.T) {
	s := &fakeStore{articles: []model.Article{
		{ID: "1", FeedID: "a"},
		{ID: "2", FeedID: "a", IsRead: true},
		{ID: "3", FeedID: "a"},
		{ID: "4", FeedID: "b", IsFavorite: true},
	}}
	c := New(s.source)

	assert.Equal(t, 2, c.Count("a"))
	assert.Equal(t, 1, c.Count("b"))
	assert.Equal(t, 0, c.Count("missing"))
	assert.Equal(t, 1, s.reads, "counts are cached after the first pass")
}

func TestInvalidationRecomputes(t *testing.T) {
	s := &fakeStore{articles: []model.Article{
		{ID: "1", FeedID: "a"},
		{ID: "2", FeedID: "b"},
	}}
	c := New(s.source)
	require.Equal(t, 1, c.Count("a"))

	s.articles[0].IsRead = true
	assert.Equal(t, 1, c.Count("a"), "no invalidation yet")

	c.HandleEvent(event.Event{Kind: event.ArticleStateChanged, FeedIDs: []string{"a"}})
	assert.Equal(t, 0, c.Count("a"))

	s.articles = append(s.articles, model.Article{ID: "3", FeedID: "b"})
	c.HandleEvent(event.Event{Kind: event.CacheCleared, AllFeeds: true})
	assert.Equal(t, 2, c.Count("b"))
}

func TestCounts(t *testing.T) {
	s := &fakeStore{articles: []model.Article{
		{ID: "1", FeedID: "a"},
		{ID: "2", FeedID: "b"},
		{ID: "3", FeedID: "b"},
	}}
	c := New(s.source)

	assert.Equal(t, map[string]int{"a": 1, "b": 2, "c": 0}, c.Counts([]string{"a", "b", "c"}))
}

// Random mutation sequences must leave the cache equal to a fresh tally.
func TestCountMatchesTallyAfterMutations(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	feeds := []string{"a", "b", "c"}

	s := &fakeStore{}
	c := New(s.source)

	for step := range 500 {
		feedID := feeds[rng.IntN(len(feeds))]
		switch rng.IntN(4) {
		case 0: // merge of a new article
			s.articles = append(s.articles, model.Article{
				ID:     fmt.Sprintf("n%d", step),
				FeedID: feedID,
				Link:   fmt.Sprintf("https://x/%d", step),
			})
			c.HandleEvent(event.Event{Kind: event.ArticlesMerged, FeedIDs: []string{feedID}})
		case 1: // mark read
			if len(s.articles) > 0 {
				i := rng.IntN(len(s.articles))
				s.articles[i].IsRead = true
				c.HandleEvent(event.Event{Kind: event.ArticleStateChanged, FeedIDs: []string{s.articles[i].FeedID}})
			}
		case 2: // toggle favorite
			if len(s.articles) > 0 {
				i := rng.IntN(len(s.articles))
				s.articles[i].IsFavorite = !s.articles[i].IsFavorite
				c.HandleEvent(event.Event{Kind: event.ArticleStateChanged, FeedIDs: []string{s.articles[i].FeedID}})
			}
		case 3: // feed deletion
			kept := s.articles[:0]
			for _, a := range s.articles {
				if a.FeedID != feedID {
					kept = append(kept, a)
				}
			}
			s.articles = kept
			c.HandleEvent(event.Event{Kind: event.FeedRemoved, FeedIDs: []string{feedID}})
		}

		want := Tally(s.articles)
		for _, id := range feeds {
			require.Equal(t, want[id], c.Count(id), "step %d feed %s", step, id)
		}
	}
}
