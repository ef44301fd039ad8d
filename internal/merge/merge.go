// Package merge reconciles freshly parsed articles with the stored set.
//
// Two articles are the same article when they belong to the same feed and
// carry the same link; article ids play no part in that comparison.
package merge

import (
	"github.com/bryan-buckman/rssreader/internal/model"
)

// Merge appends to existing every incoming article not already present.
// Incoming duplicates of one another keep the first occurrence. existing is
// never modified.
func Merge(existing, incoming []model.Article) []model.Article {
	merged := make([]model.Article, len(existing), len(existing)+len(incoming))
	copy(merged, existing)

	seen := keySet(existing)
	for _, a := range incoming {
		k := a.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, a)
	}
	return merged
}

// ReapplyState returns fetched with user state carried over from prior: an
// article whose link matches a prior article takes that article's read and
// favorite flags and its id, so it can stand in for the prior version.
// Duplicate links within fetched keep the first occurrence.
func ReapplyState(fetched, prior []model.Article) []model.Article {
	byKey := make(map[model.ArticleKey]model.Article, len(prior))
	for _, p := range prior {
		if _, ok := byKey[p.Key()]; !ok {
			byKey[p.Key()] = p
		}
	}

	out := make([]model.Article, 0, len(fetched))
	seen := make(map[model.ArticleKey]struct{}, len(fetched))
	for _, a := range fetched {
		k := a.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}

		if p, ok := byKey[k]; ok {
			a.ID = p.ID
			a.IsRead = p.IsRead
			a.IsFavorite = p.IsFavorite
		}
		out = append(out, a)
	}
	return out
}

// ReplaceFeed installs current as the authoritative version of feedID's
// articles. Stored articles of that feed whose link appears in current are
// replaced; the rest are kept. It returns the new set and how many links
// were not stored before. current should already have passed through
// ReapplyState so no user state is lost.
func ReplaceFeed(existing []model.Article, feedID string, current []model.Article) ([]model.Article, int) {
	fresh := make(map[model.ArticleKey]struct{}, len(current))
	var accepted []model.Article
	for _, a := range current {
		if a.FeedID != feedID {
			continue
		}
		if _, dup := fresh[a.Key()]; dup {
			continue
		}
		fresh[a.Key()] = struct{}{}
		accepted = append(accepted, a)
	}

	out := make([]model.Article, 0, len(existing)+len(accepted))
	stored := make(map[model.ArticleKey]struct{})
	for _, a := range existing {
		if a.FeedID == feedID {
			if _, ok := fresh[a.Key()]; ok {
				stored[a.Key()] = struct{}{}
				continue
			}
		}
		out = append(out, a)
	}
	out = append(out, accepted...)

	return out, len(accepted) - len(stored)
}

// ForFeed returns the articles that belong to feedID, in stored order.
func ForFeed(articles []model.Article, feedID string) []model.Article {
	var out []model.Article
	for _, a := range articles {
		if a.FeedID == feedID {
			out = append(out, a)
		}
	}
	return out
}

func keySet(articles []model.Article) map[model.ArticleKey]struct{} {
	set := make(map[model.ArticleKey]struct{}, len(articles))
	for _, a := range articles {
		set[a.Key()] = struct{}{}
	}
	return set
}
