package server

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bryan-buckman/rssreader/internal/model"
	"github.com/bryan-buckman/rssreader/internal/subscription"
	"github.com/go-chi/chi/v5"
)

type feedView struct {
	model.Feed
	Unread int `json:"unread"`
}

func (s *Server) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	feeds := s.lib.Feeds()
	counts := s.lib.UnreadCounts()

	views := make([]feedView, len(feeds))
	for i, f := range feeds {
		views[i] = feedView{Feed: f, Unread: counts[f.ID]}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL   string `json:"url"`
		Title string `json:"title"`
		// Text is free text to scan for feed URLs instead of a single URL.
		Text string `json:"text"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if req.Text != "" {
		added, err := s.lib.SubscribeText(r.Context(), req.Text)
		if err != nil && len(added) == 0 {
			s.writeError(w, r, err)
			return
		}
		resp := map[string]any{"feeds": nonNil(added)}
		if err != nil {
			resp["error"] = err.Error()
		}
		writeJSON(w, http.StatusCreated, resp)
		return
	}

	feed, err := s.lib.Subscribe(r.Context(), req.URL, req.Title)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, feed)
}

func (s *Server) handleUpdateFeed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	}
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	feed, err := s.lib.UpdateFeed(r.Context(), chi.URLParam(r, "feedID"), req.Title, req.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if err := s.lib.Unsubscribe(r.Context(), chi.URLParam(r, "feedID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshFeed(w http.ResponseWriter, r *http.Request) {
	articles, err := s.lib.RefreshFeed(r.Context(), chi.URLParam(r, "feedID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(articles))
}

func (s *Server) handleMarkFeedRead(w http.ResponseWriter, r *http.Request) {
	n, err := s.lib.MarkFeedRead(r.Context(), chi.URLParam(r, "feedID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

func (s *Server) handleListArticles(w http.ResponseWriter, r *http.Request) {
	filter := model.ArticleFilter{
		FeedID: r.URL.Query().Get("feed"),
		Show:   model.Show(r.URL.Query().Get("filter")),
	}
	switch filter.Show {
	case "":
		filter.Show = model.ShowAll
	case model.ShowAll, model.ShowUnread, model.ShowFavorites:
	default:
		http.Error(w, fmt.Sprintf("Unknown filter %q", filter.Show), http.StatusBadRequest)
		return
	}

	if filter.FeedID != "" {
		if _, err := s.lib.Feed(filter.FeedID); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, nonNil(s.lib.Articles(filter)))
}

func (s *Server) handleSetRead(read bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := s.lib.SetRead(r.Context(), chi.URLParam(r, "articleID"), read)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	a, err := s.lib.ToggleFavorite(r.Context(), chi.URLParam(r, "articleID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleRefresh(w http.ResponseWriter, _ *http.Request) {
	s.refresher.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleUnread(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.lib.UnreadCounts())
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "No file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read file", http.StatusBadRequest)
		return
	}

	format := strings.TrimSpace(r.FormValue("format"))
	if format == "" {
		format = subscription.FormatFromFilename(header.Filename)
	}

	added, err := s.lib.Import(r.Context(), data, format)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(added) > 0 {
		s.refresher.Trigger()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"imported": len(added),
		"feeds":    nonNil(added),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.lib.Export()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename="+subscription.ExportFileName)
	_, _ = w.Write(data)
}

func (s *Server) handleExportFile(w http.ResponseWriter, r *http.Request) {
	path, err := s.lib.ExportToFile()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": path})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.lib.ClearCache(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
