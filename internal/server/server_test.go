package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bryan-buckman/rssreader/internal/database"
	"github.com/bryan-buckman/rssreader/internal/event"
	"github.com/bryan-buckman/rssreader/internal/library"
	"github.com/bryan-buckman/rssreader/internal/metrics"
	"github.com/bryan-buckman/rssreader/internal/model"
	"github.com/bryan-buckman/rssreader/internal/rss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const blogFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Blog</title>
    <link>https://blog.example</link>
    <item>
      <title>First</title>
      <link>https://blog.example/1</link>
      <description>&lt;p&gt;Hello &lt;b&gt;world&lt;/b&gt;&lt;/p&gt;</description>
      <pubDate>Tue, 01 Jan 2024 10:00:00 +0000</pubDate>
    </item>
    <item>
      <title>Second</title>
      <link>https://blog.example/2</link>
      <description>Plain</description>
      <pubDate>Wed, 02 Jan 2024 10:00:00 +0000</pubDate>
    </item>
  </channel>
</rss>`

type countingRefresher struct {
	n atomic.Int32
}

func (c *countingRefresher) Trigger() { c.n.Add(1) }

type testEnv struct {
	api       *httptest.Server
	origin    *httptest.Server
	refresher *countingRefresher
	lib       *library.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("/blog.xml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(blogFeed))
	})
	mux.HandleFunc("/down.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	origin := httptest.NewServer(mux)
	t.Cleanup(origin.Close)

	store, err := database.NewFileStore(t.TempDir())
	require.NoError(t, err)

	m := metrics.New()
	bus := event.NewBus()
	fetcher := rss.NewFetcher(rss.FetcherConfig{HostInterval: -1}, rss.NewParser(), m, log)
	lib := library.New(context.Background(), store, fetcher, bus, m, log, library.Options{ExportDir: t.TempDir()})

	refresher := &countingRefresher{}
	srv := New(lib, refresher, bus, m, log)
	api := httptest.NewServer(srv.Handler())
	t.Cleanup(api.Close)

	return &testEnv{api: api, origin: origin, refresher: refresher, lib: lib}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.api.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) subscribe(t *testing.T) model.Feed {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/feeds", map[string]string{"url": e.origin.URL + "/blog.xml"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[model.Feed](t, resp)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	env.subscribe(t)
	resp = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "rssreader_feed_fetches_total")
}

func TestSubscribeAndList(t *testing.T) {
	env := newTestEnv(t)
	feed := env.subscribe(t)
	assert.Equal(t, "Example Blog", feed.Title)
	assert.Equal(t, "https://blog.example", feed.HomepageURL)

	resp := env.do(t, http.MethodGet, "/api/feeds", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	feeds := decode[[]feedView](t, resp)
	require.Len(t, feeds, 1)
	assert.Equal(t, 2, feeds[0].Unread)

	resp = env.do(t, http.MethodGet, "/api/articles?feed="+feed.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	articles := decode[[]model.Article](t, resp)
	require.Len(t, articles, 2)
	assert.Equal(t, "Second", articles[0].Title, "newest first")
	assert.Equal(t, "Hello world", articles[1].Summary)

	resp = env.do(t, http.MethodPost, "/api/feeds", map[string]string{"url": env.origin.URL + "/blog.xml"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/feeds", map[string]string{"url": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubscribeFromText(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/api/feeds", map[string]string{
		"text": "Subscribe to " + env.origin.URL + "/blog.xml please",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode[struct {
		Feeds []model.Feed `json:"feeds"`
	}](t, resp)
	require.Len(t, body.Feeds, 1)
	assert.Equal(t, "Example Blog", body.Feeds[0].Title)
}

func TestArticleStateEndpoints(t *testing.T) {
	env := newTestEnv(t)
	feed := env.subscribe(t)
	articles := env.lib.Articles(model.ArticleFilter{FeedID: feed.ID})
	require.Len(t, articles, 2)
	id := articles[0].ID

	resp := env.do(t, http.MethodPost, "/api/articles/"+id+"/read", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[model.Article](t, resp).IsRead)

	resp = env.do(t, http.MethodPost, "/api/articles/"+id+"/favorite", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[model.Article](t, resp).IsFavorite)

	resp = env.do(t, http.MethodGet, "/api/unread", nil)
	assert.Equal(t, map[string]int{feed.ID: 1}, decode[map[string]int](t, resp))

	resp = env.do(t, http.MethodGet, "/api/articles?filter=favorites", nil)
	assert.Len(t, decode[[]model.Article](t, resp), 1)

	resp = env.do(t, http.MethodPost, "/api/articles/"+id+"/unread", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[model.Article](t, resp).IsRead)

	resp = env.do(t, http.MethodPost, "/api/feeds/"+feed.ID+"/read", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int{"marked": 2}, decode[map[string]int](t, resp))

	resp = env.do(t, http.MethodPost, "/api/articles/missing/read", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/articles?filter=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateRefreshAndDeleteFeed(t *testing.T) {
	env := newTestEnv(t)
	feed := env.subscribe(t)

	resp := env.do(t, http.MethodPut, "/api/feeds/"+feed.ID, map[string]string{
		"title": "Renamed",
		"url":   feed.URL,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Renamed", decode[model.Feed](t, resp).Title)

	resp = env.do(t, http.MethodPost, "/api/feeds/"+feed.ID+"/refresh", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]model.Article](t, resp), 2, "refetch adds no duplicates")

	resp = env.do(t, http.MethodPut, "/api/feeds/"+feed.ID, map[string]string{
		"url": env.origin.URL + "/down.xml",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/api/feeds/"+feed.ID+"/refresh", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/feeds/"+feed.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = env.do(t, http.MethodDelete, "/api/feeds/"+feed.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, env.lib.Articles(model.ArticleFilter{}))
}

func TestRefreshIsScheduled(t *testing.T) {
	env := newTestEnv(t)

	for range 3 {
		resp := env.do(t, http.MethodPost, "/api/refresh", nil)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	assert.Equal(t, int32(3), env.refresher.n.Load())
}

func TestExportAndImport(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/export", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	env.subscribe(t)
	resp = env.do(t, http.MethodGet, "/api/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "feed.opml")
	doc, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	resp = env.do(t, http.MethodPost, "/api/export/file", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasSuffix(decode[map[string]string](t, resp)["path"], "feed.opml"))

	other := newTestEnv(t)
	resp = other.upload(t, "subs.opml", doc, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), decode[map[string]any](t, resp)["imported"])
	assert.Equal(t, int32(1), other.refresher.n.Load(), "import schedules a refresh")

	resp = other.upload(t, "subs.txt", []byte("hello"), "json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func (e *testEnv) upload(t *testing.T, filename string, data []byte, format string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if format != "" {
		require.NoError(t, mw.WriteField("format", format))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(e.api.URL+"/api/import", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestClearCache(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(t)

	resp := env.do(t, http.MethodPost, "/api/cache/clear", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, env.lib.Articles(model.ArticleFilter{}))
	assert.Len(t, env.lib.Feeds(), 1)
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)
	env.subscribe(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.api.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": connected\n", line)

	require.NoError(t, env.lib.ClearCache(context.Background()))

	var lines []string
	for len(lines) < 2 {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	assert.Equal(t, "event: cache_cleared", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "data: {"))
	assert.Contains(t, lines[1], `"allFeeds":true`)
}
