package database

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bryan-buckman/rssreader/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleLibrary() model.Library {
	published := time.Date(2025, 4, 14, 8, 30, 0, 0, time.UTC)
	return model.Library{
		Feeds: []model.Feed{
			{ID: "f2", Title: "Second", URL: "https://two.example/rss"},
			{ID: "f1", Title: "First", URL: "https://one.example/rss", HomepageURL: "https://one.example"},
		},
		Articles: []model.Article{
			{ID: "a1", FeedID: "f1", Title: "Hello", Summary: "Hi", Content: "<p>Hi</p>",
				Link: "https://one.example/1", PublishedAt: published, IsFavorite: true},
			{ID: "a2", FeedID: "f2", Title: "World", Link: "https://two.example/1",
				PublishedAt: published.Add(-time.Hour), IsRead: true},
		},
	}
}

// assertRoundTrip saves a library, reloads it, then saves a smaller one to
// check that Save replaces rather than appends.
func assertRoundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	empty, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty.Feeds)
	assert.Empty(t, empty.Articles)

	want := sampleLibrary()
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Feeds, got.Feeds, "feeds keep their order")
	require.Len(t, got.Articles, len(want.Articles))
	for i := range want.Articles {
		w, g := want.Articles[i], got.Articles[i]
		assert.True(t, w.PublishedAt.Equal(g.PublishedAt), "article %s date", w.ID)
		g.PublishedAt = w.PublishedAt
		assert.Equal(t, w, g)
	}

	smaller := model.Library{Feeds: want.Feeds[:1]}
	require.NoError(t, s.Save(ctx, smaller))
	got, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, smaller.Feeds, got.Feeds)
	assert.Empty(t, got.Articles)
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := New(context.Background(), path, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	assert.Equal(t, "SQLite", db.DatabaseType())
	assertRoundTrip(t, db)
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := New(ctx, path, testLogger())
	require.NoError(t, err)
	require.NoError(t, db.Save(ctx, sampleLibrary()))
	require.NoError(t, db.Close())

	db, err = New(ctx, path, testLogger())
	require.NoError(t, err)
	defer db.Close()

	lib, err := db.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, lib.Feeds, 2)
	assert.Len(t, lib.Articles, 2)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	assert.Equal(t, "JSON", s.DatabaseType())
	assertRoundTrip(t, s)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{ArticlesFile, FeedsFile}, names)
}

func TestFileStoreCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FeedsFile), []byte("{not json"), 0o644))

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	_, err = s.Load(context.Background())
	assert.Error(t, err)
}

func TestPostgresStore(t *testing.T) {
	url := os.Getenv("RSSREADER_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("RSSREADER_TEST_DATABASE_URL not set")
	}

	db, err := NewPostgres(context.Background(), url, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// Start clean in case a previous run left rows behind.
	require.NoError(t, db.Save(context.Background(), model.Library{}))
	assert.Equal(t, "PostgreSQL", db.DatabaseType())
	assertRoundTrip(t, db)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "mongo"}, testLogger())
	assert.ErrorContains(t, err, "unknown store driver")
}

func TestOpenJSON(t *testing.T) {
	s, err := Open(context.Background(), Options{Driver: DriverJSON, DataDir: t.TempDir()}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "JSON", s.DatabaseType())
}
