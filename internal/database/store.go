// Package database provides storage backends for the RSS reader.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bryan-buckman/rssreader/internal/model"
	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// Store persists the whole library. Save replaces everything previously
// stored; a failed Save leaves the previous state intact.
// SQLite, PostgreSQL and JSON file implementations satisfy this interface.
type Store interface {
	Load(ctx context.Context) (model.Library, error)
	Save(ctx context.Context, lib model.Library) error

	// DatabaseType returns the name of the backend ("SQLite", "PostgreSQL" or "JSON").
	DatabaseType() string

	Close() error
}

//go:embed migrations
var migrationsFS embed.FS

// runMigrations applies the embedded migrations under dir to an open database.
func runMigrations(ctx context.Context, log *slog.Logger, dir, driverName string, driver migratedb.Driver) error {
	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("create source instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, driverName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	migrateErr := m.Up()

	fields := []any{"driver", driverName}
	version, dirty, versionErr := m.Version()
	if versionErr == nil {
		fields = append(fields, "version", version, "dirty", dirty)
	} else if !errors.Is(versionErr, migrate.ErrNilVersion) {
		log.WarnContext(ctx, "Failed to fetch migration version",
			"error", versionErr,
			"driver", driverName)
	}

	if migrateErr != nil {
		if !errors.Is(migrateErr, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", migrateErr)
		}
		log.InfoContext(ctx, "No migrations to apply", fields...)
		return nil
	}

	log.InfoContext(ctx, "DB is migrated", fields...)
	return nil
}

// loadLibrary reads feeds and articles in their stored order.
func loadLibrary(ctx context.Context, conn *sql.DB) (model.Library, error) {
	var lib model.Library

	rows, err := conn.QueryContext(ctx,
		"SELECT id, title, url, homepage_url FROM feeds ORDER BY position")
	if err != nil {
		return lib, fmt.Errorf("query feeds: %w", err)
	}
	for rows.Next() {
		var f model.Feed
		if err := rows.Scan(&f.ID, &f.Title, &f.URL, &f.HomepageURL); err != nil {
			rows.Close()
			return lib, fmt.Errorf("scan feed: %w", err)
		}
		lib.Feeds = append(lib.Feeds, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return lib, fmt.Errorf("iterate feeds: %w", err)
	}

	rows, err = conn.QueryContext(ctx, `
		SELECT id, feed_id, title, summary, content, link, published_at, is_read, is_favorite
		FROM articles ORDER BY position`)
	if err != nil {
		return lib, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var a model.Article
		var publishedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.FeedID, &a.Title, &a.Summary, &a.Content, &a.Link,
			&publishedAt, &a.IsRead, &a.IsFavorite); err != nil {
			return lib, fmt.Errorf("scan article: %w", err)
		}
		if publishedAt.Valid {
			a.PublishedAt = publishedAt.Time
		}
		lib.Articles = append(lib.Articles, a)
	}
	if err := rows.Err(); err != nil {
		return lib, fmt.Errorf("iterate articles: %w", err)
	}
	return lib, nil
}

// saveLibrary replaces all stored rows inside one transaction. The insert
// statements take their arguments in column order with position last.
func saveLibrary(ctx context.Context, conn *sql.DB, insertFeed, insertArticle string, lib model.Library) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "DELETE FROM articles"); err != nil {
		return fmt.Errorf("clear articles: %w", err)
	}
	if _, err = tx.ExecContext(ctx, "DELETE FROM feeds"); err != nil {
		return fmt.Errorf("clear feeds: %w", err)
	}

	feedStmt, err := tx.PrepareContext(ctx, insertFeed)
	if err != nil {
		return fmt.Errorf("prepare feed insert: %w", err)
	}
	defer feedStmt.Close()
	for i, f := range lib.Feeds {
		if _, err = feedStmt.ExecContext(ctx, f.ID, f.Title, f.URL, f.HomepageURL, i); err != nil {
			return fmt.Errorf("insert feed %s: %w", f.ID, err)
		}
	}

	articleStmt, err := tx.PrepareContext(ctx, insertArticle)
	if err != nil {
		return fmt.Errorf("prepare article insert: %w", err)
	}
	defer articleStmt.Close()
	for i, a := range lib.Articles {
		if _, err = articleStmt.ExecContext(ctx, a.ID, a.FeedID, a.Title, a.Summary, a.Content, a.Link,
			a.PublishedAt.UTC(), a.IsRead, a.IsFavorite, i); err != nil {
			return fmt.Errorf("insert article %s: %w", a.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverJSON     = "json"
)

// Options selects and locates a backend for Open.
type Options struct {
	Driver      string
	SQLitePath  string
	PostgresURL string
	DataDir     string
}

// Open creates the store named by opts.Driver.
func Open(ctx context.Context, opts Options, log *slog.Logger) (Store, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		return New(ctx, opts.SQLitePath, log)
	case DriverPostgres:
		return NewPostgres(ctx, opts.PostgresURL, log)
	case DriverJSON:
		return NewFileStore(opts.DataDir)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
