package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/bryan-buckman/rssreader/internal/model"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

const (
	sqliteInsertFeed = `INSERT INTO feeds (id, title, url, homepage_url, position)
		VALUES (?, ?, ?, ?, ?)`
	sqliteInsertArticle = `INSERT INTO articles
		(id, feed_id, title, summary, content, link, published_at, is_read, is_favorite, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// New opens or creates an SQLite database at the given path and migrates it.
func New(ctx context.Context, path string, log *slog.Logger) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; WAL lets readers proceed meanwhile.
	conn.SetMaxOpenConns(1)
	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	driver, err := sqlite.WithInstance(conn, &sqlite.Config{})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create DB instance: %w", err)
	}
	if err := runMigrations(ctx, log.With("dbPath", path), "migrations/sqlite", "sqlite", driver); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

// Load reads the stored library.
func (db *DB) Load(ctx context.Context) (model.Library, error) {
	return loadLibrary(ctx, db.conn)
}

// Save replaces the stored library.
func (db *DB) Save(ctx context.Context, lib model.Library) error {
	return saveLibrary(ctx, db.conn, sqliteInsertFeed, sqliteInsertArticle, lib)
}
