package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bryan-buckman/rssreader/internal/model"
)

// File names used by FileStore inside its directory.
const (
	FeedsFile    = "feeds.json"
	ArticlesFile = "articles.json"
)

// FileStore keeps the library as two JSON documents in a directory.
type FileStore struct {
	dir string
}

// Ensure FileStore implements Store interface.
var _ Store = (*FileStore)(nil)

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) DatabaseType() string { return "JSON" }

// Load reads both documents. A missing document is treated as empty.
func (s *FileStore) Load(ctx context.Context) (model.Library, error) {
	var lib model.Library
	if err := s.read(FeedsFile, &lib.Feeds); err != nil {
		return model.Library{}, err
	}
	if err := s.read(ArticlesFile, &lib.Articles); err != nil {
		return model.Library{}, err
	}
	return lib, ctx.Err()
}

// Save writes both documents, articles first. Each is replaced atomically.
func (s *FileStore) Save(ctx context.Context, lib model.Library) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.write(ArticlesFile, nonNil(lib.Articles)); err != nil {
		return err
	}
	return s.write(FeedsFile, nonNil(lib.Feeds))
}

func (s *FileStore) read(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) write(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
