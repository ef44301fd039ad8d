// Package subscription imports and exports feed lists as OPML or JSON.
package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bryan-buckman/rssreader/internal/model"
	"github.com/bryan-buckman/rssreader/internal/opml"
	"github.com/bryan-buckman/rssreader/internal/rss"
	"github.com/google/uuid"
)

var (
	// ErrUnrecognizedFormat is returned when data is neither OPML nor a JSON feed list.
	ErrUnrecognizedFormat = errors.New("unrecognized subscription format")
	// ErrEmptySelection is returned when there is nothing to export.
	ErrEmptySelection = errors.New("no feeds to export")
)

// ExportFileName is the fixed name of the exported document.
const ExportFileName = "feed.opml"

// Format hints accepted by Decode.
const (
	FormatOPML = "opml"
	FormatJSON = "json"
)

// FormatFromFilename derives a format hint from a file extension.
func FormatFromFilename(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// Export serializes every feed that has a feed URL to an OPML document.
func Export(feeds []model.Feed) ([]byte, error) {
	exportable := make([]model.Feed, 0, len(feeds))
	for _, f := range feeds {
		if strings.TrimSpace(f.URL) != "" {
			exportable = append(exportable, f)
		}
	}
	if len(exportable) == 0 {
		return nil, ErrEmptySelection
	}

	return opml.Export(exportable)
}

// WriteExport exports feeds into dir under ExportFileName, replacing any
// previous export, and returns the file path.
func WriteExport(dir string, feeds []model.Feed) (string, error) {
	data, err := Export(feeds)
	if err != nil {
		return "", err
	}

	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "feed-*.opml.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close export: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", fmt.Errorf("chmod export: %w", err)
	}

	path := filepath.Join(dir, ExportFileName)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("replace export: %w", err)
	}
	return path, nil
}

// Decode parses a feed list. The hint picks the first decoder to try: "opml"
// and "xml" start with OPML, anything else with JSON; the other decoder is
// the fallback.
func Decode(data []byte, hint string) ([]model.Feed, error) {
	decoders := []func([]byte) ([]model.Feed, error){decodeJSON, opml.Parse}
	switch strings.ToLower(strings.TrimPrefix(hint, ".")) {
	case FormatOPML, "xml":
		decoders = []func([]byte) ([]model.Feed, error){opml.Parse, decodeJSON}
	}

	var errs []error
	for _, decode := range decoders {
		feeds, err := decode(data)
		if err == nil {
			return feeds, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("%w: %w", ErrUnrecognizedFormat, errors.Join(errs...))
}

// decodeJSON reads a JSON array of feed records. Records without a valid
// feed URL and repeated URLs are skipped.
func decodeJSON(data []byte) ([]model.Feed, error) {
	var records []model.Feed
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode json feeds: %w", err)
	}

	feeds := make([]model.Feed, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, f := range records {
		f.URL = strings.TrimSpace(f.URL)
		if !rss.ValidURL(f.URL) {
			continue
		}
		if _, dup := seen[f.URL]; dup {
			continue
		}
		seen[f.URL] = struct{}{}

		if _, err := uuid.Parse(f.ID); err != nil {
			f.ID = uuid.NewString()
		}
		if !rss.ValidURL(f.HomepageURL) {
			f.HomepageURL = ""
		}
		feeds = append(feeds, f)
	}
	return feeds, nil
}

// MergeFeeds appends the imported feeds whose URL is not already subscribed.
// It returns the merged list and the feeds that were added.
func MergeFeeds(existing, imported []model.Feed) ([]model.Feed, []model.Feed) {
	urls := make(map[string]struct{}, len(existing)+len(imported))
	ids := make(map[string]struct{}, len(existing)+len(imported))
	for _, f := range existing {
		urls[f.URL] = struct{}{}
		ids[f.ID] = struct{}{}
	}

	merged := make([]model.Feed, len(existing), len(existing)+len(imported))
	copy(merged, existing)

	var added []model.Feed
	for _, f := range imported {
		if _, ok := urls[f.URL]; ok {
			continue
		}
		if _, clash := ids[f.ID]; clash || f.ID == "" {
			f.ID = uuid.NewString()
		}
		urls[f.URL] = struct{}{}
		ids[f.ID] = struct{}{}
		merged = append(merged, f)
		added = append(added, f)
	}
	return merged, added
}
