// Package opml handles reading and writing OPML subscription lists.
package opml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bryan-buckman/rssreader/internal/model"
	"github.com/bryan-buckman/rssreader/internal/rss"
	"github.com/google/uuid"
	"golang.org/x/net/html/charset"
)

// ErrInvalidFormat is returned when the document is not parseable XML.
var ErrInvalidFormat = errors.New("invalid OPML format")

// DocumentTitle is written into the head of exported documents.
const DocumentTitle = "RSSReader Subscriptions"

// OPML represents the root of an OPML document.
type OPML struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    Head     `xml:"head"`
	Body    Body     `xml:"body"`
}

// Head contains OPML metadata.
type Head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

// Body contains the outlines.
type Body struct {
	Outlines []Outline `xml:"outline"`
}

// Outline represents a single feed subscription.
type Outline struct {
	Type    string `xml:"type,attr,omitempty"`
	Text    string `xml:"text,attr"`
	Title   string `xml:"title,attr,omitempty"`
	XMLURL  string `xml:"xmlUrl,attr"`
	HTMLURL string `xml:"htmlUrl,attr,omitempty"`
}

// Parse reads every outline element, at any nesting depth, and returns one
// feed per distinct xmlUrl. The first outline for a URL wins; outlines with a
// missing or invalid xmlUrl are skipped.
func Parse(data []byte) ([]model.Feed, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Entity = xml.HTMLEntity

	var (
		feeds   []model.Feed
		seen    = make(map[string]struct{})
		sawRoot bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawRoot = true
		if start.Name.Local != "outline" {
			continue
		}

		feed, ok := outlineFeed(start.Attr)
		if !ok {
			continue
		}
		if _, dup := seen[feed.URL]; dup {
			continue
		}
		seen[feed.URL] = struct{}{}
		feeds = append(feeds, feed)
	}
	if !sawRoot {
		return nil, fmt.Errorf("%w: no root element", ErrInvalidFormat)
	}

	return feeds, nil
}

func outlineFeed(attrs []xml.Attr) (model.Feed, bool) {
	var text, title, xmlURL, htmlURL string
	for _, a := range attrs {
		switch strings.ToLower(a.Name.Local) {
		case "text":
			text = a.Value
		case "title":
			title = a.Value
		case "xmlurl":
			xmlURL = a.Value
		case "htmlurl":
			htmlURL = a.Value
		}
	}

	if xmlURL == "" || !rss.ValidURL(xmlURL) {
		return model.Feed{}, false
	}

	name := strings.TrimSpace(text)
	if name == "" {
		name = strings.TrimSpace(title)
	}
	if name == "" {
		name = xmlURL
	}

	htmlURL = strings.TrimSpace(htmlURL)
	if !rss.ValidURL(htmlURL) {
		htmlURL = ""
	}

	return model.Feed{
		ID:          uuid.NewString(),
		Title:       name,
		URL:         xmlURL,
		HomepageURL: htmlURL,
	}, true
}

// Export generates a UTF-8 OPML document with one rss outline per feed.
// Feeds without a title are labelled with their URL.
func Export(feeds []model.Feed) ([]byte, error) {
	doc := OPML{
		Version: "1.0",
		Head: Head{
			Title:       DocumentTitle,
			DateCreated: time.Now().UTC().Format(time.RFC1123Z),
		},
	}

	doc.Body.Outlines = make([]Outline, 0, len(feeds))
	for _, f := range feeds {
		title := f.Title
		if title == "" {
			title = f.URL
		}
		doc.Body.Outlines = append(doc.Body.Outlines, Outline{
			Type:    "rss",
			Text:    title,
			Title:   title,
			XMLURL:  f.URL,
			HTMLURL: f.HomepageURL,
		})
	}

	output, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal opml: %w", err)
	}
	return append([]byte(xml.Header), output...), nil
}
