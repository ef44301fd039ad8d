// Package rss provides feed fetching and parsing.
package rss

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bryan-buckman/rssreader/internal/model"
	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html/charset"
)

// ErrMalformedDocument is returned when a feed body is not well-formed RSS XML.
var ErrMalformedDocument = errors.New("malformed feed document")

// Recognized element names.
const (
	elemChannel     = "channel"
	elemItem        = "item"
	elemTitle       = "title"
	elemDescription = "description"
	elemLink        = "link"
	elemPubDate     = "pubDate"
)

// FeedContext carries what the parser needs to know about the feed being parsed.
type FeedContext struct {
	FeedID string
}

// Document is the result of parsing one feed body.
type Document struct {
	Title    string // channel title, empty when absent
	Homepage string // channel link, empty when absent
	Articles []model.Article
}

// Parser turns RSS 2.0 channel/item XML into articles.
type Parser struct {
	now   func() time.Time
	newID func() string
}

// NewParser creates a parser that stamps unparseable dates with the wall clock.
func NewParser() *Parser {
	return &Parser{
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// itemBuffers accumulates the character data of one item.
type itemBuffers struct {
	title       strings.Builder
	description strings.Builder
	link        strings.Builder
	pubDate     strings.Builder
}

func (b *itemBuffers) reset() {
	b.title.Reset()
	b.description.Reset()
	b.link.Reset()
	b.pubDate.Reset()
}

// frame is one open element. name is the recognized local name, or empty
// when the element lives in a foreign namespace.
type frame struct {
	name      string
	defaultNS string
}

// parserState is advanced token by token by Parse.
type parserState struct {
	stack        []frame
	inChannel    bool
	inItem       bool
	channelTitle strings.Builder
	channelLink  strings.Builder
	item         itemBuffers
}

func (s *parserState) current() (elem, parent string) {
	n := len(s.stack)
	if n > 0 {
		elem = s.stack[n-1].name
	}
	if n > 1 {
		parent = s.stack[n-2].name
	}
	return elem, parent
}

func (s *parserState) within(name string) bool {
	for _, f := range s.stack {
		if f.name == name {
			return true
		}
	}
	return false
}

// push opens an element. Only names in no namespace, or in the default
// namespace in scope, are matched against the recognized elements.
func (s *parserState) push(t xml.StartElement) string {
	var ns string
	if n := len(s.stack); n > 0 {
		ns = s.stack[n-1].defaultNS
	}
	for _, a := range t.Attr {
		if a.Name.Space == "" && a.Name.Local == "xmlns" {
			ns = a.Value
		}
	}

	var name string
	if t.Name.Space == "" || t.Name.Space == ns {
		name = t.Name.Local
	}
	s.stack = append(s.stack, frame{name: name, defaultNS: ns})
	return name
}

func (s *parserState) pop() string {
	n := len(s.stack)
	if n == 0 {
		return ""
	}
	name := s.stack[n-1].name
	s.stack = s.stack[:n-1]
	return name
}

// Parse decodes a feed body. Items with an invalid link are dropped silently;
// only a document-level failure is returned as an error.
func (p *Parser) Parse(data []byte, fc FeedContext) (Document, error) {
	switch gofeed.DetectFeedType(bytes.NewReader(data)) {
	case gofeed.FeedTypeAtom, gofeed.FeedTypeJSON:
		return Document{}, fmt.Errorf("%w: not an RSS document", ErrMalformedDocument)
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Entity = xml.HTMLEntity

	var (
		doc     Document
		st      parserState
		sawRoot bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Document{}, fmt.Errorf("%w: %w", ErrMalformedDocument, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			sawRoot = true
			switch st.push(t) {
			case elemChannel:
				st.inChannel = true
				st.channelTitle.Reset()
				st.channelLink.Reset()
			case elemItem:
				// Item fields never count as channel metadata even though
				// items are nested inside the channel.
				st.inItem = true
				st.inChannel = false
				st.item.reset()
			}
		case xml.CharData:
			st.appendText(t)
		case xml.EndElement:
			switch st.pop() {
			case elemItem:
				if a, ok := p.finishItem(&st.item, fc); ok {
					doc.Articles = append(doc.Articles, a)
				}
				st.inItem = false
				st.inChannel = st.within(elemChannel)
			case elemChannel:
				st.inChannel = false
				doc.Title = strings.TrimSpace(st.channelTitle.String())
				doc.Homepage = strings.TrimSpace(st.channelLink.String())
			}
		}
	}
	if !sawRoot {
		return Document{}, fmt.Errorf("%w: empty document", ErrMalformedDocument)
	}

	return doc, nil
}

// appendText routes character data to the buffer of the enclosing field.
// Fields only count when they are direct children of the item or channel.
func (s *parserState) appendText(text []byte) {
	elem, parent := s.current()
	switch {
	case s.inItem && parent == elemItem:
		switch elem {
		case elemTitle:
			s.item.title.Write(text)
		case elemDescription:
			s.item.description.Write(text)
		case elemLink:
			s.item.link.Write(text)
		case elemPubDate:
			s.item.pubDate.Write(text)
		}
	case s.inChannel && parent == elemChannel:
		switch elem {
		case elemTitle:
			s.channelTitle.Write(text)
		case elemLink:
			s.channelLink.Write(text)
		}
	}
}

func (p *Parser) finishItem(b *itemBuffers, fc FeedContext) (model.Article, bool) {
	link := strings.TrimSpace(b.link.String())
	if !ValidURL(link) {
		return model.Article{}, false
	}

	description := strings.TrimSpace(b.description.String())

	return model.Article{
		ID:          p.newID(),
		FeedID:      fc.FeedID,
		Title:       strings.TrimSpace(b.title.String()),
		Summary:     StripHTML(description),
		Content:     description,
		Link:        link,
		PublishedAt: ParseDate(b.pubDate.String(), p.now),
	}, true
}
