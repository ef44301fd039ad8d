package rss

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"mvdan.cc/xurls/v2"
)

// blockElements get a separating space so adjacent paragraphs don't run together.
const blockElements = "br, p, div, li, tr, h1, h2, h3, h4, h5, h6, blockquote"

// StripHTML converts description markup to plain preview text.
// On any parse failure the input is returned unchanged.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	doc.Find("script, style").Remove()
	doc.Find(blockElements).AfterHtml(" ")

	return strings.Join(strings.Fields(doc.Text()), " ")
}

// ValidURL reports whether raw is an absolute URL with a scheme and host.
func ValidURL(raw string) bool {
	if raw == "" || strings.ContainsAny(raw, " \t\r\n") {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme != "" && u.Host != ""
}

// FindURLs extracts the distinct http(s) URLs mentioned in free text, in order.
func FindURLs(text string) []string {
	matches := xurls.Strict().FindAllString(text, -1)

	urls := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		m = strings.TrimSpace(m)
		lower := strings.ToLower(m)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			continue
		}
		if !ValidURL(m) {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		urls = append(urls, m)
	}
	return urls
}
