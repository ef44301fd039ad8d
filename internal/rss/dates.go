package rss

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// dateLayouts are tried in order; the first match wins.
var dateLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	"Mon, 2 Jan 2006 15:04 -0700",
	"Mon, 2 Jan 2006 15:04 MST",
	time.RFC3339,
}

// namedZones maps the zone abbreviations seen in feeds to their offsets.
// time.Parse only knows the offset of the local zone abbreviation.
var namedZones = map[string]int{
	"WET":  0,
	"WEST": 1 * 3600,
	"BST":  1 * 3600,
	"CET":  1 * 3600,
	"CEST": 2 * 3600,
	"MET":  1 * 3600,
	"MEST": 2 * 3600,
	"EET":  2 * 3600,
	"EEST": 3 * 3600,
	"MSK":  3 * 3600,
	"IST":  5*3600 + 1800,
	"JST":  9 * 3600,
	"KST":  9 * 3600,
	"AEST": 10 * 3600,
	"AEDT": 11 * 3600,
	"NZST": 12 * 3600,
	"NZDT": 13 * 3600,
	"AST":  -4 * 3600,
	"ADT":  -3 * 3600,
	"EST":  -5 * 3600,
	"EDT":  -4 * 3600,
	"CST":  -6 * 3600,
	"CDT":  -5 * 3600,
	"MST":  -7 * 3600,
	"MDT":  -6 * 3600,
	"PST":  -8 * 3600,
	"PDT":  -7 * 3600,
	"AKST": -9 * 3600,
	"AKDT": -8 * 3600,
	"HST":  -10 * 3600,
}

// minYear rejects fuzzy matches such as "1/1" that leave the year unset.
const minYear = 1970

// ParseDate parses an RSS pubDate. It never fails: when no layout matches,
// the result of now is returned.
func ParseDate(s string, now func() time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return now()
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return fixNamedZone(t)
		}
	}

	if t, err := dateparse.ParseAny(s); err == nil && t.Year() >= minYear {
		return t
	}

	return now()
}

func fixNamedZone(t time.Time) time.Time {
	name, offset := t.Zone()
	if offset != 0 {
		return t
	}
	known, ok := namedZones[name]
	if !ok {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(),
		t.Nanosecond(), time.FixedZone(name, known))
}
