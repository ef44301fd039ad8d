package rss

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bryan-buckman/rssreader/internal/metrics"
	"github.com/bryan-buckman/rssreader/internal/model"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrNetworkFailure wraps transport and HTTP status errors during a fetch.
var ErrNetworkFailure = errors.New("network failure")

// Fetcher defaults.
const (
	DefaultTimeout      = 20 * time.Second
	DefaultMaxBodyBytes = 10 << 20
	DefaultUserAgent    = "rssreader/1.0"
	// DefaultHostInterval is the minimum delay between requests to the same host.
	DefaultHostInterval = 500 * time.Millisecond
)

const acceptHeader = "application/rss+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5"

// hostLimiter paces requests per host to avoid overwhelming a single site.
type hostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

func newHostLimiter(interval time.Duration) *hostLimiter {
	return &hostLimiter{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
}

// wait blocks until a request to the host of feedURL is allowed.
func (hl *hostLimiter) wait(ctx context.Context, feedURL string) error {
	if hl.interval <= 0 {
		return nil
	}

	host := feedURL // fallback to full URL
	if u, err := url.Parse(feedURL); err == nil && u.Host != "" {
		host = u.Host
	}

	hl.mu.Lock()
	lim, ok := hl.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(hl.interval), 1)
		hl.limiters[host] = lim
	}
	hl.mu.Unlock()

	return lim.Wait(ctx)
}

// FetcherConfig tunes a Fetcher. Zero values select the defaults; a negative
// HostInterval disables per-host pacing.
type FetcherConfig struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string
	HostInterval time.Duration
	// Concurrency above 1 fetches feeds in parallel during FetchAll.
	Concurrency int
}

// Fetcher issues one GET per feed and parses the response.
type Fetcher struct {
	client       *http.Client
	parser       *Parser
	limiter      *hostLimiter
	maxBodyBytes int64
	userAgent    string
	concurrency  int
	metrics      *metrics.Metrics
	log          *slog.Logger
}

// NewFetcher creates a fetcher. m may be nil.
func NewFetcher(cfg FetcherConfig, parser *Parser, m *metrics.Metrics, log *slog.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	switch {
	case cfg.HostInterval == 0:
		cfg.HostInterval = DefaultHostInterval
	case cfg.HostInterval < 0:
		cfg.HostInterval = 0 // pacing disabled
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if parser == nil {
		parser = NewParser()
	}

	return &Fetcher{
		client:       &http.Client{Timeout: cfg.Timeout},
		parser:       parser,
		limiter:      newHostLimiter(cfg.HostInterval),
		maxBodyBytes: cfg.MaxBodyBytes,
		userAgent:    cfg.UserAgent,
		concurrency:  cfg.Concurrency,
		metrics:      m,
		log:          log,
	}
}

// FetchFeed downloads and parses a single feed. Errors wrap ErrNetworkFailure
// or ErrMalformedDocument.
func (f *Fetcher) FetchFeed(ctx context.Context, feed model.Feed) (Document, error) {
	start := time.Now()

	doc, err := f.fetch(ctx, feed)

	result := metrics.FetchOK
	switch {
	case errors.Is(err, ErrNetworkFailure):
		result = metrics.FetchNetwork
	case errors.Is(err, ErrMalformedDocument):
		result = metrics.FetchMalformed
	case err != nil:
		result = metrics.FetchOther
	}
	f.metrics.ObserveFetch(result, time.Since(start).Seconds())

	return doc, err
}

func (f *Fetcher) fetch(ctx context.Context, feed model.Feed) (Document, error) {
	if err := f.limiter.wait(ctx, feed.URL); err != nil {
		return Document{}, fmt.Errorf("wait for host slot %s: %w", feed.URL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return Document{}, fmt.Errorf("%w: build request %s: %w", ErrNetworkFailure, feed.URL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := f.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("%w: get %s: %w", ErrNetworkFailure, feed.URL, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			f.log.WarnContext(ctx, "Failed to close response body",
				"error", err,
				"feedURL", feed.URL)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Document{}, fmt.Errorf("%w: get %s: unexpected status %d", ErrNetworkFailure, feed.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		return Document{}, fmt.Errorf("%w: read %s: %w", ErrNetworkFailure, feed.URL, err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return Document{}, fmt.Errorf("%w: read %s: body exceeds %d bytes", ErrNetworkFailure, feed.URL, f.maxBodyBytes)
	}

	doc, err := f.parser.Parse(body, FeedContext{FeedID: feed.ID})
	if err != nil {
		return Document{}, fmt.Errorf("parse feed %s: %w", feed.URL, err)
	}

	return doc, nil
}

// Result holds the outcome of fetching a single feed.
type Result struct {
	Feed     model.Feed
	Document Document
	Err      error
}

// FetchAll fetches every feed and hands each result to handle. handle is
// never called concurrently, so it may write to the shared store. With a
// concurrency of 1 each feed's handle call completes before the next fetch
// starts. One feed's failure never stops the others; only cancellation of
// ctx ends the batch early.
func (f *Fetcher) FetchAll(ctx context.Context, feeds []model.Feed, handle func(Result)) error {
	if len(feeds) == 0 {
		return nil
	}

	f.log.InfoContext(ctx, "Fetching feeds",
		"feedCount", len(feeds),
		"concurrency", f.concurrency)

	if f.concurrency <= 1 {
		return f.fetchSequential(ctx, feeds, handle)
	}
	return f.fetchParallel(ctx, feeds, handle)
}

func (f *Fetcher) fetchSequential(ctx context.Context, feeds []model.Feed, handle func(Result)) error {
	for i, feed := range feeds {
		if err := ctx.Err(); err != nil {
			f.log.WarnContext(ctx, "Fetch cancelled",
				"fetched", i,
				"feedCount", len(feeds))
			return err
		}

		doc, err := f.FetchFeed(ctx, feed)
		handle(Result{Feed: feed, Document: doc, Err: err})
	}
	return nil
}

func (f *Fetcher) fetchParallel(ctx context.Context, feeds []model.Feed, handle func(Result)) error {
	results := make(chan Result)

	go func() {
		var g errgroup.Group
		g.SetLimit(f.concurrency)
		for _, feed := range feeds {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				doc, err := f.FetchFeed(ctx, feed)
				results <- Result{Feed: feed, Document: doc, Err: err}
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	completed := 0
	for r := range results {
		handle(r)
		completed++
	}

	if err := ctx.Err(); err != nil {
		f.log.WarnContext(ctx, "Fetch cancelled",
			"fetched", completed,
			"feedCount", len(feeds))
		return err
	}
	return nil
}
