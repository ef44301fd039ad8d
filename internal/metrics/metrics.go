// Package metrics exposes Prometheus collectors for fetch and refresh activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rssreader"

// Fetch outcomes.
const (
	FetchOK        = "ok"
	FetchNetwork   = "network_failure"
	FetchMalformed = "malformed_document"
	FetchOther     = "other"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	fetches         *prometheus.CounterVec
	fetchDuration   prometheus.Histogram
	articlesAdded   prometheus.Counter
	refreshRequests prometheus.Counter
	refreshCycles   prometheus.Counter
}

// New registers every collector on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetches_total",
			Help:      "Feed fetches by outcome.",
		}, []string{"result"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_fetch_duration_seconds",
			Help:      "Time spent fetching and parsing one feed.",
			Buckets:   prometheus.DefBuckets,
		}),
		articlesAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_added_total",
			Help:      "Articles added to the store by merges.",
		}),
		refreshRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_requests_total",
			Help:      "Whole-library refresh requests, before coalescing.",
		}),
		refreshCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_cycles_total",
			Help:      "Whole-library refresh cycles executed.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fetches,
		m.fetchDuration,
		m.articlesAdded,
		m.refreshRequests,
		m.refreshCycles,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveFetch(result string, seconds float64) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
	m.fetchDuration.Observe(seconds)
}

func (m *Metrics) AddArticles(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.articlesAdded.Add(float64(n))
}

func (m *Metrics) RefreshRequested() {
	if m == nil {
		return
	}
	m.refreshRequests.Inc()
}

func (m *Metrics) RefreshExecuted() {
	if m == nil {
		return
	}
	m.refreshCycles.Inc()
}
