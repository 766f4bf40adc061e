// Package metrics declares the Prometheus instruments exposed on the
// /metrics endpoint. promauto registers them with the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LinksCreated counts newly persisted short links. Deduplicated
	// creations that return an existing record do not count.
	LinksCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shortloop_links_created_total",
			Help: "Total number of short links created",
		},
	)

	// Redirects counts resolution attempts by outcome:
	// ok, not_found, gone, password_required, auth_failed, error.
	Redirects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shortloop_redirects_total",
			Help: "Total number of redirect resolutions by outcome",
		},
		[]string{"outcome"},
	)

	// ClicksRecorded counts successful click writes (counter increment
	// plus event append when analytics is enabled).
	ClicksRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shortloop_clicks_recorded_total",
			Help: "Total number of clicks recorded",
		},
	)

	// ClickEventsConsumed counts events drained from the click feed.
	ClickEventsConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shortloop_click_events_consumed_total",
			Help: "Total number of click events consumed from the stream",
		},
	)

	// CacheHits / CacheMisses track the link record cache.
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shortloop_link_cache_hits_total",
			Help: "Total number of link cache hits",
		},
	)
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shortloop_link_cache_misses_total",
			Help: "Total number of link cache misses",
		},
	)

	// RateLimited counts requests rejected by the rate limiter.
	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shortloop_rate_limited_requests_total",
			Help: "Total number of rate-limited requests",
		},
	)
)
