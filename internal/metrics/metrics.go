package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Page metrics
	PageRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_page_requests_total",
			Help: "Total number of multichain token page requests",
		},
		[]string{"status"},
	)

	PageDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aggregator_page_duration_seconds",
		Help:    "Multichain token page build duration in seconds",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	PageBatches = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aggregator_page_batches",
		Help:    "Number of source batches fetched to fill one page",
		Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
	})

	PageGroups = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aggregator_page_groups",
		Help:    "Number of multichain tokens returned per page",
		Buckets: []float64{0, 1, 10, 50, 100, 250, 500},
	})

	DiscardedTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_discarded_tokens_total",
		Help: "Total number of single-chain tokens discarded during grouping",
	})

	// Bloom filter metrics
	BloomFillRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aggregator_bloom_fill_ratio",
		Help:    "Fraction of set bits in the cursor bloom filter when a cursor is issued",
		Buckets: []float64{0.01, 0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.7, 0.9},
	})

	CursorBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "aggregator_cursor_bytes",
		Help:    "Encoded cursor length in bytes",
		Buckets: prometheus.ExponentialBuckets(64, 2, 10),
	})

	// Source metrics
	SourceRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_source_requests_total",
			Help: "Total number of indexer requests",
		},
		[]string{"chain_id", "status"},
	)

	SourceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aggregator_source_duration_seconds",
			Help:    "Indexer request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain_id"},
	)

	SourceCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_source_cache_hits_total",
		Help: "Total number of token source cache hits",
	})

	SourceCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_source_cache_misses_total",
		Help: "Total number of token source cache misses",
	})

	SourceCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aggregator_source_cache_size",
		Help: "Current number of entries in the token source cache",
	})

	// Override metrics
	OverrideCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aggregator_override_count",
		Help: "Number of entries in the active override table",
	})

	OverrideUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_override_updates_total",
		Help: "Total number of override table updates",
	})

	// Pool metrics
	PoolNormalizeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_pool_normalize_errors_total",
			Help: "Total number of pools rejected during normalization",
		},
		[]string{"chain_id"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aggregator_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aggregator_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_http_rate_limited_total",
		Help: "Total number of requests rejected by the rate limiter",
	})
)
