package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "showcase_active_sessions",
		Help: "Number of live showcase sessions",
	})
)

// Counters
var (
	BlobFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "showcase_blob_fetches_total",
		Help: "Origin fetches performed by the blob cache by outcome",
	}, []string{"outcome"})
	BlobCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "showcase_blob_cache_hits_total",
		Help: "Loads answered from an existing cache entry",
	})
	BlobInflightJoins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "showcase_blob_inflight_joins_total",
		Help: "Loads that shared an in-flight fetch",
	})
	WarmupAssetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "showcase_warmup_assets_total",
		Help: "Assets processed by the warm-up sequencer by outcome",
	}, []string{"outcome"})
	TransitionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "showcase_transitions_total",
		Help: "Committed ring transitions",
	})
	CoalescedRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "showcase_coalesced_requests_total",
		Help: "Navigation requests folded into the pending target",
	})
	PlayRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "showcase_play_retries_total",
		Help: "Playback retries after a rejection by outcome",
	}, []string{"outcome"})
	AssetRefreshesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "showcase_asset_refreshes_total",
		Help: "Asset list reloads by result",
	}, []string{"result"})
)

// Histograms
var (
	ReadinessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "showcase_readiness_duration_ms",
		Help:    "Time from session start to the loading gate opening, by reason",
		Buckets: []float64{500, 1000, 2000, 3000, 4000, 5000, 6000, 8000, 10000},
	}, []string{"reason"})
)
