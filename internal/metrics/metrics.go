package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Coordinator Metrics
var (
	HeadsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_heads_received_total",
		Help: "The total number of new-head events received over the websocket",
	})

	LastHeadBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coordinator_last_head_block",
		Help: "The block number of the last head event received",
	})

	ReconnectCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_reconnects_total",
		Help: "The number of websocket reconnects",
	})

	HeadQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coordinator_head_queue_depth",
		Help: "The current depth of the bounded head queue",
	})
)

// Stage Metrics
var (
	StageSuccesses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stage_successes_total",
		Help: "Per-stage count of successfully processed blocks",
	}, []string{"stage"})

	StageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stage_failures_total",
		Help: "Per-stage count of failed blocks",
	}, []string{"stage"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stage_duration_seconds",
		Help:    "Time taken to process one block in a stage",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})
)

// Relay Collector Metrics
var (
	RelayPayloadsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_payloads_stored_total",
		Help: "The number of relay payloads stored, per relay",
	}, []string{"relay"})

	RelayPageFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_page_fetches_total",
		Help: "The number of pagination requests issued, per relay",
	}, []string{"relay"})

	RelayFetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_fetch_failures_total",
		Help: "The number of failed relay requests after retries, per relay",
	}, []string{"relay"})

	RelayGapsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_gaps_detected_total",
		Help: "The number of payload gaps detected, per relay",
	}, []string{"relay"})
)

// Aggregator Metrics
var (
	AggregatesComputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "aggregator_records_computed_total",
		Help: "The total number of aggregate records computed",
	})

	LastAggregatedBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aggregator_last_block",
		Help: "The last block number an aggregate record was computed for",
	})
)

// Backfill Metrics
var (
	BackfillUnitsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backfill_units_processed_total",
		Help: "The number of backfill work units processed, per stream",
	}, []string{"stream"})

	BackfillUnitsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backfill_units_failed_total",
		Help: "The number of backfill work units that failed, per stream",
	}, []string{"stream"})

	BackfillUpsertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "backfill_upsert_duration_seconds",
		Help:    "Time taken to upsert one backfill unit into storage",
		Buckets: prometheus.DefBuckets,
	})
)
