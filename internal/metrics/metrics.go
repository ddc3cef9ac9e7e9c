// Package metrics holds the Prometheus collectors for a sync run.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Registry is dedicated to the sync job so pushes only carry assetsync series.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// Pagination metrics
	PagesFetched = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetsync_pages_fetched_total",
			Help: "Total number of source pages fetched",
		},
		[]string{"asset_type"},
	)

	PageErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetsync_page_errors_total",
			Help: "Total number of page fetches that failed",
		},
		[]string{"asset_type"},
	)

	RecordsFetched = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetsync_records_fetched_total",
			Help: "Total number of raw records received from the source",
		},
		[]string{"asset_type"},
	)

	RecordsDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetsync_records_dropped_total",
			Help: "Total number of raw records dropped during formatting",
		},
		[]string{"asset_type", "reason"},
	)

	// Sink metrics
	DocumentsIndexed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetsync_documents_indexed_total",
			Help: "Total number of documents indexed successfully",
		},
		[]string{"index"},
	)

	DocumentsFailed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assetsync_documents_failed_total",
			Help: "Total number of documents rejected by the bulk API",
		},
		[]string{"index"},
	)

	BulkDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assetsync_bulk_duration_seconds",
			Help:    "Duration of bulk chunk writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Run metrics
	RunDuration = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assetsync_run_duration_seconds",
			Help: "Duration of the last run in seconds",
		},
		[]string{"asset_type", "state"},
	)

	LastSuccess = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "assetsync_last_success_timestamp_seconds",
			Help: "Unix time of the last run that finished in the done state",
		},
		[]string{"asset_type"},
	)
)

// Push sends every collector in Registry to a Pushgateway under the given job.
// An empty url disables pushing.
func Push(ctx context.Context, url, job string, grouping map[string]string) error {
	if url == "" {
		return nil
	}
	if job == "" {
		job = "assetsync"
	}

	pusher := push.New(url, job).Gatherer(Registry)
	for name, value := range grouping {
		pusher = pusher.Grouping(name, value)
	}

	if err := pusher.AddContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// ObserveRun records the run duration and, for successful runs, the completion time.
func ObserveRun(assetType, state string, elapsed time.Duration, succeeded bool) {
	RunDuration.WithLabelValues(assetType, state).Set(elapsed.Seconds())
	if succeeded {
		LastSuccess.WithLabelValues(assetType).SetToCurrentTime()
	}
}
