package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DownloadsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelfetch_downloads_started_total",
		Help: "Total number of download tasks started",
	})

	DownloadsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelfetch_downloads_succeeded_total",
		Help: "Total number of downloads completed successfully",
	})

	DownloadsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelfetch_downloads_failed_total",
		Help: "Total number of downloads that ended in error",
	})

	DownloadsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelfetch_downloads_cancelled_total",
		Help: "Total number of downloads cancelled by record deletion",
	})

	ActiveDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "modelfetch_active_downloads",
		Help: "Number of download tasks currently registered",
	})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelfetch_download_bytes_total",
		Help: "Total number of bytes transferred",
	})

	DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "modelfetch_download_duration_seconds",
		Help:    "Duration of completed download tasks",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	WatchReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "modelfetch_watch_reconnects_total",
		Help: "Total number of change-feed resubscriptions after failure",
	})
)
