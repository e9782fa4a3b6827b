// Package metrics exposes the server's Prometheus collectors and the HTTP
// endpoint serving them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UploadsTotal counts files fully persisted to the blob backend.
	UploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nebulaftp",
		Name:      "uploads_total",
		Help:      "Files successfully uploaded to the blob backend.",
	})

	// UploadsFailed counts files abandoned after exhausting retries.
	UploadsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nebulaftp",
		Name:      "uploads_failed_total",
		Help:      "Files abandoned after exhausting upload retries.",
	})

	// BytesUploaded counts bytes pushed to the blob backend.
	BytesUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nebulaftp",
		Name:      "uploaded_bytes_total",
		Help:      "Bytes pushed to the blob backend.",
	})

	// ChunksSent counts individual chunk sends, including retries.
	ChunksSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nebulaftp",
		Name:      "chunks_sent_total",
		Help:      "Chunk send attempts against the blob backend.",
	})

	// QueueDepth tracks tasks waiting in the upload queue.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nebulaftp",
		Name:      "upload_queue_depth",
		Help:      "Tasks waiting in the upload queue.",
	})

	// SessionsActive tracks open FTP control connections.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "nebulaftp",
		Name:      "sessions_active",
		Help:      "Open FTP control connections.",
	})

	// SessionsTotal counts accepted FTP control connections.
	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nebulaftp",
		Name:      "sessions_total",
		Help:      "Accepted FTP control connections.",
	})

	// CommandsTotal counts handled FTP commands by verb.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nebulaftp",
		Name:      "commands_total",
		Help:      "Handled FTP commands by verb.",
	}, []string{"verb"})

	// BytesDownloaded counts bytes served over data connections.
	BytesDownloaded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nebulaftp",
		Name:      "downloaded_bytes_total",
		Help:      "Bytes served to clients over data connections.",
	})

	// StagingGCRemoved counts staging files removed by the age sweeper.
	StagingGCRemoved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "nebulaftp",
		Name:      "staging_gc_removed_total",
		Help:      "Staging files removed by the age sweeper.",
	})
)
