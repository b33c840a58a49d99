// Package metrics exposes Prometheus instrumentation for the
// orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paperfetch_jobs_created_total",
		Help: "Number of bulk-download jobs created.",
	})
	JobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paperfetch_jobs_completed_total",
		Help: "Number of jobs that reached the completed state.",
	})
	JobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paperfetch_jobs_failed_total",
		Help: "Number of jobs that reached the failed state.",
	})
	JobsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paperfetch_jobs_cancelled_total",
		Help: "Number of jobs cancelled by request.",
	})
	JobsReaped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paperfetch_jobs_reaped_total",
		Help: "Number of expired jobs removed by the reaper.",
	})
	FilesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paperfetch_files_fetched_total",
		Help: "Number of files downloaded successfully.",
	})
	FilesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paperfetch_files_failed_total",
		Help: "Number of file downloads that failed terminally.",
	}, []string{"kind"})
	FetchInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paperfetch_fetch_in_flight",
		Help: "Number of fetches currently admitted by the governor.",
	})
)

// Init registers the static server info metric.
func Init(version string) {
	info := promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "paperfetch_server_info",
		Help: "Static server information.",
	}, []string{"version"})
	info.WithLabelValues(version).Set(1)
}
