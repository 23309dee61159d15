package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gofm_jobs_started_total",
		Help: "Total number of jobs submitted to the scheduler",
	}, []string{"operation"})

	JobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gofm_jobs_finished_total",
		Help: "Total number of jobs that reached a terminal state",
	}, []string{"operation", "status"}) // status: Completed/Failed/Cancelled

	JobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gofm_jobs_running",
		Help: "Number of jobs currently holding a worker",
	})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gofm_job_duration_seconds",
		Help:    "Wall-clock duration of finished jobs",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10), // 10ms .. ~43min
	}, []string{"operation"})

	BytesProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gofm_bytes_processed_total",
		Help: "Total bytes written by finished jobs",
	}, []string{"operation"})
)

// JobStarted records a submitted job.
func JobStarted(operation string) {
	JobsStartedTotal.WithLabelValues(operation).Inc()
}

// JobRunning records a job acquiring a worker.
func JobRunning() {
	JobsRunning.Inc()
}

// JobFinished records a job reaching status after elapsed. running tells
// whether the job had acquired a worker before it finished.
func JobFinished(operation, status string, elapsed time.Duration, bytes int64, running bool) {
	if running {
		JobsRunning.Dec()
	}
	JobsFinishedTotal.WithLabelValues(operation, status).Inc()
	JobDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	if bytes > 0 {
		BytesProcessedTotal.WithLabelValues(operation).Add(float64(bytes))
	}
}

// WriteTextfile dumps the default registry in the text exposition format,
// for pickup by a node exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return errors.Wrapf(err, "failed to write metrics to %s", path)
	}
	return nil
}
