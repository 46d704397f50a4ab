package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds all Prometheus metrics for detox.
// Using promauto for automatic registration with default registry.
var (
	// --- Job Metrics ---

	// JobsTotal counts finished jobs by status.
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "detox",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Total number of jobs by final status",
		},
		[]string{"status"},
	)

	// JobDuration tracks per-job wall clock time.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "detox",
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Duration of job executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15), // 0.1s to ~1.8h
		},
		[]string{"job_name", "status"},
	)

	// OutputChunks counts chunks read from child process streams.
	OutputChunks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "detox",
			Subsystem: "output",
			Name:      "chunks_total",
			Help:      "Total number of output chunks read from job processes",
		},
		[]string{"stream"},
	)

	// --- Run Metrics ---

	// RunsTotal counts whole invocations by result.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "detox",
			Subsystem: "runs",
			Name:      "total",
			Help:      "Total number of runs by result",
		},
		[]string{"result"},
	)

	// RunDuration tracks the wall clock time of a run, setup and teardown included.
	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "detox",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Duration of whole runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		},
	)

	// TeardownAttempts counts environment removal attempts.
	TeardownAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "detox",
			Subsystem: "teardown",
			Name:      "attempts_total",
			Help:      "Total number of environment teardown attempts by result",
		},
		[]string{"result"},
	)

	// --- Status server ---

	// HTTPRequests counts status server requests.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "detox",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of status server requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPDuration tracks status server latency.
	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "detox",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status server request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RecordJob records metrics for a finished job.
func RecordJob(job, status string, durationSeconds float64) {
	JobsTotal.WithLabelValues(status).Inc()
	JobDuration.WithLabelValues(job, status).Observe(durationSeconds)
}

// RecordSkipped counts jobs that never ran.
func RecordSkipped(n int) {
	JobsTotal.WithLabelValues("skipped").Add(float64(n))
}

// RecordRun records metrics for a finished run.
func RecordRun(result string, durationSeconds float64) {
	RunsTotal.WithLabelValues(result).Inc()
	RunDuration.Observe(durationSeconds)
}

// RecordTeardownAttempt records one teardown attempt.
func RecordTeardownAttempt(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	TeardownAttempts.WithLabelValues(result).Inc()
}

// RecordChunk counts one output chunk of the given stream.
func RecordChunk(stream string) {
	OutputChunks.WithLabelValues(stream).Inc()
}

// WriteTextfile dumps the default registry in the node-exporter textfile format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Push sends the default registry to a Pushgateway, grouped by run ID.
func Push(url, runID string) error {
	err := push.New(url, "detox").
		Gatherer(prometheus.DefaultGatherer).
		Grouping("run_id", runID).
		Push()
	if err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
