package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(jobsEnqueuedTotal, jobsFinishedTotal, jobDuration, filesProcessedTotal, fileRetriesTotal, queueDepth, workersBusy)
}

var (
	jobsEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "inspection_jobs_enqueued_total",
			Help: "Total number of inspection jobs accepted by the queue.",
		},
	)

	jobsFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inspection_jobs_finished_total",
			Help: "Total number of inspection jobs that reached a terminal status.",
		},
		[]string{"status"}, // 'completed', 'failed', 'cancelled'
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inspection_job_duration_seconds",
			Help:    "Wall time from first claim to completion of a job.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	filesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inspection_files_processed_total",
			Help: "Files that reached a terminal status, labeled by status and error class.",
		},
		[]string{"status", "class"},
	)

	fileRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inspection_file_retries_total",
			Help: "Per-file attempts that were retried, labeled by error class.",
		},
		[]string{"class"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inspection_queue_pending_files",
			Help: "Files waiting for a worker.",
		},
	)

	workersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "inspection_workers_busy",
			Help: "Workers currently processing a file.",
		},
	)
)

func IncJobEnqueued() { jobsEnqueuedTotal.Inc() }

func IncJobFinished(status string) {
	jobsFinishedTotal.WithLabelValues(norm(status)).Inc()
}

func ObserveJobDuration(seconds float64) { jobDuration.Observe(seconds) }

func IncFileProcessed(status, class string) {
	filesProcessedTotal.WithLabelValues(norm(status), norm(class)).Inc()
}

func IncFileRetry(class string) { fileRetriesTotal.WithLabelValues(norm(class)).Inc() }

func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }

func SetWorkersBusy(n int) { workersBusy.Set(float64(n)) }
