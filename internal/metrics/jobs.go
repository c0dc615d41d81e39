package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_jobs_started_total",
			Help: "Backup jobs admitted and started, by backup type",
		},
		[]string{"type"},
	)

	jobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_jobs_finished_total",
			Help: "Backup jobs that reached a terminal status",
		},
		[]string{"type", "status"},
	)

	jobsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "backup_jobs_running",
		Help: "Backup jobs currently executing in this process",
	})

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backup_job_duration_seconds",
			Help:    "Wall time of backup jobs from start to terminal status",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		},
		[]string{"type", "status"},
	)

	admissionDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "backup_admission_denied_total",
		Help: "Trigger requests rejected because the parallel job ceiling was reached",
	})

	bookkeepingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_bookkeeping_errors_total",
			Help: "Failed database writes while tracking a running job",
		},
		[]string{"operation"},
	)
)

func JobStarted(kind string) {
	jobsStarted.WithLabelValues(kind).Inc()
	jobsRunning.Inc()
}

func JobFinished(kind, status string, d time.Duration) {
	jobsRunning.Dec()
	jobsFinished.WithLabelValues(kind, status).Inc()
	jobDuration.WithLabelValues(kind, status).Observe(d.Seconds())
}

func AdmissionDenied() {
	admissionDenied.Inc()
}

func BookkeepingError(op string) {
	bookkeepingErrors.WithLabelValues(op).Inc()
}
