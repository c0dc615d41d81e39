package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WriteCleanupTextfile writes the outcome of a cleanup run in the node
// exporter textfile format, for cron-driven runs that have no /metrics
// endpoint.
func WriteCleanupTextfile(path string, deleted map[string]int64, orphaned int64, at time.Time) error {
	reg := prometheus.NewRegistry()

	rows := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "backup_cleanup_deleted_records",
		Help: "Rows removed by the last cleanup run, by table",
	}, []string{"table"})
	orphans := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backup_cleanup_orphaned_files",
		Help: "File records removed by the last cleanup run because the file was missing",
	})
	last := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "backup_cleanup_last_success_timestamp_seconds",
		Help: "Unix time of the last successful cleanup run",
	})
	reg.MustRegister(rows, orphans, last)

	for table, n := range deleted {
		rows.WithLabelValues(table).Set(float64(n))
	}
	orphans.Set(float64(orphaned))
	last.Set(float64(at.Unix()))

	return prometheus.WriteToTextfile(path, reg)
}
