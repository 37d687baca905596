package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Stage labels for stage_duration_seconds.
const (
	StageDump     = "dump"
	StageUpload   = "upload"
	StageRetainRm = "retention_remote"
	StageRetainLc = "retention_local"
)

// Registry holds all Prometheus metrics for backup runs.
type Registry struct {
	*prometheus.Registry

	runsTotal          *prometheus.CounterVec
	stageDuration      *prometheus.GaugeVec
	artifactSize       prometheus.Gauge
	lastSuccess        prometheus.Gauge
	retentionDeletions *prometheus.CounterVec
	archives           *prometheus.GaugeVec
}

// NewRegistry creates a new metrics registry with all metrics registered.
// Runtime collectors are left out: the registry is written to a textfile once
// per run and process metrics of a short-lived job are meaningless.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		Registry: reg,

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbbackup_runs_total",
				Help: "Total number of backup runs by outcome",
			},
			[]string{"status"},
		),

		stageDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbbackup_stage_duration_seconds",
				Help: "Duration of the last run's stages in seconds",
			},
			[]string{"stage"},
		),

		artifactSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dbbackup_artifact_size_bytes",
				Help: "Size of the last compressed artifact",
			},
		),

		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dbbackup_last_success_timestamp_seconds",
				Help: "Unix time of the last run that uploaded its artifact",
			},
		),

		retentionDeletions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dbbackup_retention_deletions_total",
				Help: "Archives removed or failed to remove by retention",
			},
			[]string{"store", "result"},
		),

		archives: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dbbackup_archives",
				Help: "Archives held by a store after retention",
			},
			[]string{"store"},
		),
	}

	reg.MustRegister(r.runsTotal)
	reg.MustRegister(r.stageDuration)
	reg.MustRegister(r.artifactSize)
	reg.MustRegister(r.lastSuccess)
	reg.MustRegister(r.retentionDeletions)
	reg.MustRegister(r.archives)

	return r
}

// RecordRun records a finished run.
func (r *Registry) RecordRun(status string, finished time.Time, success bool) {
	r.runsTotal.WithLabelValues(status).Inc()
	if success {
		r.lastSuccess.Set(float64(finished.Unix()))
	}
}

// RecordStage records how long a stage took.
func (r *Registry) RecordStage(stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage).Set(d.Seconds())
}

// SetArtifactSize records the compressed size of the run's artifact.
func (r *Registry) SetArtifactSize(size int64) {
	r.artifactSize.Set(float64(size))
}

// RecordDeletion counts one retention deletion attempt.
func (r *Registry) RecordDeletion(store string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.retentionDeletions.WithLabelValues(store, result).Inc()
}

// SetArchives records how many archives a store holds.
func (r *Registry) SetArchives(store string, count int) {
	r.archives.WithLabelValues(store).Set(float64(count))
}

// WriteTextfile writes every metric to path in the node_exporter textfile
// format. The file is replaced atomically.
func (r *Registry) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.Registry)
}
