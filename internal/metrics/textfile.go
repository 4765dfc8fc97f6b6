// Package metrics exports the outcome of a run as a Prometheus textfile for
// node-exporter's textfile collector.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BlueBeard63/nids-deploy/internal/models"
)

const (
	namespace = "nids"
	subsystem = "deploy"
)

var statuses = []models.StageStatus{models.StageStatusOK, models.StageStatusSkipped, models.StageStatusFailed}

// Recorder holds the gauges of one run on a private registry
type Recorder struct {
	registry      *prometheus.Registry
	stageDuration *prometheus.GaugeVec
	stageStatus   *prometheus.GaugeVec
	lastRun       prometheus.Gauge
	lastSuccess   prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each stage in the last run",
		}, []string{"stage"}),
		stageStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "stage_status",
			Help:      "1 for the status each stage ended with in the last run",
		}, []string{"stage", "status"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "last_run_success",
			Help:      "1 if the last run completed every stage",
		}),
	}
	r.registry.MustRegister(r.stageDuration, r.stageStatus, r.lastRun, r.lastSuccess)
	return r
}

// Observe sets the gauges from report
func (r *Recorder) Observe(report *models.DeploymentReport) {
	for _, result := range report.Results {
		r.stageDuration.WithLabelValues(result.Stage).Set(result.Duration.Seconds())
		for _, status := range statuses {
			value := 0.0
			if status == result.Status {
				value = 1
			}
			r.stageStatus.WithLabelValues(result.Stage, string(status)).Set(value)
		}
	}

	r.lastRun.Set(float64(report.FinishedAt.Unix()))
	if report.Succeeded() {
		r.lastSuccess.Set(1)
	} else {
		r.lastSuccess.Set(0)
	}
}

// WriteTextfile writes the gauges to path, replacing it atomically
func (r *Recorder) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
