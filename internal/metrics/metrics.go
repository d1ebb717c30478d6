// Package metrics holds the prometheus collectors for the delay scanner.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	delayScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stage_delay_scans_total",
		Help: "Total number of delay scans by outcome",
	}, []string{"outcome"})

	delayScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stage_delay_scan_duration_seconds",
		Help:    "Duration of a full delay scan pass",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	delayScanRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stage_delay_scan_records_total",
		Help: "Tracking records visited by the delay scanner by result",
	}, []string{"result"})

	escalations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stage_escalations_total",
		Help: "Escalation level increases by stage and level",
	}, []string{"stage_code", "level"})

	delayedTrackings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "stage_trackings_delayed",
		Help: "Open stage trackings found overdue in the last scan",
	})
)

// ObserveScan records a finished scan.
func ObserveScan(outcome string, started time.Time, overdue int) {
	delayScans.WithLabelValues(outcome).Inc()
	delayScanDuration.Observe(time.Since(started).Seconds())
	delayedTrackings.Set(float64(overdue))
}

// RecordResult counts one record outcome: processed, failed or skipped.
func RecordResult(result string) {
	delayScanRecords.WithLabelValues(result).Inc()
}

func RecordEscalation(stageCode string, level int) {
	escalations.WithLabelValues(stageCode, strconv.Itoa(level)).Inc()
}
