// Package metrics defines the Prometheus instruments used across the
// companion and the /metrics handler that exposes them.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var startTime = time.Now()

// Pre-defined instruments used across the application.
var (
	ScansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lulu_companion_scans_total",
		Help: "Total alert window scans performed",
	})

	AlertsDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lulu_companion_alerts_detected_total",
		Help: "Total distinct connection alerts detected",
	})

	AlertsDismissedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lulu_companion_alerts_dismissed_total",
		Help: "Total alerts observed as dismissed by the user",
	})

	AnalysisRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lulu_companion_analysis_requests_total",
		Help: "Total AI analysis attempts by provider",
	}, []string{"provider"})

	AnalysisFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lulu_companion_analysis_failures_total",
		Help: "Total failed AI analyses by provider",
	}, []string{"provider"})

	AnalysisInProgress = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lulu_companion_analysis_in_progress",
		Help: "Whether an AI analysis is currently running",
	})

	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lulu_companion_analysis_duration_seconds",
		Help:    "AI analysis latency in seconds, including failovers",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})

	ActionsPerformedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lulu_companion_actions_performed_total",
		Help: "Total autopilot actions performed by kind",
	}, []string{"action"})

	UptimeSeconds = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "lulu_companion_uptime_seconds",
		Help: "Time since start in seconds",
	}, func() float64 {
		return time.Since(startTime).Seconds()
	})
)

// Handler serves the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
