package unmta

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnection = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unmta_smtp_connection_total",
			Help: "Incoming SMTP connections.",
		},
		[]string{
			"result", // "accepted" or "limit"
		},
	)
	metricSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "unmta_smtp_sessions",
			Help: "SMTP sessions in progress.",
		},
	)
	metricCommands = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "unmta_smtp_command_duration_seconds",
			Help:    "SMTP command duration and result codes in seconds, hook time included.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20, 30, 60, 120},
		},
		[]string{
			"cmd",
			"code",
		},
	)
	metricHookFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unmta_plugin_hook_failures_total",
			Help: "Plugin hook calls that panicked, returned an error or answered for the wrong event. Counted as no verdict.",
		},
		[]string{
			"plugin",
			"event",
			"kind", // "panic", "error" or "event"
		},
	)
	metricMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unmta_smtp_messages_total",
			Help: "Messages whose end-of-data marker was received, by the class of the final reply.",
		},
		[]string{
			"result", // "accept", "defer" or "reject"
		},
	)
	metricDataBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "unmta_smtp_data_bytes_total",
			Help: "Message body bytes received, terminator included.",
		},
	)
)

func observeCommand(name string, code int, seconds float64) {
	metricCommands.WithLabelValues(name, strconv.Itoa(code)).Observe(seconds)
}
