package probe

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "smtp_probe_success",
		Help: "1 if the last probe run delivered its message, 0 otherwise",
	})

	lastDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "smtp_probe_duration_seconds",
		Help: "Duration of the last probe run",
	})

	lastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "smtp_probe_last_run_timestamp_seconds",
		Help: "Unix time the last probe run finished",
	})

	sendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smtp_probe_sends_total",
			Help: "Probe runs by outcome",
		},
		[]string{"status"},
	)
)

// Collectors returns the probe metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{lastSuccess, lastDuration, lastRun, sendsTotal}
}

func recordOutcome(status Status, duration time.Duration, finished time.Time) {
	success := 0.0
	if status == StatusSuccess {
		success = 1
	}

	lastSuccess.Set(success)
	lastDuration.Set(duration.Seconds())
	lastRun.Set(float64(finished.Unix()))
	sendsTotal.WithLabelValues(string(status)).Inc()
}
