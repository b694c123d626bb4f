package poster

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric catalogue:
//
//	sensorlog_poster_attempts_total    - counter: POST attempts started
//	sensorlog_poster_errors_total      - counter: attempts that did not end in a confirmed post
//	sensorlog_poster_successes_total   - counter: attempts confirmed by the server
//	sensorlog_poster_bytes_posted_total - counter: block-slice bytes sent, successes only
//	sensorlog_poster_holdoff_seconds   - gauge:   current retry hold-off
type Metrics struct {
	attempts    prometheus.Counter
	errors      prometheus.Counter
	successes   prometheus.Counter
	bytesPosted prometheus.Counter
	holdoff     prometheus.Gauge
}

// NewMetrics registers the poster's metrics against reg and returns a handle
// for updating them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		attempts: f.NewCounter(prometheus.CounterOpts{
			Name: "sensorlog_poster_attempts_total",
			Help: "POST attempts started.",
		}),
		errors: f.NewCounter(prometheus.CounterOpts{
			Name: "sensorlog_poster_errors_total",
			Help: "POST attempts that did not end in a confirmed post.",
		}),
		successes: f.NewCounter(prometheus.CounterOpts{
			Name: "sensorlog_poster_successes_total",
			Help: "POST attempts confirmed by the server.",
		}),
		bytesPosted: f.NewCounter(prometheus.CounterOpts{
			Name: "sensorlog_poster_bytes_posted_total",
			Help: "Block-slice bytes sent in confirmed posts.",
		}),
		holdoff: f.NewGauge(prometheus.GaugeOpts{
			Name: "sensorlog_poster_holdoff_seconds",
			Help: "Current retry hold-off, in seconds.",
		}),
	}
}
