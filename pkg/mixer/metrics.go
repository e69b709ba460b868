package mixer

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "mixer"

// dispatchMetrics counts dispatched requests by module and outcome code
type dispatchMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newDispatchMetrics(reg prometheus.Registerer) (*dispatchMetrics, error) {
	m := &dispatchMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Dispatched module requests by module and response code.",
		}, []string{"module", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent handling module requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"module"}),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{m.requests, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *dispatchMetrics) observe(module string, code int, elapsed time.Duration) {
	m.requests.WithLabelValues(module, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(module).Observe(elapsed.Seconds())
}
