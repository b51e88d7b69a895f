package metrics

import (
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusLogger exposes the latest value of every metric as a gauge
// labelled by metric name, plus the step it was logged at.
type PrometheusLogger struct {
	gatherer prometheus.Gatherer
	values   *prometheus.GaugeVec
	steps    *prometheus.GaugeVec
}

// NewPrometheusLogger registers its collectors on reg.
func NewPrometheusLogger(reg *prometheus.Registry, namespace string) (*PrometheusLogger, error) {
	p := &PrometheusLogger{
		gatherer: reg,
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "metric",
			Help:      "Latest value of a training metric.",
		}, []string{"name"}),
		steps: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "metric_step",
			Help:      "Training step at which the metric was last logged.",
		}, []string{"name"}),
	}
	for _, c := range []prometheus.Collector{p.values, p.steps} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register metrics collector")
		}
	}
	return p, nil
}

// Log implements Logger.
func (p *PrometheusLogger) Log(step int64, name string, value float64) {
	p.values.WithLabelValues(name).Set(value)
	p.steps.WithLabelValues(name).Set(float64(step))
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusLogger) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}
