// Registers:
//
//	#marketdash_stream_messages_total
//	#marketdash_stream_dropped_total
//	#marketdash_rest_requests_total
//	#marketdash_used_weight
//	#go_* and process_* system metrics
//
// The collectors are fed from the metric handler registry and exposed through
// Handler, which the dashboard mounts on /metrics.
package metrics

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus mirrors emitted metrics into prometheus collectors.
type Prometheus struct {
	registry       *prometheus.Registry
	streamMessages *prometheus.CounterVec
	streamDropped  *prometheus.CounterVec
	restRequests   *prometheus.CounterVec
	usedWeight     *prometheus.GaugeVec
	handlerID      MetricHandlerID
	once           sync.Once
}

// NewPrometheus builds the collectors on a private registry and subscribes
// them to the metric handler registry.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		streamMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdash_stream_messages_total",
				Help: "Number of push messages received per stream",
			},
			[]string{"stream"},
		),
		streamDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdash_stream_dropped_total",
				Help: "Number of push messages or presentation tasks discarded",
			},
			[]string{"reason", "stream"},
		),
		restRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marketdash_rest_requests_total",
				Help: "Number of REST attempts by outcome",
			},
			[]string{"path", "outcome"},
		),
		usedWeight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "marketdash_used_weight",
				Help: "Last reported exchange request weight",
			},
			[]string{"window"},
		),
	}

	p.registry.MustRegister(p.streamMessages, p.streamDropped, p.restRequests, p.usedWeight)
	p.registry.MustRegister(collectors.NewGoCollector())
	p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p.handlerID = RegisterMetricHandler(p.handle)
	return p
}

// Handler serves the registry in the prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Close detaches the collectors from the metric handler registry.
func (p *Prometheus) Close() {
	p.once.Do(func() {
		UnregisterMetricHandler(p.handlerID)
	})
}

func (p *Prometheus) handle(m Metric) {
	value, ok := toFloat64(m.Value)
	if !ok {
		return
	}

	switch m.Name {
	case "stream_messages_received":
		p.streamMessages.WithLabelValues(label(m, "stream")).Add(value)
	case string(DropMetricThrottled), string(DropMetricMalformed), string(DropMetricStopped),
		string(DropMetricStale), string(DropMetricMailboxFull):
		p.streamDropped.WithLabelValues(m.Name, label(m, "stream")).Add(value)
	case "rest_requests":
		p.restRequests.WithLabelValues(label(m, "path"), label(m, "outcome")).Add(value)
	case "used_weight":
		p.usedWeight.WithLabelValues(label(m, "window")).Set(value)
	}
}

func label(m Metric, key string) string {
	v, ok := m.Fields[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
