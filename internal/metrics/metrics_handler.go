package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"marketdash/config"
	"marketdash/logger"
)

// Metric represents a structured metric event emitted within the application.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

// MetricHandler consumes structured metric events for downstream processing.
type MetricHandler func(Metric)

// MetricHandlerID uniquely identifies a registered metric handler.
type MetricHandlerID uint64

// Feature groups metrics that can be switched off from configuration.
type Feature string

const (
	FeatureUsedWeight Feature = "used_weight"
	FeatureStreams    Feature = "streams"
)

var features = map[Feature]*atomic.Bool{
	FeatureUsedWeight: new(atomic.Bool),
	FeatureStreams:    new(atomic.Bool),
}

func init() {
	for _, f := range features {
		f.Store(true)
	}
}

// Configure applies the feature switches of cfg.
func Configure(cfg config.MetricsConfig) {
	features[FeatureUsedWeight].Store(cfg.UsedWeight)
	features[FeatureStreams].Store(cfg.Streams)
}

// IsFeatureEnabled reports whether metrics of the feature are emitted.
// Unknown features are always on.
func IsFeatureEnabled(f Feature) bool {
	flag, ok := features[f]
	return !ok || flag.Load()
}

type registeredHandler struct {
	id MetricHandlerID
	fn MetricHandler
}

// handlers is replaced wholesale on registration so that dispatch, which runs
// for every stream message, never takes a lock.
var (
	handlersMu    sync.Mutex
	handlers      atomic.Pointer[[]registeredHandler]
	lastHandlerID MetricHandlerID
)

// RegisterMetricHandler registers a handler that will receive every emitted metric.
// A zero identifier is returned when the provided handler is nil.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}

	handlersMu.Lock()
	defer handlersMu.Unlock()

	lastHandlerID++
	next := append(currentHandlers(), registeredHandler{id: lastHandlerID, fn: handler})
	handlers.Store(&next)
	return lastHandlerID
}

// UnregisterMetricHandler removes the handler associated with the given identifier.
func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}

	handlersMu.Lock()
	defer handlersMu.Unlock()

	current := currentHandlers()
	next := make([]registeredHandler, 0, len(current))
	for _, h := range current {
		if h.id != id {
			next = append(next, h)
		}
	}
	handlers.Store(&next)
}

// currentHandlers returns a copy of the registered handlers.
func currentHandlers() []registeredHandler {
	p := handlers.Load()
	if p == nil {
		return nil
	}
	return append([]registeredHandler(nil), (*p)...)
}

// EmitMetric logs the metric at debug level and dispatches it to every
// registered handler. Metrics without a name are ignored.
func EmitMetric(log *logger.Log, component string, metric string, value interface{}, metricType string, fields logger.Fields) {
	if metric == "" {
		return
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	m := Metric{
		Timestamp: timeNow(),
		Component: component,
		Name:      metric,
		Value:     value,
		Type:      metricType,
		Fields:    cloneFields(fields),
	}

	log.WithComponent(component).WithFields(m.logFields()).Debug("metric")

	if p := handlers.Load(); p != nil {
		for _, h := range *p {
			h.fn(m)
		}
	}
}

func (m Metric) logFields() logger.Fields {
	out := cloneFields(m.Fields)
	out["metric"] = m.Name
	out["metric_type"] = m.Type
	out["value"] = m.Value
	return out
}

func cloneFields(fields logger.Fields) logger.Fields {
	copied := make(logger.Fields, len(fields)+3)
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}

func toFloat64(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

var timeNow = time.Now
