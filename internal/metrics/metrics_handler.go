package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mdfeed/logger"
)

// Metric is one component metric emitted through EmitMetric, e.g. the
// decoder's frames_decoded or the kafka writer's channel_len.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

type MetricHandler func(Metric)

// MetricHandlerID identifies a registered handler; zero is never issued.
type MetricHandlerID uint64

type handlerSet struct {
	mu       sync.RWMutex
	handlers map[MetricHandlerID]MetricHandler
	next     MetricHandlerID
}

var handlers = &handlerSet{handlers: make(map[MetricHandlerID]MetricHandler)}

// componentValues mirrors numeric component metrics on /metrics. It is
// created by Init.
var componentValues *prometheus.GaugeVec

func newComponentValues(reg prometheus.Registerer) {
	componentValues = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mdfeed_component_value",
		Help: "Last value of a component metric reported through EmitMetric",
	}, []string{"component", "name"})
	_ = reg.Register(componentValues)
}

// RegisterMetricHandler adds a handler receiving every emitted metric. The
// dashboard uses it to keep recent metrics. A nil handler gets id 0.
func RegisterMetricHandler(handler MetricHandler) MetricHandlerID {
	if handler == nil {
		return 0
	}
	handlers.mu.Lock()
	defer handlers.mu.Unlock()
	handlers.next++
	handlers.handlers[handlers.next] = handler
	return handlers.next
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}
	handlers.mu.Lock()
	delete(handlers.handlers, id)
	handlers.mu.Unlock()
}

func (h *handlerSet) dispatch(metric Metric) {
	h.mu.RLock()
	list := make([]MetricHandler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		list = append(list, handler)
	}
	h.mu.RUnlock()

	for _, handler := range list {
		handler(metric)
	}
}

// numericValue converts the value kinds components report into a float.
func numericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func newMetric(component, name string, value interface{}, metricType string, fields logger.Fields) Metric {
	if metricType == "" {
		metricType = "counter"
	}
	copied := make(logger.Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Metric{
		Timestamp: time.Now(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    copied,
	}
}

// EmitMetric logs the metric, sets its Prometheus mirror, hands it to the
// registered handlers and publishes it to CloudWatch when configured.
// Metrics without a name are ignored.
func EmitMetric(log *logger.Log, component string, name string, value interface{}, metricType string, fields logger.Fields) {
	if name == "" {
		return
	}
	if log == nil {
		log = logger.GetLogger()
	}
	metric := newMetric(component, name, value, metricType, fields)

	logFields := make(logger.Fields, len(metric.Fields)+3)
	for k, v := range metric.Fields {
		logFields[k] = v
	}
	logFields["metric"] = name
	logFields["metric_type"] = metric.Type
	logFields["value"] = value
	log.WithComponent(component).WithFields(logFields).Debug("metric")

	if f, ok := numericValue(value); ok && componentValues != nil {
		componentValues.WithLabelValues(component, name).Set(f)
	}
	handlers.dispatch(metric)
	logger.PublishMetric(metric.Component, metric.Name, metric.Value, metric.Fields)
}
