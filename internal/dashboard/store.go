package dashboard

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"mdfeed/internal/metrics"
)

// ring keeps the last limit items appended to it. Safe for concurrent use.
type ring[T any] struct {
	mu    sync.RWMutex
	items []T
	limit int
}

func newRing[T any](limit int) *ring[T] {
	if limit <= 0 {
		limit = 200
	}
	return &ring[T]{limit: limit, items: make([]T, 0, limit)}
}

func (r *ring[T]) push(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == r.limit {
		copy(r.items, r.items[1:])
		r.items = r.items[:r.limit-1]
	}
	r.items = append(r.items, item)
}

// filter returns the retained items accepted by keep, oldest first. A nil
// keep returns everything.
func (r *ring[T]) filter(keep func(T) bool) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]T, 0, len(r.items))
	for _, item := range r.items {
		if keep == nil || keep(item) {
			out = append(out, item)
		}
	}
	return out
}

// metricStore retains the most recent metrics emitted through
// metrics.EmitMetric.
type metricStore struct {
	items *ring[metrics.Metric]
}

func newMetricStore(limit int) *metricStore {
	return &metricStore{items: newRing[metrics.Metric](limit)}
}

func (s *metricStore) handle(metric metrics.Metric) {
	s.items.push(metric)
}

func (s *metricStore) snapshot() []metrics.Metric {
	return s.items.filter(nil)
}

// query filters by component and metric name; empty arguments match all.
func (s *metricStore) query(component, name string) []metrics.Metric {
	return s.items.filter(func(m metrics.Metric) bool {
		return (component == "" || m.Component == component) && (name == "" || m.Name == name)
	})
}

// logRecord is one captured log entry served under /api/logs. The
// connection and snapshot fields are promoted so entries can be filtered
// per feed connection and per snapshot key.
type logRecord struct {
	Timestamp  time.Time              `json:"timestamp"`
	Level      string                 `json:"level"`
	Component  string                 `json:"component,omitempty"`
	Connection string                 `json:"connection,omitempty"`
	Snapshot   string                 `json:"snapshot,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var promotedFields = map[string]func(*logRecord, string){
	"component":  func(r *logRecord, v string) { r.Component = v },
	"connection": func(r *logRecord, v string) { r.Connection = v },
	"snapshot":   func(r *logRecord, v string) { r.Snapshot = v },
}

// logFilter selects log records; empty fields match all. Level compares
// case-insensitively against the logrus level name.
type logFilter struct {
	Level     string
	Component string
	Snapshot  string
}

func (f logFilter) match(r logRecord) bool {
	return (f.Level == "" || strings.EqualFold(r.Level, f.Level)) &&
		(f.Component == "" || r.Component == f.Component) &&
		(f.Snapshot == "" || r.Snapshot == f.Snapshot)
}

// logStore is a logrus hook retaining the most recent entries of the
// logger it is attached to.
type logStore struct {
	items   *ring[logRecord]
	enabled atomic.Bool
}

func newLogStore(limit int) *logStore {
	ls := &logStore{items: newRing[logRecord](limit)}
	ls.enabled.Store(true)
	return ls
}

func (s *logStore) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (s *logStore) Fire(entry *logrus.Entry) error {
	if !s.enabled.Load() {
		return nil
	}

	record := logRecord{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
	}
	for k, v := range entry.Data {
		if set, ok := promotedFields[k]; ok {
			if str, ok := v.(string); ok {
				set(&record, str)
				continue
			}
		}
		if record.Fields == nil {
			record.Fields = make(map[string]interface{}, len(entry.Data))
		}
		switch val := v.(type) {
		case error:
			record.Fields[k] = val.Error()
		case fmt.Stringer:
			record.Fields[k] = val.String()
		default:
			record.Fields[k] = val
		}
	}

	s.items.push(record)
	return nil
}

func (s *logStore) snapshot() []logRecord {
	return s.items.filter(nil)
}

func (s *logStore) query(f logFilter) []logRecord {
	return s.items.filter(f.match)
}

func (s *logStore) close() {
	s.enabled.Store(false)
}
