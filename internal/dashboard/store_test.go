package dashboard

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"mdfeed/internal/metrics"
)

func TestRingKeepsNewest(t *testing.T) {
	r := newRing[int](3)
	for i := 0; i < 5; i++ {
		r.push(i)
	}
	got := r.filter(nil)
	if len(got) != 3 || got[0] != 2 || got[2] != 4 {
		t.Fatalf("unexpected ring contents: %v", got)
	}
	even := r.filter(func(v int) bool { return v%2 == 0 })
	if len(even) != 2 || even[0] != 2 || even[1] != 4 {
		t.Fatalf("unexpected filtered contents: %v", even)
	}
}

func TestMetricStoreQuery(t *testing.T) {
	store := newMetricStore(2)
	for i := 0; i < 5; i++ {
		store.handle(metrics.Metric{Timestamp: time.Unix(int64(i), 0), Component: "decoder", Name: "frames_decoded", Value: i})
	}
	store.handle(metrics.Metric{Component: "kafka_writer", Name: "messages_written", Value: 7})

	snapshot := store.snapshot()
	if len(snapshot) != 2 || snapshot[0].Value != 4 || snapshot[1].Value != 7 {
		t.Fatalf("unexpected metrics retained: %#v", snapshot)
	}
	if got := store.query("kafka_writer", ""); len(got) != 1 || got[0].Name != "messages_written" {
		t.Fatalf("component query: %#v", got)
	}
	if got := store.query("", "frames_decoded"); len(got) != 1 || got[0].Value != 4 {
		t.Fatalf("name query: %#v", got)
	}
}

func TestLogStorePromotesFeedFields(t *testing.T) {
	store := newLogStore(3)
	entry := logrus.NewEntry(logrus.New())
	entry.Time = time.Unix(10, 0)
	entry.Level = logrus.WarnLevel
	entry.Message = "snapshot resync"
	entry.Data = logrus.Fields{
		"component":  "snapshot",
		"connection": "primary",
		"snapshot":   "Order/SPY#NTV",
		"error":      errors.New("boom"),
		"records":    3,
	}

	if err := store.Fire(entry); err != nil {
		t.Fatalf("store.Fire returned error: %v", err)
	}

	got := store.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(got))
	}
	rec := got[0]
	if rec.Component != "snapshot" || rec.Connection != "primary" || rec.Snapshot != "Order/SPY#NTV" {
		t.Fatalf("fields not promoted: %#v", rec)
	}
	if rec.Fields["error"] != "boom" || rec.Fields["records"] != 3 {
		t.Fatalf("unexpected remaining fields: %#v", rec.Fields)
	}
	if _, ok := rec.Fields["snapshot"]; ok {
		t.Fatalf("promoted field duplicated in fields")
	}
}

func TestLogStoreQuery(t *testing.T) {
	store := newLogStore(10)
	fire := func(level logrus.Level, component, key string) {
		entry := logrus.NewEntry(logrus.New())
		entry.Level = level
		entry.Message = "msg"
		entry.Data = logrus.Fields{"component": component, "snapshot": key}
		_ = store.Fire(entry)
	}
	fire(logrus.WarnLevel, "snapshot", "Order/SPY#NTV")
	fire(logrus.InfoLevel, "snapshot", "Order/SPY#NTV")
	fire(logrus.WarnLevel, "snapshot", "Candle/AAPL")
	fire(logrus.WarnLevel, "feed_reader", "")

	tests := []struct {
		filter logFilter
		want   int
	}{
		{logFilter{}, 4},
		{logFilter{Level: "WARNING"}, 3},
		{logFilter{Component: "snapshot"}, 3},
		{logFilter{Snapshot: "Order/SPY#NTV"}, 2},
		{logFilter{Level: "warning", Snapshot: "Order/SPY#NTV"}, 1},
	}
	for _, tt := range tests {
		if got := store.query(tt.filter); len(got) != tt.want {
			t.Errorf("query(%+v) returned %d records, want %d", tt.filter, len(got), tt.want)
		}
	}
}

func TestLogStoreRespectsLimitAndClose(t *testing.T) {
	store := newLogStore(2)
	for i := 0; i < 4; i++ {
		entry := logrus.NewEntry(logrus.New())
		entry.Message = "msg"
		entry.Level = logrus.InfoLevel
		entry.Data = logrus.Fields{"index": i}
		if err := store.Fire(entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := store.snapshot(); len(got) != 2 || got[0].Fields["index"] != 2 {
		t.Fatalf("expected the 2 newest entries, got %#v", got)
	}

	store.close()
	entry := logrus.NewEntry(logrus.New())
	entry.Message = "ignored"
	if err := store.Fire(entry); err != nil {
		t.Fatalf("unexpected error after close: %v", err)
	}
	if len(store.snapshot()) != 2 {
		t.Fatalf("store accepted entries after close")
	}
}
