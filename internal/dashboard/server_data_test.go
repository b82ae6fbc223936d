package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mdfeed/config"
	"mdfeed/internal/metrics"
	"mdfeed/logger"
	"mdfeed/models"
	"mdfeed/snapshot"
	"mdfeed/subscription"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log := logger.Logger()
	srv, err := NewServer(config.DashboardConfig{Enabled: true, RefreshInterval: time.Second, MetricsHistory: 10, LogHistory: 10}, log)
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	if srv == nil {
		t.Fatal("expected non-nil server")
	}
	t.Cleanup(srv.cleanup)
	return srv
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	router, err := srv.buildRouter("mdfeed")
	if err != nil {
		t.Fatalf("buildRouter error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, path, nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func TestMetricsEndpointEmitsStoredMetrics(t *testing.T) {
	srv := newTestServer(t)
	metrics.EmitMetric(srv.log, "channel_buffers", "raw_buffer_length", 5, "gauge", logger.Fields{"capacity": 10})

	res := get(t, srv, "/api/metrics")
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	if len(srv.metricStore.snapshot()) == 0 {
		t.Fatalf("metrics store empty")
	}
}

func TestSnapshotsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	reg := subscription.NewRegistry()
	mgr := snapshot.NewManager(reg)
	t.Cleanup(mgr.CloseAll)
	if _, err := mgr.Create(models.KindOrder, models.NewSymbol("SPY"), "NTV", 0); err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	reg.Dispatch(models.KindOrder, models.NewSymbol("SPY"), []models.Record{
		models.Order{Index: 1, Source: "NTV", Time: 1, Price: 10, Size: 1},
	}, models.EventParams{Flags: models.SnapshotBegin | models.SnapshotEnd})
	srv.SetSnapshotLister(mgr)

	res := get(t, srv, "/api/snapshots")
	if res.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", res.Code)
	}
	var body struct {
		Snapshots []snapshotStatus `json:"snapshots"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Snapshots) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(body.Snapshots))
	}
	got := body.Snapshots[0]
	if got.Kind != "Order" || got.Symbol != "SPY" || got.Source != "NTV" || !got.Consistent || got.Records != 1 || got.Commits != 1 {
		t.Fatalf("unexpected snapshot status: %+v", got)
	}

	body.Snapshots = nil
	res = get(t, srv, "/api/snapshots?state=uninitialized")
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Snapshots) != 0 {
		t.Fatalf("state filter not applied: %+v", body.Snapshots)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	if res := get(t, srv, "/healthz"); res.Code != http.StatusOK {
		t.Fatalf("expected 200 without health func, got %d", res.Code)
	}
	srv.SetHealthFunc(func() bool { return false })
	if res := get(t, srv, "/healthz"); res.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while disconnected, got %d", res.Code)
	}
}

func TestLogsEndpointFiltersByLevel(t *testing.T) {
	srv := newTestServer(t)
	srv.log.WithComponent("dashboard_test").Warn("warn entry")
	srv.log.WithComponent("dashboard_test").Info("info entry")

	res := get(t, srv, "/api/logs?level=warning")
	var body struct {
		Logs []logRecord `json:"logs"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Logs) != 1 || body.Logs[0].Message != "warn entry" {
		t.Fatalf("unexpected logs: %+v", body.Logs)
	}
}

func TestLogsEndpointFiltersBySnapshot(t *testing.T) {
	srv := newTestServer(t)
	srv.log.WithComponent("snapshot").WithSnapshot("Order/SPY#NTV").Warn("resync")
	srv.log.WithComponent("snapshot").WithSnapshot("Candle/AAPL").Warn("resync")

	res := get(t, srv, "/api/logs?component=snapshot&snapshot=Order/SPY%23NTV")
	var body struct {
		Logs []logRecord `json:"logs"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Logs) != 1 || body.Logs[0].Snapshot != "Order/SPY#NTV" {
		t.Fatalf("unexpected logs: %+v", body.Logs)
	}
}

func TestMetricsEndpointFiltersByComponent(t *testing.T) {
	srv := newTestServer(t)
	metrics.EmitMetric(srv.log, "decoder", "frames_decoded", 3, "counter", nil)
	metrics.EmitMetric(srv.log, "feed_reader", "frames_read", 4, "counter", nil)

	res := get(t, srv, "/api/metrics?component=feed_reader")
	var body struct {
		Metrics []map[string]interface{} `json:"metrics"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Metrics) != 1 || body.Metrics[0]["name"] != "frames_read" {
		t.Fatalf("unexpected metrics: %+v", body.Metrics)
	}
}
