package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"mdfeed/config"
	"mdfeed/internal/metrics"
	"mdfeed/logger"
	"mdfeed/snapshot"
)

// SnapshotLister exposes the snapshots of a connection; *snapshot.Manager
// satisfies it.
type SnapshotLister interface {
	Snapshots() []*snapshot.Snapshot
}

// HealthFunc reports whether the feed connection is up.
type HealthFunc func() bool

// Server hosts the Gin-powered monitoring API for mdfeed.
type Server struct {
	cfg               config.DashboardConfig
	log               *logger.Log
	metricStore       *metricStore
	logStore          *logStore
	metricHandler     metrics.MetricHandlerID
	bound             atomic.Value
	refreshIntervalMs int
	resourceSampler   *resourceSampler
	snapshots         SnapshotLister
	health            HealthFunc
}

// NewServer returns nil without error when the dashboard is disabled. The
// server's log store is hooked into log, and history limits default to 200.
func NewServer(cfg config.DashboardConfig, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cfg.Address = normalizeAddress(cfg.Address)

	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 5 * time.Second
	}
	for _, limit := range []*int{&cfg.LogHistory, &cfg.MetricsHistory} {
		if *limit <= 0 {
			*limit = 200
		}
	}

	s := &Server{
		cfg:               cfg,
		log:               log,
		metricStore:       newMetricStore(cfg.MetricsHistory),
		logStore:          newLogStore(cfg.LogHistory),
		refreshIntervalMs: int(cfg.RefreshInterval / time.Millisecond),
		resourceSampler:   newResourceSampler(cfg.MetricsHistory, cfg.RefreshInterval, "/", log),
	}
	s.metricHandler = metrics.RegisterMetricHandler(s.metricStore.handle)
	log.AddHook(s.logStore)
	return s, nil
}

// SetSnapshotLister publishes the snapshot states under /api/snapshots.
func (s *Server) SetSnapshotLister(l SnapshotLister) {
	if s != nil {
		s.snapshots = l
	}
}

// SetHealthFunc makes /healthz report 503 while fn returns false.
func (s *Server) SetHealthFunc(fn HealthFunc) {
	if s != nil {
		s.health = fn
	}
}

// Run serves the monitoring API until ctx is cancelled. The listener is bound
// before Run serves, so Address reports the real port for ":0".
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("dashboard listen %s: %w", s.cfg.Address, err)
	}
	s.bound.Store(ln.Addr().String())
	s.resourceSampler.start(ctx)

	srv := &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}
	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": ln.Addr().String()}).Info("dashboard listening")

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dashboard shutdown: %w", err)
	}
	<-serveErr
	return nil
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.logStore.close()
	s.resourceSampler.stop()
}

// Address is the configured listen address, or the bound one once Run has
// started listening.
func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	if addr, ok := s.bound.Load().(string); ok {
		return addr
	}
	return s.cfg.Address
}

// snapshotStatus is the JSON form of one snapshot under /api/snapshots.
type snapshotStatus struct {
	Key        string `json:"key"`
	Kind       string `json:"kind"`
	Symbol     string `json:"symbol"`
	Source     string `json:"source,omitempty"`
	State      string `json:"state"`
	Consistent bool   `json:"consistent"`
	Records    int    `json:"records"`
	Commits    uint64 `json:"commits"`
}

// snapshotStatuses lists open snapshots sorted by key. A non-empty state
// keeps only snapshots in that state.
func (s *Server) snapshotStatuses(state string) []snapshotStatus {
	out := []snapshotStatus{}
	if s.snapshots == nil {
		return out
	}
	for _, snap := range s.snapshots.Snapshots() {
		count, err := snap.CommittedCount()
		if err != nil {
			continue
		}
		st := snap.State()
		if state != "" && !strings.EqualFold(st.String(), state) {
			continue
		}
		key := snap.Key()
		out = append(out, snapshotStatus{
			Key:        key.String(),
			Kind:       key.Kind.String(),
			Symbol:     key.Symbol,
			Source:     key.Source,
			State:      st.String(),
			Consistent: snap.Consistent(),
			Records:    count,
			Commits:    snap.Commits(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

type route struct {
	path    string
	handler gin.HandlerFunc
}

func (s *Server) routes(appName string) []route {
	routes := []route{
		{"/healthz", s.handleHealth},
		{"/api/metrics", s.handleMetrics},
		{"/api/logs", s.handleLogs},
		{"/api/resources", s.handleResources},
		{"/api/snapshots", s.handleSnapshots},
	}
	paths := make([]string, 0, len(routes))
	for _, r := range routes {
		paths = append(paths, r.path)
	}
	index := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"app":                 appName,
			"refresh_interval_ms": s.refreshIntervalMs,
			"endpoints":           paths,
		})
	}
	return append(routes, route{"/", index})
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}
	for _, r := range s.routes(appName) {
		router.GET(r.path, r.handler)
	}
	return router, nil
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil && !s.health() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "disconnected"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleMetrics serves /api/metrics?component=&name=.
func (s *Server) handleMetrics(c *gin.Context) {
	stored := s.metricStore.query(c.Query("component"), c.Query("name"))
	payload := make([]gin.H, 0, len(stored))
	for _, m := range stored {
		payload = append(payload, gin.H{
			"timestamp": m.Timestamp.Format(time.RFC3339Nano),
			"component": m.Component,
			"name":      m.Name,
			"value":     m.Value,
			"type":      m.Type,
			"fields":    m.Fields,
		})
	}
	c.JSON(http.StatusOK, gin.H{"metrics": payload})
}

// handleLogs serves /api/logs?level=&component=&snapshot=. A snapshot key
// contains '#', so clients send it as %23.
func (s *Server) handleLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"logs": s.logStore.query(logFilter{
		Level:     c.Query("level"),
		Component: c.Query("component"),
		Snapshot:  c.Query("snapshot"),
	})})
}

func (s *Server) handleResources(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
}

// handleSnapshots serves /api/snapshots?state=.
func (s *Server) handleSnapshots(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"snapshots": s.snapshotStatuses(c.Query("state"))})
}

const (
	defaultDashboardHost = "0.0.0.0"
	defaultDashboardPort = "8080"
)

// normalizeAddress turns a configured address, bare host or URL into a
// host:port listen address.
func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return net.JoinHostPort(defaultDashboardHost, defaultDashboardPort)
	}
	if strings.Contains(addr, "://") {
		if u, err := url.Parse(addr); err == nil {
			switch {
			case u.Host != "":
				addr = u.Host
			case u.Opaque != "":
				addr = u.Opaque
			}
		}
	}

	host, port, err := net.SplitHostPort(addr)
	switch {
	case err == nil:
		if host == "" || host == "*" {
			host = defaultDashboardHost
		}
		if port == "" {
			port = defaultDashboardPort
		}
		return net.JoinHostPort(host, port)
	case net.ParseIP(addr) != nil, !strings.Contains(addr, ":"):
		return net.JoinHostPort(addr, defaultDashboardPort)
	default:
		return addr
	}
}
