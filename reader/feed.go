package reader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	appconfig "mdfeed/config"
	"mdfeed/internal/channel"
	"mdfeed/internal/metrics"
	"mdfeed/logger"
	"mdfeed/models"
	"mdfeed/subscription"
)

const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
)

// FeedReader owns the websocket connection of one feed. It forwards every
// inbound frame to the raw channel and turns the registry's symbol requests
// into subscribe/unsubscribe frames. After a reconnect the registry's
// current requests are sent again so every open subscription resumes.
type FeedReader struct {
	config   appconfig.FeedConfig
	channels *channel.Channels
	registry *subscription.Registry
	limiter  *rate.Limiter
	ctx      context.Context
	wg       *sync.WaitGroup
	mu       sync.RWMutex
	running  bool
	log      *logger.Log

	// writeMu serializes writers on conn; gorilla allows one at a time.
	writeMu sync.Mutex
	conn    *websocket.Conn

	framesRead   atomic.Int64
	framesDrop   atomic.Int64
	reconnects   atomic.Int64
	controlSent  atomic.Int64
	controlError atomic.Int64
}

// NewFeedReader creates the reader and installs it as the registry's
// symbol handler.
func NewFeedReader(cfg appconfig.FeedConfig, ch *channel.Channels, reg *subscription.Registry) *FeedReader {
	rps := cfg.Reconnect.RequestsPerSecond
	if rps <= 0 {
		rps = 0.2
	}
	burst := cfg.Reconnect.BurstSize
	if burst <= 0 {
		burst = 1
	}
	r := &FeedReader{
		config:   cfg,
		channels: ch,
		registry: reg,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
	reg.SetSymbolHandler(r)
	return r
}

func (r *FeedReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("feed reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	r.log.WithComponent("feed_reader").WithFields(logger.Fields{
		"connection": r.config.Connection,
		"url":        r.config.URL,
	}).Info("starting feed reader")

	r.wg.Add(1)
	go r.stream()
	return nil
}

func (r *FeedReader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("feed_reader").Info("stopping feed reader")
	r.closeConn()
	r.wg.Wait()
	r.log.WithComponent("feed_reader").Info("feed reader stopped")
}

// Connected reports whether a websocket session is currently open.
func (r *FeedReader) Connected() bool {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return r.conn != nil
}

func (r *FeedReader) stream() {
	defer r.wg.Done()
	log := r.log.WithComponent("feed_reader").WithFields(logger.Fields{"connection": r.config.Connection})

	first := true
	for {
		if err := r.limiter.Wait(r.ctx); err != nil {
			return
		}
		if !first {
			r.reconnects.Add(1)
			logger.IncrementReconnect()
		}
		first = false

		conn, err := r.dial()
		if err != nil {
			log.WithError(err).Warn("failed to connect websocket, retrying")
			continue
		}
		log.Info("feed connected")

		r.session(conn)

		if r.ctx.Err() != nil {
			return
		}
		log.Warn("feed disconnected, reconnecting")
	}
}

func (r *FeedReader) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: r.config.HandshakeTimeout,
		ReadBufferSize:   r.config.ReadBufferBytes,
	}
	conn, _, err := dialer.DialContext(r.ctx, r.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", r.config.URL, err)
	}
	return conn, nil
}

// session runs one connection until it fails or the context ends.
func (r *FeedReader) session(conn *websocket.Conn) {
	log := r.log.WithComponent("feed_reader").WithFields(logger.Fields{"connection": r.config.Connection})

	r.writeMu.Lock()
	r.conn = conn
	r.writeMu.Unlock()
	defer r.closeConn()

	requests := r.registry.Requests()
	if err := r.send(opSubscribe, requests); err != nil {
		log.WithError(err).Warn("failed to resubscribe")
		return
	}
	log.WithFields(logger.Fields{"requests": len(requests)}).Info("subscriptions restored")

	done := make(chan struct{})
	defer close(done)
	go r.keepAlive(conn, done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if r.ctx.Err() == nil {
				log.WithError(err).Warn("websocket read error")
			}
			return
		}
		r.handleFrame(msg)
	}
}

// keepAlive pings the server and closes conn when the context ends so the
// blocked read returns.
func (r *FeedReader) keepAlive(conn *websocket.Conn, done <-chan struct{}) {
	interval := r.config.PingInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.ctx.Done():
			conn.Close()
			return
		case <-ticker.C:
			deadline := time.Now().Add(interval / 2)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				r.log.WithComponent("feed_reader").WithError(err).Debug("ping failed")
			}
		}
	}
}

func (r *FeedReader) handleFrame(msg []byte) {
	r.framesRead.Add(1)
	raw := models.RawFeedMessage{
		Connection: r.config.Connection,
		Data:       msg,
		Timestamp:  time.Now(),
	}
	if r.channels.SendRaw(r.ctx, raw) {
		logger.IncrementFrameRead(len(msg))
		return
	}
	if r.ctx.Err() != nil {
		return
	}
	r.framesDrop.Add(1)
	metrics.EmitDropMetric(r.log, metrics.DropMetricRawFrame, r.config.Connection, "", "reader")
	r.log.WithComponent("feed_reader").Warn("raw channel full, dropping frame")
}

func (r *FeedReader) closeConn() {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// SymbolsAdded implements subscription.SymbolHandler.
func (r *FeedReader) SymbolsAdded(reqs []models.SymbolRequest) {
	if err := r.send(opSubscribe, reqs); err != nil {
		r.log.WithComponent("feed_reader").WithError(err).Warn("failed to send subscribe frames")
	}
}

// SymbolsRemoved implements subscription.SymbolHandler.
func (r *FeedReader) SymbolsRemoved(reqs []models.SymbolRequest) {
	if err := r.send(opUnsubscribe, reqs); err != nil {
		r.log.WithComponent("feed_reader").WithError(err).Warn("failed to send unsubscribe frames")
	}
}

// send writes one control frame per request. While disconnected it is a
// no-op; the next session resubscribes from the registry.
func (r *FeedReader) send(op string, reqs []models.SymbolRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if r.conn == nil {
		return nil
	}
	for _, frame := range ControlFrames(op, reqs) {
		if err := r.conn.WriteJSON(frame); err != nil {
			r.controlError.Add(1)
			return fmt.Errorf("write %s frame for %s/%s: %w", op, frame.Type, frame.Symbol, err)
		}
		r.controlSent.Add(1)
	}
	return nil
}

// ControlFrames converts symbol requests into outbound frames. History
// kinds carry their time bound; other kinds carry none.
func ControlFrames(op string, reqs []models.SymbolRequest) []models.ControlFrame {
	out := make([]models.ControlFrame, 0, len(reqs))
	for _, req := range reqs {
		frame := models.ControlFrame{Op: op, Type: req.Kind.String(), Symbol: req.Symbol.Name}
		if op == opSubscribe && req.TimeBound != models.NoTime {
			from := req.TimeBound
			frame.FromTime = &from
		}
		out = append(out, frame)
	}
	return out
}

// Stats is a point-in-time copy of the reader counters.
type Stats struct {
	FramesRead    int64
	FramesDropped int64
	Reconnects    int64
	ControlSent   int64
	ControlErrors int64
}

func (r *FeedReader) Stats() Stats {
	return Stats{
		FramesRead:    r.framesRead.Load(),
		FramesDropped: r.framesDrop.Load(),
		Reconnects:    r.reconnects.Load(),
		ControlSent:   r.controlSent.Load(),
		ControlErrors: r.controlError.Load(),
	}
}
