package reader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	appconfig "mdfeed/config"
	"mdfeed/internal/channel"
	"mdfeed/models"
	"mdfeed/subscription"
)

// feedServer accepts websocket sessions, records control frames and sends
// the configured frames once per session.
type feedServer struct {
	srv      *httptest.Server
	control  chan models.ControlFrame
	sessions chan int
	frames   []string
	// dropFirst closes the first session right after its frames are sent.
	dropFirst bool
}

func newFeedServer(t *testing.T, frames []string, dropFirst bool) *feedServer {
	t.Helper()
	fs := &feedServer{
		control:   make(chan models.ControlFrame, 64),
		sessions:  make(chan int, 8),
		frames:    frames,
		dropFirst: dropFirst,
	}
	upgrader := websocket.Upgrader{}
	var session atomic.Int32
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		n := int(session.Add(1))
		fs.sessions <- n

		for _, f := range fs.frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		if fs.dropFirst && n == 1 {
			conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		}
		for {
			var frame models.ControlFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			fs.control <- frame
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *feedServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func testFeedConfig(url string) appconfig.FeedConfig {
	return appconfig.FeedConfig{
		URL:              url,
		Connection:       "test",
		HandshakeTimeout: time.Second,
		PingInterval:     time.Second,
		Reconnect:        appconfig.RateLimitConfig{RequestsPerSecond: 50, BurstSize: 1},
	}
}

func waitControl(t *testing.T, ch <-chan models.ControlFrame, match func(models.ControlFrame) bool) models.ControlFrame {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case f := <-ch:
			if match(f) {
				return f
			}
		case <-deadline:
			t.Fatalf("expected control frame not received")
		}
	}
}

func TestFeedReaderSubscribesAndForwardsFrames(t *testing.T) {
	fs := newFeedServer(t, []string{`{"type":"Quote","symbol":"SPY","records":[]}`}, false)
	reg := subscription.NewRegistry()
	ch := channel.NewChannels(4, 4)
	r := NewFeedReader(testFeedConfig(fs.url()), ch, reg)

	sub, err := reg.CreateSubscription(models.KindQuote|models.KindCandle, subscription.FlagTimeSeries, 1000)
	if err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if err := reg.AddSymbols(sub, models.NewSymbol("SPY")); err != nil {
		t.Fatalf("add symbols: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Start(ctx); err == nil {
		t.Fatalf("expected error on second start")
	}

	quote := waitControl(t, fs.control, func(f models.ControlFrame) bool {
		return f.Op == opSubscribe && f.Type == "Quote" && f.Symbol == "SPY"
	})
	if quote.FromTime != nil {
		t.Fatalf("last-value subscription must not carry from_time")
	}

	candle := waitControl(t, fs.control, func(f models.ControlFrame) bool {
		return f.Op == opSubscribe && f.Type == "Candle" && f.Symbol == "SPY"
	})
	if candle.FromTime == nil {
		t.Fatalf("history subscription must carry from_time")
	}
	select {
	case msg := <-ch.Raw:
		if msg.Connection != "test" || !strings.Contains(string(msg.Data), `"SPY"`) {
			t.Fatalf("unexpected raw message: %+v", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("frame not forwarded")
	}

	if err := reg.AddSymbols(sub, models.NewSymbol("AAPL")); err != nil {
		t.Fatalf("add symbols: %v", err)
	}
	waitControl(t, fs.control, func(f models.ControlFrame) bool {
		return f.Op == opSubscribe && f.Symbol == "AAPL"
	})

	if err := reg.RemoveSymbols(sub, models.NewSymbol("AAPL")); err != nil {
		t.Fatalf("remove symbols: %v", err)
	}
	waitControl(t, fs.control, func(f models.ControlFrame) bool {
		return f.Op == opUnsubscribe && f.Symbol == "AAPL"
	})

	cancel()
	r.Stop()
	if r.Connected() {
		t.Fatalf("reader still connected after stop")
	}
}

func TestFeedReaderResubscribesAfterReconnect(t *testing.T) {
	fs := newFeedServer(t, nil, true)
	reg := subscription.NewRegistry()
	ch := channel.NewChannels(4, 4)
	r := NewFeedReader(testFeedConfig(fs.url()), ch, reg)

	sub, _ := reg.CreateSubscription(models.KindTrade, 0, 0)
	_ = reg.AddSymbols(sub, models.NewSymbol("SPY"))

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		r.Stop()
	}()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	for want := 1; want <= 2; want++ {
		select {
		case n := <-fs.sessions:
			if n != want {
				t.Fatalf("unexpected session %d, want %d", n, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("session %d not opened", want)
		}
		waitControl(t, fs.control, func(f models.ControlFrame) bool {
			return f.Op == opSubscribe && f.Type == "Trade" && f.Symbol == "SPY"
		})
	}
	if r.Stats().Reconnects < 1 {
		t.Fatalf("reconnect not counted: %+v", r.Stats())
	}
}

func TestHandleFrameCountsDrops(t *testing.T) {
	reg := subscription.NewRegistry()
	ch := channel.NewChannels(1, 1)
	r := NewFeedReader(testFeedConfig("ws://unused"), ch, reg)
	r.ctx = context.Background()

	r.handleFrame([]byte("a"))
	r.handleFrame([]byte("b"))

	stats := r.Stats()
	if stats.FramesRead != 2 || stats.FramesDropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSendWhileDisconnectedIsNoop(t *testing.T) {
	reg := subscription.NewRegistry()
	r := NewFeedReader(testFeedConfig("ws://unused"), channel.NewChannels(1, 1), reg)
	reqs := []models.SymbolRequest{{Kind: models.KindQuote, Symbol: models.NewSymbol("SPY"), TimeBound: models.NoTime}}
	if err := r.send(opSubscribe, reqs); err != nil {
		t.Fatalf("send while disconnected: %v", err)
	}
	if r.Stats().ControlSent != 0 {
		t.Fatalf("nothing should be sent while disconnected")
	}
}

func TestControlFrames(t *testing.T) {
	reqs := []models.SymbolRequest{
		{Kind: models.KindQuote, Symbol: models.NewSymbol("SPY"), TimeBound: models.NoTime},
		{Kind: models.KindCandle, Symbol: models.NewSymbol("SPY{=d}"), TimeBound: 1000, TimeSeries: true},
	}
	tests := []struct {
		op       string
		wantTime []bool
	}{
		{opSubscribe, []bool{false, true}},
		{opUnsubscribe, []bool{false, false}},
	}
	for _, tt := range tests {
		frames := ControlFrames(tt.op, reqs)
		if len(frames) != len(reqs) {
			t.Fatalf("%s: expected %d frames, got %d", tt.op, len(reqs), len(frames))
		}
		for i, f := range frames {
			if f.Op != tt.op || f.Symbol != reqs[i].Symbol.Name || f.Type != reqs[i].Kind.String() {
				t.Errorf("%s: unexpected frame %+v", tt.op, f)
			}
			if (f.FromTime != nil) != tt.wantTime[i] {
				t.Errorf("%s: frame %d from_time presence = %v", tt.op, i, f.FromTime != nil)
			}
		}
	}
	if got := *ControlFrames(opSubscribe, reqs[1:])[0].FromTime; got != 1000 {
		t.Fatalf("from_time = %d, want 1000", got)
	}
}
