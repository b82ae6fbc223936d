package writer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "mdfeed/config"
	"mdfeed/internal/channel"
	"mdfeed/models"
	"mdfeed/snapshot"
	"mdfeed/subscription"
)

// fakeWriter implements the same methods as *kafka.Writer.
type fakeWriter struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	err     error
	written chan struct{}
	closed  bool
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{written: make(chan struct{}, 16)}
}

func (f *fakeWriter) WriteMessages(ctx context.Context, m ...kafka.Message) error {
	f.mu.Lock()
	if f.err == nil {
		f.msgs = append(f.msgs, m...)
	}
	err := f.err
	f.mu.Unlock()
	f.written <- struct{}{}
	return err
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func waitWritten(t *testing.T, f *fakeWriter) {
	t.Helper()
	select {
	case <-f.written:
	case <-time.After(2 * time.Second):
		t.Fatalf("message not written")
	}
}

func TestNewKafkaWriterValidation(t *testing.T) {
	ch := make(chan models.PublishMessage)
	if _, err := NewKafkaWriter(appconfig.KafkaConfig{Topic: "t"}, ch); err == nil {
		t.Fatalf("expected error without brokers")
	}
	if _, err := NewKafkaWriter(appconfig.KafkaConfig{Brokers: []string{"localhost:9092"}}, ch); err == nil {
		t.Fatalf("expected error without topic")
	}
	kw, err := NewKafkaWriter(appconfig.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"}, ch)
	if err != nil || kw == nil {
		t.Fatalf("new kafka writer: %v", err)
	}
}

func TestKafkaWriterWritesMessages(t *testing.T) {
	ch := make(chan models.PublishMessage, 2)
	fw := newFakeWriter()
	kw := newKafkaWriter(appconfig.KafkaConfig{Topic: "t"}, ch, fw)

	ctx, cancel := context.WithCancel(context.Background())
	if err := kw.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := kw.Start(ctx); err == nil {
		t.Fatalf("expected error on second start")
	}

	ch <- models.PublishMessage{ID: "id-1", Key: "Order/SPY#", Value: []byte(`{"a":1}`), Kind: models.KindOrder, Timestamp: time.Now()}
	waitWritten(t, fw)

	cancel()
	kw.Stop()

	fw.mu.Lock()
	defer fw.mu.Unlock()
	if len(fw.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fw.msgs))
	}
	m := fw.msgs[0]
	if string(m.Key) != "Order/SPY#" || string(m.Value) != `{"a":1}` {
		t.Fatalf("unexpected message: %s %s", m.Key, m.Value)
	}
	if len(m.Headers) != 2 || string(m.Headers[0].Value) != "id-1" || string(m.Headers[1].Value) != "Order" {
		t.Fatalf("unexpected headers: %+v", m.Headers)
	}
	if !fw.closed {
		t.Fatalf("writer not closed on stop")
	}
	if s := kw.Stats(); s.MessagesWritten != 1 || s.BytesWritten != 7 || s.ErrorsCount != 0 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func TestKafkaWriterCountsErrors(t *testing.T) {
	ch := make(chan models.PublishMessage, 1)
	fw := newFakeWriter()
	fw.err = errors.New("broker down")
	kw := newKafkaWriter(appconfig.KafkaConfig{Topic: "t"}, ch, fw)

	ctx, cancel := context.WithCancel(context.Background())
	if err := kw.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	ch <- models.PublishMessage{ID: "x", Key: "k", Value: []byte("v")}
	waitWritten(t, fw)
	cancel()
	kw.Stop()

	if s := kw.Stats(); s.ErrorsCount != 1 || s.MessagesWritten != 0 {
		t.Fatalf("unexpected stats: %+v", s)
	}
}

func order(index int64, price float64) models.Order {
	return models.Order{Index: index, Source: "NTV", Time: 1, Price: price, Size: 1}
}

func TestSnapshotPublisherEncodesDelta(t *testing.T) {
	ch := channel.NewChannels(1, 2)
	p := NewSnapshotPublisher(context.Background(), "test", ch)

	p.OnDelta(snapshot.Delta{Kind: models.KindOrder, Symbol: models.NewSymbol("SPY")})
	if len(ch.Publish) != 0 {
		t.Fatalf("empty delta must not be published")
	}

	p.OnDelta(snapshot.Delta{
		Kind:      models.KindOrder,
		Symbol:    models.NewSymbol("SPY"),
		Source:    "NTV",
		Additions: []models.IndexedRecord{order(1, 10)},
		Removals:  []snapshot.Removal{{Index: 7, Previous: order(7, 9)}},
	})
	msg := <-ch.Publish
	if msg.Key != "Order/SPY#NTV" || msg.Kind != models.KindOrder || msg.Symbol != "SPY" || msg.ID == "" {
		t.Fatalf("unexpected publish message: %+v", msg)
	}

	var tx struct {
		ID        string           `json:"id"`
		Kind      string           `json:"kind"`
		Additions []models.Order   `json:"additions"`
		Removals  []int64          `json:"removals"`
		Updates   []map[string]any `json:"updates"`
	}
	if err := json.Unmarshal(msg.Value, &tx); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if tx.ID != msg.ID || tx.Kind != "Order" {
		t.Fatalf("unexpected header fields: %+v", tx)
	}
	if len(tx.Additions) != 1 || tx.Additions[0].Index != 1 || tx.Additions[0].Price != 10 {
		t.Fatalf("unexpected additions: %+v", tx.Additions)
	}
	if len(tx.Removals) != 1 || tx.Removals[0] != 7 || len(tx.Updates) != 0 {
		t.Fatalf("unexpected removals/updates: %+v %+v", tx.Removals, tx.Updates)
	}
}

func TestSnapshotPublisherDropsWhenFull(t *testing.T) {
	ch := channel.NewChannels(1, 1)
	p := NewSnapshotPublisher(context.Background(), "test", ch)
	d := snapshot.Delta{Kind: models.KindOrder, Symbol: models.NewSymbol("SPY"), Additions: []models.IndexedRecord{order(1, 10)}}

	p.OnDelta(d)
	p.OnDelta(d)

	if s := ch.GetStats(); s.PublishSent != 1 || s.PublishDropped != 1 {
		t.Fatalf("unexpected channel stats: %+v", s)
	}
}

func TestSnapshotPublisherReceivesCommits(t *testing.T) {
	reg := subscription.NewRegistry()
	mgr := snapshot.NewManager(reg)
	snap, err := mgr.Create(models.KindOrder, models.NewSymbol("SPY"), "", 0)
	if err != nil {
		t.Fatalf("create snapshot: %v", err)
	}
	defer snap.Close()

	ch := channel.NewChannels(1, 4)
	p := NewSnapshotPublisher(context.Background(), "test", ch)
	if err := snap.AddIncrementalListener(p); err != nil {
		t.Fatalf("add listener: %v", err)
	}

	sym := models.NewSymbol("SPY")
	begin := models.EventParams{Flags: models.SnapshotBegin | models.SnapshotEnd}
	reg.Dispatch(models.KindOrder, sym, []models.Record{order(1, 10), order(2, 11)}, begin)
	reg.Dispatch(models.KindOrder, sym, []models.Record{order(2, 12)}, models.EventParams{})

	if len(ch.Publish) != 2 {
		t.Fatalf("expected 2 published transactions, got %d", len(ch.Publish))
	}
}
