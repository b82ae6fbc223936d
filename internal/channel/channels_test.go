package channel

import (
	"context"
	"testing"

	"mdfeed/models"
)

func TestChannelsStats(t *testing.T) {
	ch := NewChannels(2, 2)
	ch.IncrementRawSent()
	ch.IncrementPublishSent()
	ch.IncrementRawDropped()
	ch.IncrementPublishDropped()
	stats := ch.GetStats()
	if stats.RawSent != 1 || stats.PublishSent != 1 || stats.RawDropped != 1 || stats.PublishDropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSendRawDropsWhenFull(t *testing.T) {
	ch := NewChannels(1, 1)
	defer ch.Close()
	ctx := context.Background()

	if !ch.SendRaw(ctx, models.RawFeedMessage{Data: []byte("a")}) {
		t.Fatalf("first send should succeed")
	}
	if ch.SendRaw(ctx, models.RawFeedMessage{Data: []byte("b")}) {
		t.Fatalf("second send should be dropped")
	}
	stats := ch.GetStats()
	if stats.RawSent != 1 || stats.RawDropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if msg := <-ch.Raw; string(msg.Data) != "a" {
		t.Fatalf("unexpected message %q", msg.Data)
	}
}

func TestSendPublishCancelledContext(t *testing.T) {
	ch := NewChannels(1, 0)
	defer ch.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if ch.SendPublish(ctx, models.PublishMessage{ID: "x"}) {
		t.Fatalf("send on unbuffered channel without reader should fail")
	}
}

func TestChannelsCloseTwice(t *testing.T) {
	ch := NewChannels(1, 1)
	ch.Close()
	ch.Close()
}
