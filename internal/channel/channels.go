package channel

import (
	"context"
	"sync"

	"mdfeed/logger"
	"mdfeed/models"
)

type ChannelStats struct {
	RawSent        int64
	PublishSent    int64
	RawDropped     int64
	PublishDropped int64
}

// Channels connects the feed reader to the decoder (Raw) and committed
// snapshots to the Kafka publisher (Publish). Sends never block; a full
// channel drops the message and counts it.
type Channels struct {
	Raw     chan models.RawFeedMessage
	Publish chan models.PublishMessage

	stats      ChannelStats
	statsMutex sync.RWMutex
	closeOnce  sync.Once
	log        *logger.Log
}

func NewChannels(rawBufferSize, publishBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Raw:     make(chan models.RawFeedMessage, rawBufferSize),
		Publish: make(chan models.PublishMessage, publishBufferSize),
		log:     log,
	}

	log.WithComponent("feed_channels").WithFields(logger.Fields{
		"raw_buffer_size":     rawBufferSize,
		"publish_buffer_size": publishBufferSize,
	}).Info("feed channels initialized")

	return c
}

func (c *Channels) Close() {
	c.closeOnce.Do(func() {
		close(c.Raw)
		close(c.Publish)
		c.log.WithComponent("feed_channels").Info("feed channels closed")
	})
}

func (c *Channels) IncrementRawSent() {
	c.statsMutex.Lock()
	c.stats.RawSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementPublishSent() {
	c.statsMutex.Lock()
	c.stats.PublishSent++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementRawDropped() {
	c.statsMutex.Lock()
	c.stats.RawDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) IncrementPublishDropped() {
	c.statsMutex.Lock()
	c.stats.PublishDropped++
	c.statsMutex.Unlock()
}

func (c *Channels) SendRaw(ctx context.Context, msg models.RawFeedMessage) bool {
	select {
	case c.Raw <- msg:
		c.IncrementRawSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementRawDropped()
		return false
	}
}

func (c *Channels) SendPublish(ctx context.Context, msg models.PublishMessage) bool {
	select {
	case c.Publish <- msg:
		c.IncrementPublishSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.IncrementPublishDropped()
		return false
	}
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}
