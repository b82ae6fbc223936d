package metrics

import (
	"context"
	"time"

	"mdfeed/internal/channel"
	"mdfeed/logger"
)

const channelBuffersComponent = "channel_buffers"

// bufferOccupancy is the fill level of one channel buffer.
type bufferOccupancy struct {
	Buffer   string
	Length   int
	Capacity int
}

func occupancy(channels *channel.Channels) []bufferOccupancy {
	out := []bufferOccupancy{{"raw", len(channels.Raw), cap(channels.Raw)}}
	if channels.Publish != nil {
		out = append(out, bufferOccupancy{"publish", len(channels.Publish), cap(channels.Publish)})
	}
	return out
}

func emitOccupancy(log *logger.Log, channels *channel.Channels) {
	for _, o := range occupancy(channels) {
		EmitMetric(log, channelBuffersComponent, o.Buffer+"_buffer_length", o.Length, "gauge", logger.Fields{
			"buffer":   o.Buffer,
			"capacity": o.Capacity,
		})
	}
}

// StartChannelSizeMetrics emits the raw and publish buffer lengths every
// interval until ctx is cancelled. A non-positive interval means one second.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if channels == nil || !IsFeatureEnabled(FeatureChannelSize) {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emitOccupancy(log, channels)
			}
		}
	}()
}
